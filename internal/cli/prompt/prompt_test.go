package prompt

import (
	"errors"
	"fmt"
	"testing"

	"github.com/manifoldco/promptui"
)

func TestIsAborted(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{promptui.ErrInterrupt, true},
		{promptui.ErrEOF, true},
		{fmt.Errorf("wrapped: %w", ErrAborted), true},
		{errors.New("other"), false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := IsAborted(tc.err); got != tc.want {
			t.Errorf("IsAborted(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
	if wrapError(promptui.ErrInterrupt) != ErrAborted {
		t.Error("Expected interrupt to map to ErrAborted")
	}
}

func TestYesNo(t *testing.T) {
	for _, s := range []string{"", "y", "NO"} {
		if err := ValidateYesNo(s); err != nil {
			t.Errorf("ValidateYesNo(%q) = %v", s, err)
		}
	}
	if ValidateYesNo("maybe") == nil {
		t.Error("Expected error for 'maybe'")
	}
	if !ParseYesNo("", true) || ParseYesNo("", false) || !ParseYesNo("yes", false) || ParseYesNo("n", true) {
		t.Error("ParseYesNo returned unexpected answers")
	}
}

func TestValidateUint32(t *testing.T) {
	for _, s := range []string{"0", "1000", "4294967295"} {
		if err := ValidateUint32(s); err != nil {
			t.Errorf("ValidateUint32(%q) = %v", s, err)
		}
	}
	for _, s := range []string{"-1", "4294967296", "abc", ""} {
		if ValidateUint32(s) == nil {
			t.Errorf("Expected error for %q", s)
		}
	}
}
