// Package prompt wraps promptui for interactive commands.
package prompt

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user presses Ctrl+C or Ctrl+D.
var ErrAborted = errors.New("aborted")

// IsAborted reports whether err means the user gave up on the prompt.
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) || errors.Is(err, ErrAborted)
}

func wrapError(err error) error {
	if err != nil && IsAborted(err) {
		return ErrAborted
	}
	return err
}

// Confirm asks a yes/no question; an empty answer picks defaultYes.
func Confirm(label string, defaultYes bool) (bool, error) {
	def := "n"
	if defaultYes {
		def = "y"
	}
	answer, err := Input(label+" (y/n)", def, ValidateYesNo)
	if err != nil {
		return false, err
	}
	return ParseYesNo(answer, defaultYes), nil
}

// ValidateYesNo accepts y, yes, n, no and the empty string.
func ValidateYesNo(s string) error {
	switch s {
	case "", "y", "Y", "yes", "Yes", "YES", "n", "N", "no", "No", "NO":
		return nil
	}
	return errors.New("answer y or n")
}

// ParseYesNo interprets a validated answer.
func ParseYesNo(s string, defaultYes bool) bool {
	switch s {
	case "y", "Y", "yes", "Yes", "YES":
		return true
	case "n", "N", "no", "No", "NO":
		return false
	}
	return defaultYes
}

// Input asks for free text. validate may be nil.
func Input(label, defaultValue string, validate func(string) error) (string, error) {
	p := promptui.Prompt{Label: label, Default: defaultValue, Validate: validate}
	result, err := p.Run()
	return result, wrapError(err)
}

// InputUint32 asks for a non-negative 32-bit integer such as a uid.
func InputUint32(label string, defaultValue uint32) (uint32, error) {
	result, err := Input(label, strconv.FormatUint(uint64(defaultValue), 10), ValidateUint32)
	if err != nil {
		return 0, err
	}
	v, _ := strconv.ParseUint(result, 10, 32)
	return uint32(v), nil
}

// ValidateUint32 accepts decimal integers that fit in 32 bits.
func ValidateUint32(s string) error {
	if _, err := strconv.ParseUint(s, 10, 32); err != nil {
		return fmt.Errorf("must be an integer between 0 and %d", uint64(1<<32-1))
	}
	return nil
}

// Option is one choice of a Select prompt.
type Option struct {
	Label       string
	Value       string
	Description string
}

// Select asks the user to pick one option and returns its Value.
func Select(label string, options []Option) (string, error) {
	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "> {{ .Label | cyan }}",
		Inactive: "  {{ .Label }}",
		Selected: "* {{ .Label | green }}",
		Details:  `{{ if .Description }}{{ .Description | faint }}{{ end }}`,
	}
	p := promptui.Select{Label: label, Items: options, Templates: templates, Size: 8}

	i, _, err := p.Run()
	if err != nil {
		return "", wrapError(err)
	}
	return options[i].Value, nil
}
