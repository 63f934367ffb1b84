package graph

import (
	"strings"

	"golang.org/x/text/cases"

	fserrors "github.com/marmos91/agentfs/pkg/vfs/errors"
)

// CaseSensitivity selects how entry names are compared.
type CaseSensitivity uint8

const (
	// CaseSensitive compares names byte for byte.
	CaseSensitive CaseSensitivity = iota

	// CaseInsensitivePreserving compares Unicode case-folded names but
	// keeps the spelling used at creation.
	CaseInsensitivePreserving
)

func (c CaseSensitivity) String() string {
	if c == CaseInsensitivePreserving {
		return "insensitive"
	}
	return "sensitive"
}

// ParseCaseSensitivity parses a configuration value.
func ParseCaseSensitivity(s string) (CaseSensitivity, bool) {
	switch strings.ToLower(s) {
	case "", "sensitive", "case_sensitive":
		return CaseSensitive, true
	case "insensitive", "case_insensitive", "insensitive_preserving":
		return CaseInsensitivePreserving, true
	}
	return 0, false
}

// Filesystem name limits (POSIX NAME_MAX and PATH_MAX).
const (
	MaxNameLen = 255
	MaxPathLen = 4096

	// MaxSymlinkHops bounds symlink expansion during resolution (SYMLOOP_MAX).
	MaxSymlinkHops = 40
)

// foldKey returns the index key for name under policy c. A Caser is not
// safe for concurrent use, so one is built per call.
func foldKey(c CaseSensitivity, name string) string {
	if c == CaseInsensitivePreserving {
		return cases.Fold().String(name)
	}
	return name
}

// ValidateName checks a single entry name for creation or rename.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fserrors.NewInvalidArgumentError(name, "invalid name")
	}
	if strings.ContainsAny(name, "/\x00") {
		return fserrors.NewInvalidArgumentError(name, "name contains '/' or NUL")
	}
	if len(name) > MaxNameLen {
		return fserrors.NewNameTooLongError(name, "file name too long")
	}
	return nil
}

// ValidatePath checks a full path.
func ValidatePath(path string) error {
	if len(path) > MaxPathLen {
		return fserrors.NewNameTooLongError(path, "path too long")
	}
	if strings.IndexByte(path, 0) >= 0 {
		return fserrors.NewInvalidArgumentError(path, "path contains NUL")
	}
	return nil
}

// SplitPath returns the non-empty components of path.
func SplitPath(path string) []string {
	var out []string
	for part := range strings.SplitSeq(path, "/") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// JoinPath joins components into an absolute path.
func JoinPath(parts ...string) string {
	return "/" + strings.Join(parts, "/")
}
