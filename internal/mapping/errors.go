package mapping

import (
	"fmt"

	"gitlab.com/tozd/go/errors"
)

// NoSuchVersionError reports that no mapping data exists for a version.
type NoSuchVersionError struct {
	Version string
}

func (e *NoSuchVersionError) Error() string {
	return fmt.Sprintf("no such version: %s", e.Version)
}

// ParseError reports a malformed entry in a version's data.
type ParseError struct {
	Version string
	Entry   string
	// Line is 1-based; zero when the error is not tied to a row.
	Line   int
	Detail string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parsing %s for %s, line %d: %s", e.Entry, e.Version, e.Line, e.Detail)
	}
	return fmt.Sprintf("parsing %s for %s: %s", e.Entry, e.Version, e.Detail)
}

// IsNoSuchVersion reports whether err is or wraps a NoSuchVersionError.
func IsNoSuchVersion(err error) bool {
	var target *NoSuchVersionError
	return errors.As(err, &target)
}

// IsParseError reports whether err is or wraps a ParseError.
func IsParseError(err error) bool {
	var target *ParseError
	return errors.As(err, &target)
}
