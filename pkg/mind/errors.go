package mind

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrNoActivation is returned by Save when no concept crossed the
// activation threshold; nothing is written in that case.
var ErrNoActivation = errors.New("no concept nodes activated above threshold")

// ValidationError reports malformed input. It is surfaced to the caller
// before any state is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DurabilityError reports a failed write to the authoritative disk store.
// The triggering operation fails as a whole; no partial state is visible.
type DurabilityError struct {
	Err error
}

func (e *DurabilityError) Error() string {
	return "durable write failed: " + e.Err.Error()
}

func (e *DurabilityError) Unwrap() error {
	return e.Err
}

// Path-bearing fragments that must not leak to callers: Windows drive
// paths, UNC paths, and multi-component Unix paths.
var pathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[A-Za-z]:\\[^\s'"):]+`),
	regexp.MustCompile(`\\\\[^\s'"):]+`),
	regexp.MustCompile(`(?:/[A-Za-z0-9._~-]+){2,}`),
}

// Sanitize strips filesystem paths from an error message so user-visible
// failures expose only a category and a message, never storage locations.
func Sanitize(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, pat := range pathPatterns {
		msg = pat.ReplaceAllString(msg, "<path>")
	}
	return msg
}
