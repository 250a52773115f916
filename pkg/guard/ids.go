// Package guard validates the two classes of untrusted input that reach
// external processes and the filesystem: session identifiers and paths.
package guard

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"

	"github.com/claudeck/claudeck/pkg/models"
)

// v4Pattern matches exactly the textual form of a version-4 UUID:
// 8-4-4-4-12 lowercase hex with the version nibble fixed to 4 and the
// variant nibble in [89ab]. Session identifiers double as multiplexer
// window names and positional command arguments, so nothing looser is
// accepted.
var v4Pattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// NewSessionID generates a fresh session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// ValidSessionID reports whether s is in strict v4 UUID textual form.
func ValidSessionID(s string) bool {
	return v4Pattern.MatchString(s)
}

// CheckSessionID validates s, returning ErrInvalidSessionID on mismatch.
// Every registry, broker, and metadata entry point calls this before the
// value reaches an argv list or a path join.
func CheckSessionID(s string) error {
	if !ValidSessionID(s) {
		return fmt.Errorf("%w: %q", models.ErrInvalidSessionID, s)
	}
	return nil
}
