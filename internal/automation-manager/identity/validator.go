// Package identity checks user references before they are written onto work items.
package identity

import (
	"strings"

	"github.com/google/uuid"
)

// Validator reports whether ref is a well-formed user reference.
type Validator interface {
	Valid(ref string) bool
}

// UUIDValidator accepts canonical, non-nil UUIDs.
type UUIDValidator struct{}

func (UUIDValidator) Valid(ref string) bool {
	ref = strings.TrimSpace(ref)
	if len(ref) != 36 {
		return false
	}
	id, err := uuid.Parse(ref)
	return err == nil && id != uuid.Nil
}

// ValidatorFunc adapts a plain function to Validator.
type ValidatorFunc func(ref string) bool

func (f ValidatorFunc) Valid(ref string) bool { return f(ref) }
