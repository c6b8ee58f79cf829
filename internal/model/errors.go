package model

import (
	"errors"
	"fmt"
)

// ErrDuplicateIdentity is matched by every *DuplicateIdentityError.
var ErrDuplicateIdentity = errors.New("duplicate identity")

// DuplicateIdentityError reports a second endpoint, call or service that
// collides with an identity already present in the same model or batch.
type DuplicateIdentityError struct {
	Kind     string // "endpoint", "call" or "service"
	Identity string
}

func (e *DuplicateIdentityError) Error() string {
	return fmt.Sprintf("duplicate %s identity: %s", e.Kind, e.Identity)
}

func (e *DuplicateIdentityError) Unwrap() error { return ErrDuplicateIdentity }
