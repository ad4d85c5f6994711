package errors

import (
	"errors"
)

// Common error types
var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrInconclusive  = errors.New("inconclusive verdict")
	ErrNoPrivileges  = errors.New("no privileges")
	ErrTransient     = errors.New("transient failure")
	ErrNotFound      = errors.New("not found")
)
