package errval

import (
	"errors"
)

var (
	ErrInternal          = errors.New("internal server error")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("concurrent assignment update")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidJobKind    = errors.New("invalid job kind")
	ErrRateLimited       = errors.New("rate limited")
)
