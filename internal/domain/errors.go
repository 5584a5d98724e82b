package domain

import "github.com/cockroachdb/errors"

// Wrap these with errors.Wrap to add context; callers match with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrBadParameter     = errors.New("bad parameter")
	ErrInvalidLabel     = errors.New("invalid label")
	ErrPermissionDenied = errors.New("permission denied")
	ErrConflict         = errors.New("duplicate value")
	ErrUnauthenticated  = errors.New("authentication required")

	ErrTaskInactive = errors.Wrap(ErrBadParameter, "task is not active")
)
