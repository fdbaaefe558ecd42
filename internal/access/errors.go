package access

import "errors"

// Failure taxonomy for the access core. Handlers map each sentinel to a
// distinct HTTP status; business-rule violations never surface as 500s.
var (
	ErrUnauthenticated   = errors.New("access: unauthenticated")
	ErrForbidden         = errors.New("access: forbidden")
	ErrNotFound          = errors.New("access: not found")
	ErrConflict          = errors.New("access: conflict")
	ErrInvalidInput      = errors.New("access: invalid input")
	ErrInvalidTransition = errors.New("access: invalid status transition")
	ErrSelfDeletion      = errors.New("access: cannot delete own account")
	ErrProtectedAccount  = errors.New("access: protected administrative account")
)

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
