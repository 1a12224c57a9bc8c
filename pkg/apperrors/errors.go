package apperrors

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrSameCompany      = errors.New("site already belongs to that company")
	ErrNotConfirmed     = errors.New("action not confirmed")
	ErrPermissionDenied = errors.New("permission denied")
	ErrPartialMove      = errors.New("move partially applied")
	ErrInvalidInput     = errors.New("invalid input")
)
