package apperrors

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrForbidden            = errors.New("forbidden")
	ErrSelfParent           = errors.New("concept cannot be its own taxonomy parent")
	ErrInspectionInProgress = errors.New("document inspection already in progress")
	ErrConceptReferenced    = errors.New("concept is referenced by object tags")
)
