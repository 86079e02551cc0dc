package domain

import "errors"

// Validation errors. Any of them ends the task with REQS_NOT_PASSED.
var (
	ErrNotFound            = errors.New("archive is not a regular file")
	ErrInvalidFormat       = errors.New("file is not a recognized archive")
	ErrSizeExceeded        = errors.New("archive exceeds size limit")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrCorruptArchive      = errors.New("archive cannot be extracted")
	ErrMissingEntryPoint   = errors.New("no source file for the declared language")
	ErrAmbiguousSources    = errors.New("more than one source file for the declared language")
)

// Fixture and pipeline errors.
var (
	ErrFixtureNotFound     = errors.New("fixture not found")
	ErrIndexOutOfRange     = errors.New("test index out of range")
	ErrEmptySuite          = errors.New("test suite is empty")
	ErrAlreadyTerminal     = errors.New("task already has a terminal status")
	ErrInsufficientHistory = errors.New("not enough historical submissions")
	ErrDegenerateRange     = errors.New("historical values have no spread")
)

// IsValidationError reports whether err is a submission validation failure.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrInvalidFormat, ErrSizeExceeded, ErrUnsupportedLanguage,
		ErrCorruptArchive, ErrMissingEntryPoint, ErrAmbiguousSources,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
