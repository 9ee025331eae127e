package services

import (
	"errors"
	"fmt"
)

// Pipeline error kinds. Callers classify with errors.Is.
var (
	// ErrFatalIO aborts a run: the source or the database cannot be opened.
	ErrFatalIO = errors.New("fatal i/o")
	// ErrRecordMalformed marks a row that cannot be parsed. The row is skipped and counted.
	ErrRecordMalformed = errors.New("malformed record")
	// ErrMissingRequiredField is a malformed row with no usable id/name or no price column.
	ErrMissingRequiredField = fmt.Errorf("%w: missing required field", ErrRecordMalformed)
	// ErrNoObservation means the row carries no price (empty, zero or negative).
	ErrNoObservation = errors.New("no price observation")
	// ErrNotFound means the matcher could not resolve a card.
	ErrNotFound = errors.New("card not found")
	// ErrAmbiguous means several cards matched at the same confidence.
	ErrAmbiguous = errors.New("ambiguous card reference")
	// ErrWriteFailure is a database error on a single record.
	ErrWriteFailure = errors.New("write failure")
)

// RowError attaches a source position to a per-row failure.
type RowError struct {
	Line int
	Ref  string
	Err  error
}

func (e *RowError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("line %d (%s): %v", e.Line, e.Ref, e.Err)
	}
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}
