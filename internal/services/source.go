package services

import "context"

// SourceRow is one raw record keyed by the source's own field names.
type SourceRow struct {
	Line   int
	Fields map[string]string
}

// Source produces raw price rows: a CSV export or a pricing API.
type Source interface {
	// Name identifies the source in logs, run records and price_history.source.
	Name() string
	// Open starts reading. A failure here is fatal for the run and wraps ErrFatalIO.
	Open(ctx context.Context) (RowReader, error)
}

// RowReader streams rows. Next returns io.EOF when the source is exhausted, a *RowError for a
// row that must be skipped, or an error wrapping ErrFatalIO when reading cannot continue.
type RowReader interface {
	Next(ctx context.Context) (SourceRow, error)
	Close() error
}
