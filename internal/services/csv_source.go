package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// CSVSource reads a header-row CSV export.
type CSVSource struct {
	name string
	open func() (io.ReadCloser, error)
}

// NewCSVFileSource reads the CSV file at path.
func NewCSVFileSource(path string) *CSVSource {
	return &CSVSource{
		name: filepath.Base(path),
		open: func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

// NewCSVSource reads CSV from r, e.g. stdin or an in-memory buffer.
func NewCSVSource(name string, r io.Reader) *CSVSource {
	return &CSVSource{
		name: name,
		open: func() (io.ReadCloser, error) { return io.NopCloser(r), nil },
	}
}

func (s *CSVSource) Name() string {
	return s.name
}

func (s *CSVSource) Open(_ context.Context) (RowReader, error) {
	rc, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrFatalIO, s.name, err)
	}

	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		_ = rc.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s: no header row", ErrFatalIO, s.name)
		}
		return nil, fmt.Errorf("%w: %s: read header: %v", ErrFatalIO, s.name, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	return &csvRowReader{rc: rc, r: r, header: header}, nil
}

type csvRowReader struct {
	rc     io.ReadCloser
	r      *csv.Reader
	header []string
}

func (c *csvRowReader) Next(ctx context.Context) (SourceRow, error) {
	if err := ctx.Err(); err != nil {
		return SourceRow{}, err
	}

	record, err := c.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return SourceRow{}, io.EOF
		}
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return SourceRow{}, &RowError{Line: pe.Line, Err: fmt.Errorf("%w: %v", ErrRecordMalformed, pe.Err)}
		}
		return SourceRow{}, fmt.Errorf("%w: %v", ErrFatalIO, err)
	}

	line, _ := c.r.FieldPos(0)
	fields := make(map[string]string, len(c.header))
	for i, h := range c.header {
		if h == "" || i >= len(record) {
			continue
		}
		fields[h] = strings.TrimSpace(record[i])
	}
	return SourceRow{Line: line, Fields: fields}, nil
}

func (c *csvRowReader) Close() error {
	return c.rc.Close()
}
