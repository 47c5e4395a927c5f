package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
)

// ParseError reports a malformed record stream.
type ParseError struct {
	Line   int
	Column int
	Err    error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d, column %d: %v", e.Line, e.Column, e.Err)
	}
	return e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// RecordReader turns a delimited byte stream into records. The first row
// is the header.
type RecordReader struct {
	r          *csv.Reader
	headerRead bool
	names      []string // unique header names in first-seen order
	slot       []int    // column index -> position in names
}

// NewRecordReader wraps r. Every data row must have as many fields as the
// header.
func NewRecordReader(r io.Reader, opts Options) *RecordReader {
	cr := csv.NewReader(r)
	if opts.Delimiter != 0 {
		cr.Comma = opts.Delimiter
	}
	cr.FieldsPerRecord = 0
	cr.ReuseRecord = true
	return &RecordReader{r: cr}
}

// Header returns the header names, reading the first row if needed.
// An empty stream yields a nil header and no error.
func (rr *RecordReader) Header() ([]string, error) {
	if err := rr.readHeader(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return rr.names, nil
}

func (rr *RecordReader) readHeader() error {
	if rr.headerRead {
		if rr.names == nil {
			return io.EOF
		}
		return nil
	}
	rr.headerRead = true

	row, err := rr.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return wrapParseError(err)
	}

	rr.slot = make([]int, len(row))
	pos := make(map[string]int, len(row))
	for i, name := range row {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		p, seen := pos[name]
		if !seen {
			p = len(rr.names)
			pos[name] = p
			rr.names = append(rr.names, name)
		}
		rr.slot[i] = p
	}
	return nil
}

// Next returns the next record, or io.EOF once the stream is exhausted.
// A duplicated header name keeps its first position and its last value.
func (rr *RecordReader) Next() (Record, error) {
	if err := rr.readHeader(); err != nil {
		return Record{}, err
	}

	row, err := rr.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, wrapParseError(err)
	}

	rec := Record{Fields: make([]Field, len(rr.names))}
	for i, name := range rr.names {
		rec.Fields[i].Name = name
	}
	for col, v := range row {
		rec.Fields[rr.slot[col]].Value = v
	}
	return rec, nil
}

// Records exposes the remaining stream as a lazy sequence. Iteration stops
// after the first error.
func (rr *RecordReader) Records() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for {
			rec, err := rr.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

func wrapParseError(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &ParseError{Line: pe.Line, Column: pe.Column, Err: pe.Err}
	}
	return err
}
