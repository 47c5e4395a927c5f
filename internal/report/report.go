// Package report aggregates per-file conversion results and prints the
// exit report.
package report

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/withObsrvr/obsrvr-csv-converter/internal/converter"
	"github.com/withObsrvr/obsrvr-csv-converter/internal/pipeline"
)

// ErrAlreadyReported is returned by a second call to Report.
var ErrAlreadyReported = errors.New("report already written")

// Totals summarises the aggregate.
type Totals struct {
	Files   int
	Records int
	Failed  int
}

// Aggregator is the single owner of all conversion results. It is fed by
// the coordinator's receive loop and is not safe for concurrent use.
type Aggregator struct {
	start    time.Time
	order    []string
	results  map[string]converter.Result
	failures []pipeline.Failure
	reported bool

	reconverted int
}

// New creates an Aggregator for a run that started at start.
func New(start time.Time) *Aggregator {
	return &Aggregator{
		start:   start,
		results: make(map[string]converter.Result),
	}
}

// Start returns the run start.
func (a *Aggregator) Start() time.Time {
	return a.start
}

// Record stores a result. A file converted again, as happens when watch
// mode sees it rewritten, replaces its earlier result and keeps its place
// in the report, so the totals describe the documents on disk.
func (a *Aggregator) Record(r converter.Result) {
	if _, ok := a.results[r.File]; !ok {
		a.order = append(a.order, r.File)
	} else {
		a.reconverted++
	}
	a.results[r.File] = r
}

// Reconverted returns how many results replaced an earlier one.
func (a *Aggregator) Reconverted() int {
	return a.reconverted
}

// RecordFailure tallies a failed file. Failures never enter the totals.
func (a *Aggregator) RecordFailure(f pipeline.Failure) {
	a.failures = append(a.failures, f)
}

// Results returns recorded results in arrival order.
func (a *Aggregator) Results() []converter.Result {
	out := make([]converter.Result, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.results[id])
	}
	return out
}

// Failures returns recorded failures in arrival order.
func (a *Aggregator) Failures() []pipeline.Failure {
	return append([]pipeline.Failure(nil), a.failures...)
}

// Totals returns the current counts.
func (a *Aggregator) Totals() Totals {
	t := Totals{Files: len(a.order), Failed: len(a.failures)}
	for _, r := range a.results {
		t.Records += r.Records
	}
	return t
}

// Report writes the exit report. It may be called once.
func (a *Aggregator) Report(w io.Writer, now time.Time) error {
	if a.reported {
		return ErrAlreadyReported
	}
	a.reported = true

	bw := &errWriter{w: w}
	bw.printf("Process started %s\n", FormatTimestamp(a.start))
	bw.printf("Process cost %d milliseconds\n", now.Sub(a.start).Milliseconds())

	var overall int
	for _, id := range a.order {
		r := a.results[id]
		bw.printf("%s took %d milliseconds to parse, %d records read/written\n",
			r.File, r.Elapsed.Milliseconds(), r.Records)
		overall += r.Records
	}
	bw.printf("overall %d records read/written\n", overall)
	if n := len(a.failures); n > 0 {
		bw.printf("failed %d files\n", n)
	}
	return bw.err
}

// FormatTimestamp renders t as YYYY/MM/DD_HH:MM:SS:mmm in t's location.
func FormatTimestamp(t time.Time) string {
	return fmt.Sprintf("%s:%03d", t.Format("2006/01/02_15:04:05"), t.Nanosecond()/int(time.Millisecond))
}

// errWriter keeps the first write error.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
