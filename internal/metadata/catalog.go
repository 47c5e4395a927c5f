// Package metadata records conversion runs in a catalog database.
package metadata

import (
	"context"
	"time"

	"github.com/withObsrvr/obsrvr-csv-converter/internal/manifest"
)

// CatalogConfig configures the run catalog.
type CatalogConfig struct {
	PostgresDSN string
}

// RunRecord is one conversion run.
type RunRecord struct {
	RunID      string
	InputDir   string
	StartedAt  time.Time
	FinishedAt time.Time
	Workers    int
	Converted  int
	Failed     int
	Skipped    int
	Records    int64
	Files      []FileRecord
}

// FileRecord is the outcome of one input file within a run.
type FileRecord struct {
	Input     string
	Output    string // empty when the file failed
	Records   int64
	Bytes     int64
	Checksum  string
	ElapsedMs int64
	Error     string // empty on success
	ErrorKind string
}

// NewRunRecord builds a catalog record from a run manifest.
func NewRunRecord(m *manifest.Manifest, workers, skipped int) RunRecord {
	run := RunRecord{
		RunID:      m.RunID,
		InputDir:   m.InputDir,
		StartedAt:  m.StartedAt,
		FinishedAt: m.FinishedAt,
		Workers:    workers,
		Converted:  len(m.Files),
		Failed:     len(m.Failures),
		Skipped:    skipped,
		Records:    int64(m.Records),
	}
	for _, f := range m.Files {
		run.Files = append(run.Files, FileRecord{
			Input:     f.Input,
			Output:    f.Output,
			Records:   int64(f.Records),
			Bytes:     int64(f.Bytes),
			Checksum:  f.Checksum,
			ElapsedMs: f.ElapsedMs,
		})
	}
	for _, f := range m.Failures {
		run.Files = append(run.Files, FileRecord{
			Input:     f.Input,
			Error:     f.Error,
			ErrorKind: f.Kind,
		})
	}
	return run
}

// Writer persists run records.
type Writer interface {
	RecordRun(ctx context.Context, run RunRecord) error
	Close()
}

// NewWriter returns a writer for cfg. Without a DSN the writer discards
// everything.
func NewWriter(ctx context.Context, cfg CatalogConfig) (Writer, error) {
	if cfg.PostgresDSN == "" {
		return noopWriter{}, nil
	}
	return NewPostgresWriter(ctx, cfg)
}

type noopWriter struct{}

func (noopWriter) RecordRun(context.Context, RunRecord) error { return nil }
func (noopWriter) Close()                                     {}
