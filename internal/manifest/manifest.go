// Package manifest records what a conversion run produced.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/withObsrvr/obsrvr-csv-converter/internal/converter"
	"github.com/withObsrvr/obsrvr-csv-converter/internal/pipeline"
	"github.com/withObsrvr/obsrvr-csv-converter/internal/storage"
)

// Name is the document name the manifest is stored under.
const Name = "_manifest.json"

var (
	// ErrNoManifest is returned when no manifest has been written.
	ErrNoManifest = errors.New("no manifest found")
)

// Manifest describes one run.
type Manifest struct {
	RunID      string    `json:"run_id"`
	InputDir   string    `json:"input_dir"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Files      []File    `json:"files"`
	Failures   []Failure `json:"failures,omitempty"`
	Records    int       `json:"records"`
}

// File is one converted file.
type File struct {
	Input     string `json:"input"`
	Output    string `json:"output"`
	Records   int    `json:"records"`
	Bytes     int    `json:"bytes"`
	Checksum  string `json:"checksum"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// Failure is one file that produced no output.
type Failure struct {
	Input string `json:"input"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.New().String()
}

// Build assembles a manifest from a finished run.
func Build(runID, inputDir string, started, finished time.Time, results []converter.Result, failures []pipeline.Failure) *Manifest {
	m := &Manifest{
		RunID:      runID,
		InputDir:   inputDir,
		StartedAt:  started.UTC(),
		FinishedAt: finished.UTC(),
		Files:      make([]File, 0, len(results)),
	}
	for _, r := range results {
		m.Files = append(m.Files, File{
			Input:     r.File,
			Output:    r.Output,
			Records:   r.Records,
			Bytes:     r.Bytes,
			Checksum:  r.Checksum,
			ElapsedMs: r.Elapsed.Milliseconds(),
		})
		m.Records += r.Records
	}
	for _, f := range failures {
		var msg string
		if f.Err != nil {
			msg = f.Err.Error()
		}
		m.Failures = append(m.Failures, Failure{Input: f.File, Kind: f.Kind.String(), Error: msg})
	}
	return m
}

// Writer persists run manifests.
type Writer interface {
	Save(ctx context.Context, m *Manifest) error
}

// Config configures the manifest writer.
type Config struct {
	Enabled bool
	Store   storage.DocumentStore
}

// NewWriter creates a manifest writer based on configuration.
func NewWriter(cfg Config) (Writer, error) {
	if !cfg.Enabled {
		return noopWriter{}, nil
	}
	if cfg.Store == nil {
		return nil, errors.New("manifest: store is required")
	}
	return &storeWriter{store: cfg.Store}, nil
}

type storeWriter struct {
	store storage.DocumentStore
}

// Save writes the manifest next to the converted documents.
func (w *storeWriter) Save(ctx context.Context, m *Manifest) error {
	data, err := sonic.ConfigStd.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := w.store.Prepare(ctx); err != nil {
		return fmt.Errorf("prepare manifest store: %w", err)
	}
	if err := w.store.Write(ctx, Name, data); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Load reads the manifest of the last run from store.
func Load(ctx context.Context, store storage.DocumentStore) (*Manifest, error) {
	ok, err := store.Exists(ctx, Name)
	if err != nil {
		return nil, fmt.Errorf("check manifest: %w", err)
	}
	if !ok {
		return nil, ErrNoManifest
	}
	data, err := store.Read(ctx, Name)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := sonic.ConfigStd.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

type noopWriter struct{}

func (noopWriter) Save(context.Context, *Manifest) error { return nil }
