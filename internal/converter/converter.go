// Package converter turns one delimited-record file into one structured
// document.
package converter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/withObsrvr/obsrvr-csv-converter/internal/source"
	"github.com/withObsrvr/obsrvr-csv-converter/internal/storage"
	"github.com/withObsrvr/obsrvr-csv-converter/internal/tables"
)

// Options configures a Converter.
type Options struct {
	Source      source.Options
	Encoder     tables.Encoder // JSON when nil
	Compression string         // "none" | "gzip" | "zstd"
	Start       time.Time      // run start; Result.Elapsed is measured from it
	Now         func() time.Time
	Verify      bool // read every document back and check its checksum
}

// Converter is the per-file read → parse → accumulate → serialize → write
// pipeline. It holds no per-file state and is safe for concurrent use as
// long as the store is.
type Converter struct {
	store       storage.DocumentStore
	encoder     tables.Encoder
	compression string
	src         source.Options
	start       time.Time
	now         func() time.Time
	verifyDocs  bool
	log         *slog.Logger
}

// New creates a Converter writing into store.
func New(store storage.DocumentStore, opts Options) *Converter {
	if opts.Encoder == nil {
		opts.Encoder = tables.JSONEncoder{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Start.IsZero() {
		opts.Start = opts.Now()
	}
	return &Converter{
		store:       store,
		encoder:     opts.Encoder,
		compression: opts.Compression,
		src:         opts.Source,
		start:       opts.Start,
		now:         opts.Now,
		verifyDocs:  opts.Verify,
		log:         slog.With("component", "converter"),
	}
}

// Start returns the run start the converter measures Elapsed from.
func (c *Converter) Start() time.Time {
	return c.start
}

// OutputName returns the document name an input file is written under.
func (c *Converter) OutputName(in source.InputFile) string {
	return in.OutputBase + c.encoder.Extension() + tables.CompressionSuffix(c.compression)
}

// Convert converts a single file. Every failure is returned as an *Error;
// nothing is written unless the whole input parsed.
func (c *Converter) Convert(ctx context.Context, in source.InputFile) (Result, error) {
	began := c.now()

	stream, err := source.Open(in.Path, c.src)
	if err != nil {
		return Result{}, ioError(in.ID, "open", err)
	}
	defer stream.Close()

	rr := source.NewRecordReader(stream, c.src)
	var records []source.Record
	for rec, err := range rr.Records() {
		if err != nil {
			var pe *source.ParseError
			if errors.As(err, &pe) {
				return Result{}, parseError(in.ID, "parse", err)
			}
			return Result{}, ioError(in.ID, "read", err)
		}
		records = append(records, rec)
	}
	header, err := rr.Header()
	if err != nil {
		return Result{}, parseError(in.ID, "parse", err)
	}

	doc, err := c.encoder.Encode(header, records)
	if err != nil {
		return Result{}, parseError(in.ID, "encode", err)
	}
	doc, err = tables.Compress(c.compression, doc)
	if err != nil {
		return Result{}, ioError(in.ID, "compress", err)
	}

	if err := c.store.Prepare(ctx); err != nil {
		return Result{}, ioError(in.ID, "prepare", err)
	}

	name := c.OutputName(in)
	if err := c.store.Write(ctx, name, doc); err != nil {
		return Result{}, ioError(in.ID, "write", err)
	}
	checksum := tables.ComputeChecksum(doc)
	if c.verifyDocs {
		if err := c.verify(ctx, name, checksum, len(doc)); err != nil {
			return Result{}, ioError(in.ID, "verify", err)
		}
	}

	done := c.now()
	res := Result{
		File:         in.ID,
		Output:       c.store.URI(name),
		Records:      len(records),
		Bytes:        len(doc),
		Checksum:     checksum,
		Elapsed:      done.Sub(c.start),
		FileDuration: done.Sub(began),
		CompletedAt:  done,
	}

	c.log.Debug("file converted",
		"file", in.ID,
		"charset", stream.Charset,
		"records", res.Records,
		"bytes", res.Bytes,
		"duration_ms", res.FileDuration.Milliseconds(),
	)
	return res, nil
}
