package storage

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
)

// DocumentStore abstracts where converted documents are written.
type DocumentStore interface {
	// Prepare creates the output location if it is missing. It is
	// idempotent and safe to call from several workers at once.
	Prepare(ctx context.Context) error

	// Write stores data under name in a single atomic step: readers see
	// either the previous object or the complete new one.
	Write(ctx context.Context, name string, data []byte) error

	// Read returns the stored bytes for name.
	Read(ctx context.Context, name string) ([]byte, error)

	// Exists reports whether name has been written.
	Exists(ctx context.Context, name string) (bool, error)

	// URI returns the canonical URI for name.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(name string) string

	// Close releases any resources.
	Close() error
}

// StorageConfig configures the storage backend.
type StorageConfig struct {
	Backend string // "local" | "gcs" | "s3" | "blob"

	// Local filesystem: the output directory itself, e.g. <input>/converted
	LocalDir string

	// GCS / S3
	Bucket   string
	Endpoint string // custom endpoint for B2/MinIO/R2
	Region   string

	// Any gocloud bucket URL (file:///tmp/out, mem://) for the "blob" backend
	URL string

	// Common
	Prefix string // path prefix within the bucket, e.g. "converted/"
}

// NewDocumentStore creates a storage backend based on configuration.
func NewDocumentStore(ctx context.Context, cfg StorageConfig) (DocumentStore, error) {
	switch cfg.Backend {
	case "", "local":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("LocalDir required for local backend")
		}
		return NewLocalStore(cfg.LocalDir), nil
	case "gcs":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket required for gcs backend")
		}
		return OpenBlobStore(ctx, fmt.Sprintf("gs://%s", cfg.Bucket), cfg.Prefix)
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket required for s3 backend")
		}
		return OpenBlobStore(ctx, s3URL(cfg.Bucket, cfg.Endpoint, cfg.Region), cfg.Prefix)
	case "blob":
		if cfg.URL == "" {
			return nil, fmt.Errorf("URL required for blob backend")
		}
		return OpenBlobStore(ctx, cfg.URL, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// s3URL builds a gocloud URL. Works with AWS S3, Backblaze B2,
// Cloudflare R2, and MinIO.
func s3URL(bucket, endpoint, region string) string {
	bucketURL := fmt.Sprintf("s3://%s", bucket)

	params := url.Values{}
	if region != "" {
		params.Set("region", region)
	}
	if endpoint != "" {
		params.Set("endpoint", endpoint)
		params.Set("s3ForcePathStyle", "true")
	}
	if len(params) > 0 {
		bucketURL = bucketURL + "?" + params.Encode()
	}
	return bucketURL
}

// contentType guesses the MIME type from the name, ignoring a trailing
// compression suffix.
func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".gz":
		return "application/gzip"
	case ".zst":
		return "application/zstd"
	case ".parquet":
		return "application/vnd.apache.parquet"
	}
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
