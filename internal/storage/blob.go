package storage

import (
	"context"
	"fmt"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/memblob"  // mem:// driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
)

// BlobStore writes documents to any gocloud bucket.
type BlobStore struct {
	bucket *blob.Bucket
	base   string // bucket URL without query, used for URIs
	prefix string
}

// OpenBlobStore opens the bucket at bucketURL. Keys are written under
// prefix.
func OpenBlobStore(ctx context.Context, bucketURL, prefix string) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}

	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if prefix != "" {
		bucket = blob.PrefixedBucket(bucket, prefix)
	}

	base := bucketURL
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base = base[:i]
	}

	return &BlobStore{
		bucket: bucket,
		base:   strings.TrimSuffix(base, "/"),
		prefix: prefix,
	}, nil
}

// Prepare is a no-op: object stores have no directories to create.
func (s *BlobStore) Prepare(ctx context.Context) error {
	return nil
}

// Write uploads data. The object only becomes visible when the writer is
// closed successfully.
func (s *BlobStore) Write(ctx context.Context, name string, data []byte) error {
	w, err := s.bucket.NewWriter(ctx, name, &blob.WriterOptions{ContentType: contentType(name)})
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", name, err)
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write data to %s: %w", name, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", name, err)
	}

	return nil
}

// Read returns the object bytes.
func (s *BlobStore) Read(ctx context.Context, name string) ([]byte, error) {
	return s.bucket.ReadAll(ctx, name)
}

// Exists checks if an object already exists.
func (s *BlobStore) Exists(ctx context.Context, name string) (bool, error) {
	return s.bucket.Exists(ctx, name)
}

// URI returns the canonical URI for the given name.
func (s *BlobStore) URI(name string) string {
	return s.base + "/" + s.prefix + name
}

// Close releases the bucket connection.
func (s *BlobStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}
