package converter

import (
	"context"
	"errors"
	"fmt"

	"github.com/withObsrvr/obsrvr-csv-converter/internal/tables"
)

// ErrChecksumMismatch is returned when a written document reads back
// different from what was written.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// verify reads a written document back from the store and checks it
// against the checksum computed before the write.
func (c *Converter) verify(ctx context.Context, name, checksum string, size int) error {
	data, err := c.store.Read(ctx, name)
	if err != nil {
		return fmt.Errorf("read back: %w", err)
	}
	if len(data) != size {
		return fmt.Errorf("%w: wrote %d bytes, read %d", ErrChecksumMismatch, size, len(data))
	}
	if !tables.VerifyChecksum(data, checksum) {
		return fmt.Errorf("%w: want %s, got %s", ErrChecksumMismatch, checksum, tables.ComputeChecksum(data))
	}
	return nil
}
