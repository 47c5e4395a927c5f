package tables

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/withObsrvr/obsrvr-csv-converter/internal/source"
)

// Output formats.
const (
	FormatJSON    = "json"
	FormatParquet = "parquet"
)

// ErrNoColumns is returned by encoders that need a schema when the input
// had no header row.
var ErrNoColumns = errors.New("input has no header row")

// Encoder serializes a whole record set into one document.
type Encoder interface {
	Encode(header []string, records []source.Record) ([]byte, error)
	// Extension is the output file extension, including the dot.
	Extension() string
}

// NewEncoder returns the encoder for a format name.
func NewEncoder(format string) (Encoder, error) {
	switch strings.ToLower(format) {
	case "", FormatJSON:
		return JSONEncoder{}, nil
	case FormatParquet:
		return ParquetEncoder{Compression: "snappy"}, nil
	default:
		return nil, fmt.Errorf("unknown output format: %s", format)
	}
}

// jsonAPI encodes strings the way a plain JSON stringifier does: no HTML
// escaping, invalid UTF-8 replaced.
var jsonAPI = sonic.Config{
	EscapeHTML:     false,
	ValidateString: true,
}.Froze()

// JSONEncoder writes a compact JSON array of objects. Object keys follow
// header order, values are strings.
type JSONEncoder struct{}

// Extension implements Encoder.
func (JSONEncoder) Extension() string { return ".json" }

// Encode implements Encoder.
func (JSONEncoder) Encode(_ []string, records []source.Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, rec := range records {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for j, f := range rec.Fields {
			if j > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(&buf, f.Name); err != nil {
				return nil, fmt.Errorf("record %d: encode field name: %w", i+1, err)
			}
			buf.WriteByte(':')
			if err := writeString(&buf, f.Value); err != nil {
				return nil, fmt.Errorf("record %d: encode field %q: %w", i+1, f.Name, err)
			}
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func writeString(buf *bytes.Buffer, s string) error {
	b, err := jsonAPI.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}
