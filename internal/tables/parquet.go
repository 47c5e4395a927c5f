package tables

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	"github.com/withObsrvr/obsrvr-csv-converter/internal/source"
)

// ParquetEncoder writes one string column per header field.
type ParquetEncoder struct {
	Compression string // "snappy" | "zstd" | "gzip" | "none"
}

// Extension implements Encoder.
func (ParquetEncoder) Extension() string { return ".parquet" }

// Encode implements Encoder. Columns are stored in name order, which is
// the order parquet groups use; the header order is kept in the schema
// key/value metadata.
func (e ParquetEncoder) Encode(header []string, records []source.Record) ([]byte, error) {
	if len(header) == 0 {
		return nil, ErrNoColumns
	}

	group := parquet.Group{}
	for _, name := range header {
		group[name] = parquet.String()
	}
	schema := parquet.NewSchema("record", group)

	columns := make([]string, 0, len(group))
	for name := range group {
		columns = append(columns, name)
	}
	sort.Strings(columns)
	index := make(map[string]int, len(columns))
	for i, name := range columns {
		index[name] = i
	}

	var buf bytes.Buffer
	w := parquet.NewWriter(&buf, schema,
		parquet.Compression(codec(e.Compression)),
		parquet.KeyValueMetadata("csv.header", strings.Join(header, ",")),
	)

	rows := make([]parquet.Row, 0, len(records))
	for _, rec := range records {
		row := make(parquet.Row, len(columns))
		for i := range row {
			row[i] = parquet.ByteArrayValue(nil).Level(0, 0, i)
		}
		for _, f := range rec.Fields {
			i, ok := index[f.Name]
			if !ok {
				continue
			}
			row[i] = parquet.ByteArrayValue([]byte(f.Value)).Level(0, 0, i)
		}
		rows = append(rows, row)
	}

	if _, err := w.WriteRows(rows); err != nil {
		w.Close()
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func codec(name string) compress.Codec {
	switch strings.ToLower(name) {
	case "zstd":
		return &parquet.Zstd
	case "gzip":
		return &parquet.Gzip
	case "none", "":
		return &parquet.Uncompressed
	default:
		return &parquet.Snappy
	}
}
