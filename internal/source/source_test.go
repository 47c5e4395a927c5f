package source

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestNewInputFileOutputBase(t *testing.T) {
	tests := []struct {
		path string
		id   string
		base string
	}{
		{"/in/sales.csv", "sales.csv", "sales"},
		{"/in/sales.CSV.gz", "sales.CSV.gz", "sales"},
		{"/in/a.b.csv.zst", "a.b.csv.zst", "a.b"},
		{"/in/sub/x.csv", "sub/x.csv", "sub/x"},
		{"/in/noext", "noext", "noext"},
	}
	for _, tt := range tests {
		f := NewInputFile("/in", tt.path)
		assert.Equal(t, tt.id, f.ID, tt.path)
		assert.Equal(t, tt.base, f.OutputBase, tt.path)
		assert.Equal(t, tt.path, f.Path)
	}
}

func TestMatcher(t *testing.T) {
	m, err := NewMatcher([]string{".csv"}, true)
	require.NoError(t, err)

	assert.True(t, m.Match("a.csv"))
	assert.False(t, m.Match("/x/y/A.CSV"))
	assert.False(t, m.Match("a.csv.GZ"))
	assert.True(t, m.Match("a.csv.gz"))
	assert.True(t, m.Match("a.csv.zst"))
	assert.False(t, m.Match("a.json"))
	assert.False(t, m.Match("a.csv.bak"))

	plain, err := NewMatcher([]string{"*.tsv"}, false)
	require.NoError(t, err)
	assert.True(t, plain.Match("t.tsv"))
	assert.False(t, plain.Match("t.tsv.gz"))
	assert.Equal(t, []string{"*.tsv"}, plain.Patterns())

	def, err := NewMatcher(nil, false)
	require.NoError(t, err)
	assert.True(t, def.Match("x.csv"))

	_, err = NewMatcher([]string{"[a-"}, false)
	assert.Error(t, err)
}

func TestMatcherIgnoreCase(t *testing.T) {
	m, err := NewMatcher([]string{".csv", "Data_*.tsv"}, true, IgnoreCase())
	require.NoError(t, err)

	assert.True(t, m.Match("/x/y/A.CSV"))
	assert.True(t, m.Match("a.Csv.GZ"))
	assert.True(t, m.Match("data_1.TSV"))
	assert.False(t, m.Match("a.json"))
	assert.Equal(t, []string{"*.csv", "*.csv.gz", "*.csv.zst", "data_*.tsv", "data_*.tsv.gz", "data_*.tsv.zst"}, m.Patterns())
}

func TestListCaseSensitiveByDefault(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "x.csv"), []byte("k\nplain\n"))
	writeFile(t, filepath.Join(dir, "x.CSV"), []byte("k\nupper\nagain\n"))

	m, err := NewMatcher(nil, true)
	require.NoError(t, err)
	files, err := List(dir, m, ListOptions{})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "x.csv", files[0].ID)

	folded, err := NewMatcher(nil, true, IgnoreCase())
	require.NoError(t, err)
	files, err = List(dir, folded, ListOptions{})
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "x.CSV", files[0].ID)
	assert.Equal(t, files[0].OutputBase, files[1].OutputBase)
}

func TestListFlat(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.csv"), []byte("h\n1\n"))
	writeFile(t, filepath.Join(dir, "a.csv"), []byte("h\n1\n"))
	writeFile(t, filepath.Join(dir, "notes.txt"), []byte("x"))
	writeFile(t, filepath.Join(dir, "sub", "c.csv"), []byte("h\n1\n"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.csv"), 0755))

	m, err := NewMatcher([]string{".csv"}, true)
	require.NoError(t, err)

	files, err := List(dir, m, ListOptions{})
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.csv", files[0].ID)
	assert.Equal(t, "b.csv", files[1].ID)
	assert.Equal(t, filepath.Join(dir, "a.csv"), files[0].Path)
}

func TestListRecursiveSkipsOutput(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.csv"), []byte("h\n"))
	writeFile(t, filepath.Join(dir, "sub", "deep", "c.csv"), []byte("h\n"))
	writeFile(t, filepath.Join(dir, "converted", "old.csv"), []byte("h\n"))

	m, err := NewMatcher([]string{".csv"}, false)
	require.NoError(t, err)

	files, err := List(dir, m, ListOptions{Recursive: true, Skip: "converted"})
	require.NoError(t, err)

	var ids []string
	for _, f := range files {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []string{"a.csv", "sub/deep/c.csv"}, ids)
}

func TestListErrors(t *testing.T) {
	m, _ := NewMatcher(nil, false)

	_, err := List(filepath.Join(t.TempDir(), "missing"), m, ListOptions{})
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "f.csv")
	writeFile(t, file, []byte("h\n"))
	_, err = List(file, m, ListOptions{})
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func readAll(t *testing.T, path string, opts Options) (string, string) {
	t.Helper()
	s, err := Open(path, opts)
	require.NoError(t, err)
	defer s.Close()
	data, err := io.ReadAll(s)
	require.NoError(t, err)
	return string(data), s.Charset
}

func TestOpenPlainStripsBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bom.csv")
	writeFile(t, path, append([]byte{0xEF, 0xBB, 0xBF}, "id,name\n1,a\n"...))

	got, charset := readAll(t, path, Options{})
	assert.Equal(t, "id,name\n1,a\n", got)
	assert.Equal(t, "utf-8", charset)
}

func TestOpenCompressed(t *testing.T) {
	dir := t.TempDir()
	payload := "id,name\n1,alpha\n2,beta\n"

	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	_, err := gw.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	writeFile(t, filepath.Join(dir, "a.csv.gz"), gzBuf.Bytes())

	var zBuf bytes.Buffer
	zw, err := zstd.NewWriter(&zBuf)
	require.NoError(t, err)
	_, err = zw.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	writeFile(t, filepath.Join(dir, "b.csv.zst"), zBuf.Bytes())

	got, _ := readAll(t, filepath.Join(dir, "a.csv.gz"), Options{})
	assert.Equal(t, payload, got)
	got, _ = readAll(t, filepath.Join(dir, "b.csv.zst"), Options{})
	assert.Equal(t, payload, got)
}

func TestOpenCorruptGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv.gz")
	writeFile(t, path, []byte("not gzip at all"))

	_, err := Open(path, Options{})
	assert.Error(t, err)
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.csv"), Options{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenExplicitEncoding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latin1.csv")
	// "José,Zürich" in windows-1252
	writeFile(t, path, []byte("name,city\nJos\xe9,Z\xfcrich\n"))

	got, charset := readAll(t, path, Options{Encoding: "windows-1252"})
	assert.Equal(t, "name,city\nJosé,Zürich\n", got)
	assert.Equal(t, "windows-1252", charset)

	_, err := Open(path, Options{Encoding: "no-such-charset"})
	assert.Error(t, err)
}

func TestOpenAutoEncodingYieldsUTF8(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latin1.csv")
	writeFile(t, path, []byte(strings.Repeat("name,city\nJos\xe9 Mar\xeda,Z\xfcrich M\xfcnchen\n", 20)))

	got, charset := readAll(t, path, Options{Encoding: "auto"})
	assert.True(t, utf8.ValidString(got))
	assert.NotEqual(t, "utf-8", charset)
}

func TestValidUTF8Prefix(t *testing.T) {
	assert.True(t, validUTF8Prefix([]byte("plain ascii")))
	assert.True(t, validUTF8Prefix([]byte("caf\xc3")))        // é cut in half
	assert.True(t, validUTF8Prefix([]byte("x\xe2\x82")))      // € cut in half
	assert.False(t, validUTF8Prefix([]byte("caf\xe9 bar")))   // latin1 é
	assert.False(t, validUTF8Prefix([]byte("\xff\xfe\x00a"))) // utf-16 bom
}

func TestRecordReaderOrderAndValues(t *testing.T) {
	in := "id,name,note\n1,alpha,\"with, comma\"\n2,beta,\"multi\nline\"\n"
	rr := NewRecordReader(strings.NewReader(in), Options{})

	header, err := rr.Header()
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "note"}, header)

	var recs []Record
	for rec, err := range rr.Records() {
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	require.Len(t, recs, 2)
	assert.Equal(t, []Field{{"id", "1"}, {"name", "alpha"}, {"note", "with, comma"}}, recs[0].Fields)
	v, ok := recs[1].Get("note")
	assert.True(t, ok)
	assert.Equal(t, "multi\nline", v)
	_, ok = recs[1].Get("missing")
	assert.False(t, ok)
}

func TestRecordReaderDelimiter(t *testing.T) {
	rr := NewRecordReader(strings.NewReader("a;b\n1;2\n"), Options{Delimiter: ';'})
	rec, err := rr.Next()
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Len())
	_, err = rr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRecordReaderDuplicateHeader(t *testing.T) {
	rr := NewRecordReader(strings.NewReader("a,b,a\n1,2,3\n"), Options{})
	rec, err := rr.Next()
	require.NoError(t, err)
	assert.Equal(t, []Field{{"a", "3"}, {"b", "2"}}, rec.Fields)
}

func TestRecordReaderEmpty(t *testing.T) {
	rr := NewRecordReader(strings.NewReader(""), Options{})
	header, err := rr.Header()
	require.NoError(t, err)
	assert.Nil(t, header)

	count := 0
	for range rr.Records() {
		count++
	}
	assert.Zero(t, count)
}

func TestRecordReaderHeaderOnly(t *testing.T) {
	rr := NewRecordReader(strings.NewReader("a,b\n"), Options{})
	_, err := rr.Next()
	assert.ErrorIs(t, err, io.EOF)
	header, err := rr.Header()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, header)
}

func TestRecordReaderFieldCountMismatch(t *testing.T) {
	rr := NewRecordReader(strings.NewReader("a,b\n1,2\n3\n4,5\n"), Options{})

	var (
		n       int
		lastErr error
	)
	for _, err := range rr.Records() {
		if err != nil {
			lastErr = err
			break
		}
		n++
	}
	assert.Equal(t, 1, n)

	var pe *ParseError
	require.True(t, errors.As(lastErr, &pe))
	assert.Equal(t, 3, pe.Line)
	assert.ErrorIs(t, lastErr, csv.ErrFieldCount)
}

func TestRecordReaderBareQuote(t *testing.T) {
	rr := NewRecordReader(strings.NewReader("a,b\n1,x\"y\n"), Options{})
	_, err := rr.Next()
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, csv.ErrBareQuote)
}
