package source

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"
)

// sniffLen is how much of the stream is inspected for charset detection.
const sniffLen = 4096

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Stream is an opened input file, decompressed and transcoded to UTF-8.
type Stream struct {
	io.Reader
	Charset string // charset the bytes were decoded from

	closers []func() error
}

// Close releases the file and any decompressor, innermost last.
func (s *Stream) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

// Open opens path as a UTF-8 byte stream. Files ending in .gz or .zst are
// decompressed on the fly. The returned stream must be closed.
func Open(path string, opts Options) (*Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s := &Stream{Reader: f, Charset: "utf-8", closers: []func() error{f.Close}}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		gz, err := gzip.NewReader(f)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		s.Reader = gz
		s.closers = append(s.closers, gz.Close)
	case ".zst":
		zr, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}
		s.Reader = zr
		s.closers = append(s.closers, func() error {
			zr.Close()
			return nil
		})
	}

	r, charset, err := decodeCharset(s.Reader, opts.Encoding)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Reader = r
	s.Charset = charset
	return s, nil
}

// decodeCharset wraps r so that it yields UTF-8. In auto mode the first
// sniffLen bytes decide: valid UTF-8 passes through, anything else goes
// through chardet.
func decodeCharset(r io.Reader, encoding string) (io.Reader, string, error) {
	br := bufio.NewReaderSize(r, sniffLen)
	peek, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, "", fmt.Errorf("read stream: %w", err)
	}

	if bytes.HasPrefix(peek, utf8BOM) {
		br.Discard(len(utf8BOM))
		return br, "utf-8", nil
	}

	auto := false
	name := strings.ToLower(strings.TrimSpace(encoding))
	switch name {
	case "", "auto":
		if validUTF8Prefix(peek) {
			return br, "utf-8", nil
		}
		res, err := chardet.NewTextDetector().DetectBest(peek)
		if err != nil {
			return br, "utf-8", nil
		}
		auto = true
		name = res.Charset
	case "utf-8", "utf8":
		return br, "utf-8", nil
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		if auto {
			return br, "utf-8", nil
		}
		return nil, "", fmt.Errorf("unsupported input encoding %q: %w", name, err)
	}
	canonical, _ := htmlindex.Name(enc)
	if canonical == "utf-8" {
		return br, "utf-8", nil
	}
	return enc.NewDecoder().Reader(br), canonical, nil
}

// validUTF8Prefix is utf8.Valid that tolerates a rune cut off by the end
// of the sniff window.
func validUTF8Prefix(b []byte) bool {
	if utf8.Valid(b) {
		return true
	}
	j := len(b) - 1
	for j > 0 && len(b)-j < utf8.UTFMax && !utf8.RuneStart(b[j]) {
		j--
	}
	if j < 0 || utf8.FullRune(b[j:]) {
		return false
	}
	return utf8.Valid(b[:j])
}
