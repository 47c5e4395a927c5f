// Package source lists delimited-record input files and streams their
// records.
package source

import (
	"errors"
	"path/filepath"
	"strings"
)

// InputFile is one input file discovered in the input directory.
type InputFile struct {
	Path       string // absolute or caller-relative path used to open the file
	ID         string // path relative to the input directory; the file identifier
	OutputBase string // ID with input extensions removed, used to name the output
}

// Field is a single header/value pair of a record.
type Field struct {
	Name  string
	Value string
}

// Record is one parsed row. Fields keep header order.
type Record struct {
	Fields []Field
}

// Get returns the value for a header name.
func (r Record) Get(name string) (string, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Len returns the number of fields in the record.
func (r Record) Len() int { return len(r.Fields) }

// Options configures how input files are opened and parsed.
type Options struct {
	Delimiter rune   // field separator, ',' when zero
	Encoding  string // "auto" | "utf-8" | any WHATWG label, e.g. "windows-1252"
}

var (
	// ErrNotDirectory is returned when the input path is not a directory.
	ErrNotDirectory = errors.New("input path is not a directory")
)

// compressedSuffixes are stripped, in addition to the record extension,
// when deriving the output name.
var compressedSuffixes = []string{".gz", ".zst"}

// NewInputFile builds an InputFile for path found under dir.
func NewInputFile(dir, path string) InputFile {
	id, err := filepath.Rel(dir, path)
	if err != nil {
		id = filepath.Base(path)
	}
	id = filepath.ToSlash(id)
	return InputFile{
		Path:       path,
		ID:         id,
		OutputBase: outputBase(id),
	}
}

// outputBase strips a compression suffix and then the record extension.
func outputBase(id string) string {
	base := id
	lower := strings.ToLower(base)
	for _, suffix := range compressedSuffixes {
		if strings.HasSuffix(lower, suffix) {
			base = base[:len(base)-len(suffix)]
			break
		}
	}
	if ext := filepath.Ext(base); ext != "" {
		base = base[:len(base)-len(ext)]
	}
	return base
}
