package source

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/charlievieth/fastwalk"
)

// ListOptions configures input discovery.
type ListOptions struct {
	Recursive bool
	// Skip names a directory (relative to the input dir) that is never
	// descended into, normally the output subdirectory.
	Skip string
}

// List returns the matching files in dir sorted by identifier. Without
// Recursive only the top level is listed.
func List(dir string, m *Matcher, opts ListOptions) ([]InputFile, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid input path %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", dir, ErrNotDirectory)
	}

	var paths []string
	if opts.Recursive {
		paths, err = walk(dir, m, opts.Skip)
	} else {
		paths, err = readDir(dir, m)
	}
	if err != nil {
		return nil, err
	}

	files := make([]InputFile, 0, len(paths))
	for _, p := range paths {
		files = append(files, NewInputFile(dir, p))
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	return files, nil
}

func readDir(dir string, m *Matcher) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}

	var out []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if m.Match(e.Name()) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}

// walk lists the tree with fastwalk. The callback runs on several
// goroutines, so appends are guarded.
func walk(dir string, m *Matcher, skip string) ([]string, error) {
	skipPath := ""
	if skip != "" {
		skipPath = filepath.Join(dir, skip)
	}

	var (
		mu  sync.Mutex
		out []string
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipPath != "" && path == skipPath {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !m.Match(path) {
			return nil
		}
		mu.Lock()
		out = append(out, path)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory %s: %w", dir, err)
	}
	return out, nil
}
