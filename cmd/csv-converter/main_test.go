package main

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inputDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestRun_ConvertsDirectory(t *testing.T) {
	dir := inputDir(t, map[string]string{
		"a.csv":     "name,qty\napple,1\npear,2\n",
		"b.csv":     "id\n1\n2\n3\n",
		"notes.txt": "ignored",
	})

	var stdout, stderr bytes.Buffer
	code := run([]string{"-workers", "2", dir}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	data, err := os.ReadFile(filepath.Join(dir, "converted", "a.json"))
	require.NoError(t, err)
	assert.Equal(t, `[{"name":"apple","qty":"1"},{"name":"pear","qty":"2"}]`, string(data))

	var rows []map[string]string
	data, err = os.ReadFile(filepath.Join(dir, "converted", "b.json"))
	require.NoError(t, err)
	require.NoError(t, sonic.Unmarshal(data, &rows))
	assert.Len(t, rows, 3)

	_, err = os.Stat(filepath.Join(dir, "converted", "notes.json"))
	assert.True(t, os.IsNotExist(err))

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 5)
	assert.Regexp(t, regexp.MustCompile(`^Process started \d{4}/\d{2}/\d{2}_\d{2}:\d{2}:\d{2}:\d{3}$`), lines[0])
	assert.Regexp(t, regexp.MustCompile(`^Process cost \d+ milliseconds$`), lines[1])
	assert.Regexp(t, regexp.MustCompile(`^(a|b)\.csv took \d+ milliseconds to parse, [23] records read/written$`), lines[2])
	assert.Regexp(t, regexp.MustCompile(`^(a|b)\.csv took \d+ milliseconds to parse, [23] records read/written$`), lines[3])
	assert.Equal(t, "overall 5 records read/written", lines[4])
}

func TestRun_EmptyDirectory(t *testing.T) {
	dir := t.TempDir()

	var stdout, stderr bytes.Buffer
	require.Equal(t, exitOK, run([]string{dir}, &stdout, &stderr))

	assert.Contains(t, stdout.String(), "overall 0 records read/written")
	_, err := os.Stat(filepath.Join(dir, "converted"))
	assert.True(t, os.IsNotExist(err), "no output directory without input files")
}

func TestRun_FailuresAreLoggedNotFatal(t *testing.T) {
	dir := inputDir(t, map[string]string{
		"good.csv": "k\nv\n",
		"bad.csv":  "a,b\n1,2,3\n",
	})

	var stdout, stderr bytes.Buffer
	require.Equal(t, exitOK, run([]string{dir}, &stdout, &stderr))

	assert.NotContains(t, stdout.String(), "bad.csv took")
	assert.Contains(t, stdout.String(), "overall 1 records read/written\nfailed 1 files\n")
	assert.Contains(t, stderr.String(), "file conversion failed")
	assert.Contains(t, stderr.String(), "bad.csv")
}

func TestRun_OutputCollision(t *testing.T) {
	dir := inputDir(t, map[string]string{
		"a.csv":    "k\nplain\n",
		"a.csv.gz": "never opened",
	})

	var stdout, stderr bytes.Buffer
	require.Equal(t, exitOK, run([]string{dir}, &stdout, &stderr))

	data, err := os.ReadFile(filepath.Join(dir, "converted", "a.json"))
	require.NoError(t, err)
	assert.Equal(t, `[{"k":"plain"}]`, string(data))

	out := stdout.String()
	assert.Contains(t, out, "a.csv took")
	assert.NotContains(t, out, "a.csv.gz took")
	assert.Contains(t, out, "overall 1 records read/written\nfailed 1 files\n")
	assert.Contains(t, stderr.String(), "output collision")

	assert.Equal(t, exitFailures, run([]string{"-strict", dir}, &bytes.Buffer{}, &bytes.Buffer{}))
}

func TestRun_ExtensionCase(t *testing.T) {
	dir := inputDir(t, map[string]string{
		"x.csv": "k\nplain\n",
		"x.CSV": "k\nupper\nagain\n",
	})

	var stdout, stderr bytes.Buffer
	require.Equal(t, exitOK, run([]string{dir}, &stdout, &stderr), stderr.String())
	assert.NotContains(t, stdout.String(), "x.CSV")
	assert.Contains(t, stdout.String(), "overall 1 records read/written\n")
	assert.NotContains(t, stdout.String(), "failed")

	stdout.Reset()
	stderr.Reset()
	require.Equal(t, exitOK, run([]string{"-ignore-case", dir}, &stdout, &stderr))

	// x.CSV sorts first and keeps the output name.
	data, err := os.ReadFile(filepath.Join(dir, "converted", "x.json"))
	require.NoError(t, err)
	assert.Equal(t, `[{"k":"upper"},{"k":"again"}]`, string(data))
	assert.Contains(t, stdout.String(), "overall 2 records read/written\nfailed 1 files\n")
	assert.Contains(t, stderr.String(), "output collision")
}

func TestRun_StrictExitCode(t *testing.T) {
	dir := inputDir(t, map[string]string{"bad.csv": "a\n\"x\n"})

	var stdout, stderr bytes.Buffer
	assert.Equal(t, exitFailures, run([]string{"-strict", dir}, &stdout, &stderr))
}

func TestRun_MissingInputDirectory(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{filepath.Join(t.TempDir(), "missing")}, &stdout, &stderr)
	assert.Equal(t, exitUsage, code)
	assert.Empty(t, stdout.String())
}

func TestRun_InvalidFlags(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, exitUsage, run([]string{"-format", "xml", t.TempDir()}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "unknown output format")

	stderr.Reset()
	assert.Equal(t, exitOK, run([]string{"-h"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Usage:")
}

func TestRun_ManifestAndCompression(t *testing.T) {
	dir := inputDir(t, map[string]string{"a.csv": "k\nv\n"})

	var stdout, stderr bytes.Buffer
	code := run([]string{"-manifest", "-compression", "gzip", "-verify", dir}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	_, err := os.Stat(filepath.Join(dir, "converted", "a.json.gz"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "converted", "_manifest.json"))
	require.NoError(t, err)
	var m struct {
		RunID string `json:"run_id"`
		Files []struct {
			Input   string `json:"input"`
			Records int    `json:"records"`
		} `json:"files"`
	}
	require.NoError(t, sonic.Unmarshal(data, &m))
	assert.NotEmpty(t, m.RunID)
	require.Len(t, m.Files, 1)
	assert.Equal(t, "a.csv", m.Files[0].Input)
	assert.Equal(t, 1, m.Files[0].Records)
}

func TestRun_BlobStorage(t *testing.T) {
	dir := inputDir(t, map[string]string{"a.csv": "k\nv\n"})
	out := t.TempDir()

	var stdout, stderr bytes.Buffer
	code := run([]string{"-storage", "blob", "-storage-url", "file://" + filepath.ToSlash(out), "-prefix", "docs", dir}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	data, err := os.ReadFile(filepath.Join(out, "docs", "a.json"))
	require.NoError(t, err)
	assert.Equal(t, `[{"k":"v"}]`, string(data))
}
