// Package config loads converter configuration from defaults, an optional
// YAML file, CONVERTER_* environment variables and command-line flags, in
// that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/withObsrvr/obsrvr-csv-converter/internal/logging"
	"github.com/withObsrvr/obsrvr-csv-converter/internal/metadata"
	"github.com/withObsrvr/obsrvr-csv-converter/internal/metrics"
	"github.com/withObsrvr/obsrvr-csv-converter/internal/source"
	"github.com/withObsrvr/obsrvr-csv-converter/internal/storage"
	"github.com/withObsrvr/obsrvr-csv-converter/internal/tables"
)

// Config holds all converter configuration.
type Config struct {
	Input   InputConfig   `yaml:"input"`
	Output  OutputConfig  `yaml:"output"`
	Storage StorageConfig `yaml:"storage"`
	Perf    PerfConfig    `yaml:"perf"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Catalog CatalogConfig `yaml:"catalog"`
	Watch   WatchConfig   `yaml:"watch"`
	Strict  bool          `yaml:"strict" envconfig:"CONVERTER_STRICT"`
}

type InputConfig struct {
	Dir        string   `yaml:"dir" envconfig:"CONVERTER_INPUT_DIR"`
	Extensions []string `yaml:"extensions" envconfig:"CONVERTER_EXTENSIONS"`
	Compressed bool     `yaml:"compressed" envconfig:"CONVERTER_COMPRESSED_INPUT"`
	IgnoreCase bool     `yaml:"ignore_case" envconfig:"CONVERTER_IGNORE_CASE"`
	Recursive  bool     `yaml:"recursive" envconfig:"CONVERTER_RECURSIVE"`
	Delimiter  string   `yaml:"delimiter" envconfig:"CONVERTER_DELIMITER"`
	Encoding   string   `yaml:"encoding" envconfig:"CONVERTER_ENCODING"`
}

type OutputConfig struct {
	Subdir      string `yaml:"subdir" envconfig:"CONVERTER_OUTPUT_SUBDIR"`
	Format      string `yaml:"format" envconfig:"CONVERTER_FORMAT"`
	Compression string `yaml:"compression" envconfig:"CONVERTER_COMPRESSION"`
	Manifest    bool   `yaml:"manifest" envconfig:"CONVERTER_MANIFEST"`
	Verify      bool   `yaml:"verify" envconfig:"CONVERTER_VERIFY"`
}

// StorageConfig selects where converted documents go. The local backend
// writes under <input dir>/<output subdir>.
type StorageConfig struct {
	Backend  string `yaml:"backend" envconfig:"CONVERTER_STORAGE_BACKEND"`
	Bucket   string `yaml:"bucket" envconfig:"CONVERTER_STORAGE_BUCKET"`
	Endpoint string `yaml:"endpoint" envconfig:"CONVERTER_STORAGE_ENDPOINT"`
	Region   string `yaml:"region" envconfig:"CONVERTER_STORAGE_REGION"`
	URL      string `yaml:"url" envconfig:"CONVERTER_STORAGE_URL"`
	Prefix   string `yaml:"prefix" envconfig:"CONVERTER_STORAGE_PREFIX"`
}

type PerfConfig struct {
	Workers int `yaml:"workers" envconfig:"CONVERTER_WORKERS"` // 0 means hardware parallelism
}

type LogConfig struct {
	Level  string `yaml:"level" envconfig:"CONVERTER_LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"CONVERTER_LOG_FORMAT"`
}

type MetricsConfig struct {
	Address string `yaml:"address" envconfig:"CONVERTER_METRICS_ADDR"`
	PushURL string `yaml:"push_url" envconfig:"CONVERTER_METRICS_PUSH"`
	Job     string `yaml:"job" envconfig:"CONVERTER_METRICS_JOB"`
}

type CatalogConfig struct {
	PostgresDSN string `yaml:"postgres_dsn" envconfig:"CONVERTER_CATALOG_DSN"`
}

type WatchConfig struct {
	Enabled  bool          `yaml:"enabled" envconfig:"CONVERTER_WATCH"`
	Debounce time.Duration `yaml:"debounce" envconfig:"CONVERTER_WATCH_DEBOUNCE"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Input: InputConfig{
			Dir:        ".",
			Extensions: []string{".csv"},
			Compressed: true,
			Delimiter:  ",",
			Encoding:   "auto",
		},
		Output: OutputConfig{
			Subdir:      "converted",
			Format:      tables.FormatJSON,
			Compression: tables.CompressionNone,
		},
		Storage: StorageConfig{
			Backend: "local",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Job: metrics.DefaultNamespace,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
	}
}

// LoadFile overlays a YAML file onto cfg. Keys absent from the file keep
// their current value.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// LoadEnv overlays CONVERTER_* environment variables onto cfg.
func LoadEnv(cfg *Config) error {
	if err := envconfig.Process("", cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error

	if c.Input.Dir == "" {
		errs = append(errs, errors.New("input dir is required"))
	}
	if len(c.Input.Extensions) == 0 {
		errs = append(errs, errors.New("at least one input extension is required"))
	}
	if utf8.RuneCountInString(c.Input.Delimiter) != 1 {
		errs = append(errs, fmt.Errorf("delimiter must be a single character, got %q", c.Input.Delimiter))
	} else if d := c.Delimiter(); d == '"' || d == '\r' || d == '\n' || d == utf8.RuneError {
		errs = append(errs, fmt.Errorf("invalid delimiter %q", c.Input.Delimiter))
	}
	if c.Output.Subdir == "" || strings.ContainsAny(c.Output.Subdir, `/\`) {
		errs = append(errs, fmt.Errorf("output subdir must be a single directory name, got %q", c.Output.Subdir))
	}

	switch c.Output.Format {
	case tables.FormatJSON, tables.FormatParquet:
	default:
		errs = append(errs, fmt.Errorf("unknown output format %q", c.Output.Format))
	}
	switch c.Output.Compression {
	case tables.CompressionNone, tables.CompressionGzip, tables.CompressionZstd:
	default:
		errs = append(errs, fmt.Errorf("unknown compression %q", c.Output.Compression))
	}

	switch c.Storage.Backend {
	case "local":
	case "s3", "gcs":
		if c.Storage.Bucket == "" {
			errs = append(errs, fmt.Errorf("storage bucket is required for %s backend", c.Storage.Backend))
		}
	case "blob":
		if c.Storage.URL == "" {
			errs = append(errs, errors.New("storage url is required for blob backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	if c.Perf.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Perf.Workers))
	}
	if c.Watch.Debounce < 0 {
		errs = append(errs, errors.New("watch debounce must not be negative"))
	}

	return errors.Join(errs...)
}

// Delimiter returns the field separator rune.
func (c Config) Delimiter() rune {
	r, _ := utf8.DecodeRuneInString(c.Input.Delimiter)
	return r
}

// SourceOptions returns the parsing options for input files.
func (c Config) SourceOptions() source.Options {
	return source.Options{Delimiter: c.Delimiter(), Encoding: c.Input.Encoding}
}

// MatchOptions returns the input matcher options.
func (c Config) MatchOptions() []source.MatchOption {
	if c.Input.IgnoreCase {
		return []source.MatchOption{source.IgnoreCase()}
	}
	return nil
}

// ListOptions returns the directory listing options.
func (c Config) ListOptions() source.ListOptions {
	return source.ListOptions{Recursive: c.Input.Recursive, Skip: c.Output.Subdir}
}

// StoreConfig returns the document store configuration for inputDir.
func (c Config) StoreConfig(inputDir string) storage.StorageConfig {
	return storage.StorageConfig{
		Backend:  c.Storage.Backend,
		LocalDir: filepath.Join(inputDir, c.Output.Subdir),
		Bucket:   c.Storage.Bucket,
		Endpoint: c.Storage.Endpoint,
		Region:   c.Storage.Region,
		URL:      c.Storage.URL,
		Prefix:   c.Storage.Prefix,
	}
}

// Logging returns the logging configuration.
func (c Config) Logging() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format}
}

// MetadataConfig returns the run catalog configuration.
func (c Config) MetadataConfig() metadata.CatalogConfig {
	return metadata.CatalogConfig{PostgresDSN: c.Catalog.PostgresDSN}
}
