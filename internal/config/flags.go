package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EnvConfigFile names the variable holding the YAML config path.
const EnvConfigFile = "CONVERTER_CONFIG"

// flagSet records which flags were given so that only those override
// file and environment values.
type flagSet struct {
	fs    *flag.FlagSet
	apply map[string]func(*Config)
}

func (f *flagSet) str(name, def, usage string, set func(*Config, string)) {
	p := f.fs.String(name, def, usage)
	f.apply[name] = func(c *Config) { set(c, *p) }
}

func (f *flagSet) boolean(name string, def bool, usage string, set func(*Config, bool)) {
	p := f.fs.Bool(name, def, usage)
	f.apply[name] = func(c *Config) { set(c, *p) }
}

func (f *flagSet) integer(name string, def int, usage string, set func(*Config, int)) {
	p := f.fs.Int(name, def, usage)
	f.apply[name] = func(c *Config) { set(c, *p) }
}

func (f *flagSet) duration(name string, def time.Duration, usage string, set func(*Config, time.Duration)) {
	p := f.fs.Duration(name, def, usage)
	f.apply[name] = func(c *Config) { set(c, *p) }
}

func newFlagSet(name string, output io.Writer) (*flagSet, *string) {
	d := Default()
	f := &flagSet{
		fs:    flag.NewFlagSet(name, flag.ContinueOnError),
		apply: make(map[string]func(*Config)),
	}
	f.fs.SetOutput(output)
	f.fs.Usage = func() {
		fmt.Fprintf(output, "Usage: %s [flags] [input-dir]\n\n", name)
		fmt.Fprintf(output, "Converts every delimited-record file in input-dir (default: the current directory)\n")
		fmt.Fprintf(output, "into a JSON document under input-dir/converted.\n\nFlags:\n")
		f.fs.PrintDefaults()
	}

	configPath := f.fs.String("config", "", "YAML config file (env "+EnvConfigFile+")")

	f.integer("workers", d.Perf.Workers, "maximum number of workers (0 = number of CPUs)",
		func(c *Config, v int) { c.Perf.Workers = v })
	f.str("ext", strings.Join(d.Input.Extensions, ","), "comma-separated input extensions or glob patterns",
		func(c *Config, v string) { c.Input.Extensions = splitList(v) })
	f.boolean("compressed", d.Input.Compressed, "also match .gz and .zst compressed inputs",
		func(c *Config, v bool) { c.Input.Compressed = v })
	f.boolean("ignore-case", d.Input.IgnoreCase, "match input extensions case-insensitively",
		func(c *Config, v bool) { c.Input.IgnoreCase = v })
	f.boolean("recursive", d.Input.Recursive, "descend into subdirectories",
		func(c *Config, v bool) { c.Input.Recursive = v })
	f.str("delimiter", d.Input.Delimiter, "field delimiter (single character)",
		func(c *Config, v string) { c.Input.Delimiter = v })
	f.str("encoding", d.Input.Encoding, "input charset: auto, utf-8 or any WHATWG label",
		func(c *Config, v string) { c.Input.Encoding = v })

	f.str("out-subdir", d.Output.Subdir, "output subdirectory name",
		func(c *Config, v string) { c.Output.Subdir = v })
	f.str("format", d.Output.Format, "output format: json or parquet",
		func(c *Config, v string) { c.Output.Format = v })
	f.str("compression", d.Output.Compression, "output compression: none, gzip or zstd",
		func(c *Config, v string) { c.Output.Compression = v })
	f.boolean("manifest", d.Output.Manifest, "write a run manifest next to the output",
		func(c *Config, v bool) { c.Output.Manifest = v })
	f.boolean("verify", d.Output.Verify, "read every written document back and check its checksum",
		func(c *Config, v bool) { c.Output.Verify = v })

	f.str("storage", d.Storage.Backend, "storage backend: local, s3, gcs or blob",
		func(c *Config, v string) { c.Storage.Backend = v })
	f.str("bucket", d.Storage.Bucket, "bucket for the s3 and gcs backends",
		func(c *Config, v string) { c.Storage.Bucket = v })
	f.str("endpoint", d.Storage.Endpoint, "custom S3 endpoint",
		func(c *Config, v string) { c.Storage.Endpoint = v })
	f.str("region", d.Storage.Region, "S3 region",
		func(c *Config, v string) { c.Storage.Region = v })
	f.str("storage-url", d.Storage.URL, "bucket URL for the blob backend (e.g. file:///tmp/out)",
		func(c *Config, v string) { c.Storage.URL = v })
	f.str("prefix", d.Storage.Prefix, "object key prefix for bucket backends",
		func(c *Config, v string) { c.Storage.Prefix = v })

	f.boolean("watch", d.Watch.Enabled, "keep running and convert new files as they appear",
		func(c *Config, v bool) { c.Watch.Enabled = v })
	f.duration("debounce", d.Watch.Debounce, "quiet period before converting watched changes",
		func(c *Config, v time.Duration) { c.Watch.Debounce = v })
	f.boolean("strict", d.Strict, "exit with status 1 when any file fails",
		func(c *Config, v bool) { c.Strict = v })

	f.str("log-level", d.Log.Level, "log level: debug, info, warn or error",
		func(c *Config, v string) { c.Log.Level = v })
	f.str("log-format", d.Log.Format, "log format: text or json",
		func(c *Config, v string) { c.Log.Format = v })
	f.str("metrics-addr", d.Metrics.Address, "serve Prometheus metrics on this address",
		func(c *Config, v string) { c.Metrics.Address = v })
	f.str("metrics-push", d.Metrics.PushURL, "push metrics to this Pushgateway at exit",
		func(c *Config, v string) { c.Metrics.PushURL = v })
	f.str("catalog-dsn", d.Catalog.PostgresDSN, "PostgreSQL DSN of the run catalog",
		func(c *Config, v string) { c.Catalog.PostgresDSN = v })

	return f, configPath
}

// Load builds the configuration for a command line: defaults, then the
// YAML file, then the environment, then explicitly given flags. The input
// directory is the single positional argument and is returned absolute.
// flag.ErrHelp is returned unwrapped for -h.
func Load(name string, args []string, output io.Writer) (Config, error) {
	f, configPath := newFlagSet(name, output)
	if err := f.fs.Parse(args); err != nil {
		return Config{}, err
	}
	if f.fs.NArg() > 1 {
		return Config{}, fmt.Errorf("expected at most one input directory, got %d arguments", f.fs.NArg())
	}

	cfg := Default()

	path := *configPath
	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := LoadFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if err := LoadEnv(&cfg); err != nil {
		return Config{}, err
	}

	f.fs.Visit(func(fl *flag.Flag) {
		if apply, ok := f.apply[fl.Name]; ok {
			apply(&cfg)
		}
	})
	if f.fs.NArg() == 1 {
		cfg.Input.Dir = f.fs.Arg(0)
	}

	abs, err := filepath.Abs(cfg.Input.Dir)
	if err != nil {
		return Config{}, fmt.Errorf("resolve input dir: %w", err)
	}
	cfg.Input.Dir = abs

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// IsHelp reports whether err is the result of -h or -help.
func IsHelp(err error) bool {
	return errors.Is(err, flag.ErrHelp)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
