package config

import (
	"flag"
	"os"
	"time"

	"github.com/searchktools/fast-uring/logutil"
)

// Defaults
const (
	DefaultPort           = 8080
	DefaultIdleTimeout    = 5 * time.Second
	DefaultMaxBodySize    = 1 << 20
	DefaultMaxHeaderSize  = 8 << 10
	DefaultMaxHeaders     = 500
	DefaultMaxParams      = 500
	DefaultMaxWrites      = 7
	DefaultMaxConnections = 500
	DefaultPoolSize       = DefaultMaxConnections * DefaultMaxHeaderSize
	DefaultQueueDepth     = 4096
)

// Queue backends
const (
	BackendUring = "uring"
	BackendEpoll = "epoll"
)

// Config holds all application configuration. It is immutable once
// validated.
type Config struct {
	Port        int           `toml:"port"`
	IdleTimeout time.Duration `toml:"idle-timeout"`
	Env         string        `toml:"env"`

	// Request limits
	MaxBodySize   int `toml:"max-body-size"`
	MaxHeaderSize int `toml:"max-header-size"`
	MaxHeaders    int `toml:"max-headers"`
	MaxParams     int `toml:"max-params"`
	MaxWrites     int `toml:"max-writes"`

	// Capacity
	MaxConnections int  `toml:"max-connections"`
	PoolSize       int  `toml:"pool-size"`
	PoolOnly       bool `toml:"pool-only"`
	MultiCore      bool `toml:"multi-core"`

	// Completion queue
	Backend    string `toml:"backend"`
	QueueDepth int    `toml:"queue-depth"`

	Log logutil.LogConfig `toml:"log"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Port:           DefaultPort,
		IdleTimeout:    DefaultIdleTimeout,
		Env:            "development",
		MaxBodySize:    DefaultMaxBodySize,
		MaxHeaderSize:  DefaultMaxHeaderSize,
		MaxHeaders:     DefaultMaxHeaders,
		MaxParams:      DefaultMaxParams,
		MaxWrites:      DefaultMaxWrites,
		MaxConnections: DefaultMaxConnections,
		PoolSize:       DefaultPoolSize,
		Backend:        BackendUring,
		QueueDepth:     DefaultQueueDepth,
		Log:            logutil.DefaultLogConfig(),
	}
}

func bindFlags(fs *flag.FlagSet, cfg *Config) {
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "close connections idle this long (0 disables)")
	fs.StringVar(&cfg.Env, "env", cfg.Env, "Environment (development/production)")
	fs.IntVar(&cfg.MaxBodySize, "max-body-size", cfg.MaxBodySize, "maximum request body size in bytes")
	fs.IntVar(&cfg.MaxHeaderSize, "max-header-size", cfg.MaxHeaderSize, "maximum request header block size in bytes")
	fs.IntVar(&cfg.MaxHeaders, "max-headers", cfg.MaxHeaders, "maximum parsed request headers")
	fs.IntVar(&cfg.MaxParams, "max-params", cfg.MaxParams, "maximum parsed URL parameters")
	fs.IntVar(&cfg.MaxWrites, "max-writes", cfg.MaxWrites, "maximum body buffers per response")
	fs.IntVar(&cfg.MaxConnections, "max-connections", cfg.MaxConnections, "concurrent connections per worker")
	fs.IntVar(&cfg.PoolSize, "pool-size", cfg.PoolSize, "buffer arena size in bytes per worker")
	fs.BoolVar(&cfg.PoolOnly, "pool-only", cfg.PoolOnly, "never map memory outside the arena")
	fs.BoolVar(&cfg.MultiCore, "multi-core", cfg.MultiCore, "run one worker per CPU")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "completion queue backend (uring/epoll)")
	fs.IntVar(&cfg.QueueDepth, "queue-depth", cfg.QueueDepth, "submission queue entries")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level")
	fs.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "log format (console/json)")
	fs.StringVar(&cfg.Log.Filename, "log-file", cfg.Log.Filename, "log file, stderr when empty")
}

// Load builds the configuration from defaults, an optional TOML file given
// by -config, FAST_URING_* environment variables and finally the flags in
// args, each source overriding the previous one
func Load(args []string, environ []string) (*Config, error) {
	var path string
	probe := flag.NewFlagSet("fast-uring", flag.ContinueOnError)
	probe.SetOutput(discard{})
	probe.StringVar(&path, "config", "", "TOML configuration file")
	bindFlags(probe, Default())
	if err := probe.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg, EnvPrefix, environ); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("fast-uring", flag.ContinueOnError)
	fs.StringVar(&path, "config", path, "TOML configuration file")
	bindFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}

// New loads configuration from the process arguments and environment
func New() (*Config, error) {
	return Load(os.Args[1:], os.Environ())
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
