// Package config parses dtmd's command-line surface. There is no config
// file and no environment variable input (spec §6): every knob is a flag.
package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// Config holds every daemon-startup knob named in spec.md §6, plus the
// ambient ones SPEC_FULL.md §4.6 adds (poller choice, audit-log location).
type Config struct {
	Host string
	Port int

	MaxConnections  int
	MaxTransactions int
	BufferSize      int
	MaxChannels     int
	ListenBacklog   int

	Poller string // "epoll" or "poll"

	WALDir             string
	WALFlushInterval   int // milliseconds
	LogLevel           string
	LogFile            string
}

// Default mirrors the reference daemon's defaults; none of these are
// mandated by the spec beyond MAX_CHANNELS existing as a fixed bound.
func Default() Config {
	return Config{
		Host:             "0.0.0.0",
		Port:             9000,
		MaxConnections:   1024,
		MaxTransactions:  4096,
		BufferSize:       64 * 1024,
		MaxChannels:      1024,
		ListenBacklog:    128,
		Poller:           "epoll",
		WALDir:           "./dtmd-wal",
		WALFlushInterval: 10,
		LogLevel:         "info",
	}
}

// Parse builds a Config from argv (excluding the program name), applying
// Default() first.
func Parse(args []string) (Config, error) {
	cfg := Default()
	fs := pflag.NewFlagSet("dtmd", pflag.ContinueOnError)

	fs.StringVar(&cfg.Host, "host", cfg.Host, "address to listen on")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "port to listen on")
	fs.IntVar(&cfg.MaxConnections, "max-connections", cfg.MaxConnections, "maximum concurrent client connections")
	fs.IntVar(&cfg.MaxTransactions, "max-transactions", cfg.MaxTransactions, "maximum in-flight global transactions")
	fs.IntVar(&cfg.BufferSize, "buffer-size", cfg.BufferSize, "per-connection socket buffer size in bytes")
	fs.IntVar(&cfg.MaxChannels, "max-channels", cfg.MaxChannels, "maximum channels multiplexed per connection")
	fs.IntVar(&cfg.ListenBacklog, "listen-backlog", cfg.ListenBacklog, "listen(2) backlog size")
	fs.StringVar(&cfg.Poller, "poller", cfg.Poller, `readiness mechanism: "epoll" or "poll"`)
	fs.StringVar(&cfg.WALDir, "wal-dir", cfg.WALDir, "directory for the non-durable audit log (truncated on every start)")
	fs.IntVar(&cfg.WALFlushInterval, "wal-flush-interval", cfg.WALFlushInterval, "audit log flush interval in milliseconds")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug|info|warn|error")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "write logs to this file instead of stderr")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.Poller != "epoll" && cfg.Poller != "poll" {
		return Config{}, fmt.Errorf("config: --poller must be \"epoll\" or \"poll\", got %q", cfg.Poller)
	}
	if cfg.MaxChannels <= 0 {
		return Config{}, fmt.Errorf("config: --max-channels must be positive")
	}
	if cfg.BufferSize <= 0 {
		return Config{}, fmt.Errorf("config: --buffer-size must be positive")
	}
	if cfg.MaxTransactions <= 0 {
		return Config{}, fmt.Errorf("config: --max-transactions must be positive")
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
