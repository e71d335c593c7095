// Package config carries the tunable options shared by nodes and the
// simulator. The library itself only consumes Options; file and
// environment loading is for binaries that need it.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Options holds every tunable a node accepts.
type Options struct {
	// RetryLimit is the number of resends a send session may spend before
	// it is reported as failed.
	RetryLimit int `mapstructure:"retry_limit"`
	// FragmentTTL is how long a partial reassembly may sit idle before it
	// is evicted.
	FragmentTTL time.Duration `mapstructure:"fragment_ttl"`
	// FloodCacheSize bounds the per-node set of seen discovery waves.
	FloodCacheSize int `mapstructure:"flood_cache_size"`
	// PacketBuffer is the channel capacity of a node's inbound link.
	PacketBuffer int `mapstructure:"packet_buffer"`
	// EventBuffer is the capacity of a node's outbound event channel.
	EventBuffer int `mapstructure:"event_buffer"`
	// CommandBuffer is the capacity of a node's command channel.
	CommandBuffer int `mapstructure:"command_buffer"`
	// SweepInterval is how often a node evicts abandoned reassemblies.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// LogLevel is a logrus level name ("debug", "info", "warn", "error").
	LogLevel string `mapstructure:"log_level"`
}

// DefaultOptions returns the options every node starts from.
func DefaultOptions() *Options {
	return &Options{
		RetryLimit:     3,
		FragmentTTL:    60 * time.Second,
		FloodCacheSize: 1024,
		PacketBuffer:   64,
		EventBuffer:    64,
		CommandBuffer:  16,
		SweepInterval:  5 * time.Second,
		LogLevel:       "info",
	}
}

// Load reads options from the given config file, overlaid with MESHNET_
// environment variables. An empty path loads defaults and environment
// only.
func Load(path string) (*Options, error) {
	v := viper.New()

	defaults := DefaultOptions()
	v.SetDefault("retry_limit", defaults.RetryLimit)
	v.SetDefault("fragment_ttl", defaults.FragmentTTL)
	v.SetDefault("flood_cache_size", defaults.FloodCacheSize)
	v.SetDefault("packet_buffer", defaults.PacketBuffer)
	v.SetDefault("event_buffer", defaults.EventBuffer)
	v.SetDefault("command_buffer", defaults.CommandBuffer)
	v.SetDefault("sweep_interval", defaults.SweepInterval)
	v.SetDefault("log_level", defaults.LogLevel)

	v.SetEnvPrefix("MESHNET")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	opts := &Options{}
	if err := v.Unmarshal(opts); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// Validate rejects option values a node cannot run with.
func (o *Options) Validate() error {
	if o.RetryLimit < 0 {
		return fmt.Errorf("retry_limit must not be negative, got %d", o.RetryLimit)
	}
	if o.FragmentTTL < 0 {
		return fmt.Errorf("fragment_ttl must not be negative, got %s", o.FragmentTTL)
	}
	if o.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive, got %s", o.SweepInterval)
	}
	return nil
}
