package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr            string `yaml:"addr"`
	LogLevel        string `yaml:"logLevel"`
	// Optional rotating log file in addition to stdout
	LogFile         string `yaml:"logFile"`
	CORSAllowOrigin string `yaml:"corsAllowOrigin"`

	// Engine.IO heartbeat
	PingInterval    time.Duration `yaml:"pingInterval"`
	PingTimeout     time.Duration `yaml:"pingTimeout"`
	MaxPayloadBytes int           `yaml:"maxPayloadBytes"`
	// Outbound frames buffered per connection before dropping
	SendQueueSize int `yaml:"sendQueueSize"`

	// Devices offline for longer than this are forgotten. Zero keeps them.
	OfflineDeviceTTL time.Duration `yaml:"offlineDeviceTTL"`
	EvictionInterval time.Duration `yaml:"evictionInterval"`

	// Per-connection inbound limit; zero disables it
	MaxEventsPerSec float64 `yaml:"maxEventsPerSec"`
	EventBurst      int     `yaml:"eventBurst"`

	// Optional NATS tap
	NATSURL           string `yaml:"natsURL"`
	NATSSubjectPrefix string `yaml:"natsSubjectPrefix"`
}

func Defaults() Config {
	return Config{
		Addr:              ":35515",
		LogLevel:          "info",
		CORSAllowOrigin:   "*",
		PingInterval:      25 * time.Second,
		PingTimeout:       30 * time.Second,
		MaxPayloadBytes:   1_000_000,
		SendQueueSize:     256,
		EvictionInterval:  time.Minute,
		EventBurst:        100,
		NATSSubjectPrefix: "devtools",
	}
}

// FromEnv returns the defaults overridden by environment variables.
func FromEnv() Config {
	cfg := Defaults()
	cfg.applyEnv()
	return cfg
}

// Load resolves the configuration in order: defaults, YAML file
// (--config or CONFIG_FILE), environment, command-line flags.
func Load(name string, args []string) (Config, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	path := fs.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	flags := Defaults()
	BindFlags(fs, &flags)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Defaults()
	if *path != "" {
		if err := cfg.LoadFile(*path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	fs.Visit(func(f *pflag.Flag) { cfg.copyFlag(f.Name, flags) })
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// BindFlags registers one flag per setting on fs, writing into cfg.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "also write logs to this rotating file")
	fs.StringVar(&cfg.CORSAllowOrigin, "cors-allow-origin", cfg.CORSAllowOrigin, "Access-Control-Allow-Origin value")
	fs.DurationVar(&cfg.PingInterval, "ping-interval", cfg.PingInterval, "heartbeat interval")
	fs.DurationVar(&cfg.PingTimeout, "ping-timeout", cfg.PingTimeout, "heartbeat timeout")
	fs.IntVar(&cfg.MaxPayloadBytes, "max-payload-bytes", cfg.MaxPayloadBytes, "largest accepted frame")
	fs.IntVar(&cfg.SendQueueSize, "send-queue-size", cfg.SendQueueSize, "outbound frames buffered per connection")
	fs.DurationVar(&cfg.OfflineDeviceTTL, "offline-device-ttl", cfg.OfflineDeviceTTL, "forget devices offline longer than this (0 keeps them)")
	fs.DurationVar(&cfg.EvictionInterval, "eviction-interval", cfg.EvictionInterval, "offline device sweep interval")
	fs.Float64Var(&cfg.MaxEventsPerSec, "max-events-per-sec", cfg.MaxEventsPerSec, "per-connection inbound event rate (0 disables)")
	fs.IntVar(&cfg.EventBurst, "event-burst", cfg.EventBurst, "per-connection inbound burst")
	fs.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "mirror routed traffic to this NATS server")
	fs.StringVar(&cfg.NATSSubjectPrefix, "nats-subject-prefix", cfg.NATSSubjectPrefix, "subject prefix for the NATS tap")
}

// LoadFile overlays the YAML document at path. Unknown keys are an error.
func (c *Config) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is empty"))
	}
	if c.PingInterval <= 0 || c.PingTimeout <= 0 {
		errs = append(errs, errors.New("ping interval and timeout must be positive"))
	}
	if c.MaxPayloadBytes <= 0 {
		errs = append(errs, fmt.Errorf("max payload bytes must be positive, got %d", c.MaxPayloadBytes))
	}
	if c.SendQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("send queue size must be positive, got %d", c.SendQueueSize))
	}
	if c.OfflineDeviceTTL < 0 {
		errs = append(errs, errors.New("offline device ttl must not be negative"))
	}
	if c.OfflineDeviceTTL > 0 && c.EvictionInterval <= 0 {
		errs = append(errs, errors.New("eviction interval must be positive when a ttl is set"))
	}
	if c.MaxEventsPerSec < 0 || c.EventBurst < 0 {
		errs = append(errs, errors.New("rate limit settings must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) applyEnv() {
	c.Addr = getEnv("ADDR", c.Addr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.CORSAllowOrigin = getEnv("CORS_ALLOW_ORIGIN", c.CORSAllowOrigin)
	c.PingInterval = getEnvDuration("PING_INTERVAL", c.PingInterval)
	c.PingTimeout = getEnvDuration("PING_TIMEOUT", c.PingTimeout)
	c.MaxPayloadBytes = getEnvInt("MAX_PAYLOAD_BYTES", c.MaxPayloadBytes)
	c.SendQueueSize = getEnvInt("SEND_QUEUE_SIZE", c.SendQueueSize)
	c.OfflineDeviceTTL = getEnvDuration("OFFLINE_DEVICE_TTL", c.OfflineDeviceTTL)
	c.EvictionInterval = getEnvDuration("EVICTION_INTERVAL", c.EvictionInterval)
	c.MaxEventsPerSec = getEnvFloat("MAX_EVENTS_PER_SEC", c.MaxEventsPerSec)
	c.EventBurst = getEnvInt("EVENT_BURST", c.EventBurst)
	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.NATSSubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", c.NATSSubjectPrefix)
}

func (c *Config) copyFlag(name string, from Config) {
	switch name {
	case "addr":
		c.Addr = from.Addr
	case "log-level":
		c.LogLevel = from.LogLevel
	case "log-file":
		c.LogFile = from.LogFile
	case "cors-allow-origin":
		c.CORSAllowOrigin = from.CORSAllowOrigin
	case "ping-interval":
		c.PingInterval = from.PingInterval
	case "ping-timeout":
		c.PingTimeout = from.PingTimeout
	case "max-payload-bytes":
		c.MaxPayloadBytes = from.MaxPayloadBytes
	case "send-queue-size":
		c.SendQueueSize = from.SendQueueSize
	case "offline-device-ttl":
		c.OfflineDeviceTTL = from.OfflineDeviceTTL
	case "eviction-interval":
		c.EvictionInterval = from.EvictionInterval
	case "max-events-per-sec":
		c.MaxEventsPerSec = from.MaxEventsPerSec
	case "event-burst":
		c.EventBurst = from.EventBurst
	case "nats-url":
		c.NATSURL = from.NATSURL
	case "nats-subject-prefix":
		c.NATSSubjectPrefix = from.NATSSubjectPrefix
	}
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("30s") or bare integers as milliseconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}
