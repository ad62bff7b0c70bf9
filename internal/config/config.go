package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds application configuration populated from environment variables.
type Config struct {
	// Core
	ListenAddr string
	ServerEnv  string // "development" or "production"

	// Storage
	DataDir string

	// Identity / signing
	ServerIdentity   string
	SecretKeyPath    string
	PublicKeyPath    string
	UserKeyCacheDir  string
	KeyServerURL     string
	SignatureMaxSkew time.Duration

	// Index
	IndexCommitThreshold int

	// WebSocket transport
	MaxConnections       int
	WriteQueueDepth      int
	PingInterval         time.Duration
	PongTimeout          time.Duration
	MaxMessageBytes      int

	// Resource ceilings
	IndexWriterBudgetMB int
}

// Load reads configuration from environment variables, following the same
// parse-collect-then-validate shape as the teacher's config package: every
// malformed value is collected by parser before Load returns, rather than
// failing fast on the first bad variable.
func Load() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		ListenAddr: envStr("LISTEN_ADDR", ":8443"),
		ServerEnv:  envStr("SERVER_ENV", "production"),

		DataDir: envStr("DATA_DIR", "data"),

		ServerIdentity:   envStr("SERVER_IDENTITY", "nexushub-server"),
		SecretKeyPath:    envStr("SECRET_KEY_PATH", "data/secret_key.asc"),
		PublicKeyPath:    envStr("PUBLIC_KEY_PATH", "data/public_key.asc"),
		UserKeyCacheDir:  envStr("USER_PUBLIC_KEY_DIR", "data/user_public_keys"),
		KeyServerURL:     envStr("KEY_SERVER_URL", "https://keys.openpgp.org"),
		SignatureMaxSkew: p.duration("SIGNATURE_MAX_SKEW", 10*time.Second),

		IndexCommitThreshold: p.int("INDEX_COMMIT_THRESHOLD", 10),

		MaxConnections:  p.int("MAX_CONNECTIONS", 10000),
		WriteQueueDepth: p.int("WRITE_QUEUE_DEPTH", 64),
		PingInterval:    p.duration("PING_INTERVAL", 30*time.Second),
		PongTimeout:     p.duration("PONG_TIMEOUT", 60*time.Second),
		MaxMessageBytes: p.int("MAX_MESSAGE_BYTES", 8192),

		IndexWriterBudgetMB: p.int("INDEX_WRITER_BUDGET_MB", 50),
	}

	if parseErr := errors.Join(p.errs...); parseErr != nil {
		return nil, parseErr
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsDevelopment returns true when running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.ServerEnv == "development"
}

func (c *Config) validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, fmt.Errorf("DATA_DIR is required"))
	}

	if c.ServerIdentity == "" {
		errs = append(errs, fmt.Errorf("SERVER_IDENTITY is required"))
	}

	if _, err := url.Parse(c.KeyServerURL); err != nil {
		errs = append(errs, fmt.Errorf("KEY_SERVER_URL is not a valid URL: %q", c.KeyServerURL))
	}
	if c.SignatureMaxSkew < 0 {
		errs = append(errs, fmt.Errorf("SIGNATURE_MAX_SKEW must not be negative"))
	}

	if c.IndexCommitThreshold < 1 {
		errs = append(errs, fmt.Errorf("INDEX_COMMIT_THRESHOLD must be at least 1"))
	}

	if c.MaxConnections < 1 {
		errs = append(errs, fmt.Errorf("MAX_CONNECTIONS must be at least 1"))
	}
	if c.WriteQueueDepth < 1 {
		errs = append(errs, fmt.Errorf("WRITE_QUEUE_DEPTH must be at least 1"))
	}
	if c.PingInterval < time.Second {
		errs = append(errs, fmt.Errorf("PING_INTERVAL must be at least 1s"))
	}
	if c.PongTimeout <= c.PingInterval {
		errs = append(errs, fmt.Errorf("PONG_TIMEOUT (%s) must exceed PING_INTERVAL (%s)", c.PongTimeout, c.PingInterval))
	}
	if c.MaxMessageBytes < 1 {
		errs = append(errs, fmt.Errorf("MAX_MESSAGE_BYTES must be at least 1"))
	}

	if c.IndexWriterBudgetMB < 1 {
		errs = append(errs, fmt.Errorf("INDEX_WRITER_BUDGET_MB must be at least 1"))
	}

	return errors.Join(errs...)
}

// parser collects parse errors so Load can report all invalid values at once.
type parser struct {
	errs []error
}

func (p *parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected integer)", key, v))
		return fallback
	}
	return n
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected duration like \"30s\" or \"2m\")", key, v))
		return fallback
	}
	return d
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
