package config

import (
	"fmt"
	"log/slog"
	"time"
)

// Duration wraps time.Duration so TOML values can be written as "90s" or
// "720h" strings.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LogLevel wraps slog.Level for TOML ("debug", "info", "warn", "error").
type LogLevel struct {
	slog.Level
}

func (l *LogLevel) UnmarshalText(text []byte) error {
	return l.Level.UnmarshalText(text)
}

func (l LogLevel) MarshalText() ([]byte, error) {
	return l.Level.MarshalText()
}

// Config is the root of the TOML configuration file.
type Config struct {
	// Namespace prefixes every key the coordinator writes to the KV
	// server, so several installations can share one Redis.
	Namespace  string    `toml:"namespace"`
	AgeKeyPath string    `toml:"age_key_path"`
	Redis      Redis     `toml:"redis"`
	Acme       Acme      `toml:"acme"`
	Server     Server    `toml:"server"`
	Renewal    Renewal   `toml:"renewal"`
	Metrics    Metrics   `toml:"metrics"`
	Notifier   Notifier  `toml:"notifier"`
	BlockMiss  BlockMiss `toml:"block_miss"`
	Log        Log       `toml:"log"`
}

// Redis configures the shared backing store.
type Redis struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MinIdleConns int      `toml:"min_idle_conns"`
	DialTimeout  Duration `toml:"dial_timeout"`
	ReadTimeout  Duration `toml:"read_timeout"`
	WriteTimeout Duration `toml:"write_timeout"`
}

// Acme configures the CA-facing side of the coordinator.
type Acme struct {
	// Environment labels the account stored in the settings hash
	// (field "account:<environment>").
	Environment  string `toml:"environment"`
	DirectoryURL string `toml:"directory_url"`
	Email        string `toml:"email"`

	// CAADomains are the issuer names the CAA check accepts. Empty list
	// disables the check.
	CAADomains []string `toml:"caa_domains"`

	KeyBits      int      `toml:"key_bits"`
	ChallengeTTL Duration `toml:"challenge_ttl"`

	// RenewWindow is how long before expiry a certificate becomes due.
	RenewWindow Duration `toml:"renew_window"`

	OpLockLease      Duration `toml:"op_lock_lease"`
	OpLockWaitBudget Duration `toml:"op_lock_wait_budget"`

	// BlockRenewAfterErrorTTL is the failsafe lock lifetime after a
	// failed issuance. While the lock exists no renewal is attempted.
	BlockRenewAfterErrorTTL Duration `toml:"block_renew_after_error_ttl"`
}

type Server struct {
	Addr                    string   `toml:"addr"`
	ReadTimeout             Duration `toml:"read_timeout"`
	ReadHeaderTimeout       Duration `toml:"read_header_timeout"`
	WriteTimeout            Duration `toml:"write_timeout"`
	IdleTimeout             Duration `toml:"idle_timeout"`
	ShutdownGracefulTimeout Duration `toml:"shutdown_graceful_timeout"`
}

// Renewal configures the background walk over configured domains.
type Renewal struct {
	Enabled               bool     `toml:"enabled"`
	Interval              Duration `toml:"interval"`
	MaxPerTick            int      `toml:"max_per_tick"`
	ConcurrencyMultiplier int      `toml:"concurrency_multiplier"`
	DomainTimeout         Duration `toml:"domain_timeout"`
}

type Metrics struct {
	Enabled    bool     `toml:"enabled"`
	Endpoint   string   `toml:"endpoint"`
	AllowedIPs []string `toml:"allowed_ips"`
}

type Notifier struct {
	Discord Discord `toml:"discord"`
}

type Discord struct {
	Activated    bool     `toml:"activated"`
	WebhookURL   string   `toml:"webhook_url"`
	APIRateLimit Duration `toml:"api_rate_limit"`
	APIBurst     int      `toml:"api_burst"`
	SendTimeout  Duration `toml:"send_timeout"`
}

// BlockMiss configures the sketch that spots hosts hammering the challenge
// endpoint with tokens that do not exist.
type BlockMiss struct {
	Activated   bool     `toml:"activated"`
	WindowTicks int      `toml:"window_ticks"`
	TickSize    int      `toml:"tick_size"`
	BlockTTL    Duration `toml:"block_ttl"`
}

type Log struct {
	Level LogLevel `toml:"level"`
}
