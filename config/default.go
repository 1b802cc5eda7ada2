package config

import (
	"log/slog"
	"time"
)

// LetsEncryptStagingURL is the directory used by default so a fresh
// installation cannot burn production rate limits.
const (
	LetsEncryptStagingURL    = "https://acme-staging-v02.api.letsencrypt.org/directory"
	LetsEncryptProductionURL = "https://acme-v02.api.letsencrypt.org/directory"
)

// NewDefaultConfig returns a Config with working defaults for everything
// except the ACME email, which has no sensible default.
func NewDefaultConfig() *Config {
	return &Config{
		Namespace: "certherd",
		Redis: Redis{
			Addr:         "127.0.0.1:6379",
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  Duration{Duration: 5 * time.Second},
			ReadTimeout:  Duration{Duration: 3 * time.Second},
			WriteTimeout: Duration{Duration: 3 * time.Second},
		},
		Acme: Acme{
			Environment:  "development",
			DirectoryURL: LetsEncryptStagingURL,
			KeyBits:      2048,
			ChallengeTTL: Duration{Duration: 2 * time.Hour},
			RenewWindow:  Duration{Duration: 30*24*time.Hour + 10*time.Second},
			OpLockLease:  Duration{Duration: 10 * time.Minute},
			OpLockWaitBudget: Duration{Duration: 3 * time.Minute},
			BlockRenewAfterErrorTTL: Duration{Duration: 1 * time.Hour},
		},
		Server: Server{
			Addr:                    ":8080",
			ReadTimeout:             Duration{Duration: 5 * time.Second},
			ReadHeaderTimeout:       Duration{Duration: 2 * time.Second},
			WriteTimeout:            Duration{Duration: 10 * time.Second},
			IdleTimeout:             Duration{Duration: 1 * time.Minute},
			ShutdownGracefulTimeout: Duration{Duration: 15 * time.Second},
		},
		Renewal: Renewal{
			Enabled:               true,
			Interval:              Duration{Duration: 1 * time.Hour},
			MaxPerTick:            20,
			ConcurrencyMultiplier: 2,
			DomainTimeout:         Duration{Duration: 15 * time.Minute},
		},
		Metrics: Metrics{
			Enabled:    true,
			Endpoint:   "/metrics",
			AllowedIPs: []string{"127.0.0.1", "::1"},
		},
		Notifier: Notifier{
			Discord: Discord{
				Activated:    false,
				APIRateLimit: Duration{Duration: 2 * time.Second},
				APIBurst:     1,
				SendTimeout:  Duration{Duration: 10 * time.Second},
			},
		},
		BlockMiss: BlockMiss{
			Activated:   false,
			WindowTicks: 10,
			TickSize:    100,
			BlockTTL:    Duration{Duration: 10 * time.Minute},
		},
		Log: Log{
			Level: LogLevel{Level: slog.LevelInfo},
		},
	}
}
