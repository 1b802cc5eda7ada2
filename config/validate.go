package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

func Validate(cfg *Config) error {
	if cfg.Namespace == "" {
		return fmt.Errorf("namespace cannot be empty")
	}
	if strings.Contains(cfg.Namespace, ":") {
		return fmt.Errorf("namespace %q must not contain ':'", cfg.Namespace)
	}
	if err := validateServer(&cfg.Server); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := validateRedis(&cfg.Redis); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if err := validateAcme(&cfg.Acme); err != nil {
		return fmt.Errorf("acme: %w", err)
	}
	if cfg.Renewal.Enabled {
		if cfg.Renewal.Interval.Duration <= 0 {
			return fmt.Errorf("renewal: interval must be positive")
		}
		if cfg.Renewal.MaxPerTick <= 0 {
			return fmt.Errorf("renewal: max_per_tick must be positive")
		}
		if cfg.Renewal.ConcurrencyMultiplier <= 0 {
			return fmt.Errorf("renewal: concurrency_multiplier must be positive")
		}
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		return fmt.Errorf("metrics: endpoint %q must start with '/'", cfg.Metrics.Endpoint)
	}
	if cfg.Notifier.Discord.Activated && cfg.Notifier.Discord.WebhookURL == "" {
		return fmt.Errorf("notifier: discord activated without webhook_url")
	}
	if cfg.BlockMiss.Activated {
		if cfg.BlockMiss.WindowTicks <= 0 || cfg.BlockMiss.TickSize <= 0 {
			return fmt.Errorf("block_miss: window_ticks and tick_size must be positive")
		}
		if cfg.BlockMiss.BlockTTL.Duration <= 0 {
			return fmt.Errorf("block_miss: block_ttl must be positive")
		}
	}
	return nil
}

// validateServer requires Addr in "host:port" or ":port" form. A bare
// ":port" gets the host defaulted to localhost.
func validateServer(server *Server) error {
	if server.Addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	host, port, err := net.SplitHostPort(server.Addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", server.Addr, err)
	}
	if port == "" {
		return fmt.Errorf("address %q must include a port", server.Addr)
	}
	if host == "" {
		host = "localhost"
	}
	server.Addr = net.JoinHostPort(host, port)

	if _, err := net.LookupPort("tcp", port); err != nil {
		return fmt.Errorf("invalid port %q in address %q: %w", port, server.Addr, err)
	}
	return nil
}

func validateRedis(r *Redis) error {
	if r.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	if _, _, err := net.SplitHostPort(r.Addr); err != nil {
		return fmt.Errorf("invalid addr %q: %w", r.Addr, err)
	}
	return nil
}

func validateAcme(a *Acme) error {
	if a.Environment == "" {
		return fmt.Errorf("environment cannot be empty")
	}
	u, err := url.Parse(a.DirectoryURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid directory_url %q", a.DirectoryURL)
	}
	if a.KeyBits < 2048 {
		return fmt.Errorf("key_bits %d below minimum 2048", a.KeyBits)
	}
	if a.ChallengeTTL.Duration <= 0 {
		return fmt.Errorf("challenge_ttl must be positive")
	}
	if a.RenewWindow.Duration <= 0 {
		return fmt.Errorf("renew_window must be positive")
	}
	if a.OpLockLease.Duration <= 0 || a.OpLockWaitBudget.Duration <= 0 {
		return fmt.Errorf("op lock lease and wait budget must be positive")
	}
	if a.BlockRenewAfterErrorTTL.Duration <= 0 {
		return fmt.Errorf("block_renew_after_error_ttl must be positive")
	}
	return nil
}
