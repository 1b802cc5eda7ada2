package config

import (
	"fmt"
	"log/slog"
)

// Reload re-reads the configuration file and, if it parses and validates,
// swaps it into the provider. A broken file leaves the running
// configuration untouched.
func Reload(path string, provider *Provider, logger *slog.Logger) error {
	newCfg, err := Load(path)
	if err != nil {
		logger.Error("config reload rejected", "path", path, "error", err)
		return fmt.Errorf("reload %s: %w", path, err)
	}

	provider.Update(newCfg)
	logger.Info("configuration reloaded", "path", path)
	return nil
}
