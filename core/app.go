// Package core holds the certificate coordinator: the per-domain issuance
// state machine, the challenge HTTP responder, and the handlers exposing
// them. All handlers have App as receiver.
package core

import (
	"context"
	"crypto/x509"
	"fmt"
	"log/slog"

	"github.com/caasmo/certherd/acme"
	"github.com/caasmo/certherd/cache"
	"github.com/caasmo/certherd/challenge"
	"github.com/caasmo/certherd/config"
	"github.com/caasmo/certherd/crypto"
	"github.com/caasmo/certherd/kv"
	"github.com/caasmo/certherd/lock"
	"github.com/caasmo/certherd/notify"
	"github.com/caasmo/certherd/router"
	"github.com/caasmo/certherd/settings"
)

// Issuer is the CA-facing slice of the coordinator, satisfied by
// *acme.Manager.
type Issuer interface {
	Account(ctx context.Context) (*acme.Account, error)
	Issue(ctx context.Context, csr *x509.CertificateRequest) (*acme.Bundle, error)
}

// CAAChecker is satisfied by *domain.CAAChecker. A nil checker skips the
// pre-flight.
type CAAChecker interface {
	Check(ctx context.Context, d string) error
}

// App is the application-wide context. Shared clients and permanent
// structs live here; every handler has App as receiver.
type App struct {
	configProvider *config.Provider
	logger         *slog.Logger

	kvc        kv.Client
	settings   *settings.Store
	challenges *challenge.Store
	locker     lock.Locker
	issuer     Issuer
	caa        CAAChecker
	encryptor  crypto.Encryptor
	cache      cache.Cache[string, any]
	router     router.Router
	notifier   notify.Notifier

	// prefix is the installation key prefix; locks live under it next to
	// the settings hash and the challenge records.
	prefix string

	misses *missTracker
}

func NewApp(opts ...Option) (*App, error) {
	a := &App{}
	for _, opt := range opts {
		opt(a)
	}

	if a.configProvider == nil {
		return nil, fmt.Errorf("core: config provider is required")
	}
	if a.kvc == nil {
		return nil, fmt.Errorf("core: kv client is required")
	}
	if a.settings == nil {
		return nil, fmt.Errorf("core: settings store is required")
	}
	if a.challenges == nil {
		return nil, fmt.Errorf("core: challenge store is required")
	}
	if a.locker == nil {
		return nil, fmt.Errorf("core: locker is required")
	}
	if a.issuer == nil {
		return nil, fmt.Errorf("core: issuer is required")
	}
	if a.logger == nil {
		return nil, fmt.Errorf("core: logger is required")
	}
	if a.encryptor == nil {
		a.encryptor = crypto.Identity{}
	}

	cfg := a.configProvider.Get()
	a.prefix = settings.Prefix(cfg.Namespace)

	if cfg.BlockMiss.Activated && a.cache != nil {
		a.misses = newMissTracker(cfg.BlockMiss, a.cache, a.logger)
	}
	return a, nil
}

// Config returns the current configuration snapshot.
func (a *App) Config() *config.Config {
	return a.configProvider.Get()
}

func (a *App) Logger() *slog.Logger { return a.logger }

func (a *App) Router() router.Router { return a.router }

// Notify sends a notification when a notifier is wired; without one it is
// a no-op.
func (a *App) Notify(ctx context.Context, n notify.Notification) {
	if a.notifier == nil {
		return
	}
	if err := a.notifier.Send(ctx, n); err != nil {
		a.logger.Warn("notification send failed", "source", n.Source, "error", err)
	}
}

// Close releases the shared clients.
func (a *App) Close() error {
	return a.kvc.Close()
}
