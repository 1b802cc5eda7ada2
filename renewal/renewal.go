// Package renewal runs the periodic walk over configured domains and
// renews the certificates that are due.
package renewal

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/caasmo/certherd/config"
	"github.com/caasmo/certherd/core"
)

const defaultConcurrencyMultiplier = 2

// Coordinator is the slice of the certificate coordinator the daemon
// drives; *core.App satisfies it.
type Coordinator interface {
	Domains(ctx context.Context) ([]string, error)
	NeedsRenewal(ctx context.Context, d string) (bool, error)
	AcquireCert(ctx context.Context, d string) (*core.CertRecord, error)
}

// Daemon ticks at the configured interval and renews due certificates
// concurrently, bounded per tick.
type Daemon struct {
	configProvider *config.Provider
	coordinator    Coordinator
	logger         *slog.Logger
	ctx            context.Context
	cancel         context.CancelFunc
	shutdownDone   chan struct{}
}

func NewDaemon(cp *config.Provider, coordinator Coordinator, logger *slog.Logger) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		configProvider: cp,
		coordinator:    coordinator,
		logger:         logger.With("component", "renewal"),
		ctx:            ctx,
		cancel:         cancel,
		shutdownDone:   make(chan struct{}),
	}
}

func (d *Daemon) Name() string { return "renewal" }

// Start launches the daemon goroutine. A disabled daemon still starts and
// ticks, so enabling renewal via config reload takes effect without a
// restart.
func (d *Daemon) Start() error {
	go func() {
		interval := d.configProvider.Get().Renewal.Interval.Duration
		if interval <= 0 {
			interval = time.Hour
		}
		d.logger.Info("starting renewal daemon", "interval", interval)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-d.ctx.Done():
				d.logger.Info("renewal daemon received shutdown signal")
				close(d.shutdownDone)
				return
			case <-ticker.C:
				if !d.configProvider.Get().Renewal.Enabled {
					d.logger.Debug("renewal disabled, skipping tick")
					continue
				}
				d.tick()
			}
		}
	}()
	return nil
}

// Stop signals the daemon and waits for the current tick to finish or the
// context to run out, whichever comes first.
func (d *Daemon) Stop(ctx context.Context) error {
	d.logger.Info("stopping renewal daemon")
	d.cancel()

	select {
	case <-d.shutdownDone:
		d.logger.Info("renewal daemon stopped gracefully")
		return nil
	case <-ctx.Done():
		d.logger.Warn("renewal daemon shutdown timed out")
		return ctx.Err()
	}
}

// tick walks the configured domains and renews the due ones. Failures are
// per-domain: one broken domain never stops the walk, the coordinator's
// failsafe handles its retry pacing.
func (d *Daemon) tick() {
	cfg := d.configProvider.Get().Renewal

	domains, err := d.coordinator.Domains(d.ctx)
	if err != nil {
		d.logger.Error("cannot list domains for renewal", "error", err)
		return
	}
	if len(domains) == 0 {
		return
	}

	due := make([]string, 0, len(domains))
	for _, dom := range domains {
		needs, err := d.coordinator.NeedsRenewal(d.ctx, dom)
		if err != nil {
			d.logger.Error("renewal check failed", "domain", dom, "error", err)
			continue
		}
		if needs {
			due = append(due, dom)
		}
	}
	if len(due) == 0 {
		d.logger.Debug("no certificates due", "domains", len(domains))
		return
	}
	if cfg.MaxPerTick > 0 && len(due) > cfg.MaxPerTick {
		due = due[:cfg.MaxPerTick]
	}

	multiplier := cfg.ConcurrencyMultiplier
	if multiplier <= 0 {
		multiplier = defaultConcurrencyMultiplier
	}
	d.logger.Info("renewing certificates", "due", len(due), "total", len(domains))

	g, ctx := errgroup.WithContext(d.ctx)
	g.SetLimit(runtime.NumCPU() * multiplier)
	for _, dom := range due {
		g.Go(func() error {
			domCtx := ctx
			if cfg.DomainTimeout.Duration > 0 {
				var cancel context.CancelFunc
				domCtx, cancel = context.WithTimeout(ctx, cfg.DomainTimeout.Duration)
				defer cancel()
			}
			if _, err := d.coordinator.AcquireCert(domCtx, dom); err != nil {
				d.logger.Error("renewal failed", "domain", dom, "error", err)
			}
			return nil
		})
	}
	g.Wait()
}
