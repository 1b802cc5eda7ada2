package core

import (
	"log/slog"

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

type Option func(*App)

func WithConfigProvider(p *config.Provider) Option {
	return func(a *App) { a.configProvider = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

func WithKV(c kv.Client) Option {
	return func(a *App) { a.kvc = c }
}

func WithSettings(s *settings.Store) Option {
	return func(a *App) { a.settings = s }
}

func WithChallengeStore(s *challenge.Store) Option {
	return func(a *App) { a.challenges = s }
}

func WithLocker(l lock.Locker) Option {
	return func(a *App) { a.locker = l }
}

func WithIssuer(i Issuer) Option {
	return func(a *App) { a.issuer = i }
}

func WithCAAChecker(c CAAChecker) Option {
	return func(a *App) { a.caa = c }
}

func WithEncryptor(e crypto.Encryptor) Option {
	return func(a *App) { a.encryptor = e }
}

func WithCache(c cache.Cache[string, any]) Option {
	return func(a *App) { a.cache = c }
}

func WithRouter(r router.Router) Option {
	return func(a *App) { a.router = r }
}

func WithNotifier(n notify.Notifier) Option {
	return func(a *App) { a.notifier = n }
}
