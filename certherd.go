// Package certherd wires the certificate coordinator: the shared KV
// store, the ACME client, the HTTP surface and the renewal daemon.
package certherd

import (
	"fmt"
	"log/slog"
	"os"

	phuslog "github.com/phuslu/log"

	"github.com/caasmo/certherd/acme"
	"github.com/caasmo/certherd/challenge"
	"github.com/caasmo/certherd/config"
	"github.com/caasmo/certherd/core"
	"github.com/caasmo/certherd/crypto"
	"github.com/caasmo/certherd/domain"
	"github.com/caasmo/certherd/kv/goredis"
	lockredsync "github.com/caasmo/certherd/lock/redsync"
	"github.com/caasmo/certherd/notify/discord"
	"github.com/caasmo/certherd/renewal"
	"github.com/caasmo/certherd/router/httprouter"
	"github.com/caasmo/certherd/server"
	"github.com/caasmo/certherd/settings"
)

// New builds the App and the Server from the TOML config file at
// configPath. The defaults wire every component from the config; user
// options are applied last and override them.
func New(configPath string, opts ...core.Option) (*core.App, *server.Server, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	configProvider := config.NewProvider(cfg)

	logger := slog.New(phuslog.SlogNewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Log.Level.Level,
	}))

	kvc, err := goredis.New(cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to redis %s: %w", cfg.Redis.Addr, err)
	}

	var encryptor crypto.Encryptor = crypto.Identity{}
	if cfg.AgeKeyPath != "" {
		ageEnc, err := crypto.NewAgeEncryptor(cfg.AgeKeyPath)
		if err != nil {
			_ = kvc.Close()
			return nil, nil, err
		}
		encryptor = ageEnc
	}

	set := settings.New(kvc, cfg.Namespace)
	challenges := challenge.New(kvc, set, cfg.Namespace, cfg.Acme.ChallengeTTL.Duration, logger)
	issuer := acme.NewManager(set, encryptor, challenges.Provider(), configProvider, logger)

	allOpts := []core.Option{
		core.WithConfigProvider(configProvider),
		core.WithLogger(logger),
		core.WithKV(kvc),
		core.WithSettings(set),
		core.WithChallengeStore(challenges),
		core.WithLocker(lockredsync.New(kvc.Redis())),
		core.WithIssuer(issuer),
		core.WithCAAChecker(domain.NewCAAChecker(cfg.Acme.CAADomains, logger)),
		core.WithEncryptor(encryptor),
		core.WithRouter(httprouter.New()),
	}
	if cfg.Notifier.Discord.Activated {
		dn, err := discord.New(cfg.Notifier.Discord, logger)
		if err != nil {
			_ = kvc.Close()
			return nil, nil, err
		}
		allOpts = append(allOpts, core.WithNotifier(dn))
	}
	allOpts = append(allOpts, opts...)

	app, err := core.NewApp(allOpts...)
	if err != nil {
		_ = kvc.Close()
		return nil, nil, err
	}

	route(cfg, app)

	srv := server.NewServer(configProvider, app.Router(), app.Logger(), func() error {
		return config.Reload(configPath, configProvider, app.Logger())
	})
	srv.AddDaemon(renewal.NewDaemon(configProvider, app, app.Logger()))

	return app, srv, nil
}
