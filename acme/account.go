// Package acme provisions the CA account and runs certificate orders
// through lego. One Manager serves a whole process; the first caller pays
// for client construction and account provisioning, concurrent callers
// wait for that result.
package acme

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	stdcrypto "crypto"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/registration"
	"golang.org/x/sync/singleflight"

	"github.com/caasmo/certherd/config"
	"github.com/caasmo/certherd/crypto"
	"github.com/caasmo/certherd/settings"
)

// Account is the CA account material an order is signed with.
type Account struct {
	PrivateKey stdcrypto.Signer
	Resource   *registration.Resource
}

// storedAccount is the settings-hash form: the key at rest is always
// ciphertext from the configured encryptor.
type storedAccount struct {
	PrivateKey []byte                 `msgpack:"privateKey"`
	Account    *registration.Resource `msgpack:"account"`
}

// user satisfies lego's registration.User.
type user struct {
	email string
	key   stdcrypto.PrivateKey
	reg   *registration.Resource
}

func (u *user) GetEmail() string                        { return u.email }
func (u *user) GetRegistration() *registration.Resource { return u.reg }
func (u *user) GetPrivateKey() stdcrypto.PrivateKey     { return u.key }

// session pairs the account with the client built around its key.
type session struct {
	account *Account
	client  acmeClient
}

type Manager struct {
	settings       *settings.Store
	encryptor      crypto.Encryptor
	configProvider *config.Provider
	logger         *slog.Logger

	// newClient is swapped out by tests; production wiring installs the
	// lego factory carrying the HTTP-01 provider.
	newClient clientFactory

	flight singleflight.Group
	mu     sync.Mutex
	ready  *session
}

func NewManager(set *settings.Store, enc crypto.Encryptor, provider HTTPProvider, cp *config.Provider, logger *slog.Logger) *Manager {
	return &Manager{
		settings:       set,
		encryptor:      enc,
		configProvider: cp,
		logger:         logger.With("component", "acme"),
		newClient:      legoFactory(provider),
	}
}

// Account returns the CA account for the configured environment,
// provisioning it on first use. Repeated calls return the same account.
func (m *Manager) Account(ctx context.Context) (*Account, error) {
	s, err := m.session(ctx)
	if err != nil {
		return nil, err
	}
	return s.account, nil
}

// session hands out the initialized client+account pair. Initialization is
// coalesced: while one caller runs it, the others wait and share the
// outcome. A failure is not cached, the next caller starts over.
func (m *Manager) session(ctx context.Context) (*session, error) {
	m.mu.Lock()
	if m.ready != nil {
		s := m.ready
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	env := m.configProvider.Get().Acme.Environment
	v, err, _ := m.flight.Do(env, func() (any, error) {
		s, err := m.initSession(ctx, env)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.ready = s
		m.mu.Unlock()
		return s, nil
	})
	if err != nil {
		m.flight.Forget(env)
		return nil, err
	}
	return v.(*session), nil
}

func (m *Manager) initSession(ctx context.Context, env string) (*session, error) {
	cfg := m.configProvider.Get().Acme
	field := "account:" + env

	var stored storedAccount
	found, err := m.settings.Get(ctx, field, &stored)
	if err != nil {
		return nil, fmt.Errorf("acme: read account %s: %w", env, err)
	}

	if found && stored.Account != nil {
		keyPEM, err := m.encryptor.Decrypt(stored.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("acme: decrypt account key %s: %w", env, err)
		}
		key, err := certcrypto.ParsePEMPrivateKey(keyPEM)
		if err != nil {
			return nil, fmt.Errorf("acme: parse account key %s: %w", env, err)
		}
		signer, ok := key.(stdcrypto.Signer)
		if !ok {
			return nil, fmt.Errorf("acme: account key type %T cannot sign", key)
		}

		u := &user{email: cfg.Email, key: key, reg: stored.Account}
		client, err := m.newClient(u, cfg.DirectoryURL)
		if err != nil {
			return nil, fmt.Errorf("acme: build client: %w", err)
		}
		m.logger.Debug("loaded existing acme account", "environment", env)
		return &session{
			account: &Account{PrivateKey: signer, Resource: stored.Account},
			client:  client,
		}, nil
	}

	// First run for this environment. Two processes racing here is fine,
	// the later settings write wins and both accounts stay usable.
	m.logger.Info("provisioning new acme account", "environment", env, "directory", cfg.DirectoryURL)

	key, err := crypto.GenerateRSAKey(cfg.KeyBits)
	if err != nil {
		return nil, err
	}

	u := &user{email: cfg.Email, key: key}
	client, err := m.newClient(u, cfg.DirectoryURL)
	if err != nil {
		return nil, fmt.Errorf("acme: build client: %w", err)
	}

	reg, err := client.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return nil, fmt.Errorf("acme: register account %s: %w", env, err)
	}
	u.reg = reg

	keyPEM, err := crypto.EncodeKeyPEM(key)
	if err != nil {
		return nil, err
	}
	ciphertext, err := m.encryptor.Encrypt(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("acme: encrypt account key: %w", err)
	}

	// The write completes before anyone sees the account, so a reader
	// right after us never finds the settings field absent.
	err = m.settings.Set(ctx, map[string]any{
		field: storedAccount{PrivateKey: ciphertext, Account: reg},
	})
	if err != nil {
		return nil, fmt.Errorf("acme: persist account %s: %w", env, err)
	}

	m.logger.Info("acme account registered", "environment", env, "uri", reg.URI)
	return &session{
		account: &Account{PrivateKey: key, Resource: reg},
		client:  client,
	}, nil
}
