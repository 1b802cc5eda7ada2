package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/caasmo/certherd/kv"
	"github.com/caasmo/certherd/settings"
)

// DefaultTTL bounds how long a pending HTTP-01 answer stays readable.
// Authorizations are validated well within this window.
const DefaultTTL = 2 * time.Hour

// ErrUnknownDomain rejects challenge writes for domains that have no
// certificate record in the settings hash.
var ErrUnknownDomain = errors.New("challenge: domain has no certificate record")

type secret struct {
	Value   string    `msgpack:"value"`
	Created time.Time `msgpack:"created"`
	Expires time.Time `msgpack:"expires"`
}

type envelope struct {
	Token  string `msgpack:"token"`
	Secret secret `msgpack:"secret"`
}

type record struct {
	Acme envelope `msgpack:"acme"`
}

// Store keeps short-lived per-(domain, token) key authorizations in the
// shared KV server so that the HTTP responder, possibly another process,
// can serve them to the CA. Records expire server-side; Get additionally
// enforces the embedded expiry and removes anything stale it touches.
type Store struct {
	kvc      kv.Client
	settings *settings.Store
	prefix   string
	ttl      time.Duration
	logger   *slog.Logger
}

func New(kvc kv.Client, set *settings.Store, namespace string, ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		kvc:      kvc,
		settings: set,
		prefix:   settings.Prefix(namespace),
		ttl:      ttl,
		logger:   logger.With("component", "challenge_store"),
	}
}

func (s *Store) key(domain, token string) string {
	return s.prefix + "challenge:" + domain + ":" + token
}

// Set stores the key authorization for (domain, token). The domain must
// already have a certificate record; writes for unknown domains fail with
// ErrUnknownDomain so a misbehaving order cannot create stray keys.
func (s *Store) Set(ctx context.Context, domain, token, keyAuth string) error {
	known, err := s.settings.Has(ctx, "domain:"+domain+":data")
	if err != nil {
		return err
	}
	if !known {
		return fmt.Errorf("%w: %q", ErrUnknownDomain, domain)
	}

	now := time.Now()
	rec := record{Acme: envelope{
		Token: token,
		Secret: secret{
			Value:   keyAuth,
			Created: now,
			Expires: now.Add(s.ttl),
		},
	}}

	if err := s.put(ctx, domain, token, rec); err != nil {
		return err
	}
	s.logger.Debug("stored challenge", "domain", domain, "token", token, "ttl", s.ttl)
	return nil
}

// Get returns the key authorization for (domain, token). Records that are
// missing, empty, or past their embedded expiry yield found=false; expired
// leftovers are deleted on the way out.
func (s *Store) Get(ctx context.Context, domain, token string) (string, bool, error) {
	rec, found, err := s.fetch(ctx, domain, token)
	if err != nil {
		return "", false, err
	}
	if !found {
		return "", false, nil
	}

	sec := rec.Acme.Secret
	if sec.Value == "" || sec.Expires.Before(time.Now()) {
		if err := s.drop(ctx, domain, token); err != nil {
			return "", false, err
		}
		return "", false, nil
	}
	return sec.Value, true, nil
}

// Remove deletes the challenge record.
func (s *Store) Remove(ctx context.Context, domain, token string) error {
	if err := s.drop(ctx, domain, token); err != nil {
		return err
	}
	s.logger.Debug("removed challenge", "domain", domain, "token", token)
	return nil
}

// put writes the encoded record and its expiry in one atomic pipeline.
// Either command failing fails the write.
func (s *Store) put(ctx context.Context, domain, token string, rec record) error {
	b, err := msgpack.Marshal(rec)
	if err != nil {
		return err
	}
	key := s.key(domain, token)
	return s.kvc.TxPipeline(ctx, func(p kv.Pipeliner) {
		p.Set(key, b)
		p.PExpire(key, s.ttl)
	})
}

// fetch loads and decodes a record. Undecodable bytes count as found with
// an empty secret, which the caller deletes like any other stale record.
func (s *Store) fetch(ctx context.Context, domain, token string) (record, bool, error) {
	raw, ok, err := s.kvc.Get(ctx, s.key(domain, token))
	if err != nil {
		return record{}, false, err
	}
	if !ok || len(raw) == 0 {
		return record{}, false, nil
	}
	var rec record
	if err := msgpack.Unmarshal(raw, &rec); err != nil {
		s.logger.Debug("undecodable challenge record", "domain", domain, "token", token, "error", err)
		return record{}, true, nil
	}
	return rec, true, nil
}

func (s *Store) drop(ctx context.Context, domain, token string) error {
	_, err := s.kvc.Del(ctx, s.key(domain, token))
	return err
}
