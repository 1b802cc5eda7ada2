package challenge

import (
	"context"
	"time"

	"github.com/caasmo/certherd/domain"
)

// providerTimeout bounds each store round trip made on behalf of the CA
// library, which calls Present/CleanUp without a context.
const providerTimeout = 30 * time.Second

// Provider adapts the Store to lego's challenge.Provider contract. During
// an order the CA library presents the key authorization here; the HTTP
// dispatcher, possibly in another process, serves it back to the CA.
type Provider struct {
	store   *Store
	timeout time.Duration
}

func (s *Store) Provider() *Provider {
	return &Provider{store: s, timeout: providerTimeout}
}

// Present stores the challenge answer for (domain, token). The name
// arrives in wire (punycode) form and is normalized to match the store's
// keying.
func (p *Provider) Present(name, token, keyAuth string) error {
	d, err := domain.Normalize(name)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.store.Set(ctx, d, token, keyAuth)
}

// CleanUp removes the challenge answer once the CA has validated or given
// up on the authorization.
func (p *Provider) CleanUp(name, token, keyAuth string) error {
	d, err := domain.Normalize(name)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.store.Remove(ctx, d, token)
}
