package acme

import (
	"context"
	"crypto/x509"
	"fmt"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	legochallenge "github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"github.com/caasmo/certherd/crypto"
)

// Bundle is the result of a successful order, split into the leaf and the
// intermediates the CA handed back with it.
type Bundle struct {
	CertPEM    []byte
	IssuerPEMs [][]byte
}

// HTTPProvider is the HTTP-01 challenge hook handed to the CA library; the
// challenge store's Provider satisfies it.
type HTTPProvider = legochallenge.Provider

// acmeClient is the slice of lego the manager drives. Tests swap in a
// fake; production uses the adapter below.
type acmeClient interface {
	Register(opts registration.RegisterOptions) (*registration.Resource, error)
	ObtainForCSR(req certificate.ObtainForCSRRequest) (*certificate.Resource, error)
}

type clientFactory func(u *user, directoryURL string) (acmeClient, error)

func legoFactory(provider HTTPProvider) clientFactory {
	return func(u *user, directoryURL string) (acmeClient, error) {
		cfg := lego.NewConfig(u)
		cfg.CADirURL = directoryURL
		cfg.Certificate.KeyType = certcrypto.RSA2048

		client, err := lego.NewClient(cfg)
		if err != nil {
			return nil, err
		}
		if err := client.Challenge.SetHTTP01Provider(provider); err != nil {
			return nil, err
		}
		return &legoClient{c: client}, nil
	}
}

type legoClient struct {
	c *lego.Client
}

func (l *legoClient) Register(opts registration.RegisterOptions) (*registration.Resource, error) {
	return l.c.Registration.Register(opts)
}

func (l *legoClient) ObtainForCSR(req certificate.ObtainForCSRRequest) (*certificate.Resource, error) {
	return l.c.Certificate.ObtainForCSR(req)
}

// Issue runs one order for the CSR's domain. The CA validates control via
// the HTTP-01 provider wired into the client. A nil Bundle with nil error
// means the CA returned no certificate; the caller keeps whatever it had.
func (m *Manager) Issue(ctx context.Context, csr *x509.CertificateRequest) (*Bundle, error) {
	s, err := m.session(ctx)
	if err != nil {
		return nil, err
	}

	res, err := s.client.ObtainForCSR(certificate.ObtainForCSRRequest{
		CSR:    csr,
		Bundle: true,
	})
	if err != nil {
		return nil, fmt.Errorf("acme: obtain certificate: %w", err)
	}
	if res == nil || len(res.Certificate) == 0 {
		m.logger.Warn("acme order returned no certificate", "csr_cn", csr.Subject.CommonName)
		return nil, nil
	}

	leaf, issuers, err := crypto.SplitPEMBundle(res.Certificate)
	if err != nil {
		return nil, fmt.Errorf("acme: split returned chain: %w", err)
	}
	return &Bundle{CertPEM: leaf, IssuerPEMs: issuers}, nil
}
