// Package crypto holds the key, CSR and certificate primitives the
// coordinator needs, plus the at-rest encryption of private keys.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"

	stdcrypto "crypto"
)

// DefaultKeyBits is the RSA modulus size used when the configuration does
// not say otherwise. The public exponent is 65537; Go does not generate
// anything else.
const DefaultKeyBits = 2048

// GenerateRSAKey creates a new RSA private key. Generation is CPU-bound;
// callers on a request path should not hold other work up behind it.
func GenerateRSAKey(bits int) (*rsa.PrivateKey, error) {
	if bits < 2048 {
		return nil, fmt.Errorf("crypto: refusing to generate %d-bit RSA key", bits)
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate RSA key: %w", err)
	}
	return key, nil
}

// EncodeKeyPEM renders a private key as PKCS#8 PEM.
func EncodeKeyPEM(key stdcrypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// ParseKeyPEM reads a PEM private key in PKCS#8, PKCS#1 or EC form.
func ParseKeyPEM(data []byte) (stdcrypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("crypto: no PEM block in key data")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		signer, ok := key.(stdcrypto.Signer)
		if !ok {
			return nil, fmt.Errorf("crypto: key type %T cannot sign", key)
		}
		return signer, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("crypto: unsupported private key encoding")
}

// NewCSR builds a certificate signing request for a single domain, signed
// with the domain's key. The CA takes the SAN list from here, so the
// domain appears both as common name and as a DNS SAN.
func NewCSR(domain string, key stdcrypto.Signer) (*x509.CertificateRequest, error) {
	template := &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: domain},
		DNSNames: []string{domain},
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	if err != nil {
		return nil, fmt.Errorf("crypto: create CSR for %s: %w", domain, err)
	}
	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, fmt.Errorf("crypto: re-parse CSR for %s: %w", domain, err)
	}
	return csr, nil
}
