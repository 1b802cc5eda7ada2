package crypto

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
)

// ParseCertificatePEM decodes the first CERTIFICATE block in data.
func ParseCertificatePEM(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("crypto: no PEM block in certificate data")
	}
	if block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("crypto: unexpected PEM block type %q", block.Type)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse certificate: %w", err)
	}
	return cert, nil
}

// Fingerprint is the SHA-256 digest of the DER certificate, lowercase hex.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// SplitPEMBundle separates a CA-returned chain into the leaf (first block)
// and the intermediates following it, each re-encoded as its own PEM.
func SplitPEMBundle(bundle []byte) (leaf []byte, issuers [][]byte, err error) {
	rest := bundle
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		enc := pem.EncodeToMemory(block)
		if leaf == nil {
			leaf = enc
		} else {
			issuers = append(issuers, enc)
		}
	}
	if leaf == nil {
		return nil, nil, fmt.Errorf("crypto: bundle contains no certificate")
	}
	return leaf, issuers, nil
}
