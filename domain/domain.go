// Package domain normalizes and validates the FQDNs the coordinator keys
// its state by, and enforces CAA issuance policy.
package domain

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalid marks a name that fails the domain grammar or has no
// registered public suffix.
var ErrInvalid = errors.New("invalid domain")

// Normalize canonicalizes raw input into the form all store keys use:
// trimmed, lowercase, Unicode (punycode labels decoded) and NFC.
func Normalize(raw string) (string, error) {
	d := strings.TrimSpace(raw)
	d = strings.TrimSuffix(d, ".")
	d = strings.ToLower(d)
	if d == "" {
		return "", fmt.Errorf("%w: empty name", ErrInvalid)
	}

	unicodeForm, err := idna.Lookup.ToUnicode(d)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalid, raw, err)
	}
	return norm.NFC.String(unicodeForm), nil
}

// Validate checks that d is a resolvable-looking FQDN under a registered,
// ICANN-managed top-level domain. The error message names the offending
// domain.
func Validate(d string) error {
	ascii, err := idna.Lookup.ToASCII(d)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalid, d, err)
	}
	if !strings.Contains(ascii, ".") {
		return fmt.Errorf("%w: %q has no registrable parent", ErrInvalid, d)
	}

	suffix, icann := publicsuffix.PublicSuffix(ascii)
	if !icann {
		return fmt.Errorf("%w: %q is not under a registered TLD", ErrInvalid, d)
	}
	if suffix == ascii {
		return fmt.Errorf("%w: %q is a bare public suffix", ErrInvalid, d)
	}
	return nil
}

// ASCII returns the punycode form used on the wire (DNS, CSR).
func ASCII(d string) (string, error) {
	ascii, err := idna.Lookup.ToASCII(d)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalid, d, err)
	}
	return ascii, nil
}
