package core

import (
	"context"
	"fmt"
	"time"
)

// Certificate record statuses.
const (
	StatusPending = "pending"
	StatusValid   = "valid"
)

// LastError is the diagnostic stored with a record after a failed
// issuance attempt.
type LastError struct {
	Err  string    `msgpack:"err"`
	Code string    `msgpack:"code"`
	Time time.Time `msgpack:"time"`
}

// CertRecord is the logical per-domain record, merged from the settings
// fields it is split across. PrivateKeyPEM is the decrypted form and only
// ever lives in memory; the store holds ciphertext.
type CertRecord struct {
	Domain        string
	Status        string
	CertPEM       []byte
	CAPEMs        [][]byte
	PrivateKeyPEM []byte
	SerialNumber  string
	Fingerprint   string
	AltNames      []string
	ValidFrom     time.Time
	ValidTo       time.Time
	LastCheck     time.Time
	LastError     *LastError
	CertVersion   int64
}

// Valid reports whether the record carries a certificate usable right
// now. A ValidTo equal to now counts as expired.
func (r *CertRecord) Valid(now time.Time) bool {
	return r != nil && r.Status == StatusValid && len(r.CertPEM) > 0 && r.ValidTo.After(now)
}

// recordData is the settings-hash shape of the "domain:<D>:data" field.
type recordData struct {
	Domain       string    `msgpack:"domain"`
	Status       string    `msgpack:"status"`
	Cert         []byte    `msgpack:"cert"`
	CA           [][]byte  `msgpack:"ca"`
	SerialNumber string    `msgpack:"serialNumber"`
	Fingerprint  string    `msgpack:"fingerprint"`
	AltNames     []string  `msgpack:"altNames"`
	ValidFrom    time.Time `msgpack:"validFrom"`
	ValidTo      time.Time `msgpack:"validTo"`
}

// Settings field names for a domain.
func fieldData(d string) string        { return "domain:" + d + ":data" }
func fieldLastCheck(d string) string   { return "domain:" + d + ":lastCheck" }
func fieldPrivateKey(d string) string  { return "domain:" + d + ":privateKey" }
func fieldLastError(d string) string   { return "domain:" + d + ":lastError" }
func fieldCertVersion(d string) string { return "domain:" + d + ":certVersion" }

// loadRecord merges the per-domain settings fields into one CertRecord.
// A nil record without error means the domain is not configured. Partial
// records (no key, no cert yet) load fine; only the data field is
// required.
func (a *App) loadRecord(ctx context.Context, d string) (*CertRecord, error) {
	var (
		data      recordData
		lastCheck time.Time
		keyCipher []byte
		lastErr   *LastError
		version   int64
	)
	present, err := a.settings.GetMulti(ctx, map[string]any{
		fieldData(d):        &data,
		fieldLastCheck(d):   &lastCheck,
		fieldPrivateKey(d):  &keyCipher,
		fieldLastError(d):   &lastErr,
		fieldCertVersion(d): &version,
	})
	if err != nil {
		return nil, fmt.Errorf("load record for %s: %w", d, err)
	}
	if !present[fieldData(d)] {
		return nil, nil
	}

	rec := &CertRecord{
		Domain:       d,
		Status:       data.Status,
		CertPEM:      data.Cert,
		CAPEMs:       data.CA,
		SerialNumber: data.SerialNumber,
		Fingerprint:  data.Fingerprint,
		AltNames:     data.AltNames,
		ValidFrom:    data.ValidFrom,
		ValidTo:      data.ValidTo,
		LastCheck:    lastCheck,
		LastError:    lastErr,
		CertVersion:  version,
	}
	if rec.Domain == "" {
		rec.Domain = d
	}

	if present[fieldPrivateKey(d)] && len(keyCipher) > 0 {
		keyPEM, err := a.encryptor.Decrypt(keyCipher)
		if err != nil {
			return nil, fmt.Errorf("decrypt private key for %s: %w", d, err)
		}
		rec.PrivateKeyPEM = keyPEM
	}
	return rec, nil
}

// savePending writes the skeleton record created when a domain gets its
// key, before the first order. One settings call, so readers never see
// the key without the data field.
func (a *App) savePending(ctx context.Context, d string, keyCipher []byte) error {
	return a.settings.Set(ctx, map[string]any{
		fieldData(d):       recordData{Domain: d, Status: StatusPending},
		fieldPrivateKey(d): keyCipher,
		fieldLastError(d):  nil,
	})
}

// saveIssued merges the freshly issued certificate into the record and
// bumps the version counter. The composite fields go out as one atomic
// hash write; the version increment follows it.
func (a *App) saveIssued(ctx context.Context, d string, data recordData, now time.Time) (int64, error) {
	err := a.settings.Set(ctx, map[string]any{
		fieldData(d):      data,
		fieldLastCheck(d): now,
		fieldLastError(d): nil,
	})
	if err != nil {
		return 0, fmt.Errorf("persist issued certificate for %s: %w", d, err)
	}
	version, err := a.settings.Incr(ctx, fieldCertVersion(d), 1)
	if err != nil {
		return 0, fmt.Errorf("increment certVersion for %s: %w", d, err)
	}
	return version, nil
}

// saveLastError records a failed attempt on an existing record.
func (a *App) saveLastError(ctx context.Context, d string, cause *Error, now time.Time) error {
	return a.settings.Set(ctx, map[string]any{
		fieldLastError(d): &LastError{
			Err:  cause.Error(),
			Code: cause.Code,
			Time: now,
		},
		fieldLastCheck(d): now,
	})
}
