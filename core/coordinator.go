package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caasmo/certherd/acme"
	"github.com/caasmo/certherd/crypto"
	"github.com/caasmo/certherd/domain"
	"github.com/caasmo/certherd/notify"
)

func (a *App) opLockKey(d string) string   { return a.prefix + "lock:op:" + d }
func (a *App) failsafeKey(d string) string { return a.prefix + "lock:safe:" + d }

func certCacheKey(d string) string { return "cert:" + d }

// GetCertificate is the read path: it returns the domain's certificate
// when a valid one is on hand and delegates to AcquireCert otherwise.
func (a *App) GetCertificate(ctx context.Context, raw string) (*CertRecord, error) {
	d, err := domain.Normalize(raw)
	if err != nil {
		return nil, invalidDomainError(raw, err)
	}

	now := time.Now()
	if a.cache != nil {
		if v, ok := a.cache.Get(certCacheKey(d)); ok {
			if rec, ok := v.(*CertRecord); ok && rec.Valid(now) {
				metricCertCache.WithLabelValues("hit").Inc()
				return rec, nil
			}
		}
		metricCertCache.WithLabelValues("miss").Inc()
	}

	rec, err := a.loadRecord(ctx, d)
	if err != nil {
		return nil, err
	}
	if rec.Valid(now) {
		a.cacheRecord(d, rec)
		return rec, nil
	}
	return a.AcquireCert(ctx, d)
}

// AcquireCert ensures the domain holds a certificate valid beyond the renew
// window, ordering a new one from the CA when it does not. Concurrent
// callers for the same domain serialize on the operation lock; whoever
// loses the race returns the winner's result.
//
// After a failed order the failsafe lock suppresses further attempts for
// BlockRenewAfterErrorTTL. While suppressed, and on any failure where a
// still-valid certificate exists, the stored record is returned with a nil
// error; a failure with nothing usable on hand propagates. Deterministic
// rejections (domain grammar, CAA policy) likewise hand back the stored
// record when one exists, whatever its state.
func (a *App) AcquireCert(ctx context.Context, raw string) (*CertRecord, error) {
	d, err := domain.Normalize(raw)
	if err != nil {
		return nil, invalidDomainError(raw, err)
	}
	log := a.logger.With("domain", d)

	rec, err := a.loadRecord(ctx, d)
	if err != nil {
		return nil, err
	}

	blocked, err := a.kvc.Exists(ctx, a.failsafeKey(d))
	if err != nil {
		return nil, fmt.Errorf("check failsafe for %s: %w", d, err)
	}
	if blocked {
		log.Info("issuance suppressed, recent failure still cooling off")
		metricIssuance.WithLabelValues(outcomeBlocked).Inc()
		return rec, nil
	}

	// Validation failures do not arm the failsafe: they are deterministic
	// and cost no CA budget to re-hit. With a record on hand the rejection
	// is only logged and the record served as-is.
	if verr := a.preflight(ctx, d); verr != nil {
		if rec != nil {
			log.Warn("issuance preconditions failed, serving stored record",
				"code", verr.Code,
				"error", verr,
			)
			return rec, nil
		}
		return nil, verr
	}

	cfg := a.Config().Acme
	lockStart := time.Now()
	lease, ok, err := a.locker.Acquire(ctx, a.opLockKey(d), cfg.OpLockLease.Duration, cfg.OpLockWaitBudget.Duration)
	if err != nil {
		return rec, fmt.Errorf("acquire operation lock for %s: %w", d, err)
	}
	metricLockWait.Observe(time.Since(lockStart).Seconds())
	if !ok {
		// another holder is (or was) issuing; hand back whatever the
		// store has by now
		log.Info("operation lock busy, skipping issuance", "waited", time.Since(lockStart))
		metricIssuance.WithLabelValues(outcomeSkipped).Inc()
		return a.reload(ctx, d)
	}
	defer func() {
		if _, err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("operation lock release failed", "error", err)
		}
	}()

	// Re-read under the lock: a concurrent holder may have renewed while
	// we waited for it.
	rec, err = a.loadRecord(ctx, d)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if rec.Valid(now) && rec.ValidTo.After(now.Add(cfg.RenewWindow.Duration)) {
		log.Debug("certificate still outside renew window", "valid_to", rec.ValidTo)
		a.cacheRecord(d, rec)
		return rec, nil
	}

	fresh, cherr := a.issue(ctx, d, rec, log)
	if cherr != nil {
		return a.failIssuance(ctx, d, rec, cherr, log)
	}
	if fresh == nil {
		// CA answered without a certificate; keep what we had
		metricIssuance.WithLabelValues(outcomeSkipped).Inc()
		return rec, nil
	}

	metricIssuance.WithLabelValues(outcomeIssued).Inc()
	metricIssuanceDuration.Observe(time.Since(now).Seconds())
	a.cacheRecord(d, fresh)
	log.Info("certificate issued",
		"serial", fresh.SerialNumber,
		"valid_to", fresh.ValidTo,
		"version", fresh.CertVersion,
	)
	a.Notify(ctx, notify.Notification{
		Timestamp: time.Now(),
		Type:      notify.Metric,
		Level:     slog.LevelInfo,
		Source:    "coordinator",
		Message:   "certificate issued",
		Fields: map[string]any{
			"domain":   d,
			"serial":   fresh.SerialNumber,
			"valid_to": fresh.ValidTo.Format(time.RFC3339),
		},
	})
	return fresh, nil
}

// preflight runs the deterministic pre-issuance checks: the domain grammar
// and the zone's CAA policy.
func (a *App) preflight(ctx context.Context, d string) *Error {
	if err := domain.Validate(d); err != nil {
		return invalidDomainError(d, err)
	}
	if a.caa != nil {
		if err := a.caa.Check(ctx, d); err != nil {
			if errors.Is(err, domain.ErrCAAMismatch) {
				return caaMismatchError(d, err)
			}
			return internalError(fmt.Sprintf("CAA lookup for %q", d), err)
		}
	}
	return nil
}

// issue runs one order under the operation lock, reusing the domain key
// when one exists. A *Error return feeds the failure path; (nil, nil)
// means the CA declined without an error.
func (a *App) issue(ctx context.Context, d string, rec *CertRecord, log *slog.Logger) (*CertRecord, *Error) {
	ascii, err := domain.ASCII(d)
	if err != nil {
		return nil, invalidDomainError(d, err)
	}

	keyPEM, cherr := a.ensureDomainKey(ctx, d, rec, log)
	if cherr != nil {
		return nil, cherr
	}
	key, err := crypto.ParseKeyPEM(keyPEM)
	if err != nil {
		return nil, internalError(fmt.Sprintf("stored key for %q unusable", d), err)
	}
	csr, err := crypto.NewCSR(ascii, key)
	if err != nil {
		return nil, acmeFailureError(d, err)
	}

	if _, err := a.issuer.Account(ctx); err != nil {
		return nil, &Error{
			Code: ErrAccountUnavailable.Code, Status: ErrAccountUnavailable.Status,
			Message: ErrAccountUnavailable.Message, Err: err,
		}
	}

	bundle, err := a.issuer.Issue(ctx, csr)
	if err != nil {
		return nil, acmeFailureError(d, err)
	}
	if bundle == nil {
		log.Warn("order completed without certificate")
		return nil, nil
	}

	leaf, err := crypto.ParseCertificatePEM(bundle.CertPEM)
	if err != nil {
		return nil, acmeFailureError(d, err)
	}

	now := time.Now()
	data := recordData{
		Domain:       d,
		Status:       StatusValid,
		Cert:         bundle.CertPEM,
		CA:           bundle.IssuerPEMs,
		SerialNumber: leaf.SerialNumber.String(),
		Fingerprint:  crypto.Fingerprint(leaf),
		AltNames:     leaf.DNSNames,
		ValidFrom:    leaf.NotBefore,
		ValidTo:      leaf.NotAfter,
	}
	version, err := a.saveIssued(ctx, d, data, now)
	if err != nil {
		return nil, internalError(fmt.Sprintf("persist certificate for %q", d), err)
	}

	return &CertRecord{
		Domain:        d,
		Status:        StatusValid,
		CertPEM:       bundle.CertPEM,
		CAPEMs:        bundle.IssuerPEMs,
		PrivateKeyPEM: keyPEM,
		SerialNumber:  data.SerialNumber,
		Fingerprint:   data.Fingerprint,
		AltNames:      data.AltNames,
		ValidFrom:     data.ValidFrom,
		ValidTo:       data.ValidTo,
		LastCheck:     now,
		CertVersion:   version,
	}, nil
}

// ensureDomainKey returns the domain's private key PEM, creating, storing
// and encrypting a fresh one when the record has none. Generation happens
// on the issuing goroutine; nothing else is waiting on it while the
// operation lock is held.
func (a *App) ensureDomainKey(ctx context.Context, d string, rec *CertRecord, log *slog.Logger) ([]byte, *Error) {
	if rec != nil && len(rec.PrivateKeyPEM) > 0 {
		return rec.PrivateKeyPEM, nil
	}

	cfg := a.Config().Acme
	log.Info("generating private key", "bits", cfg.KeyBits)
	key, err := crypto.GenerateRSAKey(cfg.KeyBits)
	if err != nil {
		return nil, internalError(fmt.Sprintf("generate key for %q", d), err)
	}
	keyPEM, err := crypto.EncodeKeyPEM(key)
	if err != nil {
		return nil, internalError(fmt.Sprintf("encode key for %q", d), err)
	}
	ciphertext, err := a.encryptor.Encrypt(keyPEM)
	if err != nil {
		return nil, internalError(fmt.Sprintf("encrypt key for %q", d), err)
	}
	if err := a.savePending(ctx, d, ciphertext); err != nil {
		return nil, internalError(fmt.Sprintf("persist key for %q", d), err)
	}
	return keyPEM, nil
}

// failIssuance arms the failsafe, records the diagnostic and decides what
// the caller gets: the still-valid old certificate, or the error.
func (a *App) failIssuance(ctx context.Context, d string, rec *CertRecord, cause *Error, log *slog.Logger) (*CertRecord, error) {
	metricIssuance.WithLabelValues(outcomeFailed).Inc()
	now := time.Now()
	ttl := a.Config().Acme.BlockRenewAfterErrorTTL.Duration

	ctx = context.WithoutCancel(ctx)
	if _, err := a.kvc.SetNX(ctx, a.failsafeKey(d), []byte(cause.Code), ttl); err != nil {
		log.Warn("failsafe lock write failed", "error", err)
	}
	if rec != nil {
		if err := a.saveLastError(ctx, d, cause, now); err != nil {
			log.Warn("lastError write failed", "error", err)
		}
	}

	log.Error("certificate acquisition failed",
		"code", cause.Code,
		"error", cause,
		"retry_blocked_for", ttl,
	)
	a.Notify(ctx, notify.Notification{
		Timestamp: now,
		Type:      notify.Alarm,
		Level:     slog.LevelError,
		Source:    "coordinator",
		Message:   "certificate acquisition failed",
		Fields: map[string]any{
			"domain": d,
			"code":   cause.Code,
			"error":  cause.Error(),
		},
	})

	if rec.Valid(now) {
		log.Info("serving previous certificate while issuance is blocked", "valid_to", rec.ValidTo)
		return rec, nil
	}
	return nil, cause
}

// reload reads the record fresh and refreshes the cache.
func (a *App) reload(ctx context.Context, d string) (*CertRecord, error) {
	rec, err := a.loadRecord(ctx, d)
	if err != nil {
		return nil, err
	}
	a.cacheRecord(d, rec)
	return rec, nil
}

// cacheRecord stores a usable record, TTL capped by its remaining
// lifetime so the cache can never outlive the certificate.
func (a *App) cacheRecord(d string, rec *CertRecord) {
	if a.cache == nil {
		return
	}
	now := time.Now()
	if !rec.Valid(now) {
		return
	}
	ttl := 5 * time.Minute
	if remaining := rec.ValidTo.Sub(now); remaining < ttl {
		ttl = remaining
	}
	a.cache.SetWithTTL(certCacheKey(d), rec, 1, ttl)
}

// GetAcmeAccount exposes the CA account, provisioning it on first use.
func (a *App) GetAcmeAccount(ctx context.Context) (*acme.Account, error) {
	acct, err := a.issuer.Account(ctx)
	if err != nil {
		return nil, &Error{
			Code: ErrAccountUnavailable.Code, Status: ErrAccountUnavailable.Status,
			Message: ErrAccountUnavailable.Message, Err: err,
		}
	}
	return acct, nil
}

// Domains lists every domain with a certificate record.
func (a *App) Domains(ctx context.Context) ([]string, error) {
	fields, err := a.settings.Scan(ctx, "domain:*:data")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		d := strings.TrimSuffix(strings.TrimPrefix(f, "domain:"), ":data")
		if d == "" || d == f {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// NeedsRenewal reports whether the domain's certificate is absent, expired
// or inside the renew window.
func (a *App) NeedsRenewal(ctx context.Context, d string) (bool, error) {
	rec, err := a.loadRecord(ctx, d)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	now := time.Now()
	window := a.Config().Acme.RenewWindow.Duration
	return !rec.Valid(now) || !rec.ValidTo.After(now.Add(window)), nil
}
