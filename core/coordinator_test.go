package core

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/caasmo/certherd/acme"
	"github.com/caasmo/certherd/challenge"
	"github.com/caasmo/certherd/config"
	"github.com/caasmo/certherd/domain"
	"github.com/caasmo/certherd/kv/goredis"
	lockredsync "github.com/caasmo/certherd/lock/redsync"
	"github.com/caasmo/certherd/settings"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeIssuer satisfies Issuer with canned answers and counts orders.
type fakeIssuer struct {
	accountErr error
	issueFunc  func(csr *x509.CertificateRequest) (*acme.Bundle, error)
	orders     atomic.Int32
}

func (f *fakeIssuer) Account(ctx context.Context) (*acme.Account, error) {
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	return &acme.Account{}, nil
}

func (f *fakeIssuer) Issue(ctx context.Context, csr *x509.CertificateRequest) (*acme.Bundle, error) {
	f.orders.Add(1)
	return f.issueFunc(csr)
}

// bundleFor returns an issueFunc handing back a self-signed certificate
// for the CSR's common name with the given lifetime.
func bundleFor(t *testing.T, lifetime time.Duration) func(csr *x509.CertificateRequest) (*acme.Bundle, error) {
	t.Helper()
	return func(csr *x509.CertificateRequest) (*acme.Bundle, error) {
		return &acme.Bundle{CertPEM: selfSignedPEM(t, csr.Subject.CommonName, time.Now().Add(lifetime))}, nil
	}
}

func selfSignedPEM(t *testing.T, name string, notAfter time.Time) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate cert key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: name},
		DNSNames:     []string{name},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

type testEnv struct {
	app *App
	mr  *miniredis.Miniredis
	rdb *redis.Client
	cfg *config.Config
}

func newTestEnv(t *testing.T, issuer Issuer, extra ...Option) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kvc := goredis.NewFromClient(rdb)
	t.Cleanup(func() { _ = kvc.Close() })

	cfg := config.NewDefaultConfig()
	cfg.Acme.OpLockLease = config.Duration{Duration: 30 * time.Second}
	cfg.Acme.OpLockWaitBudget = config.Duration{Duration: 200 * time.Millisecond}
	provider := config.NewProvider(cfg)

	logger := newTestLogger()
	set := settings.New(kvc, cfg.Namespace)
	opts := []Option{
		WithConfigProvider(provider),
		WithLogger(logger),
		WithKV(kvc),
		WithSettings(set),
		WithChallengeStore(challenge.New(kvc, set, cfg.Namespace, time.Hour, logger)),
		WithLocker(lockredsync.New(rdb)),
		WithIssuer(issuer),
	}
	opts = append(opts, extra...)

	app, err := NewApp(opts...)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	return &testEnv{app: app, mr: mr, rdb: rdb, cfg: cfg}
}

func TestAcquireCertFirstIssuance(t *testing.T) {
	issuer := &fakeIssuer{issueFunc: bundleFor(t, 90*24*time.Hour)}
	env := newTestEnv(t, issuer)
	ctx := context.Background()

	rec, err := env.app.AcquireCert(ctx, "example.com")
	if err != nil {
		t.Fatalf("AcquireCert: %v", err)
	}
	if rec.Status != StatusValid {
		t.Errorf("status = %q, want %q", rec.Status, StatusValid)
	}
	if rec.CertVersion != 1 {
		t.Errorf("certVersion = %d, want 1", rec.CertVersion)
	}
	if len(rec.PrivateKeyPEM) == 0 {
		t.Error("record has no private key")
	}
	if !rec.Valid(time.Now()) {
		t.Error("fresh record is not valid")
	}

	// The stored record round-trips with the same material.
	stored, err := env.app.GetCertificate(ctx, "example.com")
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
	if stored.SerialNumber != rec.SerialNumber {
		t.Errorf("stored serial = %q, want %q", stored.SerialNumber, rec.SerialNumber)
	}
	if stored.CertVersion != 1 {
		t.Errorf("stored certVersion = %d, want 1", stored.CertVersion)
	}
}

func TestAcquireCertRenewalBumpsVersion(t *testing.T) {
	// Lifetime inside the default 30 day renew window, so the second call
	// renews immediately.
	issuer := &fakeIssuer{issueFunc: bundleFor(t, 10*24*time.Hour)}
	env := newTestEnv(t, issuer)
	ctx := context.Background()

	first, err := env.app.AcquireCert(ctx, "example.com")
	if err != nil {
		t.Fatalf("first AcquireCert: %v", err)
	}
	second, err := env.app.AcquireCert(ctx, "example.com")
	if err != nil {
		t.Fatalf("second AcquireCert: %v", err)
	}
	if second.CertVersion != first.CertVersion+1 {
		t.Errorf("certVersion = %d, want %d", second.CertVersion, first.CertVersion+1)
	}
	if second.SerialNumber == first.SerialNumber {
		t.Error("renewal kept the old serial")
	}
	// The domain key survives renewals.
	if string(second.PrivateKeyPEM) != string(first.PrivateKeyPEM) {
		t.Error("renewal replaced the domain key")
	}
	if issuer.orders.Load() != 2 {
		t.Errorf("orders = %d, want 2", issuer.orders.Load())
	}
}

func TestAcquireCertOutsideRenewWindowSkips(t *testing.T) {
	issuer := &fakeIssuer{issueFunc: bundleFor(t, 90*24*time.Hour)}
	env := newTestEnv(t, issuer)
	ctx := context.Background()

	first, err := env.app.AcquireCert(ctx, "example.com")
	if err != nil {
		t.Fatalf("first AcquireCert: %v", err)
	}
	second, err := env.app.AcquireCert(ctx, "example.com")
	if err != nil {
		t.Fatalf("second AcquireCert: %v", err)
	}
	if second.SerialNumber != first.SerialNumber {
		t.Error("certificate outside the renew window was replaced")
	}
	if issuer.orders.Load() != 1 {
		t.Errorf("orders = %d, want 1", issuer.orders.Load())
	}
}

func TestAcquireCertFailureFreshInstall(t *testing.T) {
	issuer := &fakeIssuer{issueFunc: func(*x509.CertificateRequest) (*acme.Bundle, error) {
		return nil, fmt.Errorf("rateLimited: too many orders")
	}}
	env := newTestEnv(t, issuer)
	ctx := context.Background()

	_, err := env.app.AcquireCert(ctx, "example.com")
	if !errors.Is(err, ErrAcmeFailure) {
		t.Fatalf("err = %v, want acme_failure", err)
	}

	// The failsafe is armed with the failure code.
	safeKey := env.app.failsafeKey("example.com")
	if !env.mr.Exists(safeKey) {
		t.Fatal("failsafe lock not set after failure")
	}
	if got, _ := env.mr.Get(safeKey); got != ErrAcmeFailure.Code {
		t.Errorf("failsafe value = %q, want %q", got, ErrAcmeFailure.Code)
	}

	// While blocked, the pending record comes back without an error and
	// the CA is left alone.
	rec, err := env.app.AcquireCert(ctx, "example.com")
	if err != nil {
		t.Fatalf("blocked AcquireCert: %v", err)
	}
	if rec == nil || rec.Status != StatusPending {
		t.Fatalf("blocked record = %+v, want pending", rec)
	}
	if issuer.orders.Load() != 1 {
		t.Errorf("orders = %d, want 1", issuer.orders.Load())
	}
}

func TestAcquireCertRetryAfterFailsafeExpiry(t *testing.T) {
	fail := true
	issuer := &fakeIssuer{issueFunc: func(csr *x509.CertificateRequest) (*acme.Bundle, error) {
		if fail {
			return nil, fmt.Errorf("connection refused")
		}
		return bundleFor(t, 90*24*time.Hour)(csr)
	}}
	env := newTestEnv(t, issuer)
	ctx := context.Background()

	if _, err := env.app.AcquireCert(ctx, "example.com"); err == nil {
		t.Fatal("expected the first order to fail")
	}
	pending, err := env.app.GetCertificate(ctx, "example.com")
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}

	env.mr.FastForward(env.cfg.Acme.BlockRenewAfterErrorTTL.Duration + time.Second)
	fail = false

	rec, err := env.app.AcquireCert(ctx, "example.com")
	if err != nil {
		t.Fatalf("retry AcquireCert: %v", err)
	}
	if rec.Status != StatusValid {
		t.Errorf("status = %q, want %q", rec.Status, StatusValid)
	}
	// The key generated during the failed attempt is reused.
	if string(rec.PrivateKeyPEM) != string(pending.PrivateKeyPEM) {
		t.Error("retry did not reuse the pending domain key")
	}
}

func TestAcquireCertFailureKeepsValidCert(t *testing.T) {
	fail := false
	issuer := &fakeIssuer{issueFunc: func(csr *x509.CertificateRequest) (*acme.Bundle, error) {
		if fail {
			return nil, fmt.Errorf("urn:ietf:params:acme:error:serverInternal")
		}
		// Valid but already inside the 30 day renew window.
		return bundleFor(t, 5*24*time.Hour)(csr)
	}}
	env := newTestEnv(t, issuer)
	ctx := context.Background()

	first, err := env.app.AcquireCert(ctx, "example.com")
	if err != nil {
		t.Fatalf("seed AcquireCert: %v", err)
	}

	fail = true
	rec, err := env.app.AcquireCert(ctx, "example.com")
	if err != nil {
		t.Fatalf("failed renewal should hand back the old certificate, got error: %v", err)
	}
	if rec.SerialNumber != first.SerialNumber {
		t.Errorf("serial = %q, want the previous %q", rec.SerialNumber, first.SerialNumber)
	}

	// The diagnostic lands on the record.
	stored, err := env.app.GetCertificate(ctx, "example.com")
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
	if stored.LastError == nil || stored.LastError.Code != ErrAcmeFailure.Code {
		t.Errorf("lastError = %+v, want code %q", stored.LastError, ErrAcmeFailure.Code)
	}
}

func TestAcquireCertInvalidDomain(t *testing.T) {
	issuer := &fakeIssuer{issueFunc: bundleFor(t, 90*24*time.Hour)}
	env := newTestEnv(t, issuer)
	ctx := context.Background()

	_, err := env.app.AcquireCert(ctx, "exa mple.com")
	if !errors.Is(err, ErrInvalidDomain) {
		t.Fatalf("err = %v, want invalid_domain", err)
	}
	// Deterministic rejections never arm the failsafe.
	if env.mr.Exists(env.app.failsafeKey("exa mple.com")) {
		t.Error("failsafe set for an invalid domain")
	}

	// A name that keys a stored record but fails validation is served from
	// the store instead of erroring.
	if err := env.app.savePending(ctx, "app.internal", []byte("cipher")); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	rec, err := env.app.AcquireCert(ctx, "app.internal")
	if err != nil {
		t.Fatalf("AcquireCert with stored record: %v", err)
	}
	if rec == nil || rec.Status != StatusPending {
		t.Fatalf("record = %+v, want the stored pending record", rec)
	}
	if env.mr.Exists(env.app.failsafeKey("app.internal")) {
		t.Error("failsafe set for an invalid domain")
	}
	if issuer.orders.Load() != 0 {
		t.Errorf("orders = %d, want 0", issuer.orders.Load())
	}
}

type fakeCAA struct{ err error }

func (f *fakeCAA) Check(ctx context.Context, d string) error { return f.err }

func TestAcquireCertCAAMismatch(t *testing.T) {
	issuer := &fakeIssuer{issueFunc: bundleFor(t, 90*24*time.Hour)}
	caaErr := fmt.Errorf("example.com: %w", domain.ErrCAAMismatch)
	env := newTestEnv(t, issuer, WithCAAChecker(&fakeCAA{err: caaErr}))

	_, err := env.app.AcquireCert(context.Background(), "example.com")
	if !errors.Is(err, ErrCAAMismatch) {
		t.Fatalf("err = %v, want caa_mismatch", err)
	}
	if env.mr.Exists(env.app.failsafeKey("example.com")) {
		t.Error("failsafe set for a CAA rejection")
	}
	if issuer.orders.Load() != 0 {
		t.Errorf("orders = %d, want 0", issuer.orders.Load())
	}
}

func TestAcquireCertCAAMismatchKeepsRecord(t *testing.T) {
	// Lifetime inside the 30 day renew window, so the second call wants to
	// renew.
	issuer := &fakeIssuer{issueFunc: bundleFor(t, 5*24*time.Hour)}
	caa := &fakeCAA{}
	env := newTestEnv(t, issuer, WithCAAChecker(caa))
	ctx := context.Background()

	first, err := env.app.AcquireCert(ctx, "example.com")
	if err != nil {
		t.Fatalf("seed AcquireCert: %v", err)
	}

	// The zone's CAA now points at another CA. Renewal is rejected but the
	// certificate on hand keeps being served.
	caa.err = fmt.Errorf("example.com: %w", domain.ErrCAAMismatch)
	rec, err := env.app.AcquireCert(ctx, "example.com")
	if err != nil {
		t.Fatalf("CAA rejection should hand back the old certificate, got error: %v", err)
	}
	if rec.SerialNumber != first.SerialNumber {
		t.Errorf("serial = %q, want the previous %q", rec.SerialNumber, first.SerialNumber)
	}
	if env.mr.Exists(env.app.failsafeKey("example.com")) {
		t.Error("failsafe set for a CAA rejection")
	}
	if issuer.orders.Load() != 1 {
		t.Errorf("orders = %d, want 1", issuer.orders.Load())
	}
}

func TestAcquireCertLockBusy(t *testing.T) {
	issuer := &fakeIssuer{issueFunc: bundleFor(t, 90*24*time.Hour)}
	env := newTestEnv(t, issuer)
	ctx := context.Background()

	// Another holder owns the operation lock for the whole wait budget.
	other := lockredsync.New(env.rdb)
	lease, ok, err := other.Acquire(ctx, env.app.opLockKey("example.com"), 30*time.Second, 100*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("pre-acquire lock: ok=%v err=%v", ok, err)
	}
	defer lease.Release(ctx)

	rec, err := env.app.AcquireCert(ctx, "example.com")
	if err != nil {
		t.Fatalf("AcquireCert: %v", err)
	}
	if rec != nil {
		t.Errorf("record = %+v, want nil while the holder has not finished", rec)
	}
	if issuer.orders.Load() != 0 {
		t.Errorf("orders = %d, want 0 while the lock is busy", issuer.orders.Load())
	}
}

func TestAcquireCertConcurrentCallersOneOrder(t *testing.T) {
	certPEM := selfSignedPEM(t, "example.com", time.Now().Add(90*24*time.Hour))
	issuer := &fakeIssuer{issueFunc: func(*x509.CertificateRequest) (*acme.Bundle, error) {
		// Hold the operation lock long enough for the others to pile up
		// behind it.
		time.Sleep(200 * time.Millisecond)
		return &acme.Bundle{CertPEM: certPEM}, nil
	}}
	env := newTestEnv(t, issuer)
	// The losers need enough budget to outwait the winner's order.
	env.cfg.Acme.OpLockWaitBudget = config.Duration{Duration: 10 * time.Second}

	const callers = 4
	var wg sync.WaitGroup
	recs := make([]*CertRecord, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			recs[i], errs[i] = env.app.AcquireCert(context.Background(), "example.com")
		}(i)
	}
	wg.Wait()

	if got := issuer.orders.Load(); got != 1 {
		t.Fatalf("orders = %d, want exactly 1", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if recs[i] == nil || recs[i].SerialNumber != recs[0].SerialNumber {
			t.Errorf("caller %d record = %+v, want the winner's serial %q", i, recs[i], recs[0].SerialNumber)
		}
	}
}

func TestGetCertificateIssuesOnDemand(t *testing.T) {
	issuer := &fakeIssuer{issueFunc: bundleFor(t, 90*24*time.Hour)}
	env := newTestEnv(t, issuer)

	rec, err := env.app.GetCertificate(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
	if !rec.Valid(time.Now()) {
		t.Error("on-demand record is not valid")
	}
	if issuer.orders.Load() != 1 {
		t.Errorf("orders = %d, want 1", issuer.orders.Load())
	}

	// A second read serves the stored certificate without another order.
	if _, err := env.app.GetCertificate(context.Background(), "example.com"); err != nil {
		t.Fatalf("second GetCertificate: %v", err)
	}
	if issuer.orders.Load() != 1 {
		t.Errorf("orders = %d after read, want 1", issuer.orders.Load())
	}
}

func TestGetCertificateFreshFailurePropagates(t *testing.T) {
	issuer := &fakeIssuer{issueFunc: func(*x509.CertificateRequest) (*acme.Bundle, error) {
		return nil, fmt.Errorf("boom")
	}}
	env := newTestEnv(t, issuer)

	_, err := env.app.GetCertificate(context.Background(), "example.com")
	if !errors.Is(err, ErrAcmeFailure) {
		t.Fatalf("err = %v, want acme_failure", err)
	}
}

func TestDomainsAndNeedsRenewal(t *testing.T) {
	issuer := &fakeIssuer{issueFunc: bundleFor(t, 90*24*time.Hour)}
	env := newTestEnv(t, issuer)
	ctx := context.Background()

	if _, err := env.app.AcquireCert(ctx, "fresh.example.com"); err != nil {
		t.Fatalf("seed fresh: %v", err)
	}
	issuer.issueFunc = bundleFor(t, 10*24*time.Hour)
	if _, err := env.app.AcquireCert(ctx, "due.example.com"); err != nil {
		t.Fatalf("seed due: %v", err)
	}

	domains, err := env.app.Domains(ctx)
	if err != nil {
		t.Fatalf("Domains: %v", err)
	}
	if len(domains) != 2 {
		t.Fatalf("domains = %v, want 2 entries", domains)
	}

	cases := map[string]bool{
		"fresh.example.com":   false,
		"due.example.com":     true,
		"missing.example.com": false,
	}
	for d, want := range cases {
		got, err := env.app.NeedsRenewal(ctx, d)
		if err != nil {
			t.Fatalf("NeedsRenewal(%s): %v", d, err)
		}
		if got != want {
			t.Errorf("NeedsRenewal(%s) = %v, want %v", d, got, want)
		}
	}
}

func TestCertRecordValid(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		rec  *CertRecord
		want bool
	}{
		{"nil record", nil, false},
		{"pending", &CertRecord{Status: StatusPending, ValidTo: now.Add(time.Hour)}, false},
		{"no cert bytes", &CertRecord{Status: StatusValid, ValidTo: now.Add(time.Hour)}, false},
		{"expired", &CertRecord{Status: StatusValid, CertPEM: []byte("x"), ValidTo: now.Add(-time.Hour)}, false},
		{"expires exactly now", &CertRecord{Status: StatusValid, CertPEM: []byte("x"), ValidTo: now}, false},
		{"valid", &CertRecord{Status: StatusValid, CertPEM: []byte("x"), ValidTo: now.Add(time.Hour)}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rec.Valid(now); got != tc.want {
				t.Errorf("Valid() = %v, want %v", got, tc.want)
			}
		})
	}
}
