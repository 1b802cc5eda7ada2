package core

import (
	"net"
	"net/http"
	"strings"

	"github.com/caasmo/certherd/domain"
)

// ChallengePathPrefix is where a CA looks for HTTP-01 answers.
const ChallengePathPrefix = "/.well-known/acme-challenge/"

// maxTokenLength bounds the token path segment; ACME tokens are base64url
// and far shorter than this.
const maxTokenLength = 256

// ServeChallenge answers HTTP-01 validation requests. The domain comes
// from the Host header, the token from the path. Hits return the key
// authorization as text/plain; everything else is a JSON taxonomy error.
func (a *App) ServeChallenge(w http.ResponseWriter, r *http.Request) {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	token := strings.TrimPrefix(r.URL.Path, ChallengePathPrefix)
	if token == "" || strings.Contains(token, "/") {
		writeAppError(w, invalidInputError(map[string]string{"token": "missing"}))
		return
	}
	if len(token) > maxTokenLength {
		writeAppError(w, invalidInputError(map[string]string{"token": "too long"}))
		return
	}

	// The CA dials the punycode name; records are keyed by the Unicode
	// form.
	d, err := domain.Normalize(host)
	if err != nil {
		writeAppError(w, invalidDomainError(host, err))
		return
	}

	// Blocked sources get the same not-found answer without a store round
	// trip.
	if a.misses != nil && a.misses.Blocked(d) {
		metricChallengeLookups.WithLabelValues("blocked").Inc()
		writeError(w, respChallengeNotFound)
		return
	}

	keyAuth, found, err := a.challenges.Get(r.Context(), d, token)
	if err != nil {
		a.logger.Error("challenge lookup failed", "domain", d, "token", token, "error", err)
		metricChallengeLookups.WithLabelValues("error").Inc()
		writeError(w, respChallengeFail)
		return
	}
	if !found {
		metricChallengeLookups.WithLabelValues("miss").Inc()
		// Only unconfigured hosts count toward blocking; a configured
		// domain missing one token is a normal race with CleanUp.
		if a.misses != nil {
			if known, kerr := a.settings.Has(r.Context(), fieldData(d)); kerr == nil && !known {
				a.misses.RecordMiss(d)
			}
		}
		writeError(w, respChallengeNotFound)
		return
	}

	metricChallengeLookups.WithLabelValues("hit").Inc()
	a.logger.Debug("served challenge", "domain", d, "token", token)
	writePlain(w, keyAuth)
}
