package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricIssuance = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certherd_issuance_total",
		Help: "Certificate acquisition attempts by outcome.",
	}, []string{"outcome"})

	metricIssuanceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "certherd_issuance_duration_seconds",
		Help:    "Wall time of successful certificate acquisitions.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	metricLockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "certherd_op_lock_wait_seconds",
		Help:    "Time spent waiting for the per-domain operation lock.",
		Buckets: prometheus.ExponentialBuckets(0.01, 3, 8),
	})

	metricChallengeLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certherd_challenge_lookups_total",
		Help: "HTTP-01 challenge lookups by result.",
	}, []string{"result"})

	metricCertCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certherd_cert_cache_total",
		Help: "Certificate record cache lookups.",
	}, []string{"result"})
)

// Issuance outcomes.
const (
	outcomeIssued  = "issued"
	outcomeFailed  = "failed"
	outcomeSkipped = "skipped"
	outcomeBlocked = "blocked"
)
