package core

import (
	"log/slog"
	"time"

	"github.com/caasmo/certherd/cache"
	"github.com/caasmo/certherd/config"
	"github.com/caasmo/certherd/topk"
)

const blockCost = 1

// missTracker spots hosts whose challenge lookups keep missing and blocks
// them for a while. A CA validating a real order produces a handful of
// lookups that hit; a scanner probing tokens produces a stream of misses.
type missTracker struct {
	sketch   *topk.TopKSketch
	cache    cache.Cache[string, any]
	blockTTL time.Duration
	logger   *slog.Logger
}

func newMissTracker(cfg config.BlockMiss, c cache.Cache[string, any], logger *slog.Logger) *missTracker {
	windowTicks := cfg.WindowTicks
	if windowTicks <= 0 {
		windowTicks = 10
	}
	tickSize := cfg.TickSize
	if tickSize <= 0 {
		tickSize = 100
	}
	blockTTL := cfg.BlockTTL.Duration
	if blockTTL <= 0 {
		blockTTL = 3 * time.Minute
	}

	sketch := topk.New(topk.SketchParams{
		K:          5,
		WindowSize: windowTicks,
		Width:      1024,
		Depth:      3,
		TickSize:   uint64(tickSize),
		// misses are suspicious at any request rate, so no RPS gate
		MaxSharePercent: 50,
	})
	logger.Info("miss sketch sized", "bytes", sketch.SizeBytes())

	return &missTracker{
		sketch:   sketch,
		cache:    c,
		blockTTL: blockTTL,
		logger:   logger.With("component", "miss_block"),
	}
}

func blockKey(host string) string { return "block:host:" + host }

// Blocked reports whether the host is currently shut out.
func (m *missTracker) Blocked(host string) bool {
	_, found := m.cache.Get(blockKey(host))
	return found
}

// RecordMiss counts a failed lookup against the host. When a sketch tick
// elects offenders they are blocked outside the sketch lock; ristretto
// merges concurrent writes for the same key.
func (m *missTracker) RecordMiss(host string) {
	offenders := m.sketch.ProcessTick(host)
	if len(offenders) == 0 {
		return
	}
	m.logger.Info("blocking hosts with excessive challenge misses", "hosts", offenders, "ttl", m.blockTTL)
	go func(hosts []string) {
		for _, h := range hosts {
			if !m.cache.SetWithTTL(blockKey(h), true, blockCost, m.blockTTL) {
				m.logger.Error("failed to block host", "host", h)
			}
		}
	}(offenders)
}
