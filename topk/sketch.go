// Package topk wraps a sliding-window top-k sketch behind a mutex and a
// tick counter, so request paths can feed it one item at a time and get
// back the items consuming an unfair share of recent traffic.
package topk

import (
	"sync"
	"time"

	"github.com/keilerkonzept/topk/sliding"
)

// SketchParams sizes the sketch and sets the blocking policy.
type SketchParams struct {
	K          int
	WindowSize int // ticks covered by the sliding window
	Width      int
	Depth      int

	// TickSize is how many processed items advance the window one tick.
	TickSize uint64

	// MaxSharePercent is the share of the window capacity one item may
	// account for before it is reported.
	MaxSharePercent int

	// ActivationRPS gates reporting: below this request rate nothing is
	// reported, no matter how skewed the traffic. Zero disables the gate.
	ActivationRPS int
}

type TopKSketch struct {
	mu              sync.Mutex
	sketch          *sliding.Sketch
	tickSize        uint64
	tickReq         uint64 // items since the last tick
	tickCount       uint64
	maxSharePercent int
	activationRPS   int
	threshold       uint32
	lastTickTime    time.Time

	// reported holds items already returned while they stay over the
	// threshold, so one offender is not reported on every tick.
	reported map[string]bool
}

func New(p SketchParams) *TopKSketch {
	if p.TickSize == 0 {
		p.TickSize = 1000
	}

	instance := sliding.New(p.K, p.WindowSize,
		sliding.WithWidth(p.Width), sliding.WithDepth(p.Depth))

	windowCapacity := uint64(p.WindowSize) * p.TickSize
	threshold := uint32((windowCapacity * uint64(p.MaxSharePercent)) / 100)

	return &TopKSketch{
		sketch:          instance,
		tickSize:        p.TickSize,
		maxSharePercent: p.MaxSharePercent,
		activationRPS:   p.ActivationRPS,
		threshold:       threshold,
		lastTickTime:    time.Now(),
		reported:        make(map[string]bool),
	}
}

// SizeBytes reports the sketch memory footprint.
func (cs *TopKSketch) SizeBytes() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.sketch.SizeBytes()
}

// ProcessTick counts item and, when a tick completes under sufficient
// load, returns the items newly over the share threshold. Items stay
// suppressed until their windowed count drops back below it.
func (cs *TopKSketch) ProcessTick(item string) []string {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.sketch.Incr(item)
	cs.tickReq++

	if cs.tickReq < cs.tickSize {
		return nil
	}

	now := time.Now()
	elapsed := now.Sub(cs.lastTickTime)
	cs.lastTickTime = now

	cs.sketch.Tick()
	cs.tickCount++
	cs.tickReq = 0

	if cs.activationRPS > 0 && elapsed > 0 {
		rps := float64(cs.tickSize) / elapsed.Seconds()
		if rps < float64(cs.activationRPS) {
			return nil
		}
	}

	over := make(map[string]bool)
	var fresh []string
	for _, it := range cs.sketch.SortedSlice() {
		if it.Count <= cs.threshold {
			// sorted descending, nothing further qualifies
			break
		}
		over[it.Item] = true
		if !cs.reported[it.Item] {
			fresh = append(fresh, it.Item)
		}
	}
	cs.reported = over
	return fresh
}
