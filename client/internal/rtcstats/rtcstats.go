// Package rtcstats accounts for one media receiver's stream health:
// per-sender sequence tracking with wraparound-aware loss counting, and
// receiver-wide jitter and frame-rate estimates over bounded sample windows.
package rtcstats

import (
	"math"
	"sync"
	"time"
)

// windowSize bounds the arrival-time and frame-timestamp deques.
const windowSize = 100

// lossGapCeiling is the anti-noise floor: a forward sequence gap of this
// size or larger is treated as a stream restart, not loss.
const lossGapCeiling = 1000

// Stats is a point-in-time snapshot of a tracker.
type Stats struct {
	Received    uint64
	Lost        uint64
	Bytes       uint64
	LossPercent float64 // lost / (lost + received), clamped to [0, 100]
	JitterMS    float64 // stddev of inter-arrival times
	FPS         float64 // (N-1) / (t_last - t_first) over the frame window
}

type senderState struct {
	lastSeq uint32
	seen    bool
}

// Tracker accumulates stream statistics. Safe for concurrent use; the
// receive loop records while the stats loop snapshots.
type Tracker struct {
	mu      sync.Mutex
	senders map[string]*senderState

	received uint64
	lost     uint64
	bytes    uint64

	arrivals   []time.Time // bounded to windowSize
	frameTimes []time.Time
}

func NewTracker() *Tracker {
	return &Tracker{senders: make(map[string]*senderState)}
}

// Record accounts for one datagram from sender (keyed by source address).
// Sequence gaps are attributed per sender so interleaved streams do not
// fake losses against each other.
func (t *Tracker) Record(sender string, seq uint32, now time.Time, nbytes int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.senders[sender]
	if st == nil {
		st = &senderState{}
		t.senders[sender] = st
	}
	if st.seen {
		// Forward distance from the expected next sequence number, modulo
		// 2^32. Duplicates land at 2^32-1 and reorders near it, so only
		// small positive gaps count as loss; the wraparound case
		// (last=2^32-1, seq=1) correctly yields d=1.
		expected := st.lastSeq + 1
		d := seq - expected
		if d > 0 && d < lossGapCeiling {
			t.lost += uint64(d)
		}
	}
	st.lastSeq = seq
	st.seen = true

	t.received++
	t.bytes += uint64(nbytes)
	t.arrivals = pushBounded(t.arrivals, now)
}

// RecordFrame notes a successfully decoded frame for the FPS estimate.
func (t *Tracker) RecordFrame(now time.Time) {
	t.mu.Lock()
	t.frameTimes = pushBounded(t.frameTimes, now)
	t.mu.Unlock()
}

// Snapshot returns the current statistics.
func (t *Tracker) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{Received: t.received, Lost: t.lost, Bytes: t.bytes}

	if total := t.lost + t.received; total > 0 {
		s.LossPercent = float64(t.lost) / float64(total) * 100
		if s.LossPercent > 100 {
			s.LossPercent = 100
		}
	}
	s.JitterMS = jitterMS(t.arrivals)
	if n := len(t.frameTimes); n >= 2 {
		span := t.frameTimes[n-1].Sub(t.frameTimes[0]).Seconds()
		if span > 0 {
			s.FPS = float64(n-1) / span
		}
	}
	return s
}

// jitterMS is the standard deviation of inter-arrival times in milliseconds.
func jitterMS(arrivals []time.Time) float64 {
	if len(arrivals) < 3 {
		return 0
	}
	diffs := make([]float64, 0, len(arrivals)-1)
	for i := 1; i < len(arrivals); i++ {
		diffs = append(diffs, arrivals[i].Sub(arrivals[i-1]).Seconds())
	}
	var mean float64
	for _, d := range diffs {
		mean += d
	}
	mean /= float64(len(diffs))
	var variance float64
	for _, d := range diffs {
		variance += (d - mean) * (d - mean)
	}
	variance /= float64(len(diffs))
	return math.Sqrt(variance) * 1000
}

func pushBounded(s []time.Time, v time.Time) []time.Time {
	s = append(s, v)
	if len(s) > windowSize {
		s = s[len(s)-windowSize:]
	}
	return s
}
