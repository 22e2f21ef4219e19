// Package minerstats tracks candidate throughput, the tuples-found-by-
// length histogram, and shares/blocks submitted, the way the teacher's
// cmd/dilithium-miner tracks totalHashes/shares with atomic counters and
// prints periodic fmt.Printf summaries off a time.Ticker.
package minerstats

import (
	"sync/atomic"
	"time"
)

// maxTupleLength bounds the histogram; constellations longer than this
// are folded into the last bucket. No configured pattern in this miner
// exceeds an octuplet, so 16 is generous headroom.
const maxTupleLength = 16

// Stats accumulates counters across the lifetime of a Miner.Run call.
// All fields are updated from multiple worker goroutines via
// sync/atomic, mirroring the teacher's atomic.LoadInt64(&m.totalHashes)
// pattern rather than a mutex-guarded struct.
type Stats struct {
	started time.Time

	candidates atomic.Uint64
	tuplesByLength [maxTupleLength + 1]atomic.Uint64
	shares     atomic.Uint64
	blocks     atomic.Uint64
}

// New returns a Stats with its clock started now.
func New(now time.Time) *Stats {
	return &Stats{started: now}
}

// IncTupleCount is a miner.WorkManager.IncTupleCount-shaped hook: the
// Fermat walk calls it once per Fermat test (length 0 for a candidate's
// first test, then the run length after each passing extension). Every
// call counts toward throughput and buckets length into the histogram.
func (s *Stats) IncTupleCount(length int) {
	s.candidates.Add(1)
	if length < 0 {
		return
	}
	if length > maxTupleLength {
		length = maxTupleLength
	}
	s.tuplesByLength[length].Add(1)
}

// IncShare records one pool share submission.
func (s *Stats) IncShare() { s.shares.Add(1) }

// IncBlock records one accepted solo block or pool block-found event.
func (s *Stats) IncBlock() { s.blocks.Add(1) }

// Snapshot is a point-in-time, race-free copy of the counters, along
// with the derived candidates/sec rate the teacher prints as H/s.
type Snapshot struct {
	Elapsed        time.Duration
	Candidates     uint64
	CandidatesRate float64
	TuplesByLength [maxTupleLength + 1]uint64
	Shares         uint64
	Blocks         uint64
}

// Snapshot reads all counters as of now, the CLI's ticker callback.
func (s *Stats) Snapshot(now time.Time) Snapshot {
	elapsed := now.Sub(s.started)
	candidates := s.candidates.Load()

	snap := Snapshot{
		Elapsed:    elapsed,
		Candidates: candidates,
		Shares:     s.shares.Load(),
		Blocks:     s.blocks.Load(),
	}
	if elapsed > 0 {
		snap.CandidatesRate = float64(candidates) / elapsed.Seconds()
	}
	for i := range s.tuplesByLength {
		snap.TuplesByLength[i] = s.tuplesByLength[i].Load()
	}
	return snap
}
