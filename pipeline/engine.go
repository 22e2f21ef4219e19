package pipeline

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fakecoinbase/PttnslashrieMiner/constellation"
	"github.com/fakecoinbase/PttnslashrieMiner/fermat"
	"github.com/fakecoinbase/PttnslashrieMiner/internal/cpufeatures"
	"github.com/fakecoinbase/PttnslashrieMiner/primorial"
	"github.com/fakecoinbase/PttnslashrieMiner/remainder"
	"github.com/fakecoinbase/PttnslashrieMiner/sieve"
)

// avx2Available caches the running CPU's AVX2 support for handleCheck's
// batched pre-filter; cpufeatures.Detect probes the CPU once and the
// result never changes for the process's lifetime.
var avx2Available = cpufeatures.Detect().HasAVX2()

// Config sizes the engine's queues and worker pool.
type Config struct {
	Threads          int
	ModQueueDepth    int
	VerifyQueueDepth int
}

// DefaultConfig mirrors the distilled spec's queue depths: a modest mod
// queue, a deep verify queue (it also absorbs wakeup Dummy jobs and
// every dynamically spawned Check job).
func DefaultConfig(threads int) Config {
	return Config{Threads: threads, ModQueueDepth: 1024, VerifyQueueDepth: 4096}
}

// Hooks lets the caller observe results without the engine importing
// anything about submission transport or statistics.
type Hooks struct {
	Submit        func(base *big.Int, tupleLength int, height uint32)
	IncTupleCount func(length int)
}

// BlockWork is everything the engine needs to mine one block height.
type BlockWork struct {
	Height              uint32
	Tables              *primorial.Tables
	Pattern             constellation.Pattern
	SparseLimit         int
	FirstCandidate      *big.Int // sieve-worker 0's aligned base
	PrimorialOffsetDiff []uint64 // len == len(Sieves)-1
	OffsetDiffToFirst   []uint64 // len == len(Sieves), cumulative, [0] == 0
	Sieves              []*sieve.Instance
	Size                sieve.Sizes
	Mode                fermat.Mode
	TupleLengthMin      int  // solo submission threshold; ignored in Pool mode
	EnableAVX2          bool // allow handleCheck's batched base-test pre-filter when the CPU supports it
}

// Engine runs the mod/sieve/check pipeline across a fixed pool of
// worker goroutines shared by every block. Exactly one goroutine is
// expected to drive RunBlock calls (the master); Workers itself may run
// on any number of goroutines.
type Engine struct {
	cfg   Config
	modQ  *Queue[Job]
	verifyQ *Queue[Job]
	hooks Hooks

	currentHeight atomic.Uint32

	maxWorkOut int // adaptive; touched only by the RunBlock caller
	outSem     chan struct{}
}

// NewEngine allocates an Engine. initialMaxWorkOut seeds the adaptive
// outstanding-check cap; 4*threads is a reasonable starting point.
func NewEngine(cfg Config, hooks Hooks, initialMaxWorkOut int) *Engine {
	return &Engine{
		cfg:        cfg,
		modQ:       NewQueue[Job](cfg.ModQueueDepth),
		verifyQ:    NewQueue[Job](cfg.VerifyQueueDepth),
		hooks:      hooks,
		maxWorkOut: initialMaxWorkOut,
		outSem:     make(chan struct{}, initialMaxWorkOut),
	}
}

// UpdateHeight publishes a new live height. Every in-flight job whose
// own Height no longer matches abandons its remaining work at its next
// cancellation point.
func (e *Engine) UpdateHeight(h uint32) { e.currentHeight.Store(h) }

// Workers runs cfg.Threads worker goroutines until ctx is done or one
// returns an error. Call it once, typically from its own goroutine; it
// blocks for the engine's lifetime.
func (e *Engine) Workers(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.cfg.Threads; i++ {
		g.Go(func() error {
			e.workerLoop(gctx)
			return nil
		})
	}
	return g.Wait()
}

// workerLoop favors modQ over verifyQ, matching the distilled spec's
// "pop from modWorkQueue if non-empty, else from verifyWorkQueue"
// ordering, without starving verifyQ when modQ is empty.
func (e *Engine) workerLoop(ctx context.Context) {
	for {
		select {
		case job := <-e.modQ.ch:
			e.handle(job)
			continue
		default:
		}
		select {
		case job := <-e.modQ.ch:
			e.handle(job)
		case job := <-e.verifyQ.ch:
			e.handle(job)
		case <-ctx.Done():
			return
		}
	}
}

// runState is the per-block context every Job dispatched for that block
// carries a pointer to.
type runState struct {
	work   *BlockWork
	bc     *remainder.BlockContext
	engine *Engine
	wg     sync.WaitGroup

	mu      sync.Mutex
	firstErr error
}

func (rs *runState) fail(err error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.firstErr == nil {
		rs.firstErr = err
	}
}

func (e *Engine) handle(job Job) {
	switch job.Kind {
	case Dummy:
		return
	case Mod:
		defer job.rs.wg.Done()
		if err := remainder.ProcessRange(job.rs.bc, job.StartI, job.EndI, job.Height, &e.currentHeight); err != nil {
			job.rs.fail(err)
		}
	case Sieve:
		defer job.rs.wg.Done()
		e.handleSieve(job)
	case Check:
		defer job.rs.wg.Done()
		defer func() { <-e.outSem }()
		e.handleCheck(job)
	}
}

func (e *Engine) handleSieve(job Job) {
	work := job.rs.work
	if e.currentHeight.Load() != job.Height {
		return
	}
	inst := work.Sieves[job.SieveWorker]
	survivors := inst.Segment(work.Tables, work.SparseLimit, job.Segment)
	if e.currentHeight.Load() != job.Height {
		return
	}

	for start := 0; start < len(survivors); start += fermat.WorkIndexes {
		end := min(start+fermat.WorkIndexes, len(survivors))
		indexes := make([]uint32, end-start)
		for k, v := range survivors[start:end] {
			indexes[k] = uint32(v - job.Segment*work.Size.SieveSize)
		}
		job.rs.wg.Add(1)
		e.outSem <- struct{}{}
		e.verifyQ.Push(Job{
			Kind:         Check,
			Height:       job.Height,
			SieveWorker:  job.SieveWorker,
			Segment:      job.Segment,
			CheckIndexes: indexes,
			rs:           job.rs,
		})
	}
}

func (e *Engine) handleCheck(job Job) {
	work := job.rs.work
	if e.currentHeight.Load() != job.Height {
		return
	}

	ploop := fermat.Ploop(work.Tables.Primorial, job.Segment, work.Size.SieveSize, work.FirstCandidate, work.OffsetDiffToFirst[job.SieveWorker])
	threshold := fermat.MinPoolLength
	if work.Mode == fermat.Solo {
		threshold = work.TupleLengthMin
	}

	// When the full WorkIndexes batch survived sieving and the CPU/config
	// allow it, pre-test every base member in one BatchTest pass (the
	// portable stand-in for the distilled spec's AVX2 batched test) before
	// walking extensions only for the survivors, matching the reference
	// miner's firstTestDone fast path.
	indexes := job.CheckIndexes
	var survived []bool
	if work.EnableAVX2 && avx2Available && len(indexes) == fermat.WorkIndexes {
		survived = fermat.BatchTest(work.Tables.Primorial, ploop, indexes)
	}

	for i, idx := range indexes {
		if e.currentHeight.Load() != job.Height {
			return
		}

		var result fermat.Result
		if survived != nil {
			if e.hooks.IncTupleCount != nil {
				e.hooks.IncTupleCount(0)
			}
			if !survived[i] {
				continue
			}
			base := fermat.Candidate(work.Tables.Primorial, ploop, idx)
			result = fermat.WalkConfirmed(base, work.Pattern, work.Mode, e.hooks.IncTupleCount)
		} else {
			result = fermat.Walk(work.Tables.Primorial, ploop, idx, work.Pattern, work.Mode, e.hooks.IncTupleCount)
		}

		if result.TupleLength >= threshold && e.hooks.Submit != nil {
			e.hooks.Submit(result.Base, result.TupleLength, job.Height)
		}
	}
}

// RunBlock drives one block's mod, then sieve+check, phases to
// completion (or to cancellation via a height change) and tunes
// maxWorkOut for the next block.
func (e *Engine) RunBlock(ctx context.Context, work *BlockWork) error {
	for _, inst := range work.Sieves {
		inst.ResetForBlock()
	}
	e.currentHeight.Store(work.Height)

	bc, err := remainder.NewBlockContext(work.Tables, work.Pattern, work.SparseLimit, work.FirstCandidate, work.PrimorialOffsetDiff, work.Sieves, work.Size)
	if err != nil {
		return err
	}
	rs := &runState{work: work, bc: bc, engine: e}

	threads := e.cfg.Threads
	if threads < 1 {
		threads = 1
	}
	sieveWorkers := len(work.Sieves)

	minVerifyLen := e.verifyQ.Cap()
	maxCurWorkOut := 0
	sampleDone := make(chan struct{})
	var samplerWG sync.WaitGroup
	samplerWG.Add(1)
	go func() {
		defer samplerWG.Done()
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-sampleDone:
				return
			case <-ticker.C:
				if l := e.verifyQ.Len(); l < minVerifyLen {
					minVerifyLen = l
				}
				if c := len(e.outSem); c > maxCurWorkOut {
					maxCurWorkOut = c
				}
			}
		}
	}()

	start := work.Tables.StartingPrimeIndex
	nPrimes := work.Tables.NPrimes
	chunk := (nPrimes - start) / (threads * 8)
	if chunk < 1 {
		chunk = 1
	}
	for s := start; s < nPrimes; s += chunk {
		end := min(s+chunk, nPrimes)
		rs.wg.Add(1)
		e.modQ.Push(Job{Kind: Mod, Height: work.Height, StartI: s, EndI: end, rs: rs})
		e.verifyQ.Push(Job{Kind: Dummy, Height: work.Height, rs: rs})
	}
	rs.wg.Wait()

	rs.mu.Lock()
	modErr := rs.firstErr
	rs.mu.Unlock()
	if modErr != nil {
		close(sampleDone)
		samplerWG.Wait()
		return modErr
	}

	// Each instance's segments run one at a time and in order: the dense
	// offset table and the bitmap carry state from one segment to the next.
	for seg := uint64(0); seg < work.Size.MaxIter; seg++ {
		for w := range work.Sieves {
			rs.wg.Add(1)
			e.verifyQ.Push(Job{Kind: Sieve, Height: work.Height, SieveWorker: w, Segment: seg, rs: rs})
		}
		rs.wg.Wait()
	}

	close(sampleDone)
	samplerWG.Wait()

	e.adapt(threads, sieveWorkers, maxCurWorkOut, minVerifyLen)

	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.firstErr
}

// adapt steers maxWorkOut per block: grow when the cap was saturated
// and the verify queue ran dry, steer toward a small floor when the
// cap was saturated but the verify queue never emptied, and shrink
// toward observed demand when the verify queue stayed comfortably
// full. Recreates outSem at the new capacity for the next block.
func (e *Engine) adapt(threads, sieveWorkers, maxCurWorkOut, minVerifyLen int) {
	switch {
	case maxCurWorkOut > e.maxWorkOut-2*threads && minVerifyLen == 0:
		e.maxWorkOut += 4 * threads * sieveWorkers
	case maxCurWorkOut > e.maxWorkOut-2*threads:
		e.maxWorkOut = (e.maxWorkOut + ((e.maxWorkOut - minVerifyLen) + 8*threads)) / 2
	case minVerifyLen > 4*threads:
		if shrunk := maxCurWorkOut + 4*threads; shrunk < e.maxWorkOut {
			e.maxWorkOut = shrunk
		}
	}
	if e.maxWorkOut < 4*threads {
		e.maxWorkOut = 4 * threads
	}
	if capLimit := e.cfg.VerifyQueueDepth - 9*threads; e.maxWorkOut > capLimit {
		e.maxWorkOut = max(capLimit, 4*threads)
	}
	e.outSem = make(chan struct{}, e.maxWorkOut)
}

// MaxWorkOut reports the current adaptive outstanding-check cap, for
// stats reporting.
func (e *Engine) MaxWorkOut() int { return e.maxWorkOut }
