// Package miner ties the candidate-generation pipeline to an external
// source of work: it owns the prime/primorial tables, the sieve instances,
// and the pipeline engine, and drives one block at a time by pulling from
// a WorkManager and, on a qualifying constellation, calling back into it.
package miner

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/fakecoinbase/PttnslashrieMiner/constellation"
	"github.com/fakecoinbase/PttnslashrieMiner/fermat"
	"github.com/fakecoinbase/PttnslashrieMiner/pipeline"
	"github.com/fakecoinbase/PttnslashrieMiner/primorial"
	"github.com/fakecoinbase/PttnslashrieMiner/sieve"
	"github.com/fakecoinbase/PttnslashrieMiner/target"
)

// Mode selects how a found constellation is judged for submission.
type Mode int

const (
	// Solo requires TupleLengthMin consecutive members and stops the
	// constellation walk at the first miss.
	Solo Mode = iota
	// Pool accepts any tuple reaching fermat.MinPoolLength, tolerating
	// gaps that still leave enough remaining offsets to get there.
	Pool
	// Benchmark behaves like Solo but additionally logs every
	// qualifying tuple's base to Options.TuplesFile.
	Benchmark
)

func (m Mode) fermatMode() fermat.Mode {
	if m == Pool {
		return fermat.Pool
	}
	return fermat.Solo
}

// Options configures one miner run. It is the Go-native shape of the
// distilled spec's WorkManager.options() call.
type Options struct {
	Threads          int
	SieveWorkers     int
	SieveBits        uint
	PrimeTableLimit  uint64
	PrimorialNumber  int
	PrimorialOffsets []uint64
	Pattern          constellation.Pattern
	Mode             Mode
	TupleLengthMin   int
	EnableAVX2       bool
	TuplesFile       string
	MaxIncrements    uint64
	CacheDir         string
}

// WorkData is the opaque-to-the-core block payload the miner core reads
// PowHash/Height/Difficulty from and writes NOffset/Primes back into.
type WorkData struct {
	powHash    [32]byte
	Height     uint32
	Difficulty uint32
	NOffset    [32]byte
	Primes     uint8
}

// NewWorkData builds a WorkData from a header pre-image digest, height,
// and difficulty.
func NewWorkData(powHash [32]byte, height, difficulty uint32) WorkData {
	return WorkData{powHash: powHash, Height: height, Difficulty: difficulty}
}

// PowHash returns the block header pre-image digest this work targets.
func (w WorkData) PowHash() [32]byte { return w.powHash }

// SetOffset packs a found candidate's offset from the target into NOffset,
// little-endian, truncated to 32 bytes, and records the tuple length.
func (w *WorkData) SetOffset(offsetFromTarget *big.Int, tupleLength int) {
	var buf [32]byte
	b := offsetFromTarget.Bytes() // big-endian
	if len(b) > len(buf) {
		b = b[len(b)-len(buf):] // keep the low 32 bytes
	}
	copy(buf[len(buf)-len(b):], b)
	reverseBytes(buf[:]) // ...then flip to little-endian
	w.NOffset = buf
	w.Primes = uint8(tupleLength)
}

func reverseBytes(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

// WorkManager is the external collaborator that supplies blocks and
// receives found tuples. Reference solo/pool implementations live in
// cmd/riecoin-miner.
type WorkManager interface {
	Options() Options
	GetWork(ctx context.Context) (WorkData, bool)
	SubmitWork(ctx context.Context, work WorkData)
	IncTupleCount(length int)
}

// Miner owns the tables and sieve instances derived from one Options and
// drives WorkManager.GetWork/SubmitWork through the pipeline engine, one
// block at a time.
type Miner struct {
	wm     WorkManager
	opts   Options
	tables *primorial.Tables
	sizes  sieve.Sizes
	sparse int
	sieves []*sieve.Instance
	engine *pipeline.Engine
	logger *fermat.TupleLogger

	// mu guards the fields the async Submit hook reads: they change once
	// per block, from Run, while RunBlock is not itself in flight for the
	// previous block (RunBlock only returns once every job for its
	// height has retired), so there is never a live block whose tuples
	// could read the next block's target.
	mu            sync.Mutex
	currentWork   WorkData
	currentTarget *big.Int
	currentCtx    context.Context
}

// New builds a Miner from already-computed tables. The caller is
// responsible for loading them from cache.Load or building them fresh with
// primes.Sieve/primorial.BuildTables — table construction is I/O-adjacent
// and does not belong in this package.
func New(wm WorkManager, tables *primorial.Tables) (*Miner, error) {
	opts := wm.Options()
	if len(opts.PrimorialOffsets) != opts.SieveWorkers {
		return nil, fmt.Errorf("miner: need %d primorial offsets for %d sieve workers, got %d", opts.SieveWorkers, opts.SieveWorkers, len(opts.PrimorialOffsets))
	}
	if opts.SieveWorkers < 1 || opts.SieveWorkers > sieve.MaxSieveWorkers {
		return nil, fmt.Errorf("miner: sieveWorkers=%d out of range [1,%d]", opts.SieveWorkers, sieve.MaxSieveWorkers)
	}

	sparse := sieve.SparseLimit(tables.Primes, tables.StartingPrimeIndex, opts.MaxIncrements)
	sizes := sieve.NewSizes(tables.Primes, tables.StartingPrimeIndex, sparse, tables.NPrimes, opts.SieveBits, opts.MaxIncrements, opts.Pattern.Len())

	sieves := make([]*sieve.Instance, opts.SieveWorkers)
	for w := range sieves {
		sieves[w] = sieve.NewInstance(w, sizes)
	}

	var logger *fermat.TupleLogger
	if opts.Mode == Benchmark && opts.TuplesFile != "" {
		logger = fermat.NewTupleLogger(opts.TuplesFile)
	}

	m := &Miner{wm: wm, opts: opts, tables: tables, sizes: sizes, sparse: sparse, sieves: sieves, logger: logger}
	cfg := pipeline.DefaultConfig(opts.Threads)
	m.engine = pipeline.NewEngine(cfg, pipeline.Hooks{
		Submit:        m.onTuple,
		IncTupleCount: wm.IncTupleCount,
	}, 4*max(opts.Threads, 1))
	return m, nil
}

// onTuple is the submission gate (§4.H): the pipeline engine has already
// filtered by threshold (TupleLengthMin solo, fermat.MinPoolLength pool)
// before calling this; it only needs to convert the candidate into a
// WorkData offset and forward it.
func (m *Miner) onTuple(base *big.Int, tupleLength int, height uint32) {
	m.mu.Lock()
	work, tgt, ctx := m.currentWork, m.currentTarget, m.currentCtx
	m.mu.Unlock()

	if tgt == nil || height != work.Height {
		return
	}

	if m.logger != nil {
		_ = m.logger.Log(base, tupleLength)
	}

	work.SetOffset(new(big.Int).Sub(base, tgt), tupleLength)
	m.wm.SubmitWork(ctx, work)
}

// Run starts the worker pool and drives the master loop: pull work, build
// the block's target state, run one pipeline pass over it (which submits
// qualifying tuples as it finds them via onTuple), and repeat until
// GetWork reports no more work or ctx is cancelled. It returns once both
// the master loop and the worker pool have stopped.
func (m *Miner) Run(ctx context.Context) error {
	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workerErr := make(chan error, 1)
	go func() { workerErr <- m.engine.Workers(workerCtx) }()

	err := m.runMaster(ctx)
	cancel()
	<-workerErr
	return err
}

// runMaster is the single per-process master role (§4.G): every Miner has
// exactly one, since Run is meant to be called once per Miner.
func (m *Miner) runMaster(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		work, ok := m.wm.GetWork(ctx)
		if !ok {
			return nil
		}

		blk, err := target.BuildBlock(m.tables.Primorial, work.PowHash(), work.Difficulty, m.opts.PrimorialOffsets)
		if err != nil {
			return fmt.Errorf("miner: building target for height %d: %w", work.Height, err)
		}

		threshold := m.opts.TupleLengthMin
		if m.opts.Mode == Pool {
			threshold = fermat.MinPoolLength
		}

		m.mu.Lock()
		m.currentWork = work
		m.currentTarget = blk.Target
		m.currentCtx = ctx
		m.mu.Unlock()

		m.engine.UpdateHeight(work.Height)

		blockWork := &pipeline.BlockWork{
			Height:              work.Height,
			Tables:              m.tables,
			Pattern:             m.opts.Pattern,
			SparseLimit:         m.sparse,
			FirstCandidate:      blk.FirstCandidate[0],
			PrimorialOffsetDiff: blk.PrimorialOffsetDiff,
			OffsetDiffToFirst:   blk.OffsetDiffToFirst,
			Sieves:              m.sieves,
			Size:                m.sizes,
			Mode:                m.opts.Mode.fermatMode(),
			TupleLengthMin:      threshold,
			EnableAVX2:          m.opts.EnableAVX2,
		}

		if err := m.engine.RunBlock(ctx, blockWork); err != nil {
			return fmt.Errorf("miner: running block %d: %w", work.Height, err)
		}
	}
}

// MaxWorkOut reports the engine's current adaptive outstanding-check cap,
// for stats reporting.
func (m *Miner) MaxWorkOut() int { return m.engine.MaxWorkOut() }
