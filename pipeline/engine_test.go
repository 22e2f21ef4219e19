package pipeline

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakecoinbase/PttnslashrieMiner/constellation"
	"github.com/fakecoinbase/PttnslashrieMiner/fermat"
	"github.com/fakecoinbase/PttnslashrieMiner/primes"
	"github.com/fakecoinbase/PttnslashrieMiner/primorial"
	"github.com/fakecoinbase/PttnslashrieMiner/sieve"
)

func buildTestWork(t *testing.T, height uint32) (*Engine, *BlockWork, *int64, *int64) {
	t.Helper()

	ps := primes.Sieve(2000)
	tables, err := primorial.BuildTables(context.Background(), ps, 5, 2)
	require.NoError(t, err)

	pattern, err := constellation.Lookup("sextuplet")
	require.NoError(t, err)

	const sieveBits = uint(8)
	const maxIncrements = uint64(1024)
	sparseLimit := sieve.SparseLimit(tables.Primes, tables.StartingPrimeIndex, maxIncrements)
	size := sieve.NewSizes(tables.Primes, tables.StartingPrimeIndex, sparseLimit, tables.NPrimes, sieveBits, maxIncrements, pattern.Len())

	inst := sieve.NewInstance(0, size)

	// Primorial + 1 is coprime to the primorial by construction, a
	// realistic stand-in for a real aligned block target.
	firstCandidate := new(big.Int).Add(tables.Primorial, big.NewInt(1))

	var tupleCount, submitCount int64
	var mu sync.Mutex
	hooks := Hooks{
		IncTupleCount: func(length int) {
			mu.Lock()
			tupleCount++
			mu.Unlock()
			_ = length
		},
		Submit: func(base *big.Int, tupleLength int, h uint32) {
			mu.Lock()
			submitCount++
			mu.Unlock()
			_ = base
			_ = tupleLength
			_ = h
		},
	}

	cfg := DefaultConfig(2)
	engine := NewEngine(cfg, hooks, 4)

	work := &BlockWork{
		Height:              height,
		Tables:              tables,
		Pattern:             pattern,
		SparseLimit:         sparseLimit,
		FirstCandidate:      firstCandidate,
		PrimorialOffsetDiff: nil,
		OffsetDiffToFirst:   []uint64{0},
		Sieves:              []*sieve.Instance{inst},
		Size:                size,
		Mode:                fermat.Pool,
		TupleLengthMin:      pattern.Len(),
	}

	return engine, work, &tupleCount, &submitCount
}

func TestRunBlockEndToEnd(t *testing.T) {
	engine, work, tupleCount, _ := buildTestWork(t, 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var workersErr error
	done := make(chan struct{})
	go func() {
		workersErr = engine.Workers(ctx)
		close(done)
	}()

	require.NoError(t, engine.RunBlock(ctx, work))
	assert.Greater(t, *tupleCount, int64(0), "expected at least one Fermat test to run")
	assert.Greater(t, engine.MaxWorkOut(), 0)

	// A second block at a new height, reusing the same engine and worker
	// pool, should also complete cleanly.
	work.Height = 101
	for _, inst := range work.Sieves {
		_ = inst // ResetForBlock is called inside RunBlock
	}
	require.NoError(t, engine.RunBlock(ctx, work))

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop after context cancellation")
	}
	assert.NoError(t, workersErr)
}

func TestHandleCheckBatchedPathMatchesSequentialPath(t *testing.T) {
	engine, work, tupleCount, submitCount := buildTestWork(t, 100)
	work.EnableAVX2 = true
	engine.UpdateHeight(100)

	indexes := make([]uint32, fermat.WorkIndexes)
	for i := range indexes {
		indexes[i] = uint32(i)
	}

	savedAVX2 := avx2Available
	defer func() { avx2Available = savedAVX2 }()

	avx2Available = false
	rsSequential := &runState{work: work, engine: engine}
	rsSequential.wg.Add(1)
	engine.outSem <- struct{}{}
	engine.handle(Job{Kind: Check, Height: 100, SieveWorker: 0, Segment: 0, CheckIndexes: indexes, rs: rsSequential})
	sequentialTuples, sequentialSubmits := *tupleCount, *submitCount

	*tupleCount, *submitCount = 0, 0

	avx2Available = true
	rsBatched := &runState{work: work, engine: engine}
	rsBatched.wg.Add(1)
	engine.outSem <- struct{}{}
	engine.handle(Job{Kind: Check, Height: 100, SieveWorker: 0, Segment: 0, CheckIndexes: indexes, rs: rsBatched})

	assert.Equal(t, sequentialTuples, *tupleCount, "batched pre-filter must tally the same number of Fermat tests as the sequential path")
	assert.Equal(t, sequentialSubmits, *submitCount, "batched pre-filter must submit the same tuples as the sequential path")
}

func TestHandleBailsOnStaleHeight(t *testing.T) {
	engine, work, tupleCount, submitCount := buildTestWork(t, 100)
	engine.currentHeight.Store(999) // live height no longer matches the job below

	rs := &runState{work: work, engine: engine}

	rs.wg.Add(1)
	engine.handle(Job{Kind: Sieve, Height: 100, SieveWorker: 0, Segment: 0, rs: rs})
	assert.Equal(t, int64(0), *tupleCount)

	engine.outSem <- struct{}{} // mimic the slot handleSieve would have reserved
	rs.wg.Add(1)
	engine.handle(Job{Kind: Check, Height: 100, SieveWorker: 0, Segment: 0, CheckIndexes: []uint32{0, 1, 2}, rs: rs})
	assert.Equal(t, int64(0), *tupleCount)
	assert.Equal(t, int64(0), *submitCount)
}
