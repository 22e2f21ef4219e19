package miner

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakecoinbase/PttnslashrieMiner/constellation"
	"github.com/fakecoinbase/PttnslashrieMiner/primes"
	"github.com/fakecoinbase/PttnslashrieMiner/primorial"
)

// fakeWorkManager drives a fixed number of blocks then reports no more
// work, recording every submission it receives.
type fakeWorkManager struct {
	opts   Options
	blocks []WorkData

	mu          sync.Mutex
	next        int
	submissions []WorkData
	tupleCounts []int
}

func (f *fakeWorkManager) Options() Options { return f.opts }

func (f *fakeWorkManager) GetWork(ctx context.Context) (WorkData, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.next >= len(f.blocks) {
		return WorkData{}, false
	}
	w := f.blocks[f.next]
	f.next++
	return w, true
}

func (f *fakeWorkManager) SubmitWork(ctx context.Context, work WorkData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions = append(f.submissions, work)
}

func (f *fakeWorkManager) IncTupleCount(length int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tupleCounts = append(f.tupleCounts, length)
}

func hashOf(seed uint32) [32]byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], seed)
	return sha256.Sum256(buf[:])
}

func TestMinerRunDrivesToCompletionCleanly(t *testing.T) {
	ps := primes.Sieve(200000)
	tables, err := primorial.BuildTables(context.Background(), ps, 7, 2)
	require.NoError(t, err)

	pattern, err := constellation.Lookup("sextuplet")
	require.NoError(t, err)

	opts := Options{
		Threads:          2,
		SieveWorkers:     1,
		SieveBits:        12,
		PrimeTableLimit:  200000,
		PrimorialNumber:  7,
		PrimorialOffsets: []uint64{97},
		Pattern:          pattern,
		Mode:             Solo,
		TupleLengthMin:   6,
		MaxIncrements:    1 << 16,
	}

	wm := &fakeWorkManager{
		opts: opts,
		blocks: []WorkData{
			NewWorkData(hashOf(1), 100, 300),
			NewWorkData(hashOf(2), 101, 300),
		},
	}

	m, err := New(wm, tables)
	require.NoError(t, err)

	err = m.Run(context.Background())
	require.NoError(t, err)

	wm.mu.Lock()
	defer wm.mu.Unlock()
	assert.Equal(t, len(wm.blocks), wm.next, "GetWork should have handed out every block")
	assert.NotEmpty(t, wm.tupleCounts, "the Fermat verifier should have attempted at least one candidate")
	for _, sub := range wm.submissions {
		assert.True(t, sub.Primes >= uint8(opts.TupleLengthMin))
	}
}

func TestMinerNewRejectsOffsetCountMismatch(t *testing.T) {
	ps := primes.Sieve(2000)
	tables, err := primorial.BuildTables(context.Background(), ps, 5, 2)
	require.NoError(t, err)

	pattern, _ := constellation.Lookup("sextuplet")
	wm := &fakeWorkManager{opts: Options{
		SieveWorkers:     2,
		PrimorialOffsets: []uint64{97},
		Pattern:          pattern,
		SieveBits:        8,
		MaxIncrements:    1024,
	}}

	_, err = New(wm, tables)
	assert.Error(t, err)
}

func TestWorkDataSetOffsetRoundTrip(t *testing.T) {
	w := NewWorkData(hashOf(1), 10, 300)
	target := big.NewInt(123456789)
	base := new(big.Int).Add(target, big.NewInt(42))

	w.SetOffset(new(big.Int).Sub(base, target), 6)
	assert.Equal(t, uint8(6), w.Primes)

	// Little-endian decode of NOffset should recover 42.
	got := new(big.Int)
	be := make([]byte, len(w.NOffset))
	copy(be, w.NOffset[:])
	for i, j := 0, len(be)-1; i < j; i, j = i+1, j-1 {
		be[i], be[j] = be[j], be[i]
	}
	got.SetBytes(be)
	assert.Equal(t, big.NewInt(42), got)
}
