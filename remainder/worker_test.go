package remainder

import (
	"context"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakecoinbase/PttnslashrieMiner/constellation"
	"github.com/fakecoinbase/PttnslashrieMiner/primorial"
	"github.com/fakecoinbase/PttnslashrieMiner/sieve"
)

func TestMulModAgainstBigInt(t *testing.T) {
	cases := []struct{ a, b, p uint64 }{
		{2, 3, 5},
		{0, 9, 7},
		{1<<63 - 1, 1<<63 - 1, 4294967311},
		{18446744073709551557, 18446744073709551533, 97},
		{999999999999999999, 888888888888888888, 1000000007},
	}
	for _, c := range cases {
		got := mulMod(c.a, c.b, c.p)
		want := new(big.Int).Mod(new(big.Int).Mul(new(big.Int).SetUint64(c.a), new(big.Int).SetUint64(c.b)), new(big.Int).SetUint64(c.p))
		assert.Equal(t, want.Uint64(), got)
	}
}

func TestSubModAddMod(t *testing.T) {
	assert.Equal(t, uint64(0), subMod(0, 0, 7))
	assert.Equal(t, uint64(5), subMod(0, 2, 7))
	assert.Equal(t, uint64(2), subMod(5, 3, 7))
	assert.Equal(t, uint64(1), addMod(5, 3, 7))
	assert.Equal(t, uint64(5), addMod(2, 3, 7))
}

func testTables(t *testing.T) *primorial.Tables {
	t.Helper()
	primesList := []uint64{2, 3, 5, 7, 11, 13, 17, 19, 23, 29}
	tables, err := primorial.BuildTables(context.Background(), primesList, 4, 1)
	require.NoError(t, err)
	return tables
}

// TestProcessRangeDenseMatchesFormula checks that the dense path's
// written offsets are exactly the lattice-chained values the mod phase
// is specified to produce, independently recomputed here with the same
// modular-inverse formula over plain uint64 arithmetic. It exists to
// catch wiring bugs (array indexing, loop bounds, map lookups), not to
// re-derive the underlying number theory.
func TestProcessRangeDenseMatchesFormula(t *testing.T) {
	tables := testTables(t)
	pattern, err := constellation.Lookup("sextuplet")
	require.NoError(t, err)

	size := sieve.NewSizes(tables.Primes, tables.StartingPrimeIndex, tables.NPrimes, tables.NPrimes, 4, 16, pattern.Len())
	inst := sieve.NewInstance(0, size)

	target := big.NewInt(10007)
	bc, err := NewBlockContext(tables, pattern, tables.NPrimes, target, nil, []*sieve.Instance{inst}, size)
	require.NoError(t, err)

	var height atomic.Uint32
	height.Store(1)
	require.NoError(t, ProcessRange(bc, tables.StartingPrimeIndex, tables.NPrimes, 1, &height))

	l := pattern.Len()
	for i := tables.StartingPrimeIndex; i < tables.NPrimes; i++ {
		p := tables.Primes[i]
		invert := tables.Inverts[i]
		tmod := Mod64(target, p)

		idx := mulMod(subMod(0, tmod, p), invert, p)
		rel := uint64(i-tables.StartingPrimeIndex) * uint64(l)
		assert.Equal(t, idx, uint64(inst.Offsets[rel]), "prime %d family 0", p)

		for f := 1; f < l; f++ {
			idx = subMod(idx, mulMod(pattern.Offsets[f], invert, p), p)
			assert.Equal(t, idx, uint64(inst.Offsets[rel+uint64(f)]), "prime %d family %d", p, f)
		}
	}
}

// TestProcessRangeSparseFillsSegmentHits checks the aggregate once-only
// hit count: every sparse prime contributes exactly one hit per
// constellation family (since MaxIncrements comfortably exceeds every
// prime in this small table), and no segment bucket overflows.
func TestProcessRangeSparseFillsSegmentHits(t *testing.T) {
	tables := testTables(t)
	pattern, err := constellation.Lookup("sextuplet")
	require.NoError(t, err)

	size := sieve.NewSizes(tables.Primes, tables.StartingPrimeIndex, tables.StartingPrimeIndex, tables.NPrimes, 4, 100, pattern.Len())
	inst := sieve.NewInstance(0, size)

	target := big.NewInt(10007)
	bc, err := NewBlockContext(tables, pattern, tables.StartingPrimeIndex, target, nil, []*sieve.Instance{inst}, size)
	require.NoError(t, err)

	var height atomic.Uint32
	height.Store(1)
	require.NoError(t, ProcessRange(bc, tables.StartingPrimeIndex, tables.NPrimes, 1, &height))

	nSparsePrimes := tables.NPrimes - tables.StartingPrimeIndex
	wantHits := uint64(nSparsePrimes * pattern.Len())

	var total uint64
	for s, count := range inst.SegmentCounts {
		assert.LessOrEqual(t, count, size.EntriesPerSegment, "segment %d overflowed", s)
		total += count
	}
	assert.Equal(t, wantHits, total)
}

// TestProcessRangeCancellation checks that a stale height aborts before
// writing anything into the sieve instance.
func TestProcessRangeCancellation(t *testing.T) {
	tables := testTables(t)
	pattern, err := constellation.Lookup("sextuplet")
	require.NoError(t, err)

	size := sieve.NewSizes(tables.Primes, tables.StartingPrimeIndex, tables.NPrimes, tables.NPrimes, 4, 16, pattern.Len())
	inst := sieve.NewInstance(0, size)

	bc, err := NewBlockContext(tables, pattern, tables.NPrimes, big.NewInt(10007), nil, []*sieve.Instance{inst}, size)
	require.NoError(t, err)

	var height atomic.Uint32
	height.Store(2) // mismatched against the height passed to ProcessRange below

	require.NoError(t, ProcessRange(bc, tables.StartingPrimeIndex, tables.NPrimes, 1, &height))

	for _, v := range inst.Offsets {
		assert.Equal(t, uint32(0), v)
	}
}
