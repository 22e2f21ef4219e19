package fermat

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakecoinbase/PttnslashrieMiner/constellation"
)

func TestTestKnownPrimesAndComposites(t *testing.T) {
	assert.True(t, Test(big.NewInt(97)))
	assert.True(t, Test(big.NewInt(7919)))
	assert.False(t, Test(big.NewInt(91))) // 7*13
	assert.False(t, Test(big.NewInt(1)))
	assert.False(t, Test(big.NewInt(0)))
}

func TestCandidateAndBatchTest(t *testing.T) {
	pk := big.NewInt(210)
	ploop := big.NewInt(11)
	indexes := []uint32{0, 1, 2}
	// candidates: 11, 221 (13*17), 431 (prime)
	got := BatchTest(pk, ploop, indexes)
	require.Len(t, got, 3)
	assert.True(t, got[0])  // 11 is prime
	assert.False(t, got[1]) // 221 = 13*17
	assert.True(t, got[2])  // 431 is prime
}

func TestWalkOctupletScenario(t *testing.T) {
	pattern, err := constellation.Lookup("octuplet")
	require.NoError(t, err)

	n := new(big.Int)
	n.SetString("15760091", 10)

	pk := big.NewInt(1)
	var steps []int
	got := Walk(pk, n, 0, pattern, Solo, func(length int) { steps = append(steps, length) })

	assert.Equal(t, 8, got.TupleLength)
	assert.Equal(t, n, got.Base)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8}, steps)
}

func TestWalkSoloStopsAtFirstMiss(t *testing.T) {
	pattern, err := constellation.Lookup("sextuplet")
	require.NoError(t, err)

	// A prime n that is not the base of a full sextuplet: n+4 is
	// composite (9 = 3*3), so the solo walk should stop at length 1.
	n := big.NewInt(5)
	pk := big.NewInt(1)

	var steps []int
	got := Walk(pk, n, 0, pattern, Solo, func(length int) { steps = append(steps, length) })
	assert.Equal(t, 1, got.TupleLength)
	assert.Equal(t, []int{0, 1}, steps)
}

func TestWalkPoolContinuesPastGap(t *testing.T) {
	pattern, err := constellation.Lookup("sextuplet")
	require.NoError(t, err)

	n := big.NewInt(5)
	pk := big.NewInt(1)

	var steps []int
	got := Walk(pk, n, 0, pattern, Pool, func(length int) { steps = append(steps, length) })
	// members 5, 9, 11, 15, 17, 21: base + two composite gaps tolerated
	// (11 and 17 are prime) until the remaining offsets can no longer
	// reach MinPoolLength, so the walk stops after testing 21.
	assert.Equal(t, 3, got.TupleLength)
	// onTest only fires for the attempt and each successful extension,
	// not for the two composite members tolerated in between, so the
	// call count tracks tuple length found rather than members tested.
	assert.Equal(t, []int{0, 1, 2, 3}, steps)
}

func TestPloop(t *testing.T) {
	pk := big.NewInt(210)
	firstCandidate := big.NewInt(11)
	got := Ploop(pk, 2, 64, firstCandidate, 5)
	// pk*2*64 + 11 + 5 = 26880 + 16 = 26896
	assert.Equal(t, big.NewInt(26896), got)
}
