// Package primorial builds the primorial P_k = primes[0]*...*primes[k-1]
// and, for every larger prime in the table, its modular inverse against
// P_k plus the prime's leading-zero count (ReductionShift). The remainder
// worker reduces with remainder.Mod64 and does not read ReductionShift.
package primorial

import (
	"context"
	"fmt"
	"math/big"
	"math/bits"

	"golang.org/x/sync/errgroup"
)

// Tables holds everything derived from a prime table once the primorial
// number k is fixed. It is built once and read-only for the lifetime of
// the miner.
type Tables struct {
	Primes             []uint64
	Primorial          *big.Int
	Inverts            []uint64 // Inverts[i] = Primorial^-1 mod Primes[i], valid for i >= K
	ReductionShift     []uint8  // leading-zero count of Primes[i], valid for i < PrecompLimit
	K                  int      // primorialNumber: primes[0:K] form the primorial
	StartingPrimeIndex int      // first prime index actually sieved (== K)
	NPrimes            int
	PrecompLimit       int
}

// Build multiplies the first k primes into P_k. k must be within range.
func Build(primes []uint64, k int) (*big.Int, error) {
	if k <= 0 || k > len(primes) {
		return nil, fmt.Errorf("primorial: k=%d out of range for %d primes", k, len(primes))
	}
	p := big.NewInt(1)
	tmp := new(big.Int)
	for _, prime := range primes[:k] {
		tmp.SetUint64(prime)
		p.Mul(p, tmp)
	}
	return p, nil
}

// precompLimit caps how far the reduction-shift table is filled. It is
// the full prime table here; no other package reads PrecompLimit, and
// the remainder worker uses the same Mod64 reduction for every prime.
func precompLimit(nPrimes int) int { return nPrimes }

// BuildTables computes P_k and shards the inverse/reduction-shift
// computation for primes[k:] across threads goroutines, using an
// errgroup so any worker error aborts the whole batch cleanly.
func BuildTables(ctx context.Context, primes []uint64, k, threads int) (*Tables, error) {
	if threads < 1 {
		threads = 1
	}
	nPrimes := len(primes)
	// The dense/sparse split assumes an even boundary (see the sieve
	// package); force nPrimes even here too so callers never have to.
	if nPrimes%2 != 0 {
		nPrimes--
		primes = primes[:nPrimes]
	}

	pk, err := Build(primes, k)
	if err != nil {
		return nil, err
	}

	t := &Tables{
		Primes:             primes,
		Primorial:          pk,
		Inverts:            make([]uint64, nPrimes),
		ReductionShift:     make([]uint8, nPrimes),
		K:                  k,
		StartingPrimeIndex: k,
		NPrimes:            nPrimes,
		PrecompLimit:       precompLimit(nPrimes),
	}

	g, gctx := errgroup.WithContext(ctx)
	chunk := (nPrimes - k + threads - 1) / threads
	if chunk < 1 {
		chunk = 1
	}
	for start := k; start < nPrimes; start += chunk {
		end := start + chunk
		if end > nPrimes {
			end = nPrimes
		}
		start, end := start, end
		g.Go(func() error {
			return fillRange(gctx, t, start, end)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return t, nil
}

func fillRange(ctx context.Context, t *Tables, start, end int) error {
	pk := t.Primorial
	modulus := new(big.Int)
	for i := start; i < end; i++ {
		if i%4096 == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		p := t.Primes[i]
		modulus.SetUint64(p)
		inv := new(big.Int).ModInverse(pk, modulus)
		if inv == nil {
			return fmt.Errorf("primorial: primorial shares a factor with prime %d at index %d", p, i)
		}
		t.Inverts[i] = inv.Uint64()
		if i < t.PrecompLimit {
			t.ReductionShift[i] = uint8(bits.LeadingZeros64(p))
		}
	}
	return nil
}
