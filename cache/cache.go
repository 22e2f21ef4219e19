// Package cache persists the sieve-of-Eratosthenes prime table and
// primorial inverse tables to disk, keyed by the (primeTableLimit,
// primorialNumber) pair that produced them, so repeated startups with the
// same configuration skip the precompute. It mirrors the teacher's
// per-block file persistence applied to the miner's own tables instead of
// to chain blocks.
package cache

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	natomic "github.com/natefinch/atomic"

	"github.com/fakecoinbase/PttnslashrieMiner/primorial"
)

// Path returns the on-disk cache file location for a given prime table
// configuration.
func Path(cacheDir string, primeTableLimit uint64, primorialNumber int) string {
	return filepath.Join(cacheDir, fmt.Sprintf("primetable-%d-%d.cache", primeTableLimit, primorialNumber))
}

// file is the on-disk representation: a JSON envelope framing the binary
// prime/inverse/reduction-shift arrays, checksummed so a truncated or
// corrupted cache is never loaded silently.
type file struct {
	PrimeTableLimit uint64
	PrimorialNumber int
	NPrimes         int
	Checksum        uint64
	Primes          []uint64
	Inverts         []uint64
	ReductionShift  []uint8
}

// checksum hashes the prime list with xxhash so a load can detect a
// corrupted or truncated cache file before trusting derived state built
// from it.
func checksum(primes []uint64) uint64 {
	buf := make([]byte, 8*len(primes))
	for i, p := range primes {
		binary.LittleEndian.PutUint64(buf[i*8:], p)
	}
	return xxhash.Sum64(buf)
}

// Load reads and validates a cached table set for
// (primeTableLimit, primorialNumber). ok is false with a nil error when the
// cache simply doesn't exist yet or belongs to a different configuration;
// callers fall back to recomputing from primes.Sieve/primorial.BuildTables
// in that case.
func Load(cacheDir string, primeTableLimit uint64, primorialNumber int) (*primorial.Tables, bool, error) {
	path := Path(cacheDir, primeTableLimit, primorialNumber)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache: reading %s: %w", path, err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, false, fmt.Errorf("cache: decoding %s: %w", path, err)
	}
	if f.PrimeTableLimit != primeTableLimit || f.PrimorialNumber != primorialNumber {
		return nil, false, nil
	}
	if f.NPrimes != len(f.Primes) || len(f.Inverts) != f.NPrimes || len(f.ReductionShift) != f.NPrimes {
		return nil, false, fmt.Errorf("cache: %s has inconsistent array lengths", path)
	}
	if checksum(f.Primes) != f.Checksum {
		return nil, false, fmt.Errorf("cache: %s failed checksum verification", path)
	}

	pk, err := primorial.Build(f.Primes, primorialNumber)
	if err != nil {
		return nil, false, fmt.Errorf("cache: rebuilding primorial from %s: %w", path, err)
	}

	return &primorial.Tables{
		Primes:             f.Primes,
		Primorial:          pk,
		Inverts:            f.Inverts,
		ReductionShift:     f.ReductionShift,
		K:                  primorialNumber,
		StartingPrimeIndex: primorialNumber,
		NPrimes:            f.NPrimes,
		PrecompLimit:       f.NPrimes,
	}, true, nil
}

// Save atomically writes tables to the cache file for
// (primeTableLimit, primorialNumber): the file is written under a
// temporary name and renamed into place, so a miner killed mid-write never
// leaves a corrupt cache file that Load would need to reject.
func Save(cacheDir string, primeTableLimit uint64, primorialNumber int, tables *primorial.Tables) error {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("cache: creating %s: %w", cacheDir, err)
	}

	f := file{
		PrimeTableLimit: primeTableLimit,
		PrimorialNumber: primorialNumber,
		NPrimes:         tables.NPrimes,
		Checksum:        checksum(tables.Primes),
		Primes:          tables.Primes,
		Inverts:         tables.Inverts,
		ReductionShift:  tables.ReductionShift,
	}
	data, err := json.Marshal(&f)
	if err != nil {
		return fmt.Errorf("cache: encoding: %w", err)
	}

	path := Path(cacheDir, primeTableLimit, primorialNumber)
	if err := natomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("cache: writing %s: %w", path, err)
	}
	return nil
}
