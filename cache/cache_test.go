package cache

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakecoinbase/PttnslashrieMiner/primes"
	"github.com/fakecoinbase/PttnslashrieMiner/primorial"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	ps := primes.Sieve(20000)
	tables, err := primorial.BuildTables(context.Background(), ps, 5, 4)
	require.NoError(t, err)

	require.NoError(t, Save(dir, 20000, 5, tables))

	loaded, ok, err := Load(dir, 20000, 5)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, tables.Primes, loaded.Primes)
	assert.Equal(t, tables.Inverts, loaded.Inverts)
	assert.Equal(t, tables.ReductionShift, loaded.ReductionShift)
	assert.Equal(t, tables.Primorial, loaded.Primorial)
	assert.Equal(t, tables.K, loaded.K)
}

func TestLoadMissingReturnsNotOK(t *testing.T) {
	dir := t.TempDir()
	_, ok, err := Load(dir, 12345, 5)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadMismatchedConfigReturnsNotOK(t *testing.T) {
	dir := t.TempDir()

	ps := primes.Sieve(20000)
	tables, err := primorial.BuildTables(context.Background(), ps, 5, 2)
	require.NoError(t, err)
	require.NoError(t, Save(dir, 20000, 5, tables))

	_, ok, err := Load(dir, 20000, 6)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadRejectsCorruptedFile(t *testing.T) {
	dir := t.TempDir()

	ps := primes.Sieve(20000)
	tables, err := primorial.BuildTables(context.Background(), ps, 5, 2)
	require.NoError(t, err)
	require.NoError(t, Save(dir, 20000, 5, tables))

	path := Path(dir, 20000, 5)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data = append(data, '!') // breaks JSON decoding, which is enough to exercise the error path
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, _, err = Load(dir, 20000, 5)
	assert.Error(t, err)
}
