package fermat

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTupleLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuples.txt")
	logger := NewTupleLogger(path)

	require.NoError(t, logger.Log(big.NewInt(11410337850553), 8))
	require.NoError(t, logger.Log(big.NewInt(97), 6))

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "11410337850553 8\n97 6\n", string(contents))
}

func TestTupleLoggerCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tuples.txt")
	os.MkdirAll(filepath.Dir(path), 0o755)

	logger := NewTupleLogger(path)
	require.NoError(t, logger.Log(big.NewInt(5), 1))

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "5 1\n", string(contents))
}
