package fermat

import (
	"bytes"
	"fmt"
	"math/big"
	"os"
	"sync"

	natomic "github.com/natefinch/atomic"
)

// TupleLogger appends found-tuple lines to a benchmark file under a
// global lock, writing the whole file back with a crash-safe
// rename-into-place so a miner killed mid-write never leaves a
// truncated tuples file behind.
type TupleLogger struct {
	path string
	mu   sync.Mutex
}

// NewTupleLogger opens (without truncating) the tuples file at path
// for benchmark-mode appends.
func NewTupleLogger(path string) *TupleLogger {
	return &TupleLogger{path: path}
}

// Log records a tuple's base (the family-0 candidate before any
// constellation shift) and its length.
func (l *TupleLogger) Log(base *big.Int, tupleLength int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := os.ReadFile(l.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("fermat: reading tuples file: %w", err)
	}

	line := fmt.Sprintf("%s %d\n", base.String(), tupleLength)
	existing = append(existing, []byte(line)...)

	if err := natomic.WriteFile(l.path, bytes.NewReader(existing)); err != nil {
		return fmt.Errorf("fermat: writing tuples file: %w", err)
	}
	return nil
}
