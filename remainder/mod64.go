package remainder

import (
	"math/big"
	"math/bits"
)

// Mod64 computes x mod p for a non-negative big.Int x and a prime p
// that fits in a uint64, by folding x's limbs from most- to
// least-significant through the hardware 128-by-64 division Go exposes
// as math/bits.Div64 — the same "wide dividend, narrow divisor" trick a
// Barrett or Granlund-Möller reduction performs, just backed by the
// CPU's divide instruction instead of a hand-rolled reciprocal multiply.
//
// This only folds cleanly when a big.Word is 64 bits wide; on the rare
// 32-bit build it falls back to big.Int's own Mod, which is always
// correct, just without the limb-folding fast path.
func Mod64(x *big.Int, p uint64) uint64 {
	if bits.UintSize != 64 {
		return new(big.Int).Mod(x, new(big.Int).SetUint64(p)).Uint64()
	}

	words := x.Bits()
	var r uint64
	for i := len(words) - 1; i >= 0; i-- {
		_, r = bits.Div64(r, uint64(words[i]), p)
	}
	return r
}
