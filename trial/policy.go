package trial

import "math/rand/v2"

// Shape is how much of the handshake follows the probe ciphertext.
type Shape uint8

const (
	// ShapeFull sends ClientKeyExchange, ChangeCipherSpec and Finished.
	ShapeFull Shape = iota
	// ShapeTruncated stops after ClientKeyExchange.
	ShapeTruncated
)

func (s Shape) String() string {
	switch s {
	case ShapeFull:
		return "CKE_CCS_FIN"
	case ShapeTruncated:
		return "CKE"
	default:
		return "unknown"
	}
}

// Truncated reports whether CCS and Finished are skipped.
func (s Shape) Truncated() bool { return s == ShapeTruncated }

// Policy decides the shape of each trial from two flags:
//
//	PreferTruncated  AllowRandom  shape
//	false            any          always full
//	true             false        always truncated
//	true             true         fair coin per trial
type Policy struct {
	PreferTruncated bool
	AllowRandom     bool
}

// Decide picks the shape for one trial. It keeps no state between calls; r is
// consulted only in the coin-flip state.
func (p Policy) Decide(r *rand.Rand) Shape {
	if !p.PreferTruncated {
		return ShapeFull
	}
	if !p.AllowRandom {
		return ShapeTruncated
	}
	if r.IntN(2) == 1 {
		return ShapeTruncated
	}
	return ShapeFull
}

// PickIndex draws a corpus index uniformly from [0, n).
//
// legacy reproduces the bound of earlier datasets, [0, n-1), which never
// selects the final vector. It exists only for parity with such datasets.
func PickIndex(r *rand.Rand, n int, legacy bool) int {
	if legacy {
		if n <= 1 {
			return 0
		}
		return r.IntN(n - 1)
	}
	return r.IntN(n)
}
