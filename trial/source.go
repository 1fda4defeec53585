package trial

import (
	crand "crypto/rand"
	"fmt"
	"math/rand/v2"
)

// CorrelationSize is the length of a correlation value (a ClientHello random).
const CorrelationSize = 32

// Source is the run's randomness: correlation values, vector picks and coin
// flips are all drawn from one ChaCha8 stream seeded once per run.
//
// A Source is not safe for concurrent use; the trial loop is sequential.
type Source struct {
	stream *rand.ChaCha8
	rng    *rand.Rand
}

// NewSource returns a deterministic source for seed.
func NewSource(seed [32]byte) *Source {
	stream := rand.NewChaCha8(seed)
	return &Source{stream: stream, rng: rand.New(stream)}
}

// SystemSource seeds a source from the operating system's entropy pool.
func SystemSource() (*Source, error) {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("trial: seed randomness: %w", err)
	}
	return NewSource(seed), nil
}

// Correlation draws a fresh correlation value. Uniqueness is not checked.
func (s *Source) Correlation() [CorrelationSize]byte {
	var c [CorrelationSize]byte
	_, _ = s.stream.Read(c[:])
	return c
}

// Rand exposes the source for the pure decision functions.
func (s *Source) Rand() *rand.Rand { return s.rng }
