package eval

import (
	"fmt"
	"math/rand/v2"
)

// evalSeed pins sampling noise so repeated runs draw identical diffusion
// trajectories on every worker.
const evalSeed = 5

// rngScope holds the state a generator had before a run reseeded it.
type rngScope struct {
	src   *rand.PCG
	saved []byte
}

// seedScoped saves src's current state and reseeds it for one run. The
// caller must Restore the scope on every exit path.
func seedScoped(src *rand.PCG, seed uint64) (*rngScope, error) {
	saved, err := src.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("eval: save rng state: %w", err)
	}

	src.Seed(seed, seed)

	return &rngScope{src: src, saved: saved}, nil
}

// Restore puts the generator back into its pre-run state.
func (s *rngScope) Restore() error {
	if err := s.src.UnmarshalBinary(s.saved); err != nil {
		return fmt.Errorf("eval: restore rng state: %w", err)
	}

	return nil
}
