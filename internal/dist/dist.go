// Package dist coordinates data-parallel evaluation workers. Workers are
// placed by an explicit topology and combine their metric vectors through a
// Reducer; process-group transports stay behind that interface.
package dist

import (
	"context"
	"fmt"
	"sync"
)

// Topology places one worker inside a data-parallel group.
type Topology struct {
	Rank      int
	WorldSize int
}

// Single is the topology of a non-distributed run.
func Single() Topology {
	return Topology{Rank: 0, WorldSize: 1}
}

func (t Topology) Validate() error {
	if t.WorldSize < 1 {
		return fmt.Errorf("dist: world size %d must be >= 1", t.WorldSize)
	}

	if t.Rank < 0 || t.Rank >= t.WorldSize {
		return fmt.Errorf("dist: rank %d out of range for world size %d", t.Rank, t.WorldSize)
	}

	return nil
}

// Reducer combines metric vectors across every worker of a group.
type Reducer interface {
	// AllReduceSum blocks until all workers have contributed, then returns
	// the element-wise sum to each of them.
	AllReduceSum(values []float64) ([]float64, error)
}

// NoopReducer serves single-worker runs.
type NoopReducer struct{}

func (NoopReducer) AllReduceSum(values []float64) ([]float64, error) {
	return append([]float64(nil), values...), nil
}

// LocalGroup is an in-process collective for runs where every worker is a
// goroutine of the same process. Every worker must call AllReduceSum once
// per round; a missing worker blocks the round forever.
type LocalGroup struct {
	world int

	mu  sync.Mutex
	cur *reduceRound
}

type reduceRound struct {
	vectors [][]float64
	done    chan struct{}
	sum     []float64
	err     error
}

func NewLocalGroup(worldSize int) (*LocalGroup, error) {
	if worldSize < 1 {
		return nil, fmt.Errorf("dist: world size %d must be >= 1", worldSize)
	}

	return &LocalGroup{world: worldSize}, nil
}

func (g *LocalGroup) AllReduceSum(values []float64) ([]float64, error) {
	g.mu.Lock()

	if g.cur == nil {
		g.cur = &reduceRound{done: make(chan struct{})}
	}

	r := g.cur
	r.vectors = append(r.vectors, append([]float64(nil), values...))

	if len(r.vectors) == g.world {
		r.sum, r.err = sumVectors(r.vectors)
		close(r.done)
		g.cur = nil
	}

	g.mu.Unlock()

	<-r.done

	if r.err != nil {
		return nil, r.err
	}

	return append([]float64(nil), r.sum...), nil
}

// WithContext wraps a reducer so a blocked AllReduceSum returns the context
// error once ctx ends. The inner round keeps the worker's contribution, so a
// group abandoned this way must not be reused for another round.
func WithContext(ctx context.Context, inner Reducer) Reducer {
	return &ctxReducer{ctx: ctx, inner: inner}
}

type ctxReducer struct {
	ctx   context.Context
	inner Reducer
}

type reduceResult struct {
	sum []float64
	err error
}

func (r *ctxReducer) AllReduceSum(values []float64) ([]float64, error) {
	ch := make(chan reduceResult, 1)

	go func() {
		sum, err := r.inner.AllReduceSum(values)
		ch <- reduceResult{sum: sum, err: err}
	}()

	select {
	case res := <-ch:
		return res.sum, res.err
	case <-r.ctx.Done():
		return nil, r.ctx.Err()
	}
}

func sumVectors(vectors [][]float64) ([]float64, error) {
	sum := append([]float64(nil), vectors[0]...)

	for i, v := range vectors[1:] {
		if len(v) != len(sum) {
			return nil, fmt.Errorf("dist: worker vector %d has %d values, want %d", i+1, len(v), len(sum))
		}

		for j, x := range v {
			sum[j] += x
		}
	}

	return sum, nil
}
