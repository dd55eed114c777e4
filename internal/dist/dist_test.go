package dist

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

func TestTopologyValidate(t *testing.T) {
	cases := []struct {
		name    string
		top     Topology
		wantErr bool
	}{
		{name: "single", top: Single(), wantErr: false},
		{name: "second of four", top: Topology{Rank: 1, WorldSize: 4}, wantErr: false},
		{name: "last of four", top: Topology{Rank: 3, WorldSize: 4}, wantErr: false},
		{name: "zero world", top: Topology{Rank: 0, WorldSize: 0}, wantErr: true},
		{name: "negative rank", top: Topology{Rank: -1, WorldSize: 2}, wantErr: true},
		{name: "rank beyond world", top: Topology{Rank: 2, WorldSize: 2}, wantErr: true},
	}

	for _, tc := range cases {
		err := tc.top.Validate()
		if tc.wantErr && err == nil {
			t.Errorf("%s: expected error, got nil", tc.name)
		}

		if !tc.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
	}
}

func TestNoopReducerIdentity(t *testing.T) {
	in := []float64{1.5, -2, 0}

	out, err := NoopReducer{}.AllReduceSum(in)
	if err != nil {
		t.Fatalf("AllReduceSum failed: %v", err)
	}

	if !equalF64(out, in) {
		t.Fatalf("expected identity, got %v", out)
	}

	out[0] = 99
	if in[0] != 1.5 {
		t.Fatal("result aliases the input slice")
	}
}

func TestLocalGroupSumsAcrossWorkers(t *testing.T) {
	const world = 3

	group, err := NewLocalGroup(world)
	if err != nil {
		t.Fatalf("NewLocalGroup failed: %v", err)
	}

	results := make([][]float64, world)
	errs := make([]error, world)

	var wg sync.WaitGroup
	for rank := 0; rank < world; rank++ {
		wg.Add(1)

		go func(rank int) {
			defer wg.Done()

			in := []float64{float64(rank + 1), 10 * float64(rank+1)}
			results[rank], errs[rank] = group.AllReduceSum(in)
		}(rank)
	}
	wg.Wait()

	want := []float64{6, 60}
	for rank := 0; rank < world; rank++ {
		if errs[rank] != nil {
			t.Fatalf("rank %d: AllReduceSum failed: %v", rank, errs[rank])
		}

		if !equalF64(results[rank], want) {
			t.Fatalf("rank %d: expected %v, got %v", rank, want, results[rank])
		}
	}
}

func TestLocalGroupSupportsRepeatedRounds(t *testing.T) {
	const world = 2

	group, err := NewLocalGroup(world)
	if err != nil {
		t.Fatalf("NewLocalGroup failed: %v", err)
	}

	for round := 0; round < 3; round++ {
		results := make([][]float64, world)
		errs := make([]error, world)

		var wg sync.WaitGroup
		for rank := 0; rank < world; rank++ {
			wg.Add(1)

			go func(rank int) {
				defer wg.Done()

				in := []float64{float64(round)}
				results[rank], errs[rank] = group.AllReduceSum(in)
			}(rank)
		}
		wg.Wait()

		want := []float64{2 * float64(round)}
		for rank := 0; rank < world; rank++ {
			if errs[rank] != nil {
				t.Fatalf("round %d rank %d: AllReduceSum failed: %v", round, rank, errs[rank])
			}

			if !equalF64(results[rank], want) {
				t.Fatalf("round %d rank %d: expected %v, got %v", round, rank, want, results[rank])
			}
		}
	}
}

func TestLocalGroupRejectsMismatchedLengths(t *testing.T) {
	group, err := NewLocalGroup(2)
	if err != nil {
		t.Fatalf("NewLocalGroup failed: %v", err)
	}

	errs := make([]error, 2)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = group.AllReduceSum([]float64{1, 2})
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = group.AllReduceSum([]float64{1})
	}()
	wg.Wait()

	for rank, err := range errs {
		if err == nil {
			t.Fatalf("rank %d: expected length mismatch error, got nil", rank)
		}
	}
}

func TestNewLocalGroupRejectsEmptyWorld(t *testing.T) {
	if _, err := NewLocalGroup(0); err == nil {
		t.Fatal("expected error for world size 0, got nil")
	}
}

func TestWithContextPassesThrough(t *testing.T) {
	r := WithContext(context.Background(), NoopReducer{})

	out, err := r.AllReduceSum([]float64{2, 4})
	if err != nil {
		t.Fatalf("AllReduceSum failed: %v", err)
	}

	if !equalF64(out, []float64{2, 4}) {
		t.Fatalf("expected pass-through, got %v", out)
	}
}

func TestWithContextUnblocksOnCancel(t *testing.T) {
	group, err := NewLocalGroup(2)
	if err != nil {
		t.Fatalf("NewLocalGroup failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := WithContext(ctx, group).AllReduceSum([]float64{1})
		done <- err
	}()

	// The second worker never contributes; cancellation is the only way out.
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("AllReduceSum did not unblock on cancellation")
	}
}

func equalF64(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-12 {
			return false
		}
	}

	return true
}
