package pool

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestAcquireReleaseBasic(t *testing.T) {
	p := New[int](2, nil)
	a, err := p.Acquire()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := p.Acquire()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == b {
		t.Fatalf("acquire returned aliasing indices: %v == %v", a, b)
	}
	if _, err := p.Acquire(); err == nil {
		t.Fatalf("expected exhaustion error on third acquire")
	}
	p.Release(a)
	c, err := p.Acquire()
	if err != nil {
		t.Fatalf("unexpected error after release: %v", err)
	}
	if c != a {
		t.Fatalf("expected reused index %v, got %v", a, c)
	}
}

func TestPoisonOnRelease(t *testing.T) {
	poisoned := false
	p := New[int](1, func(v *int) { poisoned = true; *v = -1 })
	idx, _ := p.Acquire()
	*p.Get(idx) = 42
	p.Release(idx)
	if !poisoned {
		t.Fatalf("expected poison callback to run")
	}
	if *p.Get(idx) != -1 {
		t.Fatalf("expected poisoned value, got %d", *p.Get(idx))
	}
}

// TestAcquireReleaseInterleavingProperty validates: for any interleaving
// of N acquire/release ops with net alive <= capacity, acquire never
// returns two aliasing indices among the currently-alive set (spec §8).
func TestAcquireReleaseInterleavingProperty(t *testing.T) {
	const capacity = 8

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	// ops: true = acquire, false = release-oldest-alive
	properties.Property("no aliasing across interleaved acquire/release", prop.ForAll(
		func(ops []bool) bool {
			p := New[int](capacity, nil)
			var alive []Index
			seen := map[Index]bool{}

			for _, acquire := range ops {
				if acquire {
					if len(alive) >= capacity {
						continue // would exhaust; skip rather than assert on expected error here
					}
					idx, err := p.Acquire()
					if err != nil {
						return false
					}
					if seen[idx] {
						return false
					}
					seen[idx] = true
					alive = append(alive, idx)
				} else if len(alive) > 0 {
					idx := alive[0]
					alive = alive[1:]
					delete(seen, idx)
					p.Release(idx)
				}
			}
			return len(alive) <= capacity
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
