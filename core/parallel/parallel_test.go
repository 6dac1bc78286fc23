package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestParallelizeCoversEveryItem(t *testing.T) {
	for _, items := range []int{0, 1, 7, 1000} {
		seen := make([]int32, items)
		err := Parallelize(items, func(start, end int) error {
			for i := start; i < end; i++ {
				atomic.AddInt32(&seen[i], 1)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("items=%d: %v", items, err)
		}
		for i, c := range seen {
			if c != 1 {
				t.Fatalf("items=%d: index %d visited %d times", items, i, c)
			}
		}
	}
}

func TestParallelizeReturnsError(t *testing.T) {
	boom := errors.New("boom")
	err := Parallelize(100, func(start, end int) error {
		if start == 0 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestParallelizeWithThresholdSequential(t *testing.T) {
	calls := 0
	_ = ParallelizeWithThreshold(10, 100, func(start, end int) error {
		calls++
		if start != 0 || end != 10 {
			t.Errorf("got range [%d,%d)", start, end)
		}
		return nil
	})
	if calls != 1 {
		t.Errorf("expected one sequential call, got %d", calls)
	}
}

func TestForEach(t *testing.T) {
	results := make([]int, 50)
	err := ForEach(context.Background(), len(results), func(_ context.Context, i int) error {
		results[i] = i * i
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range results {
		if v != i*i {
			t.Fatalf("results[%d] = %d", i, v)
		}
	}
}
