package index

import (
	"errors"
	"testing"

	"github.com/holmberd/go-pmlru/internal/arena"
)

func newTestIndex(t *testing.T, tableSize, capacity int) *Index {
	t.Helper()
	r, err := arena.NewRegion(1<<16, nil)
	if err != nil {
		t.Fatalf("failed to map region: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	bmem, err := r.Carve(BucketsSize(tableSize))
	if err != nil {
		t.Fatalf("failed to carve buckets: %v", err)
	}
	nmem, err := r.Carve(arena.PoolSize[Node](capacity))
	if err != nil {
		t.Fatalf("failed to carve nodes: %v", err)
	}
	return New(bmem, arena.NewPool[Node]("nodes", nmem, capacity), tableSize)
}

func TestIndexInsertAndFind(t *testing.T) {
	x := newTestIndex(t, 4, 16)
	// 1, 5 and 9 share bucket 1.
	keys := []uint32{1, 5, 9, 2, 3}
	for i, k := range keys {
		if err := x.Insert(k, arena.Handle(i+100)); err != nil {
			t.Fatalf("failed to insert %d: %v", k, err)
		}
	}
	for i, k := range keys {
		got, err := x.Find(k)
		if err != nil {
			t.Fatalf("failed to find %d: %v", k, err)
		}
		if got != arena.Handle(i+100) {
			t.Errorf("expected key %d to map to %d, got %d", k, i+100, got)
		}
		// Repeated lookups resolve to the same element.
		if again, _ := x.Find(k); again != got {
			t.Errorf("expected stable lookup for %d, got %d then %d", k, got, again)
		}
	}
	if x.Len() != len(keys) {
		t.Errorf("expected %d keys, got %d", len(keys), x.Len())
	}
	s := x.Stats()
	if s.LongestChain != 3 || s.UsedBuckets != 3 || s.BucketsTotal != 4 {
		t.Errorf("expected longest chain 3 over 3 of 4 buckets, got %+v", s)
	}
}

func TestIndexFindMissing(t *testing.T) {
	x := newTestIndex(t, 4, 4)
	if _, err := x.Find(7); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound on an empty bucket, got %v", err)
	}
	if err := x.Insert(3, 1); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}
	if _, err := x.Find(7); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound on a populated bucket, got %v", err)
	}
	if x.Has(7) || !x.Has(3) {
		t.Error("expected Has to report only inserted keys")
	}
}

func TestIndexRejectsDuplicates(t *testing.T) {
	x := newTestIndex(t, 4, 4)
	if err := x.Insert(6, 1); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}
	if err := x.Insert(6, 2); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	if got, _ := x.Find(6); got != 1 {
		t.Errorf("expected the first mapping to be kept, got %d", got)
	}
	if x.Len() != 1 {
		t.Errorf("expected a rejected insert not to allocate, got %d nodes", x.Len())
	}
}

func TestIndexKeyZero(t *testing.T) {
	x := newTestIndex(t, 4, 4)
	if err := x.Insert(0, 9); err != nil {
		t.Fatalf("failed to insert key 0: %v", err)
	}
	if got, err := x.Find(0); err != nil || got != 9 {
		t.Errorf("expected key 0 to map to 9, got %d, %v", got, err)
	}
}

func TestIndexExhausted(t *testing.T) {
	x := newTestIndex(t, 2, 2)
	for _, k := range []uint32{1, 2} {
		if err := x.Insert(k, 1); err != nil {
			t.Fatalf("failed to insert: %v", err)
		}
	}
	if err := x.Insert(3, 1); !errors.Is(err, arena.ErrExhausted) {
		t.Fatalf("expected arena.ErrExhausted, got %v", err)
	}
	if x.Has(3) {
		t.Error("expected a failed insert not to be indexed")
	}
	x.Reset()
	if x.Len() != 0 || x.Has(1) {
		t.Error("expected reset to empty the index")
	}
}
