package pmlru

import (
	"math/rand"
	"testing"
)

// go clean -testcache && go test -bench=BenchmarkStore -benchtime=5s -benchmem .

const benchElements = 1 << 12

func newBenchStore(b *testing.B, logRecords int) *Store {
	c := DefaultConfig()
	c.Capacity = benchElements
	c.TableSize = benchElements / 4
	c.LogRecords = logRecords
	s, err := New(c)
	if err != nil {
		b.Fatal(err)
	}
	v := make([]byte, c.ValueSize)
	for k := range uint32(benchElements) {
		if err := s.Insert(k, v); err != nil {
			b.Fatalf("failed to insert key %d: %v", k, err)
		}
	}
	return s
}

// BenchmarkStoreFind measures index lookups.
func BenchmarkStoreFind(b *testing.B) {
	s := newBenchStore(b, IntentsPerAccess)
	defer s.Close()

	rng := rand.New(rand.NewSource(1))
	b.ResetTimer()
	b.ReportAllocs()
	for b.Loop() {
		if _, err := s.Find(uint32(rng.Intn(benchElements))); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkStorePeek measures position queries, which walk the list.
func BenchmarkStorePeek(b *testing.B) {
	s := newBenchStore(b, IntentsPerAccess)
	defer s.Close()

	rng := rand.New(rand.NewSource(1))
	b.ResetTimer()
	b.ReportAllocs()
	for b.Loop() {
		if _, err := s.Peek(uint32(rng.Intn(benchElements))); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkStoreAccess measures one access per transaction, committed and applied.
func BenchmarkStoreAccess(b *testing.B) {
	s := newBenchStore(b, IntentsPerAccess)
	defer s.Close()

	rng := rand.New(rand.NewSource(1))
	b.ResetTimer()
	b.ReportAllocs()
	for b.Loop() {
		if err := s.Access(uint32(rng.Intn(benchElements))); err != nil {
			b.Fatal(err)
		}
		if err := s.CommitAndApply(); err != nil {
			b.Fatal(err)
		}
	}
}
