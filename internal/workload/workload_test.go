package workload

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestGenerate(t *testing.T) {
	c := Config{Elements: 1000, Ops: 500, WritePercent: 20, Workers: 3}
	w, err := Generate(context.Background(), c)
	if err != nil {
		t.Fatalf("failed to generate workload: %v", err)
	}

	if len(w.Keys) != c.Elements {
		t.Fatalf("expected %d keys, got %d", c.Elements, len(w.Keys))
	}
	seen := make(map[uint32]bool)
	for _, k := range w.Keys {
		if seen[k] {
			t.Fatalf("duplicate key %d", k)
		}
		seen[k] = true
	}

	if len(w.Ops) != c.Ops {
		t.Fatalf("expected %d ops, got %d", c.Ops, len(w.Ops))
	}
	writes := 0
	for _, op := range w.Ops {
		if !seen[op.Key] {
			t.Fatalf("op key %d was never loaded", op.Key)
		}
		if op.Write {
			writes++
		}
	}
	if writes != 100 || w.Writes != 100 {
		t.Fatalf("expected 100 writes, got %d (reported %d)", writes, w.Writes)
	}
	if w.HashSeed%2 != 1 || w.HashSeed >= 1<<48 {
		t.Fatalf("expected an odd 48-bit hash seed, got %d", w.HashSeed)
	}
}

func TestGenerateDeterministic(t *testing.T) {
	c := Config{Elements: 256, Ops: 64, WritePercent: 50, Seed: 7}
	a, err := Generate(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	c.Workers = 5
	b, err := Generate(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(a.Keys, b.Keys) || !slices.Equal(a.Ops, b.Ops) {
		t.Fatal("expected the same workload regardless of worker count")
	}

	c.Seed++
	d, err := Generate(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if slices.Equal(a.Keys, d.Keys) {
		t.Fatal("expected a different seed to change the keys")
	}
}

func TestGenerateWritePercentBounds(t *testing.T) {
	testCases := []struct {
		percent float64
		want    int
	}{
		{0, 0},
		{100, 40},
		{12.5, 5},
	}
	for _, tc := range testCases {
		w, err := Generate(context.Background(), Config{Elements: 10, Ops: 40, WritePercent: tc.percent})
		if err != nil {
			t.Fatal(err)
		}
		if w.Writes != tc.want {
			t.Errorf("write percent %g: expected %d writes, got %d", tc.percent, tc.want, w.Writes)
		}
	}
}

func TestGenerateCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Generate(ctx, Config{Elements: 10, Ops: 1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name string
		c    Config
	}{
		{"Zero elements", Config{Ops: 1}},
		{"Negative ops", Config{Elements: 1, Ops: -1}},
		{"Write percent over 100", Config{Elements: 1, WritePercent: 101}},
		{"Negative workers", Config{Elements: 1, Workers: -1}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.c.Validate(); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestHashID(t *testing.T) {
	if HashID(42, 1) != HashID(42, 1) {
		t.Fatal("expected HashID to be deterministic")
	}
	if HashID(42, 1) == HashID(42, 3) {
		t.Fatal("expected the seed to change the key")
	}
}

func TestPreset(t *testing.T) {
	testCases := []struct {
		preset Preset
		want   int
	}{
		{L1Fit, 320},       // 0.9 * floor(32768 / 92)
		{L2Fit, 5128},      // 0.9 * 5698
		{LLCFit, 20515},    // 0.9 * 22795
		{LLCNotFit, 91180}, // 4 * 22795
	}
	for _, tc := range testCases {
		t.Run(string(tc.preset), func(t *testing.T) {
			if got := tc.preset.Elements(92, 64); got != tc.want {
				t.Fatalf("expected %d elements, got %d", tc.want, got)
			}
		})
	}

	if got := LLCFit.Elements(92, 128); got != LargeValueElements {
		t.Fatalf("expected %d elements for large values, got %d", LargeValueElements, got)
	}

	p, err := ParsePreset("llcnf")
	if err != nil || p != LLCNotFit {
		t.Fatalf("expected llcnf, got %q, %v", p, err)
	}
	if _, err := ParsePreset("l3f"); err == nil {
		t.Fatal("expected an error for an unknown preset")
	}
}

func TestBitmap(t *testing.T) {
	b := newBitmap(130)
	for _, i := range []int{0, 63, 64, 129} {
		b.Set(i)
	}
	if !b.Test(63) || !b.Test(64) || b.Test(65) {
		t.Fatal("unexpected bit state")
	}
	if b.Count() != 4 {
		t.Fatalf("expected 4 bits set, got %d", b.Count())
	}
}
