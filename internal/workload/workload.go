// Package workload generates the keys and the read/write mix of an LRU
// benchmark run. Generation is deterministic for a given Config.
package workload

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"
)

// IDSpaceFactor is the ratio of the id space load ids are drawn from to the
// number of elements.
const IDSpaceFactor = 5

const seedBits = 48

type Config struct {
	Elements     int
	Ops          int
	WritePercent float64 // Share of ops that are writes, 0 to 100.
	Seed         int64
	Workers      int // Key hashing goroutines. Zero means GOMAXPROCS.
}

func (c Config) Validate() error {
	var errs []error
	if c.Elements <= 0 {
		errs = append(errs, fmt.Errorf("invalid workload: elements %d must be positive", c.Elements))
	}
	if c.Ops < 0 {
		errs = append(errs, fmt.Errorf("invalid workload: ops %d must not be negative", c.Ops))
	}
	if c.WritePercent < 0 || c.WritePercent > 100 {
		errs = append(errs, fmt.Errorf("invalid workload: write percent %g must be between 0 and 100", c.WritePercent))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("invalid workload: workers %d must not be negative", c.Workers))
	}
	return errors.Join(errs...)
}

// Op is a single benchmark operation on Key: an access if Write is set,
// otherwise a peek.
type Op struct {
	Key   uint32
	Write bool
}

type Workload struct {
	HashSeed uint64
	Keys     []uint32 // Load order. Keys are unique.
	Ops      []Op
	Writes   int
}

// Generate builds a workload: Elements unique load ids drawn from an id space
// IDSpaceFactor times larger, each hashed to a 32-bit key, and Ops operations
// on uniformly chosen keys of which exactly Ops*WritePercent/100 are writes.
func Generate(ctx context.Context, c Config) (*Workload, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	w := &Workload{}

	rng := rand.New(rand.NewSource(c.Seed))
	used := newBitmap(IDSpaceFactor * c.Elements)
	drawID := func() uint64 {
		for {
			i := rng.Intn(used.Len())
			if !used.Test(i) {
				used.Set(i)
				return uint64(i) + 1
			}
		}
	}
	ids := make([]uint64, c.Elements)
	for i := range ids {
		ids[i] = drawID()
	}
	w.HashSeed = oddSeed(rng)

	w.Keys = make([]uint32, c.Elements)
	if err := hashIDs(ctx, ids, w.Keys, w.HashSeed, c.Workers); err != nil {
		return nil, err
	}
	// Distinct ids can hash to the same key. Replace them with fresh ids.
	seen := make(map[uint32]struct{}, len(w.Keys))
	for i, k := range w.Keys {
		for {
			if _, dup := seen[k]; !dup {
				break
			}
			k = HashID(drawID(), w.HashSeed)
		}
		seen[k] = struct{}{}
		w.Keys[i] = k
	}

	writes := writeBitmap(c.Ops, int(float64(c.Ops)*c.WritePercent/100), c.Seed+11)
	w.Writes = writes.Count()
	choice := rand.New(rand.NewSource(c.Seed + 37))
	w.Ops = make([]Op, c.Ops)
	for i := range w.Ops {
		w.Ops[i] = Op{Key: w.Keys[choice.Intn(c.Elements)], Write: writes.Test(i)}
	}
	return w, nil
}

// HashID hashes the decimal form of id to a key.
func HashID(id, seed uint64) uint32 {
	d := xxhash.NewWithSeed(seed)
	d.WriteString(strconv.FormatUint(id, 10))
	return uint32(d.Sum64())
}

func hashIDs(ctx context.Context, ids []uint64, keys []uint32, seed uint64, workers int) error {
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	chunk := (len(ids) + workers - 1) / workers
	g, ctx := errgroup.WithContext(ctx)
	for start := 0; start < len(ids); start += chunk {
		end := min(start+chunk, len(ids))
		g.Go(func() error {
			d := xxhash.NewWithSeed(seed)
			var buf [20]byte
			for i := start; i < end; i++ {
				if i%4096 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				d.ResetWithSeed(seed)
				d.Write(strconv.AppendUint(buf[:0], ids[i], 10))
				keys[i] = uint32(d.Sum64())
			}
			return nil
		})
	}
	return g.Wait()
}

// oddSeed draws an odd seed below 2^48.
func oddSeed(rng *rand.Rand) uint64 {
	for {
		s := uint64(rng.Int63n(1<<seedBits - 1))
		if s%2 == 1 {
			return s
		}
	}
}

// writeBitmap marks exactly writes of ops positions, chosen uniformly.
func writeBitmap(ops, writes int, seed int64) bitmap {
	b := newBitmap(ops)
	rng := rand.New(rand.NewSource(seed))
	for n := 0; n < writes; {
		i := rng.Intn(ops)
		if b.Test(i) {
			continue
		}
		b.Set(i)
		n++
	}
	return b
}
