// Package index implements a separate-chaining hash index from integer keys to
// arena handles. Buckets and chain nodes live in arena memory.
package index

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/holmberd/go-pmlru/internal/arena"
)

var (
	ErrKeyNotFound  = errors.New("key not found")
	ErrDuplicateKey = errors.New("duplicate key")
)

// Node is a chain link. Its bucket is Key % table size.
type Node struct {
	Key  uint32
	Elem arena.Handle // Owning list element; the index does not own it.
	Next arena.Handle
}

// Stats represents index occupancy.
type Stats struct {
	Keys         int
	UsedBuckets  int
	LongestChain int
	NodesFree    int
	BucketsTotal int
}

// Index is a fixed-size table of bucket chains. Not safe for concurrent use.
type Index struct {
	buckets []arena.Handle // Head node of each chain, or arena.Nil.
	nodes   *arena.Pool[Node]
}

// BucketsSize returns the number of bytes needed for a table of tableSize buckets.
func BucketsSize(tableSize int) int {
	return tableSize * int(unsafe.Sizeof(arena.Handle(0)))
}

// New creates an index over bucket memory of BucketsSize(tableSize) bytes and a
// node pool. Existing contents of both are kept.
func New(buckets []byte, nodes *arena.Pool[Node], tableSize int) *Index {
	if tableSize <= 0 || len(buckets) < BucketsSize(tableSize) {
		panic(fmt.Errorf("internal error: %d bucket bytes for a table of %d", len(buckets), tableSize))
	}
	return &Index{
		buckets: unsafe.Slice((*arena.Handle)(unsafe.Pointer(&buckets[0])), tableSize),
		nodes:   nodes,
	}
}

func (x *Index) bucket(key uint32) *arena.Handle {
	return &x.buckets[key%uint32(len(x.buckets))]
}

// Insert maps key to elem, appending a node to the tail of the key's bucket chain.
// The error is ErrDuplicateKey if the key is already indexed, or wraps
// arena.ErrExhausted if no node can be allocated. The index is unchanged on error.
func (x *Index) Insert(key uint32, elem arena.Handle) error {
	link := x.bucket(key)
	for *link != arena.Nil {
		n := x.nodes.Get(*link)
		if n.Key == key {
			return fmt.Errorf("%w: %d", ErrDuplicateKey, key)
		}
		link = &n.Next
	}
	h, err := x.nodes.Alloc()
	if err != nil {
		return err
	}
	n := x.nodes.Get(h)
	n.Key = key
	n.Elem = elem
	*link = h
	return nil
}

// Find returns the element handle mapped to key.
func (x *Index) Find(key uint32) (arena.Handle, error) {
	for h := *x.bucket(key); h != arena.Nil; {
		n := x.nodes.Get(h)
		if n.Key == key {
			return n.Elem, nil
		}
		h = n.Next
	}
	return arena.Nil, fmt.Errorf("%w: %d", ErrKeyNotFound, key)
}

// Has returns whether key is indexed.
func (x *Index) Has(key uint32) bool {
	_, err := x.Find(key)
	return err == nil
}

// Len returns the number of indexed keys.
func (x *Index) Len() int {
	return x.nodes.Len()
}

// Remaining returns how many more keys can be inserted.
func (x *Index) Remaining() int {
	return x.nodes.Remaining()
}

// Stats walks every chain and returns the index occupancy.
func (x *Index) Stats() Stats {
	s := Stats{
		Keys:         x.nodes.Len(),
		NodesFree:    x.nodes.Remaining(),
		BucketsTotal: len(x.buckets),
	}
	for _, h := range x.buckets {
		if h == arena.Nil {
			continue
		}
		s.UsedBuckets++
		n := 0
		for ; h != arena.Nil; h = x.nodes.Get(h).Next {
			n++
		}
		s.LongestChain = max(s.LongestChain, n)
	}
	return s
}

// Reset empties the index.
func (x *Index) Reset() {
	clear(x.buckets)
	x.nodes.Reset()
}
