package pmlru

import (
	"fmt"
	"unsafe"

	"github.com/holmberd/go-pmlru/internal/arena"
	"github.com/holmberd/go-pmlru/internal/index"
	"github.com/holmberd/go-pmlru/internal/redo"
)

const (
	magic         = 0x75726c6d70 // "pmlru"
	layoutVersion = 1
)

// superblock is the root of a store's region. It records the geometry the region
// was laid out with, and holds the list head.
type superblock struct {
	Magic      uint64
	Version    uint32
	Capacity   uint32
	ValueSize  uint32
	TableSize  uint32
	LogRecords uint32
	Head       arena.Handle
}

func superblockSize() int {
	return int(unsafe.Sizeof(superblock{}))
}

// payloadBytes returns the payload arena capacity for a log of c.LogRecords.
// Every record's payload is either a handle or a value, each rounded up to 8 bytes.
func payloadBytes(c Config) int {
	return c.LogRecords * payloadSlot(c)
}

func payloadSlot(c Config) int {
	return (max(c.ValueSize, 4) + 7) &^ 7
}

// carveSizes returns the size of every sub-arena in carve order.
func carveSizes(c Config) []int {
	return []int{
		superblockSize(),
		index.BucketsSize(c.TableSize),
		arena.PoolSize[index.Node](c.Capacity),
		arena.PoolSize[element](c.Capacity),
		arena.SlabSize(c.ValueSize, c.Capacity),
		redo.ControlBlockSize(),
		arena.PoolSize[redo.Record](c.LogRecords),
		arena.BytesSize(payloadBytes(c)),
	}
}

// regionSize returns the region size needed to lay out a store for c.
func regionSize(c Config) int {
	n := 0
	for _, s := range carveSizes(c) {
		n += (s + arena.CacheLine - 1) &^ (arena.CacheLine - 1)
	}
	return n
}

// layout carves every sub-arena of the store out of r.
func (s *Store) layout(r *arena.Region) error {
	c := s.config
	mem := make([][]byte, 0, 8)
	for _, n := range carveSizes(c) {
		m, err := r.Carve(n)
		if err != nil {
			return err
		}
		mem = append(mem, m)
	}
	s.sbMem = mem[0]
	s.sb = (*superblock)(unsafe.Pointer(&mem[0][0]))
	s.nodes = arena.NewPool[index.Node]("index nodes", mem[2], c.Capacity)
	s.index = index.New(mem[1], s.nodes, c.TableSize)
	s.elems = arena.NewPool[element]("list elements", mem[3], c.Capacity)
	s.values = arena.NewSlab("values", mem[4], c.ValueSize, c.Capacity)
	log := redo.NewLog(
		mem[5],
		arena.NewPool[redo.Record]("log records", mem[6], c.LogRecords),
		arena.NewBytes("log payloads", mem[7], payloadBytes(c)),
	)
	s.tx = redo.NewTx(log, s.barrier, resolver{s}, s.logger)
	return nil
}

// format writes a fresh superblock.
func (s *Store) format() {
	*s.sb = superblock{
		Magic:      magic,
		Version:    layoutVersion,
		Capacity:   uint32(s.config.Capacity),
		ValueSize:  uint32(s.config.ValueSize),
		TableSize:  uint32(s.config.TableSize),
		LogRecords: uint32(s.config.LogRecords),
	}
	s.barrier.Flush(s.sbMem)
}

// verify checks that an existing superblock matches the store's config.
func (s *Store) verify() error {
	sb := s.sb
	if sb.Magic != magic {
		return fmt.Errorf("%w: %x", ErrBadMagic, sb.Magic)
	}
	c := s.config
	if sb.Version != layoutVersion ||
		sb.Capacity != uint32(c.Capacity) ||
		sb.ValueSize != uint32(c.ValueSize) ||
		sb.TableSize != uint32(c.TableSize) ||
		sb.LogRecords != uint32(c.LogRecords) {
		return fmt.Errorf(
			"%w: file has version=%d capacity=%d valueSize=%d tableSize=%d logRecords=%d",
			ErrGeometryMismatch, sb.Version, sb.Capacity, sb.ValueSize, sb.TableSize, sb.LogRecords,
		)
	}
	return nil
}

// ElementBytes returns the bytes a single element occupies in a store with the
// given value size: its index node, its list element and its value slot.
func ElementBytes(valueSize int) int {
	return int(unsafe.Sizeof(index.Node{})+unsafe.Sizeof(element{})) + valueSize
}
