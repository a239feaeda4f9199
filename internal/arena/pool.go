package arena

import (
	"fmt"
	"math"
	"unsafe"
)

// Handle identifies an allocation within a Pool or Slab. The zero value is the
// nil handle, so zeroed memory decodes as an empty structure.
type Handle uint32

const Nil Handle = 0

// header is stored in the first cache line of every arena's memory. Keeping the
// cursor inside the arena lets a file-backed region be reopened with its
// allocation state intact. Capacities are limited to MaxCapacity so that the
// cursor cannot wrap.
type header struct {
	cursor   uint32 // Allocated items (pools, slabs) or bytes (Bytes).
	capacity uint32
}

// MaxCapacity is the largest capacity of any arena, in items or bytes.
const MaxCapacity = math.MaxUint32 - 1

const (
	headerSize  = CacheLine
	headerBytes = int(unsafe.Sizeof(header{}))
)

func newHeader(mem []byte, capacity int, need int, name string) *header {
	if capacity < 0 || uint64(capacity) > MaxCapacity {
		panic(fmt.Errorf("internal error: arena %s capacity %d exceeds %d", name, capacity, uint64(MaxCapacity)))
	}
	if len(mem) < need {
		panic(fmt.Errorf("internal error: arena %s needs %d bytes, got %d", name, need, len(mem)))
	}
	h := (*header)(unsafe.Pointer(&mem[0]))
	h.capacity = uint32(capacity)
	return h
}

func exhausted(name string, capacity int) error {
	return fmt.Errorf("%w: %s (capacity %d)", ErrExhausted, name, capacity)
}

// Pool is a fixed-capacity bump allocator of T values.
//
// T must not contain Go pointers: pool memory lives outside the Go heap and is
// invisible to the garbage collector. Link between items with Handles instead.
// Not safe for concurrent use.
type Pool[T any] struct {
	name  string
	hdr   *header
	mem   []byte
	items []T
}

// PoolSize returns the number of bytes a Pool of capacity items occupies.
func PoolSize[T any](capacity int) int {
	var t T
	return headerSize + capacity*int(unsafe.Sizeof(t))
}

// NewPool creates a pool of capacity items over mem, which must be cache line
// aligned and at least PoolSize[T](capacity) bytes. An existing cursor in mem is kept.
func NewPool[T any](name string, mem []byte, capacity int) *Pool[T] {
	p := &Pool[T]{
		name: name,
		hdr:  newHeader(mem, capacity, PoolSize[T](capacity), name),
		mem:  mem,
	}
	if capacity > 0 {
		p.items = unsafe.Slice((*T)(unsafe.Pointer(&mem[headerSize])), capacity)
	}
	return p
}

// Alloc returns a handle to a zeroed item.
func (p *Pool[T]) Alloc() (Handle, error) {
	if int(p.hdr.cursor) >= len(p.items) {
		return Nil, exhausted(p.name, len(p.items))
	}
	p.hdr.cursor++
	h := Handle(p.hdr.cursor)
	var zero T
	p.items[h-1] = zero // Memory may be dirty after a Reset.
	return h, nil
}

// Get returns the item for an allocated handle. It panics on the nil handle or a
// handle that was never allocated.
func (p *Pool[T]) Get(h Handle) *T {
	if h == Nil || uint32(h) > p.hdr.cursor {
		panic(fmt.Errorf("internal error: %s handle %d out of range [1, %d]", p.name, h, p.hdr.cursor))
	}
	return &p.items[h-1]
}

// Span returns the memory backing the item for h.
func (p *Pool[T]) Span(h Handle) []byte {
	var t T
	return unsafe.Slice((*byte)(unsafe.Pointer(p.Get(h))), unsafe.Sizeof(t))
}

// CursorSpan returns the memory backing the pool's allocation cursor.
func (p *Pool[T]) CursorSpan() []byte {
	return p.mem[:headerBytes]
}

func (p *Pool[T]) Len() int       { return int(p.hdr.cursor) }
func (p *Pool[T]) Cap() int       { return len(p.items) }
func (p *Pool[T]) Remaining() int { return len(p.items) - int(p.hdr.cursor) }

// Reset discards every allocation. Previously returned handles must not be used.
func (p *Pool[T]) Reset() {
	p.hdr.cursor = 0
}

// Slab is a fixed-capacity bump allocator of equally sized byte slots.
// Not safe for concurrent use.
type Slab struct {
	name     string
	hdr      *header
	mem      []byte
	slotSize int
	capacity int
}

// SlabSize returns the number of bytes a Slab of capacity slots occupies.
func SlabSize(slotSize, capacity int) int {
	return headerSize + slotSize*capacity
}

// NewSlab creates a slab of capacity slots of slotSize bytes over mem.
func NewSlab(name string, mem []byte, slotSize, capacity int) *Slab {
	return &Slab{
		name:     name,
		hdr:      newHeader(mem, capacity, SlabSize(slotSize, capacity), name),
		mem:      mem,
		slotSize: slotSize,
		capacity: capacity,
	}
}

// Alloc returns a handle to a zeroed slot.
func (s *Slab) Alloc() (Handle, error) {
	if int(s.hdr.cursor) >= s.capacity {
		return Nil, exhausted(s.name, s.capacity)
	}
	s.hdr.cursor++
	h := Handle(s.hdr.cursor)
	clear(s.Bytes(h))
	return h, nil
}

// Bytes returns the slot for an allocated handle.
func (s *Slab) Bytes(h Handle) []byte {
	if h == Nil || uint32(h) > s.hdr.cursor {
		panic(fmt.Errorf("internal error: %s handle %d out of range [1, %d]", s.name, h, s.hdr.cursor))
	}
	start := headerSize + (int(h)-1)*s.slotSize
	end := start + s.slotSize
	return s.mem[start:end:end]
}

func (s *Slab) Len() int       { return int(s.hdr.cursor) }
func (s *Slab) Cap() int       { return s.capacity }
func (s *Slab) Remaining() int { return s.capacity - int(s.hdr.cursor) }
func (s *Slab) Reset()         { s.hdr.cursor = 0 }

// Bytes is a fixed-capacity bump allocator of variable sized byte ranges, each
// aligned to 8 bytes. Allocations are addressed by their offset.
// Not safe for concurrent use.
type Bytes struct {
	name     string
	hdr      *header
	data     []byte
	capacity int
}

const bytesAlign = 8

// BytesSize returns the number of bytes a Bytes arena of capacity bytes occupies.
func BytesSize(capacity int) int {
	return headerSize + alignUp(capacity, bytesAlign)
}

// NewBytes creates a byte arena of capacity bytes over mem.
func NewBytes(name string, mem []byte, capacity int) *Bytes {
	capacity = alignUp(capacity, bytesAlign)
	b := &Bytes{
		name:     name,
		hdr:      newHeader(mem, capacity, BytesSize(capacity), name),
		capacity: capacity,
	}
	b.data = mem[headerSize : headerSize+capacity : headerSize+capacity]
	return b
}

// Alloc reserves n bytes and returns their offset and memory.
func (b *Bytes) Alloc(n int) (off uint32, p []byte, err error) {
	start := int(b.hdr.cursor)
	end := start + alignUp(n, bytesAlign)
	if n < 0 || end > b.capacity {
		return 0, nil, exhausted(b.name, b.capacity)
	}
	b.hdr.cursor = uint32(end)
	p = b.data[start : start+n : start+n]
	clear(p)
	return uint32(start), p, nil
}

// At returns n bytes at off. It panics if the range was never allocated.
func (b *Bytes) At(off uint32, n int) []byte {
	end := int(off) + n
	if n < 0 || end > int(b.hdr.cursor) {
		panic(fmt.Errorf("internal error: %s range [%d, %d) out of bounds [0, %d)", b.name, off, end, b.hdr.cursor))
	}
	return b.data[off:end:end]
}

// Fits reports whether allocations of the given sizes would all succeed.
func (b *Bytes) Fits(sizes ...int) bool {
	used := int(b.hdr.cursor)
	for _, n := range sizes {
		used += alignUp(n, bytesAlign)
	}
	return used <= b.capacity
}

// CursorSpan returns the memory backing the arena's allocation cursor.
func (b *Bytes) CursorSpan() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(b.hdr)), headerBytes)
}

func (b *Bytes) Len() int       { return int(b.hdr.cursor) }
func (b *Bytes) Cap() int       { return b.capacity }
func (b *Bytes) Remaining() int { return b.capacity - int(b.hdr.cursor) }
func (b *Bytes) Reset()         { b.hdr.cursor = 0 }
