package pmlru

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/holmberd/go-pmlru/internal/arena"
	"github.com/holmberd/go-pmlru/internal/redo"
)

// element is a list element. Elements form a singly linked chain from the head
// (most recently accessed) to the tail (Next == arena.Nil).
type element struct {
	Key   uint32
	Next  arena.Handle
	Value arena.Handle // Slot in the value slab.
	Size  uint32       // Value length.
}

// Element identifies a list element. It is stable for the lifetime of the store;
// an Access relocates an element within the list, not in memory.
type Element uint32

var handleSize = int(unsafe.Sizeof(arena.Handle(0)))

func encodeHandle(h arena.Handle) []byte {
	b := make([]byte, handleSize)
	binary.NativeEndian.PutUint32(b, uint32(h))
	return b
}

func decodeHandle(b []byte) arena.Handle {
	return arena.Handle(binary.NativeEndian.Uint32(b))
}

func handleBytes(h *arena.Handle) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(h)), handleSize)
}

func headTarget() redo.Target {
	return redo.Target{Kind: redo.KindHead}
}

func nextTarget(h arena.Handle) redo.Target {
	return redo.Target{Kind: redo.KindNext, Elem: h}
}

func valueTarget(h arena.Handle) redo.Target {
	return redo.Target{Kind: redo.KindValue, Elem: h}
}

// The read view: a field with a pending intent reads as the latest logged bytes,
// any other field reads from memory.

func (s *Store) head() arena.Handle {
	if p, ok := s.tx.Pending(headTarget()); ok {
		return decodeHandle(p)
	}
	return s.sb.Head
}

func (s *Store) next(h arena.Handle) arena.Handle {
	if p, ok := s.tx.Pending(nextTarget(h)); ok {
		return decodeHandle(p)
	}
	return s.elems.Get(h).Next
}

func (s *Store) value(h arena.Handle) []byte {
	if p, ok := s.tx.Pending(valueTarget(h)); ok {
		return p
	}
	e := s.elems.Get(h)
	return s.values.Bytes(e.Value)[:e.Size]
}

// walk calls fn for each element from the head, with its 0-based position, until
// fn returns false. The error is ErrListCorrupted if the chain is longer than the
// number of elements.
func (s *Store) walk(fn func(pos int, h arena.Handle) bool) error {
	n := s.elems.Len()
	pos := 0
	for h := s.head(); h != arena.Nil; h = s.next(h) {
		if pos >= n {
			return fmt.Errorf("%w: chain is longer than %d elements", ErrListCorrupted, n)
		}
		if !fn(pos, h) {
			return nil
		}
		pos++
	}
	return nil
}

// pushFront links a new element at the head in place. Only the bulk load uses it.
func (s *Store) pushFront(h arena.Handle) {
	s.elems.Get(h).Next = s.sb.Head
	s.sb.Head = h
}

// position returns the 0-based position of elem counted from the head.
func (s *Store) position(elem arena.Handle) (int, error) {
	found := -1
	err := s.walk(func(pos int, h arena.Handle) bool {
		if h == elem {
			found = pos
			return false
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	if found < 0 {
		return 0, fmt.Errorf("%w: element %d is indexed but not linked", ErrListCorrupted, elem)
	}
	return found, nil
}

// predecessor returns the element linked before elem. elem must not be the head.
func (s *Store) predecessor(elem arena.Handle) (arena.Handle, error) {
	prev := arena.Nil
	err := s.walk(func(_ int, h arena.Handle) bool {
		if s.next(h) == elem {
			prev = h
			return false
		}
		return true
	})
	if err != nil {
		return arena.Nil, err
	}
	if prev == arena.Nil {
		return arena.Nil, fmt.Errorf("%w: element %d is indexed but not linked", ErrListCorrupted, elem)
	}
	return prev, nil
}

// moveToFront logs the four intents that move elem to the head with a new value:
// unlink it from prev, splice it before the head, overwrite its value, and make
// it the head. Replaying them in this order yields a well formed list.
func (s *Store) moveToFront(key uint32, elem, prev, head arena.Handle) error {
	size := int(s.elems.Get(elem).Size)
	if err := s.tx.Reserve(IntentsPerAccess, handleSize, handleSize, size, handleSize); err != nil {
		return err
	}
	payload := s.scratch[:size]
	s.config.Payload(key, payload)

	intents := [IntentsPerAccess]struct {
		target redo.Target
		value  []byte
	}{
		{nextTarget(prev), encodeHandle(s.next(elem))},
		{nextTarget(elem), encodeHandle(head)},
		{valueTarget(elem), payload},
		{headTarget(), encodeHandle(elem)},
	}
	for _, in := range intents {
		if err := s.tx.Append(in.target, in.value); err != nil {
			// Reserve guarantees room for every intent.
			panic(fmt.Errorf("internal error: append after reserve: %w", err))
		}
	}
	return nil
}

// resolver maps intent targets to store memory for the transaction controller.
type resolver struct {
	s *Store
}

func (r resolver) Resolve(t redo.Target) ([]byte, error) {
	s := r.s
	if t.Kind != redo.KindHead && (t.Elem == arena.Nil || int(t.Elem) > s.elems.Len()) {
		return nil, fmt.Errorf("%w: target %s is not an allocated element", ErrLogCorrupted, t)
	}
	switch t.Kind {
	case redo.KindHead:
		return handleBytes(&s.sb.Head), nil
	case redo.KindNext:
		return handleBytes(&s.elems.Get(t.Elem).Next), nil
	case redo.KindValue:
		e := s.elems.Get(t.Elem)
		return s.values.Bytes(e.Value)[:e.Size], nil
	default:
		return nil, fmt.Errorf("%w: unknown target kind %s", ErrLogCorrupted, t.Kind)
	}
}
