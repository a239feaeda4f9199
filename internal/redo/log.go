// Package redo implements a write-ahead REDO log of intended writes and the
// transaction controller that makes the log durable before applying it.
//
// A write is never made in place while a transaction is logging. It is appended
// as an intent record naming its target and carrying a snapshot of the new bytes.
// Commit flushes the whole log, and only then does Apply copy each record's bytes
// into its target, in log order.
package redo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"github.com/holmberd/go-pmlru/internal/arena"
)

var (
	ErrLogCorrupted = errors.New("redo log is corrupted")
	ErrCommitted    = errors.New("redo log is committed and must be applied first")
	ErrNotCommitted = errors.New("redo log must be committed before it is applied")
	ErrSizeMismatch = errors.New("intent size does not match its target")
	ErrPending      = errors.New("redo log has pending intents")
)

// Kind identifies the field a record writes to.
type Kind uint8

const (
	KindNext  Kind = iota + 1 // Next link of a list element.
	KindValue                 // Value buffer of a list element.
	KindHead                  // List head pointer.
)

func (k Kind) String() string {
	switch k {
	case KindNext:
		return "next"
	case KindValue:
		return "value"
	case KindHead:
		return "head"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Target names a mutation site. Elem is arena.Nil for KindHead.
type Target struct {
	Kind Kind
	Elem arena.Handle
}

func (t Target) String() string {
	if t.Kind == KindHead {
		return t.Kind.String()
	}
	return fmt.Sprintf("%s(%d)", t.Kind, t.Elem)
}

// Record is an intent record: write Size payload bytes to the target once durable.
type Record struct {
	Kind    Kind
	_       [3]byte
	Elem    arena.Handle
	Payload uint32 // Offset in the payload arena.
	Size    uint32
	Next    arena.Handle
}

func (r *Record) Target() Target {
	return Target{Kind: r.Kind, Elem: r.Elem}
}

// ControlBlock is the log's root. It is the first and the last thing flushed on commit.
type ControlBlock struct {
	State    State
	Count    uint32
	Head     arena.Handle
	Tail     arena.Handle
	Checksum uint64 // Set when the log is committed.
}

// ControlBlockSize returns the number of bytes a control block occupies.
func ControlBlockSize() int {
	return int(unsafe.Sizeof(ControlBlock{}))
}

// Entry is a decoded intent record.
type Entry struct {
	Target Target
	Value  []byte
}

// Log is an append-only queue of intent records; insertion order is list order.
// Not safe for concurrent use.
type Log struct {
	cb       *ControlBlock
	cbMem    []byte
	records  *arena.Pool[Record]
	payloads *arena.Bytes

	// pending maps a target to its latest record, so reads can see logged writes
	// without scanning the log. It is volatile and rebuilt from the records.
	pending map[Target]arena.Handle
}

// NewLog creates a log over control block memory of ControlBlockSize bytes, a
// record pool and a payload arena. Existing contents are kept.
func NewLog(cbMem []byte, records *arena.Pool[Record], payloads *arena.Bytes) *Log {
	if len(cbMem) < ControlBlockSize() {
		panic(fmt.Errorf("internal error: control block needs %d bytes, got %d", ControlBlockSize(), len(cbMem)))
	}
	l := &Log{
		cb:       (*ControlBlock)(unsafe.Pointer(&cbMem[0])),
		cbMem:    cbMem[:ControlBlockSize()],
		records:  records,
		payloads: payloads,
		pending:  make(map[Target]arena.Handle),
	}
	if err := l.rebuildPending(); err != nil {
		// Recovery will report the corruption; reads see physical state meanwhile.
		clear(l.pending)
	}
	return l
}

// Fits reports whether n records with the given payload sizes can be appended.
func (l *Log) Fits(n int, sizes ...int) bool {
	return l.records.Remaining() >= n && l.payloads.Fits(sizes...)
}

// Append snapshots value into a new record at the tail of the log.
func (l *Log) Append(t Target, value []byte) (arena.Handle, error) {
	if !l.payloads.Fits(len(value)) {
		// Checked first so a full payload arena does not leak a record.
		_, _, err := l.payloads.Alloc(len(value))
		return arena.Nil, err
	}
	h, err := l.records.Alloc()
	if err != nil {
		return arena.Nil, err
	}
	off, p, err := l.payloads.Alloc(len(value))
	if err != nil {
		panic(fmt.Errorf("internal error: payload allocation failed after fit check: %w", err))
	}
	copy(p, value)

	r := l.records.Get(h)
	r.Kind = t.Kind
	r.Elem = t.Elem
	r.Payload = off
	r.Size = uint32(len(value))

	if l.cb.Head == arena.Nil {
		l.cb.Head = h
	} else {
		l.records.Get(l.cb.Tail).Next = h
	}
	l.cb.Tail = h
	l.cb.Count++
	l.pending[t] = h
	return h, nil
}

// Pending returns the payload of the latest record for t.
func (l *Log) Pending(t Target) ([]byte, bool) {
	h, ok := l.pending[t]
	if !ok {
		return nil, false
	}
	return l.Payload(l.records.Get(h)), true
}

// Payload returns the bytes a record writes.
func (l *Log) Payload(r *Record) []byte {
	return l.payloads.At(r.Payload, int(r.Size))
}

// Walk calls fn for each record in log order. It stops at the first error.
// The error is ErrLogCorrupted if the record chain is not well formed.
func (l *Log) Walk(fn func(h arena.Handle, r *Record) error) error {
	h := l.cb.Head
	for i := uint32(0); i < l.cb.Count; i++ {
		if h == arena.Nil || int(h) > l.records.Len() {
			return fmt.Errorf("%w: record %d of %d has handle %d", ErrLogCorrupted, i, l.cb.Count, h)
		}
		r := l.records.Get(h)
		if int(r.Payload)+int(r.Size) > l.payloads.Len() {
			return fmt.Errorf("%w: record %d payload out of bounds", ErrLogCorrupted, i)
		}
		if err := fn(h, r); err != nil {
			return err
		}
		h = r.Next
	}
	if h != arena.Nil {
		return fmt.Errorf("%w: chain continues past %d records", ErrLogCorrupted, l.cb.Count)
	}
	return nil
}

// Entries returns a copy of every record in log order.
func (l *Log) Entries() ([]Entry, error) {
	entries := make([]Entry, 0, l.cb.Count)
	err := l.Walk(func(_ arena.Handle, r *Record) error {
		entries = append(entries, Entry{
			Target: r.Target(),
			Value:  append([]byte(nil), l.Payload(r)...),
		})
		return nil
	})
	return entries, err
}

// Len returns the number of records in the log.
func (l *Log) Len() int {
	return int(l.cb.Count)
}

// Bytes returns the number of payload bytes in use.
func (l *Log) Bytes() int {
	return l.payloads.Len()
}

// Checksum returns a digest of the log's structure and payloads. The state and
// checksum fields of the control block are excluded.
func (l *Log) Checksum() (uint64, error) {
	d := xxhash.New()
	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:], l.cb.Count)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(l.cb.Head))
	binary.LittleEndian.PutUint32(hdr[8:], uint32(l.cb.Tail))
	d.Write(hdr[:])
	err := l.Walk(func(h arena.Handle, r *Record) error {
		d.Write(l.records.Span(h))
		d.Write(l.Payload(r))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return d.Sum64(), nil
}

// Truncate empties the log and its arenas. The caller flushes the control block.
func (l *Log) Truncate() {
	l.records.Reset()
	l.payloads.Reset()
	*l.cb = ControlBlock{State: StateIdle}
	clear(l.pending)
}

// clearPending drops the read overlay once every record has been applied.
func (l *Log) clearPending() {
	clear(l.pending)
}

func (l *Log) rebuildPending() error {
	clear(l.pending)
	if l.cb.State != StateLogging && l.cb.State != StateCommitting {
		return nil
	}
	return l.Walk(func(h arena.Handle, r *Record) error {
		l.pending[r.Target()] = h
		return nil
	})
}
