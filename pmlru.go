// Package pmlru implements a move-to-front LRU list indexed by a hash table, laid
// out in a single persistent memory region and mutated through a REDO log.
//
// Accesses never write the list in place. They append intent records to the log,
// and reads observe the logged writes. CommitAndApply flushes the log to
// durability with cache line flush barriers and only then applies it.
package pmlru

import (
	"errors"

	"github.com/holmberd/go-pmlru/internal/arena"
	"github.com/holmberd/go-pmlru/internal/barrier"
	"github.com/holmberd/go-pmlru/internal/index"
	"github.com/holmberd/go-pmlru/internal/redo"
)

var (
	ErrExhausted        = arena.ErrExhausted
	ErrKeyNotFound      = index.ErrKeyNotFound
	ErrDuplicateKey     = index.ErrDuplicateKey
	ErrLogCorrupted     = redo.ErrLogCorrupted
	ErrCommitted        = redo.ErrCommitted
	ErrNotCommitted     = redo.ErrNotCommitted
	ErrUnsupported      = barrier.ErrUnsupported
	ErrTxActive         = redo.ErrPending
	ErrValueSize        = errors.New("value length differs from the configured value size")
	ErrGeometryMismatch = errors.New("store file was created with a different configuration")
	ErrBadMagic         = errors.New("store file has a bad magic number")
	ErrListCorrupted    = errors.New("list is corrupted")
)

// Mechanism selects the cache line flush instruction of the durability barrier.
type Mechanism = barrier.Mechanism

const (
	None       = barrier.None       // "none": no flush; volatile baseline.
	Clflush    = barrier.Clflush    // "flush-invalidate"
	Clflushopt = barrier.Clflushopt // "flush-no-invalidate"
	Clwb       = barrier.Clwb       // "write-back"
)

// ParseMechanism parses a mechanism name or its number (0-3).
func ParseMechanism(s string) (Mechanism, error) {
	return barrier.ParseMechanism(s)
}

// TxState is the state of the store's transaction.
type TxState = redo.State

const (
	TxIdle       = redo.StateIdle
	TxLogging    = redo.StateLogging
	TxCommitting = redo.StateCommitting
	TxApplied    = redo.StateApplied
)

// Stats represents store counters and occupancy.
type Stats struct {
	Elements       int
	Capacity       int
	PendingIntents int // Records in the log that are not yet applied.
	LogBytes       int // Payload bytes held by the log.
	Tx             redo.Stats
	Barrier        barrier.Stats
	Index          index.Stats
}
