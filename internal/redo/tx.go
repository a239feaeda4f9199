package redo

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/holmberd/go-pmlru/internal/arena"
	"github.com/holmberd/go-pmlru/internal/barrier"
)

// State is the transaction state. It is stored in the log's control block, so a
// reopened log reports the state it was left in.
type State uint32

const (
	StateIdle       State = iota // Log is empty.
	StateLogging                 // Intents are being appended; nothing is applied.
	StateCommitting              // Log is durable; intents are not (all) applied.
	StateApplied                 // Every intent is applied; the log is kept until the next transaction.
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLogging:
		return "logging"
	case StateCommitting:
		return "committing"
	case StateApplied:
		return "applied"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// Resolver maps a target to the memory it names. Apply copies a record's payload
// into the resolved slice, which must be exactly the record's size.
type Resolver interface {
	Resolve(t Target) ([]byte, error)
}

// Stats represents transaction counters.
type Stats struct {
	Appends     uint64
	Commits     uint64
	Applies     uint64
	Checkpoints uint64
	Recovered   uint64 // Records replayed by Recover.
}

// Tx is the transaction controller of a single mutator.
//
// Logging starts lazily with the first Append; there is no begin call. The log of an
// applied transaction is kept until the next Append, which first flushes every
// target it wrote (a checkpoint) and then truncates it. Until then a crash can still
// be repaired by replaying it.
// Not safe for concurrent use.
type Tx struct {
	logger   *slog.Logger
	log      *Log
	barrier  barrier.Barrier
	resolver Resolver
	stats    Stats
}

// NewTx creates a transaction controller for log.
func NewTx(log *Log, b barrier.Barrier, resolver Resolver, logger *slog.Logger) *Tx {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tx{
		logger:   logger,
		log:      log,
		barrier:  b,
		resolver: resolver,
	}
}

func (tx *Tx) State() State {
	return tx.log.cb.State
}

func (tx *Tx) Log() *Log {
	return tx.log
}

func (tx *Tx) Stats() Stats {
	return tx.stats
}

// Pending returns the latest logged bytes for t, if any.
func (tx *Tx) Pending(t Target) ([]byte, bool) {
	if tx.State() != StateLogging && tx.State() != StateCommitting {
		return nil, false
	}
	return tx.log.Pending(t)
}

// HasPending returns whether the log holds intents that are not yet applied.
func (tx *Tx) HasPending() bool {
	s := tx.State()
	return s == StateLogging || s == StateCommitting
}

// Reserve checks that n records with the given payload sizes can be appended.
// Callers that append several dependent records reserve them first, so that a
// full log never holds half of an operation.
func (tx *Tx) Reserve(n int, sizes ...int) error {
	if err := tx.begin(); err != nil {
		return err
	}
	if !tx.log.Fits(n, sizes...) {
		total := 0
		for _, s := range sizes {
			total += s
		}
		err := fmt.Errorf("%w: redo log cannot fit %d records (%d bytes); %d records, %d bytes left",
			arena.ErrExhausted, n, total, tx.log.records.Remaining(), tx.log.payloads.Remaining())
		tx.logger.Error("redo log exhausted", "error", err)
		return err
	}
	return nil
}

// Append logs an intent to write value to t. The target is not modified.
func (tx *Tx) Append(t Target, value []byte) error {
	if err := tx.begin(); err != nil {
		return err
	}
	if _, err := tx.log.Append(t, value); err != nil {
		tx.logger.Error("redo log exhausted", "target", t, "error", err)
		return err
	}
	tx.log.cb.State = StateLogging
	tx.stats.Appends++
	return nil
}

// begin prepares the log for a new intent.
func (tx *Tx) begin() error {
	switch tx.State() {
	case StateIdle, StateLogging:
		return nil
	case StateCommitting:
		return ErrCommitted
	case StateApplied:
		return tx.checkpoint()
	default:
		return fmt.Errorf("%w: unknown state %s", ErrLogCorrupted, tx.State())
	}
}

// Commit makes the log durable: the control block, then every record and its
// payload in log order, then the commit marker. After Commit returns the log
// survives a crash whether or not Apply runs. Commit is a no-op unless logging.
func (tx *Tx) Commit() error {
	if tx.State() != StateLogging {
		return nil
	}
	l := tx.log
	tx.barrier.Flush(l.cbMem)
	tx.barrier.Flush(l.records.CursorSpan())
	tx.barrier.Flush(l.payloads.CursorSpan())
	err := l.Walk(func(h arena.Handle, r *Record) error {
		tx.barrier.Flush(l.records.Span(h))
		tx.barrier.Flush(l.Payload(r))
		return nil
	})
	if err != nil {
		return err
	}
	sum, err := l.Checksum()
	if err != nil {
		return err
	}
	l.cb.Checksum = sum
	l.cb.State = StateCommitting
	tx.barrier.Flush(l.cbMem)

	tx.stats.Commits++
	tx.logger.Debug("redo log committed", "records", l.Len(), "bytes", l.Bytes())
	return nil
}

// Apply writes every committed record to its target, in log order. The writes are
// not flushed. If a target cannot be resolved the walk stops, the log stays
// committed, and Apply can be retried. Apply is a no-op when idle or applied.
func (tx *Tx) Apply() error {
	switch tx.State() {
	case StateIdle, StateApplied:
		return nil
	case StateLogging:
		return ErrNotCommitted
	case StateCommitting:
	default:
		return fmt.Errorf("%w: unknown state %s", ErrLogCorrupted, tx.State())
	}
	n, err := tx.apply()
	if err != nil {
		return err
	}
	tx.log.cb.State = StateApplied
	tx.log.clearPending()
	tx.stats.Applies++
	tx.logger.Debug("redo log applied", "records", n)
	return nil
}

func (tx *Tx) apply() (int, error) {
	n := 0
	err := tx.log.Walk(func(_ arena.Handle, r *Record) error {
		dst, err := tx.resolver.Resolve(r.Target())
		if err != nil {
			return fmt.Errorf("apply record %d (%s): %w", n, r.Target(), err)
		}
		if len(dst) != int(r.Size) {
			return fmt.Errorf("%w: record %d (%s) has %d bytes, target has %d",
				ErrSizeMismatch, n, r.Target(), r.Size, len(dst))
		}
		copy(dst, tx.log.Payload(r))
		n++
		return nil
	})
	return n, err
}

// CommitAndApply commits and then applies the log. It ends the transaction.
func (tx *Tx) CommitAndApply() error {
	if err := tx.Commit(); err != nil {
		return err
	}
	return tx.Apply()
}

// Checkpoint flushes every target written by an applied log and truncates it.
// It is a no-op when idle, and the error is ErrPending while intents are pending.
func (tx *Tx) Checkpoint() error {
	switch tx.State() {
	case StateIdle:
		return nil
	case StateApplied:
		return tx.checkpoint()
	case StateLogging, StateCommitting:
		return ErrPending
	default:
		return fmt.Errorf("%w: unknown state %s", ErrLogCorrupted, tx.State())
	}
}

// checkpoint flushes every target written by the applied log and truncates it.
func (tx *Tx) checkpoint() error {
	err := tx.log.Walk(func(_ arena.Handle, r *Record) error {
		dst, err := tx.resolver.Resolve(r.Target())
		if err != nil {
			return err
		}
		tx.barrier.Flush(dst)
		return nil
	})
	if err != nil {
		return err
	}
	tx.truncate()
	tx.stats.Checkpoints++
	return nil
}

func (tx *Tx) truncate() {
	tx.log.Truncate()
	tx.barrier.Flush(tx.log.cbMem)
	tx.barrier.Flush(tx.log.records.CursorSpan())
	tx.barrier.Flush(tx.log.payloads.CursorSpan())
}

// Recover brings a reopened log to the idle state and returns the number of
// records replayed.
//
// A committed or applied log whose checksum verifies is replayed from the start and
// checkpointed; replaying already applied records rewrites the same bytes. A log
// that was still logging was never committed, so none of it was applied, and it is
// discarded. The error is ErrLogCorrupted if a committed log fails verification;
// the log is then left untouched.
func (tx *Tx) Recover() (int, error) {
	l := tx.log
	switch s := l.cb.State; s {
	case StateIdle:
		if l.records.Len() != 0 || l.payloads.Len() != 0 {
			tx.truncate() // Crash during a truncate.
		}
		return 0, nil
	case StateLogging:
		tx.logger.Info("discarding uncommitted redo log", "records", l.Len())
		tx.truncate()
		return 0, nil
	case StateCommitting, StateApplied:
		sum, err := l.Checksum()
		if err != nil {
			return 0, err
		}
		if sum != l.cb.Checksum {
			return 0, fmt.Errorf("%w: checksum %x, expected %x", ErrLogCorrupted, sum, l.cb.Checksum)
		}
		l.cb.State = StateCommitting
		n, err := tx.apply()
		if err != nil {
			return 0, errors.Join(fmt.Errorf("replay redo log: %w", err), ErrLogCorrupted)
		}
		l.cb.State = StateApplied
		if err := tx.checkpoint(); err != nil {
			return n, err
		}
		tx.stats.Recovered += uint64(n)
		tx.logger.Info("replayed committed redo log", "records", n, "from", s)
		return n, nil
	default:
		return 0, fmt.Errorf("%w: unknown state %d", ErrLogCorrupted, uint32(s))
	}
}
