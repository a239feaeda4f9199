package pmlru

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/holmberd/go-pmlru/internal/arena"
	"github.com/holmberd/go-pmlru/internal/barrier"
	"github.com/holmberd/go-pmlru/internal/index"
	"github.com/holmberd/go-pmlru/internal/redo"
)

// Store is a move-to-front LRU list with a hash index over a fixed-capacity region.
//
// Every structure is allocated from arenas sized once from the Config; nothing is
// freed and the capacity is never exceeded, so there is no eviction. A Store has a
// single mutator and is not safe for concurrent use.
type Store struct {
	config  Config
	logger  *slog.Logger
	barrier barrier.Barrier
	region  *arena.Region

	sb     *superblock
	sbMem  []byte
	nodes  *arena.Pool[index.Node]
	index  *index.Index
	elems  *arena.Pool[element]
	values *arena.Slab
	tx     *redo.Tx

	scratch []byte // Reusable payload buffer.
}

// New creates a store. If config.Path is set the store is file-backed; see Open.
func New(config Config) (*Store, error) {
	if config.Path != "" {
		return Open(config)
	}
	s, err := newStore(config)
	if err != nil {
		return nil, err
	}
	r, err := arena.NewRegion(regionSize(config), s.logger)
	if err != nil {
		return nil, err
	}
	if err := s.attach(r); err != nil {
		return nil, err
	}
	s.format()
	return s, nil
}

// Open creates or reopens a file-backed store at config.Path. A reopened store is
// recovered before Open returns: a committed transaction that was interrupted is
// replayed and an uncommitted one is discarded.
func Open(config Config) (*Store, error) {
	if config.Path == "" {
		return nil, errors.New("open: config path is required")
	}
	s, err := newStore(config)
	if err != nil {
		return nil, err
	}
	r, created, err := arena.OpenRegion(config.Path, regionSize(config), s.logger)
	if err != nil {
		return nil, err
	}
	if err := s.attach(r); err != nil {
		return nil, err
	}
	if created {
		s.format()
		return s, nil
	}
	if err := s.verify(); err != nil {
		s.Close()
		return nil, err
	}
	if _, err := s.Recover(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func newStore(config Config) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := config.Barrier
	if b == nil {
		var err error
		if b, err = barrier.New(config.Mechanism); err != nil {
			return nil, err
		}
	}
	return &Store{
		config:  config,
		logger:  logger,
		barrier: b,
		scratch: make([]byte, config.ValueSize),
	}, nil
}

func (s *Store) attach(r *arena.Region) error {
	s.region = r
	if err := s.layout(r); err != nil {
		r.Close()
		return fmt.Errorf("layout store region: %w", err)
	}
	return nil
}

// Sync writes a file-backed store back to its file. A bulk load is written in
// place without the log, so Sync after loading makes it durable before the
// first transaction. It is a no-op for a volatile store.
func (s *Store) Sync() error {
	if err := s.region.Sync(); err != nil {
		return fmt.Errorf("sync store region: %w", err)
	}
	return nil
}

// Close unmaps the store's region, writing a file-backed region back to its file.
// Pending intents that were not committed are lost.
func (s *Store) Close() error {
	return s.region.Close()
}

// Insert adds key with value at the head of the list. Insert is the bulk load
// path: it writes in place and is not logged, so it is rejected while a
// transaction has pending intents.
//
// The error is ErrDuplicateKey if key exists, ErrValueSize if value is not exactly
// the configured value size, or wraps ErrExhausted when the store is full.
func (s *Store) Insert(key uint32, value []byte) error {
	if s.tx.HasPending() {
		return ErrTxActive
	}
	if len(value) != s.config.ValueSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrValueSize, len(value), s.config.ValueSize)
	}
	if s.index.Has(key) {
		return fmt.Errorf("%w: %d", ErrDuplicateKey, key)
	}
	if s.elems.Remaining() == 0 || s.values.Remaining() == 0 || s.index.Remaining() == 0 {
		err := fmt.Errorf("%w: store is full (capacity %d)", ErrExhausted, s.config.Capacity)
		s.logger.Error("insert failed", "key", key, "error", err)
		return err
	}
	// An applied log must not be replayed over the load.
	if err := s.tx.Checkpoint(); err != nil {
		return err
	}

	h, err := s.elems.Alloc()
	if err != nil {
		return err
	}
	vh, err := s.values.Alloc()
	if err != nil {
		return err
	}
	copy(s.values.Bytes(vh), value)
	e := s.elems.Get(h)
	e.Key = key
	e.Value = vh
	e.Size = uint32(len(value))
	if err := s.index.Insert(key, h); err != nil {
		return err
	}
	s.pushFront(h)
	return nil
}

// Find returns the element for key. The error is ErrKeyNotFound if key was never inserted.
func (s *Store) Find(key uint32) (Element, error) {
	h, err := s.index.Find(key)
	return Element(h), err
}

// Peek returns the position of key in the list, 0 being the most recently
// accessed. Peek observes pending intents and never logs.
func (s *Store) Peek(key uint32) (int, error) {
	h, err := s.index.Find(key)
	if err != nil {
		return 0, err
	}
	return s.position(h)
}

// Access moves key to the head of the list and overwrites its value with a
// payload from Config.Payload. The changes are logged as intents and take effect
// in memory when the transaction is applied; reads observe them immediately.
// Accessing the head is a no-op.
func (s *Store) Access(key uint32) error {
	elem, err := s.index.Find(key)
	if err != nil {
		return err
	}
	head := s.head()
	if head == elem {
		return nil
	}
	prev, err := s.predecessor(elem)
	if err != nil {
		return err
	}
	return s.moveToFront(key, elem, prev, head)
}

// Get returns a copy of the value of key, including a pending overwrite.
func (s *Store) Get(key uint32) ([]byte, error) {
	h, err := s.index.Find(key)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), s.value(h)...), nil
}

// Order returns the keys from head to tail.
func (s *Store) Order() ([]uint32, error) {
	keys := make([]uint32, 0, s.elems.Len())
	err := s.walk(func(_ int, h arena.Handle) bool {
		keys = append(keys, s.elems.Get(h).Key)
		return true
	})
	return keys, err
}

// Tail returns the least recently accessed key.
func (s *Store) Tail() (key uint32, ok bool, err error) {
	err = s.walk(func(_ int, h arena.Handle) bool {
		key, ok = s.elems.Get(h).Key, true
		return true
	})
	return key, ok, err
}

// Head returns the element at the head of the list in memory, ignoring pending
// intents. It is what a crash would leave behind.
func (s *Store) Head() (Element, bool) {
	return Element(s.sb.Head), s.sb.Head != arena.Nil
}

// Len returns the number of elements.
func (s *Store) Len() int {
	return s.elems.Len()
}

// State returns the transaction state.
func (s *Store) State() TxState {
	return s.tx.State()
}

// Commit makes every pending intent durable without applying it.
func (s *Store) Commit() error {
	return s.tx.Commit()
}

// Apply writes every committed intent in log order.
func (s *Store) Apply() error {
	return s.tx.Apply()
}

// CommitAndApply ends the transaction: the log is made durable, then applied.
func (s *Store) CommitAndApply() error {
	return s.tx.CommitAndApply()
}

// Checkpoint flushes the writes of an applied transaction and empties the log.
// The next Access does this implicitly.
func (s *Store) Checkpoint() error {
	return s.tx.Checkpoint()
}

// Recover replays a committed transaction left by a crash and returns the number of
// intents replayed. Open calls it for a reopened store.
func (s *Store) Recover() (int, error) {
	n, err := s.tx.Recover()
	if err != nil {
		s.logger.Error("recovery failed", "error", err)
		return 0, err
	}
	return n, nil
}

// Stats returns store counters and occupancy.
func (s *Store) Stats() Stats {
	st := Stats{
		Elements: s.elems.Len(),
		Capacity: s.elems.Cap(),
		Tx:       s.tx.Stats(),
		Barrier:  s.barrier.Stats(),
		Index:    s.index.Stats(),
	}
	if s.tx.HasPending() {
		st.PendingIntents = s.tx.Log().Len()
		st.LogBytes = s.tx.Log().Bytes()
	}
	return st
}

// Intents returns a copy of the pending intents in log order.
func (s *Store) Intents() ([]Intent, error) {
	if !s.tx.HasPending() {
		return nil, nil
	}
	entries, err := s.tx.Log().Entries()
	if err != nil {
		return nil, err
	}
	intents := make([]Intent, len(entries))
	for i, e := range entries {
		intents[i] = Intent{Kind: IntentKind(e.Target.Kind), Elem: Element(e.Target.Elem), Value: e.Value}
	}
	return intents, nil
}

// IntentKind is the field an intent writes.
type IntentKind = redo.Kind

const (
	IntentNext  = redo.KindNext
	IntentValue = redo.KindValue
	IntentHead  = redo.KindHead
)

// Intent is a logged write. Elem is zero for IntentHead.
type Intent struct {
	Kind  IntentKind
	Elem  Element
	Value []byte
}
