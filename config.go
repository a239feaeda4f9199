package pmlru

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/holmberd/go-pmlru/internal/arena"
	"github.com/holmberd/go-pmlru/internal/barrier"
)

const (
	KiB = 1024
	MiB = KiB * KiB

	MaxValueSize     = 1 * MiB // Maximum value length, in bytes.
	IntentsPerAccess = 4       // Intent records logged by an Access that moves an element.
)

type Config struct {
	Capacity  int // Maximum number of elements.
	ValueSize int // Maximum value length; every element's value slot has this size.
	TableSize int // Number of index buckets. Keys map to bucket key % TableSize.

	// LogRecords is the number of intent records a single transaction can hold.
	// An Access that moves an element logs IntentsPerAccess records.
	LogRecords int

	// Mechanism selects the cache line flush instruction of the durability barrier.
	Mechanism Mechanism

	// Barrier, if set, is used instead of the barrier for Mechanism.
	Barrier barrier.Barrier

	// Path, if set, backs the store with a shared file mapping so that a committed
	// transaction can be recovered after a crash. Otherwise the store is volatile.
	Path string

	// Payload generates the new value an Access writes to the element for key.
	// dst has the element's value length.
	Payload func(key uint32, dst []byte)

	Logger *slog.Logger
}

// DefaultConfig returns a config for a volatile store of 64K elements with
// 64 byte values.
func DefaultConfig() Config {
	return Config{
		Capacity:   64 * KiB,
		ValueSize:  64,
		TableSize:  4 * KiB,
		LogRecords: IntentsPerAccess * 64 * KiB,
		Mechanism:  None,
		Payload:    FillPayload('a'),
	}
}

// FillPayload returns a payload generator that fills values with b.
func FillPayload(b byte) func(uint32, []byte) {
	return func(_ uint32, dst []byte) {
		for i := range dst {
			dst[i] = b
		}
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Capacity <= 0 || uint64(c.Capacity) >= math.MaxUint32 {
		errs = append(errs, fmt.Errorf("invalid config: capacity %d must be between 1 and %d", c.Capacity, uint32(math.MaxUint32-1)))
	}
	if c.ValueSize <= 0 || c.ValueSize > MaxValueSize {
		errs = append(errs, fmt.Errorf("invalid config: value size %d must be between 1 and %d", c.ValueSize, MaxValueSize))
	}
	if c.TableSize <= 0 || uint64(c.TableSize) >= math.MaxUint32 {
		errs = append(errs, fmt.Errorf("invalid config: table size %d must be between 1 and %d", c.TableSize, uint32(math.MaxUint32-1)))
	}
	if c.LogRecords < IntentsPerAccess || uint64(c.LogRecords) >= math.MaxUint32 {
		errs = append(errs, fmt.Errorf("invalid config: log records %d must be at least %d", c.LogRecords, IntentsPerAccess))
	} else if c.ValueSize > 0 {
		if n := uint64(c.LogRecords) * uint64(payloadSlot(c)); n > arena.MaxCapacity {
			errs = append(errs, fmt.Errorf(
				"invalid config: log payloads need %d bytes for %d records of %d bytes, more than %d",
				n, c.LogRecords, c.ValueSize, uint64(arena.MaxCapacity)))
		}
	}
	if c.Barrier == nil && c.Mechanism > Clwb {
		errs = append(errs, fmt.Errorf("invalid config: unknown flush mechanism %d", c.Mechanism))
	}
	if c.Payload == nil {
		errs = append(errs, errors.New("invalid config: payload generator is required"))
	}
	return errors.Join(errs...)
}
