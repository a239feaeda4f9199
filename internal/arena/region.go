// Package arena implements fixed-capacity bump allocators carved out of a single
// memory mapping. Nothing allocated from an arena is ever freed individually;
// storage is reclaimed only by resetting the whole arena or unmapping the region.
package arena

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

const CacheLine = 64 // Alignment of every carved sub-arena, in bytes.

var (
	ErrExhausted      = errors.New("arena capacity exhausted")
	ErrRegionTooSmall = errors.New("region is too small for the requested layout")
	ErrSizeMismatch   = errors.New("region file size does not match the requested size")
	ErrClosed         = errors.New("region is closed")
)

// Region represents a contiguous memory mapping that arenas are carved from.
//
// An anonymous region is volatile and is what benchmarks run against. A file-backed
// region is mapped shared, so its contents survive a close and reopen, which is what
// makes a durable REDO log recoverable.
type Region struct {
	logger *slog.Logger
	data   []byte
	file   *os.File
	off    int // Carve offset.
}

// NewRegion maps an anonymous, private region of at least size bytes.
func NewRegion(size int, logger *slog.Logger) (*Region, error) {
	if logger == nil {
		logger = slog.Default()
	}
	size = pageAlign(size)

	// Memory outside the Go heap; the GC never scans or moves it.
	data, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
	if err != nil {
		return nil, fmt.Errorf("cannot allocate %d bytes via mmap: %w", size, err)
	}
	return &Region{logger: logger, data: data}, nil
}

// OpenRegion maps the file at path as a shared region of at least size bytes,
// creating the file if it does not exist. The created result reports whether the
// file was empty, and therefore whether the region holds no previous contents.
func OpenRegion(path string, size int, logger *slog.Logger) (r *Region, created bool, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	size = pageAlign(size)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if err != nil {
			f.Close()
		}
	}()

	st, err := f.Stat()
	if err != nil {
		return nil, false, err
	}
	switch st.Size() {
	case 0:
		created = true
		if err = f.Truncate(int64(size)); err != nil {
			return nil, false, err
		}
	case int64(size):
	default:
		return nil, false, fmt.Errorf("%w: %s has %d bytes, expected %d", ErrSizeMismatch, path, st.Size(), size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	if err != nil {
		return nil, false, fmt.Errorf("cannot map %s (%d bytes): %w", path, size, err)
	}
	return &Region{logger: logger, data: data, file: f}, created, nil
}

// Size returns the mapped size in bytes.
func (r *Region) Size() int {
	return len(r.data)
}

// Carve returns the next n bytes of the region, starting on a cache line boundary.
// The carve sequence is deterministic, so reopening a file-backed region and carving
// the same sizes in the same order yields the same sub-arenas.
func (r *Region) Carve(n int) ([]byte, error) {
	if r.data == nil {
		return nil, ErrClosed
	}
	start := alignUp(r.off, CacheLine)
	end := start + n
	if n < 0 || end > len(r.data) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrRegionTooSmall, n, start, len(r.data))
	}
	r.off = end
	return r.data[start:end:end], nil
}

// Sync writes a file-backed region back to its file. It is a no-op for anonymous regions.
func (r *Region) Sync() error {
	if r.data == nil {
		return ErrClosed
	}
	if r.file == nil {
		return nil
	}
	return unix.Msync(r.data, unix.MS_SYNC)
}

// Close unmaps the region. Every slice carved from it becomes invalid.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}
	errs := []error{r.Sync()}
	if err := unix.Munmap(r.data); err != nil {
		r.logger.Error("failed to unmap region", "error", err)
		errs = append(errs, err)
	}
	r.data = nil
	if r.file != nil {
		errs = append(errs, r.file.Close())
		r.file = nil
	}
	return errors.Join(errs...)
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

func pageAlign(size int) int {
	return alignUp(max(size, 1), unix.Getpagesize())
}
