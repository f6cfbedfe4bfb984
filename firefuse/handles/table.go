// Package handles owns the buffers that back individual open file
// descriptors. The table is the single owner of every buffer: open allocates
// an entry, read and write borrow it, release removes it.
package handles

import (
	"fmt"
	"sync"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"

	common "github.com/404wolf/firefuse/common"
)

// MaxBufferSize bounds how large a write or truncate can grow one buffer
const MaxBufferSize = 64 << 20

// Buffer is the content snapshot owned by one open file descriptor
type Buffer struct {
	Path  string
	Flags uint32

	mu    sync.Mutex
	data  []byte
	dirty bool
}

// ReadAt copies content starting at off into dest. Offsets at or past the
// end copy nothing.
func (b *Buffer) ReadAt(dest []byte, off int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if off < 0 || off >= int64(len(b.data)) {
		return 0
	}
	return copy(dest, b.data[off:])
}

// WriteAt stores p at off, growing the buffer as needed, and marks the buffer
// dirty. Writes ending past MaxBufferSize are rejected and leave the buffer
// untouched.
func (b *Buffer) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		off = 0
	}
	if off > MaxBufferSize || int64(len(p)) > MaxBufferSize-off {
		return 0, fmt.Errorf("write of %d bytes at %d exceeds %d: %w",
			len(p), off, MaxBufferSize, common.ErrInvalidArgument)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	end := int(off) + len(p)
	if end > len(b.data) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[off:], p)
	b.dirty = true
	return len(p), nil
}

// Truncate cuts or zero-extends the buffer to size and marks it dirty. Sizes
// above MaxBufferSize are rejected.
func (b *Buffer) Truncate(size int64) error {
	if size > MaxBufferSize {
		return fmt.Errorf("truncate to %d exceeds %d: %w", size, MaxBufferSize, common.ErrInvalidArgument)
	}
	if size < 0 {
		size = 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if int(size) <= len(b.data) {
		b.data = b.data[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, b.data)
		b.data = grown
	}
	b.dirty = true
	return nil
}

// Bytes returns a copy of the content
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data...)
}

// Len returns the content length
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Dirty reports whether the buffer was written to since it was allocated
func (b *Buffer) Dirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirty
}

// TakeDirty returns a copy of the content if it was written to since the
// last call, and marks it clean
func (b *Buffer) TakeDirty() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.dirty {
		return nil, false
	}
	b.dirty = false
	return append([]byte(nil), b.data...), true
}

// Table maps opaque handle ids to their buffers. Id 0 is never allocated and
// means "no buffer".
type Table struct {
	entries cmap.ConcurrentMap[uint64, *Buffer]
	next    atomic.Uint64
	live    atomic.Int64
	limit   int64
}

// NewTable creates a table that holds at most limit buffers at once. A limit
// of zero or less means unlimited.
func NewTable(limit int) *Table {
	return &Table{
		entries: cmap.NewWithCustomShardingFunction[uint64, *Buffer](func(key uint64) uint32 {
			return uint32(key ^ key>>32)
		}),
		limit: int64(limit),
	}
}

// Alloc stores a buffer holding data and returns its id. The table takes
// ownership of data. When the table is full no entry is created and
// ErrAllocationFailure is returned.
func (t *Table) Alloc(path string, flags uint32, data []byte) (uint64, error) {
	if live := t.live.Add(1); t.limit > 0 && live > t.limit {
		t.live.Add(-1)
		return 0, fmt.Errorf("%d open handles: %w", t.limit, common.ErrAllocationFailure)
	}

	id := t.next.Add(1)
	t.entries.Set(id, &Buffer{Path: path, Flags: flags, data: data})
	return id, nil
}

// Get borrows the buffer for id
func (t *Table) Get(id uint64) (*Buffer, bool) {
	if id == 0 {
		return nil, false
	}
	return t.entries.Get(id)
}

// Release removes the buffer for id and hands it back to the caller for a
// final look. Releasing an unknown or already released id is a no-op that
// returns false.
func (t *Table) Release(id uint64) (*Buffer, bool) {
	if id == 0 {
		return nil, false
	}
	buf, ok := t.entries.Pop(id)
	if ok {
		t.live.Add(-1)
	}
	return buf, ok
}

// Count returns the number of live buffers
func (t *Table) Count() int {
	return t.entries.Count()
}
