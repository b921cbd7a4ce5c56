// Package hostmem implements a handle-addressed byte arena. Handles are opaque
// integers tagged with the address space they belong to, so a caller can
// detect double frees, frees with the wrong allocator and copies in the wrong
// direction without ever holding a Go pointer to the memory.
package hostmem

import (
	"errors"
	"fmt"
	"sync"
)

// Space is the address space a block belongs to.
type Space int

const (
	Host Space = iota
	Device
)

func (s Space) String() string {
	if s == Device {
		return "device"
	}
	return "host"
}

var (
	ErrZeroSize    = errors.New("hostmem: zero-sized allocation")
	ErrUnknown     = errors.New("hostmem: unknown handle")
	ErrWrongSpace  = errors.New("hostmem: handle belongs to another address space")
	ErrOutOfBounds = errors.New("hostmem: access past end of block")
	ErrExhausted   = errors.New("hostmem: arena limit exceeded")
)

const align = 64

type block struct {
	data   []byte
	space  Space
	pinned bool
}

// Arena hands out blocks addressed by handles. The zero handle is never used.
type Arena struct {
	mu     sync.Mutex
	next   uintptr
	limit  uint64
	used   uint64
	blocks map[uintptr]*block
}

// New returns an arena whose handles start at base. limit caps the total
// number of live bytes; zero means unlimited.
func New(base uintptr, limit uint64) *Arena {
	if base == 0 {
		base = align
	}
	return &Arena{next: base, limit: limit, blocks: make(map[uintptr]*block)}
}

// Alloc reserves size bytes in the given space. Pinned host blocks are backed
// by locked anonymous mappings where the platform supports it.
func (a *Arena) Alloc(size uint64, space Space, pinned bool) (uintptr, error) {
	if size == 0 {
		return 0, ErrZeroSize
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.limit > 0 && a.used+size > a.limit {
		return 0, fmt.Errorf("%w: %d live + %d requested > %d", ErrExhausted, a.used, size, a.limit)
	}
	var (
		data []byte
		err  error
	)
	if pinned {
		data, err = allocPinned(int(size))
		if err != nil {
			return 0, fmt.Errorf("hostmem: pinned alloc of %d bytes: %w", size, err)
		}
	} else {
		data = make([]byte, size)
	}
	h := a.next
	a.next += uintptr((size+align-1)/align*align) + align
	a.blocks[h] = &block{data: data, space: space, pinned: pinned}
	a.used += size
	return h, nil
}

// Free releases the block at h. It fails if h is unknown (including a second
// free) or belongs to another space.
func (a *Arena) Free(h uintptr, space Space) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.blocks[h]
	if !ok {
		return fmt.Errorf("%w: %#x", ErrUnknown, h)
	}
	if b.space != space {
		return fmt.Errorf("%w: %#x is %s, freed as %s", ErrWrongSpace, h, b.space, space)
	}
	delete(a.blocks, h)
	a.used -= uint64(len(b.data))
	if b.pinned {
		return freePinned(b.data)
	}
	return nil
}

// Bytes returns the first size bytes of the block at h and its space.
func (a *Arena) Bytes(h uintptr, size uint64) ([]byte, Space, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.blocks[h]
	if !ok {
		return nil, Host, fmt.Errorf("%w: %#x", ErrUnknown, h)
	}
	if size > uint64(len(b.data)) {
		return nil, b.space, fmt.Errorf("%w: %d > %d at %#x", ErrOutOfBounds, size, len(b.data), h)
	}
	return b.data[:size], b.space, nil
}

// Size reports the length of the block at h.
func (a *Arena) Size(h uintptr) (uint64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.blocks[h]
	if !ok {
		return 0, false
	}
	return uint64(len(b.data)), true
}

// Live reports the number of blocks currently allocated in space.
func (a *Arena) Live(space Space) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, b := range a.blocks {
		if b.space == space {
			n++
		}
	}
	return n
}

// LiveBytes reports the total size of all live blocks.
func (a *Arena) LiveBytes() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}
