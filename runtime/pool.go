package runtime

import (
	"errors"
	"fmt"

	"github.com/sbl8/edgeinfer/core"
)

var (
	ErrPoolUnavailable = errors.New("runtime: memory pool unavailable")
	ErrPoolExhausted   = errors.New("runtime: memory pool exhausted")
)

// Pool is the external memory the arena is reserved from, typically a
// dedicated RAM bank. Reservations are never returned.
type Pool interface {
	Name() string
	Total() int
	Free() int
	Reserve(size int) ([]byte, error)
}

// HeapPool is a Pool backed by the Go heap with a fixed capacity. It models
// the external pool on hosts that have none.
type HeapPool struct {
	name     string
	capacity int
	used     int
}

func NewHeapPool(name string, capacity int) *HeapPool {
	return &HeapPool{name: name, capacity: max(capacity, 0)}
}

func (p *HeapPool) Name() string { return p.name }

func (p *HeapPool) Total() int { return p.capacity }

func (p *HeapPool) Free() int { return p.capacity - p.used }

// Reserve returns a cache-line aligned block of exactly size bytes.
func (p *HeapPool) Reserve(size int) ([]byte, error) {
	if p.capacity == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPoolUnavailable, p.name)
	}
	if size <= 0 {
		return nil, fmt.Errorf("runtime: invalid reservation of %d bytes", size)
	}
	if size > p.Free() {
		return nil, fmt.Errorf("%w: %s has %d bytes free, need %d", ErrPoolExhausted, p.name, p.Free(), size)
	}
	p.used += size
	return core.AlignedBytes(size), nil
}
