package runtime

import (
	"errors"
	"fmt"

	"github.com/sbl8/edgeinfer/core"
)

// Region names.
const (
	RegionWeights  = "Weights"  // constant tensors copied from the model
	RegionPlanned  = "Planned"  // activations and kernel scratch, liveness packed
	RegionFreeTail = "FreeTail" // head-room
)

var ErrArenaExhausted = errors.New("runtime: arena exhausted")

// ArenaRegion is a named span of the arena.
type ArenaRegion struct {
	Offset int
	Size   int
	Name   string
}

// Arena is the single fixed-size buffer that backs every tensor and scratch
// buffer of one engine. It is reserved once from a Pool and never resized.
type Arena struct {
	buffer  []byte
	pool    string
	regions map[string]ArenaRegion
	owned   bool
}

// NewArena reserves size bytes from pool. The pool must report a non-zero
// total and enough free memory.
func NewArena(pool Pool, size int) (*Arena, error) {
	if pool == nil || pool.Total() <= 0 {
		return nil, ErrPoolUnavailable
	}
	if size <= 0 {
		return nil, fmt.Errorf("runtime: invalid arena size %d", size)
	}
	if free := pool.Free(); free < size {
		return nil, fmt.Errorf("%w: %s has %d bytes free, arena needs %d", ErrPoolExhausted, pool.Name(), free, size)
	}
	buf, err := pool.Reserve(size)
	if err != nil {
		return nil, err
	}
	a := &Arena{
		buffer:  buf,
		pool:    pool.Name(),
		regions: make(map[string]ArenaRegion),
	}
	a.regions[RegionFreeTail] = ArenaRegion{Offset: 0, Size: len(buf), Name: RegionFreeTail}
	return a, nil
}

// layout partitions the arena into the weights and planned regions followed
// by the free tail. It fails without changing the layout when the request
// does not fit.
func (a *Arena) layout(weights, planned int) error {
	wSize := core.AlignUp(weights, core.TensorAlign)
	pSize := core.AlignUp(planned, core.TensorAlign)
	if need := wSize + pSize; need > len(a.buffer) {
		return fmt.Errorf("%w: need %d bytes (weights %d, planned %d), arena holds %d",
			ErrArenaExhausted, need, wSize, pSize, len(a.buffer))
	}
	a.regions[RegionWeights] = ArenaRegion{Offset: 0, Size: wSize, Name: RegionWeights}
	a.regions[RegionPlanned] = ArenaRegion{Offset: wSize, Size: pSize, Name: RegionPlanned}
	a.regions[RegionFreeTail] = ArenaRegion{Offset: wSize + pSize, Size: len(a.buffer) - wSize - pSize, Name: RegionFreeTail}
	return nil
}

// slice returns size bytes at off within the named region.
func (a *Arena) slice(region string, off, size int) []byte {
	r := a.regions[region]
	start := r.Offset + off
	return a.buffer[start : start+size : start+size]
}

// claim marks the arena as owned by an engine.
func (a *Arena) claim() error {
	if a.owned {
		return errors.New("runtime: arena already owned by an engine")
	}
	a.owned = true
	return nil
}

// Buffer returns the raw byte buffer of the arena.
func (a *Arena) Buffer() []byte {
	return a.buffer
}

// PoolName returns the name of the pool the arena was reserved from.
func (a *Arena) PoolName() string { return a.pool }

// Region returns the specified ArenaRegion.
func (a *Arena) Region(name string) (ArenaRegion, bool) {
	region, ok := a.regions[name]
	return region, ok
}

// TotalSize returns the capacity of the arena.
func (a *Arena) TotalSize() int {
	return len(a.buffer)
}

// UsedSize returns the committed size, up to the start of the free tail.
func (a *Arena) UsedSize() int {
	return a.regions[RegionFreeTail].Offset
}

// RemainingSize returns the size of the free tail.
func (a *Arena) RemainingSize() int {
	return a.regions[RegionFreeTail].Size
}

// ZeroRegion sets all bytes in a given region to zero.
func (a *Arena) ZeroRegion(name string) error {
	region, ok := a.regions[name]
	if !ok {
		return fmt.Errorf("region %s not found", name)
	}
	clear(a.buffer[region.Offset : region.Offset+region.Size])
	return nil
}
