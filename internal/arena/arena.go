// Package arena provides the bounds-checked word store backing task stacks.
//
// Stack memory is modeled as a single arena of 32-bit words addressed by
// index, never by pointer. Saved context frames are laid out at fixed offsets
// from a region's top, so every frame access is range checked against the
// owning region before it touches the store.
package arena

import (
	"fmt"
	"sync"

	"github.com/vireo-rt/vireo/internal/fault"
)

// Index addresses one 32-bit word in the arena.
type Index uint32

// guardPattern fills the guard word below each region. A builder or save
// path that walks past the bottom of its region destroys the pattern.
const guardPattern = 0xA5A5A5A5

// Arena is a fixed-capacity store of 32-bit words handed out as stack
// regions. Word access is unsynchronized: the machine loop owns all modeled
// memory and other goroutines only ever see published snapshots.
type Arena struct {
	words   []uint32
	next    Index
	regions int
	peak    Index
	mu      sync.Mutex
}

// New creates an arena holding capacity words.
func New(capacity Index) (*Arena, error) {
	if capacity == 0 {
		return nil, fmt.Errorf("arena capacity must be greater than 0")
	}

	return &Arena{words: make([]uint32, capacity)}, nil
}

// Region is one task's private stack span. The task's frame grows downward
// from Top toward Base; the word at Base-1 is the guard.
type Region struct {
	Base Index
	Size Index
}

// Top returns the exclusive upper bound of the region, aligned to an 8-byte
// boundary so frames start aligned.
func (r Region) Top() Index {
	return r.Base + r.Size
}

// Contains reports whether the index lies inside the region.
func (r Region) Contains(i Index) bool {
	return i >= r.Base && i < r.Base+r.Size
}

// AllocRegion hands out a region of at least words words. One guard word is
// placed below the region and the region top is padded up to an 8-byte
// boundary. Regions are never returned to the arena individually; Reset
// reclaims everything.
func (a *Arena) AllocRegion(words Index) (Region, error) {
	if words == 0 {
		return Region{}, fmt.Errorf("region size must be greater than 0")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	guard := a.next
	base := guard + 1
	size := words
	// Keep Top() on an even word index (8-byte alignment).
	if (base+size)%2 != 0 {
		size++
	}

	if uint64(base)+uint64(size) > uint64(len(a.words)) {
		return Region{}, fmt.Errorf("arena exhausted: need %d words, %d available", size+1, Index(len(a.words))-a.next)
	}

	a.words[guard] = guardPattern
	a.next = base + size
	a.regions++
	if a.next > a.peak {
		a.peak = a.next
	}

	return Region{Base: base, Size: size}, nil
}

// Load reads one word. Out-of-range access is an assertion fault, not a
// wrapped error: by then an index invariant has already been violated.
func (a *Arena) Load(i Index) uint32 {
	if uint32(i) >= uint32(len(a.words)) {
		fault.Raise(fault.OutOfRange("arena load", uint32(i), uint32(len(a.words))))
	}

	return a.words[i]
}

// Store writes one word, with the same range check as Load.
func (a *Arena) Store(i Index, v uint32) {
	if uint32(i) >= uint32(len(a.words)) {
		fault.Raise(fault.OutOfRange("arena store", uint32(i), uint32(len(a.words))))
	}

	a.words[i] = v
}

// CheckGuard reports whether the guard word below the region is intact.
func (a *Arena) CheckGuard(r Region) bool {
	if r.Base == 0 {
		return false
	}

	return a.Load(r.Base-1) == guardPattern
}

// Capacity returns the total word capacity.
func (a *Arena) Capacity() Index {
	return Index(len(a.words))
}

// Used returns the number of words handed out, guards and padding included.
func (a *Arena) Used() Index {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.next
}

// PeakUsage returns the high-water mark of handed-out words.
func (a *Arena) PeakUsage() Index {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.peak
}

// Regions returns how many regions have been handed out since the last
// Reset.
func (a *Arena) Regions() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.regions
}

// Available returns the number of words not yet handed out.
func (a *Arena) Available() Index {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Index(len(a.words)) - a.next
}

// Reset reclaims all regions and zeroes the store. Outstanding Region values
// become invalid.
func (a *Arena) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.words {
		a.words[i] = 0
	}
	a.next = 0
	a.regions = 0
}
