// Package bus models the memory-mapped register bus connecting the core to
// its peripherals. Devices claim address ranges; the port layer reaches the
// interrupt controller exclusively through fixed addresses on this bus,
// mirroring hardware register access without raw pointers.
package bus

import (
	"fmt"
	"sort"

	"github.com/vireo-rt/vireo/internal/fault"
)

// Device is a block of memory-mapped registers. Offsets are relative to the
// device's mapped base.
type Device interface {
	Load32(off uint32) uint32
	Store32(off uint32, v uint32)
	Load8(off uint32) uint8
	Store8(off uint32, v uint8)
}

// WordOnly provides byte accessors that fault, for devices whose registers
// are word-only.
type WordOnly struct{}

// Load8 faults: the device has no byte-accessible registers.
func (WordOnly) Load8(off uint32) uint8 {
	fault.Raisef(fault.CategoryProgramming, "BYTE_ACCESS", "byte load at offset 0x%X of a word-only device", off)

	return 0
}

// Store8 faults: the device has no byte-accessible registers.
func (WordOnly) Store8(off uint32, v uint8) {
	fault.Raisef(fault.CategoryProgramming, "BYTE_ACCESS", "byte store at offset 0x%X of a word-only device", off)
}

type mapping struct {
	name string
	base uint32
	size uint32
	dev  Device
}

// Range describes one claimed address range.
type Range struct {
	Name string `json:"name"`
	Base uint32 `json:"base"`
	Size uint32 `json:"size"`
}

// Bus routes word and byte accesses to mapped devices. Access to an address
// no device claims is an assertion fault carrying the address.
type Bus struct {
	maps []mapping
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// Map claims [base, base+size) for a device. The range must be word-aligned
// and must not overlap an existing mapping.
func (b *Bus) Map(name string, base, size uint32, d Device) error {
	if size == 0 {
		return fmt.Errorf("bus: mapping %s has zero size", name)
	}
	if base%4 != 0 || size%4 != 0 {
		return fmt.Errorf("bus: mapping %s [0x%08X, +0x%X) not word-aligned", name, base, size)
	}

	for _, m := range b.maps {
		if base < m.base+m.size && m.base < base+size {
			return fmt.Errorf("bus: mapping %s [0x%08X, +0x%X) overlaps %s [0x%08X, +0x%X)",
				name, base, size, m.name, m.base, m.size)
		}
	}

	b.maps = append(b.maps, mapping{name: name, base: base, size: size, dev: d})
	sort.Slice(b.maps, func(i, j int) bool { return b.maps[i].base < b.maps[j].base })

	return nil
}

func (b *Bus) find(addr uint32) *mapping {
	for i := range b.maps {
		m := &b.maps[i]
		if addr >= m.base && addr < m.base+m.size {
			return m
		}
	}

	return nil
}

// Load32 reads a word register.
func (b *Bus) Load32(addr uint32) uint32 {
	if addr%4 != 0 {
		fault.Raisef(fault.CategoryProgramming, "MISALIGNED", "word load at 0x%08X", addr)
	}
	m := b.find(addr)
	if m == nil {
		fault.Raise(fault.UnmappedAddress("load32", addr))
	}

	return m.dev.Load32(addr - m.base)
}

// Store32 writes a word register.
func (b *Bus) Store32(addr uint32, v uint32) {
	if addr%4 != 0 {
		fault.Raisef(fault.CategoryProgramming, "MISALIGNED", "word store at 0x%08X", addr)
	}
	m := b.find(addr)
	if m == nil {
		fault.Raise(fault.UnmappedAddress("store32", addr))
	}

	m.dev.Store32(addr-m.base, v)
}

// Load8 reads a byte register.
func (b *Bus) Load8(addr uint32) uint8 {
	m := b.find(addr)
	if m == nil {
		fault.Raise(fault.UnmappedAddress("load8", addr))
	}

	return m.dev.Load8(addr - m.base)
}

// Store8 writes a byte register.
func (b *Bus) Store8(addr uint32, v uint8) {
	m := b.find(addr)
	if m == nil {
		fault.Raise(fault.UnmappedAddress("store8", addr))
	}

	m.dev.Store8(addr-m.base, v)
}

// Ranges lists the claimed ranges in ascending base order.
func (b *Bus) Ranges() []Range {
	out := make([]Range, len(b.maps))
	for i, m := range b.maps {
		out[i] = Range{Name: m.name, Base: m.base, Size: m.size}
	}

	return out
}
