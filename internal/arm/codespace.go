package arm

import (
	"fmt"
	"sort"
)

// Disposition reports how a routine burst ended.
type Disposition uint8

const (
	// DispositionContinue means the routine has more work; the next burst
	// re-enters it at the same program counter.
	DispositionContinue Disposition = iota
	// DispositionReturned means the routine's function returned. The core
	// branches to the link register, which for task bodies lands in the
	// terminal trap.
	DispositionReturned
)

// Routine is a resumable task or trap body driven in bursts. A routine must
// return promptly after invoking any operation that can transfer control
// away from it; register writes after such a call would land in the next
// task's live registers.
type Routine interface {
	Step(c *Core) Disposition
}

// RoutineFunc adapts a plain function to the Routine interface.
type RoutineFunc func(c *Core) Disposition

// Step implements Routine.
func (f RoutineFunc) Step(c *Core) Disposition { return f(c) }

// routineStride spaces bound addresses apart so neighboring routines are
// visibly distinct in traces and register dumps.
const routineStride = 0x40

// CodeSpace binds synthetic word-aligned addresses to routines. It stands in
// for the text segment: the restore path jumps to an address, and the machine
// loop resolves that address back to the routine to run.
type CodeSpace struct {
	base     uint32
	next     uint32
	routines map[uint32]Routine
	names    map[uint32]string
}

// NewCodeSpace creates a code space handing out addresses from base upward.
func NewCodeSpace(base uint32) *CodeSpace {
	return &CodeSpace{
		base:     base,
		next:     base,
		routines: make(map[uint32]Routine),
		names:    make(map[uint32]string),
	}
}

// Bind assigns the next address to the routine and returns it.
func (cs *CodeSpace) Bind(name string, r Routine) uint32 {
	addr := cs.next
	cs.next += routineStride
	cs.routines[addr] = r
	cs.names[addr] = name

	return addr
}

// Lookup resolves an address to its routine. The Thumb bit in the address is
// ignored, matching the entry-point convention for Thumb-encoded functions.
func (cs *CodeSpace) Lookup(addr uint32) (Routine, bool) {
	r, ok := cs.routines[addr&^1]

	return r, ok
}

// NameOf returns the bound name for an address, or a hex rendering if the
// address is unbound.
func (cs *CodeSpace) NameOf(addr uint32) string {
	if name, ok := cs.names[addr&^1]; ok {
		return name
	}

	return fmt.Sprintf("0x%08X", addr)
}

// Bindings lists bound addresses in ascending order, for dumps and the
// inspector.
func (cs *CodeSpace) Bindings() []uint32 {
	addrs := make([]uint32, 0, len(cs.routines))
	for a := range cs.routines {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	return addrs
}
