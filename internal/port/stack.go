package port

import (
	"github.com/vireo-rt/vireo/internal/arena"
	"github.com/vireo-rt/vireo/internal/arm"
	"github.com/vireo-rt/vireo/internal/fault"
)

// ============================================================================
// Task context builder
// ============================================================================

// registerFiller is the recognizable pattern seeded into R1..R12 of a fresh
// frame: the register number repeated through the word, so a debugger sees
// at a glance which slots were never written by real code.
func registerFiller(n int) uint32 {
	digits := uint32(n/10)<<4 | uint32(n%10)
	return digits * 0x01010101
}

// BuildInitialContext lays a first context frame at the top of the given
// stack region and returns the frame's base, the value the task's stack
// slot must hold before the first restore. The frame makes the task look
// exactly as if it had been switched out moments after entering its
// function: entry address in the program counter slot, the parameter in R0,
// the return trap in the link register, and a status word for System mode
// with interrupts enabled.
func (p *Port) BuildInitialContext(region arena.Region, entry, param uint32) arena.Index {
	fault.Assert(p.exitTrap != 0, fault.CategoryConfig, "EXIT_TRAP",
		"context built before the task return trap was bound")
	fault.Assert(region.Size >= p.cfg.frameWords(), fault.CategoryConfig, "STACK_TOO_SMALL",
		"stack region of %d words cannot hold a %d word initial frame", region.Size, p.cfg.frameWords())

	sp := region.Top()
	push := func(v uint32) {
		sp--
		p.mem.Store(sp, v)
	}

	status := uint32(initialStatusWord)
	if entry&1 != 0 {
		status |= thumbStatusBit
	}

	push(status)
	push(entry)
	push(p.exitTrap)
	for r := 12; r >= 1; r-- {
		push(registerFiller(r))
	}
	push(param)
	push(noCriticalNesting)

	switch p.cfg.FPU {
	case FPUModeOptional:
		// Tasks opt in later; until then the frame carries only the flag.
		push(0)
	case FPUModeAll:
		for i := 0; i < arm.VFPDataWords; i++ {
			push(0)
		}
		push(0) // FPSCR
		push(1)
	}

	return sp
}
