// Package arm models the execution state of a single Cortex-A9-class core:
// the general-purpose register file, the status register, the VFP bank, and
// the code space that binds synthetic addresses to host routines.
//
// The model captures the contract of each register, not instruction
// encodings. Task bodies execute as resumable routines driven in bursts; the
// program counter selects a routine, and all state that must survive a
// context switch flows through the register file and the saved frames built
// on the arena.
package arm

// General-purpose register indices. R13 through R15 carry their conventional
// roles.
const (
	RegR0 = iota
	RegR1
	RegR2
	RegR3
	RegR4
	RegR5
	RegR6
	RegR7
	RegR8
	RegR9
	RegR10
	RegR11
	RegR12
	RegSP
	RegLR
	RegPC

	// NumRegs is the size of the general-purpose register file.
	NumRegs = 16
)

// CPSR fields.
const (
	ModeMask = 0x1F
	ModeUser = 0x10
	ModeIRQ  = 0x12
	ModeSVC  = 0x13
	ModeSys  = 0x1F

	ThumbBit   = 1 << 5
	FIQDisable = 1 << 6
	IRQDisable = 1 << 7
)

// VFPDataWords is the number of words holding D0..D31.
const VFPDataWords = 64

// VFPBank holds the floating-point register file: thirty-two
// double-precision registers stored as word pairs, plus the status register.
type VFPBank struct {
	D     [VFPDataWords]uint32
	FPSCR uint32
}

// Core is the execution state of the modeled CPU. It is a plain value type;
// copying it yields an independent snapshot.
type Core struct {
	R    [NumRegs]uint32
	CPSR uint32
	VFP  VFPBank
}

// NewCore returns a core in its reset state: Supervisor mode with both
// interrupt classes disabled, all registers zero.
func NewCore() *Core {
	return &Core{CPSR: ModeSVC | IRQDisable | FIQDisable}
}

// PC returns the program counter.
func (c *Core) PC() uint32 { return c.R[RegPC] }

// SetPC sets the program counter.
func (c *Core) SetPC(v uint32) { c.R[RegPC] = v }

// SP returns the stack pointer.
func (c *Core) SP() uint32 { return c.R[RegSP] }

// SetSP sets the stack pointer.
func (c *Core) SetSP(v uint32) { c.R[RegSP] = v }

// LR returns the link register.
func (c *Core) LR() uint32 { return c.R[RegLR] }

// SetLR sets the link register.
func (c *Core) SetLR(v uint32) { c.R[RegLR] = v }

// Mode returns the CPSR mode field.
func (c *Core) Mode() uint32 { return c.CPSR & ModeMask }

// SetMode replaces the CPSR mode field, leaving the other bits alone.
func (c *Core) SetMode(m uint32) {
	c.CPSR = (c.CPSR &^ ModeMask) | (m & ModeMask)
}

// Privileged reports whether the core is in any privileged mode.
func (c *Core) Privileged() bool { return c.Mode() != ModeUser }

// IRQEnabled reports whether IRQs are deliverable to the core.
func (c *Core) IRQEnabled() bool { return c.CPSR&IRQDisable == 0 }

// Thumb reports whether the Thumb bit is set.
func (c *Core) Thumb() bool { return c.CPSR&ThumbBit != 0 }

// Snapshot returns an independent copy of the core state.
func (c *Core) Snapshot() Core { return *c }
