package port

import (
	"fmt"

	"github.com/vireo-rt/vireo/internal/arm"
)

// ============================================================================
// Port configuration
// ============================================================================

// FPUMode selects how task frames carry floating-point state.
type FPUMode string

const (
	// FPUModeOff builds frames with no flag word; no task may use the FPU.
	FPUModeOff FPUMode = "off"
	// FPUModeOptional starts every task without floating-point state and
	// lets it opt in through TaskUsesFPU.
	FPUModeOptional FPUMode = "optional"
	// FPUModeAll gives every task a full floating-point block from birth.
	FPUModeAll FPUMode = "all"
)

// Config carries the compile-time constants of the original layer as runtime
// values: controller placement, the priority space, the floating-point
// policy, and the hooks the board wires in.
type Config struct {
	// ControllerBase is the distributor base address of the interrupt
	// controller on the bus.
	ControllerBase uint32
	// CPUInterfaceOffset locates the CPU interface relative to the base.
	CPUInterfaceOffset uint32

	// UniquePriorities is the number of distinct interrupt priority levels
	// the controller implements. Must be a power of two between 16 and 256.
	UniquePriorities uint32
	// MaxAPICallPriority is the highest logical priority (lowest numeric
	// value after shifting) from which interrupt handlers may call into the
	// scheduler. It doubles as the ceiling the mask operations install.
	MaxAPICallPriority uint32

	// FPU selects the floating-point frame policy.
	FPU FPUMode

	// AllowUserModeStart permits starting the scheduler from user mode with
	// the controller checks skipped. Virtualized hosts hide the privileged
	// controller registers, so the probe would read garbage there; on real
	// boards this must stay false.
	AllowUserModeStart bool

	// TickRateHz is the scheduler tick frequency.
	TickRateHz uint32
	// CPUClockHz is the modeled core clock, used for timer division.
	CPUClockHz uint64

	// ArmTickSource programs and enables the periodic tick interrupt. The
	// startup sequencer calls it exactly once.
	ArmTickSource func()
	// ClearTickSource acknowledges the tick source after each tick.
	ClearTickSource func()
	// InterruptLine reports whether the controller is asserting the core's
	// interrupt request line.
	InterruptLine func() bool
}

// Validate checks the static portion of the configuration. Hook presence is
// not checked here; the startup sequencer asserts on it so that a port can
// be constructed before its board wiring is complete.
func (c *Config) Validate() error {
	switch c.UniquePriorities {
	case 16, 32, 64, 128, 256:
	default:
		return fmt.Errorf("unsupported priority level count %d", c.UniquePriorities)
	}
	if c.MaxAPICallPriority == 0 || c.MaxAPICallPriority >= c.UniquePriorities {
		return fmt.Errorf("max API call priority %d outside (0, %d)", c.MaxAPICallPriority, c.UniquePriorities)
	}
	if c.ControllerBase%4 != 0 || c.CPUInterfaceOffset%4 != 0 {
		return fmt.Errorf("controller addresses must be word aligned")
	}
	switch c.FPU {
	case FPUModeOff, FPUModeOptional, FPUModeAll:
	default:
		return fmt.Errorf("unknown FPU mode %q", c.FPU)
	}
	if c.TickRateHz == 0 {
		return fmt.Errorf("tick rate must be positive")
	}
	if c.CPUClockHz == 0 {
		return fmt.Errorf("CPU clock must be positive")
	}
	return nil
}

// priorityShift is the distance priority values are shifted left before
// being written to the controller, so that the configured levels land in
// the implemented top bits of the priority byte.
func (c *Config) priorityShift() uint32 {
	shift := uint32(0)
	for levels := c.UniquePriorities; levels < 256; levels <<= 1 {
		shift++
	}
	return shift
}

// ceilingValue is the mask ceiling as written to the priority mask register.
func (c *Config) ceilingValue() uint32 {
	return c.MaxAPICallPriority << c.priorityShift()
}

// maxBinaryPoint is the largest binary-point value that still keeps every
// configured priority level in the preemption group field.
func (c *Config) maxBinaryPoint() uint32 {
	shift := c.priorityShift()
	if shift == 0 {
		return 0
	}
	return shift - 1
}

// frameWords is the size of one initial context frame in words.
func (c *Config) frameWords() uint32 {
	// Nesting word, R0..R12, LR, PC, CPSR.
	words := uint32(17)
	switch c.FPU {
	case FPUModeOptional:
		words++ // flag word
	case FPUModeAll:
		words += 1 + 1 + arm.VFPDataWords // flag, FPSCR, D registers
	}
	return words
}
