// Package port implements the CPU-and-interrupt-controller layer of the
// preemptive scheduler for a single Cortex-A9-class core: initial context
// construction, context switching, nested critical sections backed by
// controller priority masking, the tick interrupt path, and the one-shot
// startup sequence.
//
// The package consumes the scheduler through the narrow Scheduler interface
// and reaches the interrupt controller only through fixed register addresses
// on the bus, derived from the configured controller base. All process-wide
// mutable counters live in one ExecState block passed by reference; the only
// operations that touch the CPSR interrupt bits or perform the final
// restore-and-jump are the arm package intrinsics.
package port

import (
	"fmt"

	"github.com/vireo-rt/vireo/internal/arena"
	"github.com/vireo-rt/vireo/internal/arm"
	"github.com/vireo-rt/vireo/internal/bus"
	"github.com/vireo-rt/vireo/internal/fault"
)

// ============================================================================
// Interrupt controller register layout
// ============================================================================

// CPU interface register offsets from the configured interface base, and the
// distributor priority block offset from the controller base.
const (
	iccPMROffset  = 0x04
	iccBPROffset  = 0x08
	iccIAROffset  = 0x0C
	iccEOIROffset = 0x10
	iccRPROffset  = 0x14

	distPriorityOffset = 0x400

	spuriousInterruptID = 1023
	binaryPointBits     = 0x03
	max8BitValue        = 0xFF

	// unmaskValue opens the priority mask to all levels.
	unmaskValue = 0xFF
)

// Critical-nesting constants. The counter starts at a sentinel well above any
// real depth so that critical sections entered before the scheduler starts
// can never unmask interrupts; the first context restore replaces it from the
// first task's frame.
const (
	noCriticalNesting   = 0
	preSchedulerNesting = 9999
	initialStatusWord   = 0x1F // System mode, IRQ and FIQ enabled
	thumbStatusBit      = 0x20
)

// ============================================================================
// External collaborators
// ============================================================================

// Scheduler is the narrow surface the port layer consumes from the task
// scheduler.
type Scheduler interface {
	// IncrementTick advances scheduler time by one tick and reports whether
	// a context switch is now needed.
	IncrementTick() bool
	// SwitchContext selects the next task to run.
	SwitchContext()
	// CurrentStackSlot returns the current task's saved top-of-stack slot.
	// The port reads and writes the slot but never allocates it.
	CurrentStackSlot() *arena.Index
}

// InterruptHandler services one interrupt ID from interrupt context.
type InterruptHandler func(id uint32)

// ============================================================================
// Core execution state
// ============================================================================

// ExecState is the process-wide mutable state of the port layer. All
// mutation goes through the port's methods; the fields are exported for
// inspection only.
type ExecState struct {
	// CriticalNesting is the running task's critical-section depth. It is
	// saved into and restored from the task's frame on every switch.
	CriticalNesting uint32
	// InterruptNesting counts currently active interrupt handlers.
	InterruptNesting uint32
	// YieldPending defers a requested switch until the outermost interrupt
	// handler returns.
	YieldPending bool
	// TaskHasFPU mirrors the running task's floating-point flag word.
	TaskHasFPU bool
}

// Port ties the port layer to one core, one bus, and one stack arena.
type Port struct {
	cfg   Config
	core  *arm.Core
	in    *arm.Intrinsics
	bus   *bus.Bus
	mem   *arena.Arena
	sched Scheduler

	state    ExecState
	handlers map[uint32]InterruptHandler

	exitTrap uint32
	irqSPSR  uint32
	started  bool

	cpuIfaceBase uint32
}

// New creates a port over the given core, bus, and arena. The scheduler is
// bound separately with BindScheduler before startup.
func New(cfg Config, core *arm.Core, in *arm.Intrinsics, b *bus.Bus, mem *arena.Arena) (*Port, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("port: %w", err)
	}
	if core == nil || in == nil || b == nil || mem == nil {
		return nil, fmt.Errorf("port: nil core, intrinsics, bus, or arena")
	}

	return &Port{
		cfg:          cfg,
		core:         core,
		in:           in,
		bus:          b,
		mem:          mem,
		state:        ExecState{CriticalNesting: preSchedulerNesting},
		handlers:     make(map[uint32]InterruptHandler),
		cpuIfaceBase: cfg.ControllerBase + cfg.CPUInterfaceOffset,
	}, nil
}

// BindScheduler attaches the scheduler collaborator.
func (p *Port) BindScheduler(s Scheduler) {
	p.sched = s
}

// SetExitTrap records the code-space address tasks return to. The context
// builder preloads it into every frame's link register slot.
func (p *Port) SetExitTrap(addr uint32) {
	p.exitTrap = addr
}

// AttachInterrupt registers the handler for one interrupt ID.
func (p *Port) AttachInterrupt(id uint32, h InterruptHandler) {
	p.handlers[id] = h
}

// ExecState exposes the process-wide counters for inspection.
func (p *Port) ExecState() *ExecState {
	return &p.state
}

// Started reports whether the startup sequencer has run.
func (p *Port) Started() bool {
	return p.started
}

// InsideInterrupt reports whether the caller runs in interrupt context.
func (p *Port) InsideInterrupt() bool {
	return p.state.InterruptNesting > 0
}

// TaskUsesFPU registers that the running task needs a floating-point
// context. The flag is saved as part of the task context from the next
// switch on. Only meaningful when tasks opt in individually.
func (p *Port) TaskUsesFPU() {
	fault.Assert(p.cfg.FPU == FPUModeOptional, fault.CategoryConfig, "FPU_MODE",
		"floating-point adoption requires the optional FPU configuration, not %q", p.cfg.FPU)

	p.state.TaskHasFPU = true
	p.core.VFP.FPSCR = 0
}

// EndScheduler exists to satisfy the API surface: with nothing to return to,
// stopping the scheduler is unsupported.
func (p *Port) EndScheduler() {
	fault.Raisef(fault.CategoryProgramming, "END_SCHEDULER", "the scheduler cannot be stopped on this port")
}
