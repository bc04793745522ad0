package port

import (
	"log"

	"github.com/vireo-rt/vireo/internal/arm"
	"github.com/vireo-rt/vireo/internal/fault"
)

// ============================================================================
// Startup sequencer
// ============================================================================

// StartScheduler performs the one-shot transition from bring-up code to the
// first task. In privileged mode the controller is verified first: the
// probed priority-bit count must match the configuration, and the binary
// point is forced to zero and read back so every priority bit participates
// in preemption grouping. CPU interrupts are then disabled, the priority
// mask opened, the tick source armed, and the first task's context restored.
//
// On hardware this call never returns; here control comes back to the run
// loop with the core holding the first task, which serves the same purpose.
func (p *Port) StartScheduler() {
	fault.Assert(!p.started, fault.CategoryProgramming, "RESTARTED",
		"scheduler started twice")
	fault.Assert(p.sched != nil, fault.CategoryConfig, "SCHEDULER_UNBOUND",
		"no scheduler bound")
	fault.Assert(p.cfg.ArmTickSource != nil, fault.CategoryConfig, "TICK_SOURCE",
		"no tick source hook configured")

	if p.core.Mode() == arm.ModeUser {
		fault.Assert(p.cfg.AllowUserModeStart, fault.CategoryConfig, "NON_PRIVILEGED",
			"scheduler started from user mode")
		// Virtualized hosts hide the privileged controller registers, so
		// the probe and binary-point verification are skipped. The board
		// profile opted in to this explicitly.
		log.Printf("port: starting from user mode, controller verification skipped")
	} else {
		implemented := p.discoverPriorityBits()
		fault.Assert(implemented == p.cfg.UniquePriorities-1, fault.CategoryConfig, "PRIORITY_LEVELS",
			"controller implements %d priority levels, configured for %d",
			implemented+1, p.cfg.UniquePriorities)

		p.bus.Store32(p.bprAddr(), 0)
		fault.Assert(p.binaryPoint()&binaryPointBits <= p.cfg.maxBinaryPoint(), fault.CategoryConfig, "BINARY_POINT",
			"binary point stuck at %d, preemption grouping would lose priority bits", p.binaryPoint())
	}

	p.in.CPUIRQDisable()
	p.storeMaskRaw(unmaskValue)
	p.cfg.ArmTickSource()
	p.started = true
	p.restoreContext()
}

// ExitTrapRoutine is the routine bound at the address every initial frame
// carries in its link register slot. Reaching it means a task function
// returned, which this layer treats as terminal.
func (p *Port) ExitTrapRoutine() arm.Routine {
	return arm.RoutineFunc(func(*arm.Core) arm.Disposition {
		p.in.CPUIRQDisable()
		fault.Raisef(fault.CategoryTerminal, "TASK_RETURN",
			"task function returned; tasks must loop forever or delete themselves")
		return arm.DispositionContinue
	})
}
