package port

import (
	"github.com/vireo-rt/vireo/internal/arena"
	"github.com/vireo-rt/vireo/internal/arm"
	"github.com/vireo-rt/vireo/internal/fault"
)

// ============================================================================
// Context switch engine
// ============================================================================

// saveContext pushes the running task's full context onto its stack and
// records the resulting stack top in the scheduler's current slot. The
// status word is passed in rather than read from the core because by the
// time a switch runs, the core's live status already reflects exception
// entry, not the task.
func (p *Port) saveContext(status uint32) {
	sp := arena.Index(p.core.SP())
	push := func(v uint32) {
		sp--
		p.mem.Store(sp, v)
	}

	push(status)
	push(p.core.PC())
	push(p.core.LR())
	for r := 12; r >= 0; r-- {
		push(p.core.R[r])
	}
	push(p.state.CriticalNesting)

	switch p.cfg.FPU {
	case FPUModeOptional:
		if p.state.TaskHasFPU {
			for i := arm.VFPDataWords - 1; i >= 0; i-- {
				push(p.core.VFP.D[i])
			}
			push(p.core.VFP.FPSCR)
			push(1)
		} else {
			push(0)
		}
	case FPUModeAll:
		for i := arm.VFPDataWords - 1; i >= 0; i-- {
			push(p.core.VFP.D[i])
		}
		push(p.core.VFP.FPSCR)
		push(1)
	}

	*p.sched.CurrentStackSlot() = sp
}

// restoreContext pops the current task's context from its stack into the
// core and performs the exception return. The priority mask is re-seated to
// match the incoming task's critical depth: a task switched out mid-critical
// resumes with the ceiling still in place.
func (p *Port) restoreContext() {
	sp := *p.sched.CurrentStackSlot()
	pop := func() uint32 {
		v := p.mem.Load(sp)
		sp++
		return v
	}

	if p.cfg.FPU != FPUModeOff {
		flagged := pop() != 0
		p.state.TaskHasFPU = flagged
		if flagged {
			p.core.VFP.FPSCR = pop()
			for i := 0; i < arm.VFPDataWords; i++ {
				p.core.VFP.D[i] = pop()
			}
		}
	}

	p.state.CriticalNesting = pop()
	if p.state.CriticalNesting == noCriticalNesting {
		p.storeMaskRaw(unmaskValue)
	} else {
		p.storeMaskRaw(p.cfg.ceilingValue())
	}

	for r := 0; r <= 12; r++ {
		p.core.R[r] = pop()
	}
	p.core.SetLR(pop())
	pc := pop()
	status := pop()
	p.core.SetSP(uint32(sp))
	p.in.ExceptionReturn(pc, status)
}

// switchContext saves the outgoing task under the given status word, lets
// the scheduler pick a successor, and restores it.
func (p *Port) switchContext(status uint32) {
	p.saveContext(status)
	p.sched.SwitchContext()
	p.restoreContext()
}

// Yield switches the calling task out immediately, the task-context
// equivalent of a software trap into the switch engine. The caller resumes,
// context intact, when the scheduler picks it again.
func (p *Port) Yield() {
	fault.Assert(p.started, fault.CategoryProgramming, "YIELD_BEFORE_START",
		"yield before the scheduler was started")
	fault.Assert(p.state.InterruptNesting == 0, fault.CategoryProgramming, "YIELD_FROM_ISR",
		"task-context yield from interrupt context; use RequestSwitchFromISR")

	status := p.core.CPSR
	p.in.CPUIRQDisable()
	p.switchContext(status)
}

// RequestSwitchFromISR marks that a context switch must happen when the
// outermost interrupt handler returns. Multiple requests within one nest
// collapse into a single switch.
func (p *Port) RequestSwitchFromISR() {
	fault.Assert(p.state.InterruptNesting > 0, fault.CategoryProgramming, "SWITCH_REQUEST_CONTEXT",
		"switch request outside interrupt context; use Yield")
	p.state.YieldPending = true
}
