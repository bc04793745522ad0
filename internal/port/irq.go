package port

import (
	"github.com/vireo-rt/vireo/internal/arm"
	"github.com/vireo-rt/vireo/internal/fault"
)

// ============================================================================
// Interrupt entry and exit
// ============================================================================

// DispatchIRQ takes one interrupt: acknowledge, run the attached handler,
// complete, and unwind. On the outermost entry the interrupted task's
// status word is captured first so a later switch saves the task as it was
// before the exception, not as the handler left the core. A deferred switch
// request is honored only when the nesting count returns to zero.
func (p *Port) DispatchIRQ() {
	nested := p.state.InterruptNesting > 0
	if !nested {
		p.irqSPSR = p.core.CPSR
		p.core.SetMode(arm.ModeIRQ)
	}
	p.in.CPUIRQDisable()
	p.state.InterruptNesting++

	id := p.acknowledgeInterrupt()
	if id == spuriousInterruptID {
		p.exitInterrupt(nested)
		return
	}

	handler := p.handlers[id]
	fault.Assert(handler != nil, fault.CategoryProgramming, "UNHANDLED_INTERRUPT",
		"no handler attached for interrupt %d", id)
	handler(id)

	p.completeInterrupt(id)
	p.exitInterrupt(nested)
}

// exitInterrupt unwinds one level of interrupt nesting. Nested levels fall
// back into the interrupted handler with CPU interrupts reopened; the
// outermost level either returns to the interrupted task or performs the
// deferred switch.
func (p *Port) exitInterrupt(nested bool) {
	p.state.InterruptNesting--
	if nested {
		p.in.CPUIRQEnable()
		return
	}

	if p.state.YieldPending {
		p.state.YieldPending = false
		p.switchContext(p.irqSPSR)
		return
	}
	p.in.ExceptionReturn(p.core.PC(), p.irqSPSR)
}

// PollInterrupts drains the controller's interrupt line while the core has
// interrupts enabled. Handlers call it after reopening the CPU to pick up
// higher-priority interrupts mid-service; the run loop calls it between
// task steps.
func (p *Port) PollInterrupts() {
	if p.cfg.InterruptLine == nil {
		return
	}
	for p.core.IRQEnabled() && p.cfg.InterruptLine() {
		p.DispatchIRQ()
	}
}
