package port

import "github.com/vireo-rt/vireo/internal/fault"

// ============================================================================
// Critical section manager
// ============================================================================

// EnterCritical opens a critical section from task context: interrupts at or
// below the API-call ceiling are masked and the nesting depth rises by one.
// Calls nest; interrupts stay masked until the matching ExitCritical of the
// outermost level.
func (p *Port) EnterCritical() {
	p.raiseMaskToCeiling()
	p.state.CriticalNesting++

	// The first entry cannot come from an interrupt handler. Handlers use
	// the ISR-safe mask pair instead, which restores rather than counts.
	if p.state.CriticalNesting == 1 {
		fault.Assert(p.state.InterruptNesting == 0, fault.CategoryProgramming, "CRITICAL_FROM_ISR",
			"critical section entered from interrupt context (interrupt nesting %d)", p.state.InterruptNesting)
	}
}

// ExitCritical closes one level of critical section. The mask opens again
// only when the depth returns to zero. Unbalanced calls at depth zero leave
// the state untouched.
func (p *Port) ExitCritical() {
	if p.state.CriticalNesting > noCriticalNesting {
		p.state.CriticalNesting--
		if p.state.CriticalNesting == noCriticalNesting {
			p.openMaskFully()
		}
	}
}

// SetMaskFromISR masks interrupts at or below the API-call ceiling from any
// context and returns the previous mask state for the matching clear call.
func (p *Port) SetMaskFromISR() bool {
	return p.raiseMaskToCeiling()
}

// ClearMaskFromISR undoes a SetMaskFromISR given its return value. When the
// mask was already raised before the set, it stays raised.
func (p *Port) ClearMaskFromISR(wasMasked bool) {
	if !wasMasked {
		p.openMaskFully()
	}
}

// ValidateInterruptPriority checks, from inside a handler that is about to
// call into the scheduler, that the interrupt it services was assigned a
// priority at or below the API-call ceiling, and that the controller's
// binary point keeps all priority bits in the preemption group. Handlers
// above the ceiling run with scheduler structures in unknown states and
// must not call in.
func (p *Port) ValidateInterruptPriority() {
	fault.Assert(p.runningPriority() >= p.cfg.ceilingValue(), fault.CategoryProgramming, "ISR_PRIORITY",
		"scheduler call from interrupt with running priority 0x%02x above the ceiling 0x%02x",
		p.runningPriority(), p.cfg.ceilingValue())

	fault.Assert(p.binaryPoint()&binaryPointBits <= p.cfg.maxBinaryPoint(), fault.CategoryConfig, "BINARY_POINT",
		"binary point %d splits the configured priority bits", p.binaryPoint()&binaryPointBits)
}
