package port

// ============================================================================
// Tick handler
// ============================================================================

// TickInterruptHandler services the periodic tick: it raises the priority
// mask so scheduler structures can be walked, reopens the CPU to interrupts
// above the ceiling, advances scheduler time, and notes whether the time
// slice expired. The mask opens again before the tick source is cleared so
// lower-priority interrupts pend no longer than necessary.
//
// Attach it to the board's timer interrupt ID.
func (p *Port) TickInterruptHandler(uint32) {
	p.in.CPUIRQDisable()
	p.bus.Store32(p.pmrAddr(), p.cfg.ceilingValue())
	p.in.DataSyncBarrier()
	p.in.InstrSyncBarrier()
	p.in.CPUIRQEnable()
	p.PollInterrupts()

	if p.sched.IncrementTick() {
		p.state.YieldPending = true
	}

	p.openMaskFully()
	p.PollInterrupts()

	if p.cfg.ClearTickSource != nil {
		p.cfg.ClearTickSource()
	}
}
