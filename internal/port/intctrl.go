package port

// ============================================================================
// Interrupt controller adapter
// ============================================================================
//
// Thin accessors over the controller's CPU interface registers. Every write
// to the priority mask is bracketed: CPU interrupts off, store, data and
// instruction barriers, CPU interrupts on. The bracket keeps an interrupt
// from landing between the store and the barriers that make it visible.

func (p *Port) pmrAddr() uint32  { return p.cpuIfaceBase + iccPMROffset }
func (p *Port) bprAddr() uint32  { return p.cpuIfaceBase + iccBPROffset }
func (p *Port) iarAddr() uint32  { return p.cpuIfaceBase + iccIAROffset }
func (p *Port) eoirAddr() uint32 { return p.cpuIfaceBase + iccEOIROffset }
func (p *Port) rprAddr() uint32  { return p.cpuIfaceBase + iccRPROffset }

// raiseMaskToCeiling raises the priority mask to the API-call ceiling and
// reports whether it was already there. Leaving an already-raised mask
// untouched lets nested callers unwind without releasing an outer hold.
func (p *Port) raiseMaskToCeiling() bool {
	wasMasked := false
	p.in.CPUIRQDisable()
	if p.bus.Load32(p.pmrAddr()) == p.cfg.ceilingValue() {
		wasMasked = true
	} else {
		p.bus.Store32(p.pmrAddr(), p.cfg.ceilingValue())
		p.in.DataSyncBarrier()
		p.in.InstrSyncBarrier()
	}
	p.in.CPUIRQEnable()
	return wasMasked
}

// openMaskFully lowers the priority mask so every level is delivered again.
func (p *Port) openMaskFully() {
	p.in.CPUIRQDisable()
	p.bus.Store32(p.pmrAddr(), unmaskValue)
	p.in.DataSyncBarrier()
	p.in.InstrSyncBarrier()
	p.in.CPUIRQEnable()
}

// storeMaskRaw writes the priority mask without the bracket. Only the
// restore path uses it; there CPU interrupts are already off and the
// exception return that follows serializes the core.
func (p *Port) storeMaskRaw(value uint32) {
	p.bus.Store32(p.pmrAddr(), value)
}

// acknowledgeInterrupt reads the acknowledge register, claiming the highest
// pending interrupt and raising the controller's running priority.
func (p *Port) acknowledgeInterrupt() uint32 {
	return p.bus.Load32(p.iarAddr())
}

// completeInterrupt signals end-of-interrupt for a previously acknowledged
// ID, dropping the controller's running priority.
func (p *Port) completeInterrupt(id uint32) {
	p.bus.Store32(p.eoirAddr(), id)
}

// runningPriority reads the controller's current running priority.
func (p *Port) runningPriority() uint32 {
	return p.bus.Load32(p.rprAddr())
}

// binaryPoint reads back the controller's group/subgroup split.
func (p *Port) binaryPoint() uint32 {
	return p.bus.Load32(p.bprAddr())
}

// discoverPriorityBits probes the distributor for the number of implemented
// priority bits: write all ones to the first priority byte, read back what
// sticks, and shift the result down to its least significant bit. The
// probed byte is restored afterwards.
func (p *Port) discoverPriorityBits() uint32 {
	probe := p.cfg.ControllerBase + distPriorityOffset
	original := p.bus.Load8(probe)
	p.bus.Store8(probe, max8BitValue)
	readBack := uint32(p.bus.Load8(probe))
	p.bus.Store8(probe, original)
	for readBack != 0 && readBack&1 == 0 {
		readBack >>= 1
	}
	return readBack
}
