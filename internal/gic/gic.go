// Package gic models the GICv2 interrupt controller subset the port layer
// depends on: distributor enable/pending/priority state and a CPU interface
// with priority masking, binary-point grouping, acknowledge/end-of-interrupt
// pairing, and a running-priority stack that tracks preemption nesting.
package gic

import (
	"fmt"

	"github.com/vireo-rt/vireo/internal/fault"
)

const (
	// MaxInterrupts is the number of modeled interrupt IDs. IDs 0-15 are
	// software-generated, 16-31 private peripheral, 32 and up shared
	// peripheral.
	MaxInterrupts = 256

	// SpuriousID is returned by an acknowledge with nothing to deliver.
	SpuriousID = 1023

	// IdlePriority is the running priority while no interrupt is active.
	IdlePriority = 0xFF

	binaryPointBits = 0x7
)

// Controller is the distributor and one CPU interface of a single-core GICv2.
type Controller struct {
	numPriorities uint32
	minBPR        uint32
	prioMask      uint8

	distEnabled bool
	cpuEnabled  bool

	enabled  [MaxInterrupts / 32]uint32
	pending  [MaxInterrupts / 32]uint32
	priority [MaxInterrupts]uint8

	pmr uint32
	bpr uint32

	// Active interrupt stack, innermost last. RPR is the group priority of
	// the top entry.
	activeID   []uint32
	activePrio []uint8
}

// New creates a controller implementing numPriorities unique priority
// levels (a power of two between 16 and 256). minBPR is the hardware floor
// the binary-point register clamps writes to.
func New(numPriorities, minBPR uint32) (*Controller, error) {
	switch numPriorities {
	case 16, 32, 64, 128, 256:
	default:
		return nil, fmt.Errorf("gic: unsupported priority level count %d", numPriorities)
	}
	if minBPR > binaryPointBits {
		return nil, fmt.Errorf("gic: binary point floor %d out of range", minBPR)
	}

	c := &Controller{
		numPriorities: numPriorities,
		minBPR:        minBPR,
		bpr:           minBPR,
	}

	// Implemented priority bits occupy the top of the byte; unimplemented
	// low bits read back as zero.
	shift := uint(0)
	for levels := numPriorities; levels < 256; levels <<= 1 {
		shift++
	}
	c.prioMask = uint8(0xFF << shift)

	return c, nil
}

// PriorityShift returns the number of unimplemented low bits in a priority
// byte.
func (c *Controller) PriorityShift() uint32 {
	shift := uint32(0)
	for levels := c.numPriorities; levels < 256; levels <<= 1 {
		shift++
	}

	return shift
}

// groupPriority strips the subpriority field selected by the binary point.
func (c *Controller) groupPriority(p uint8) uint8 {
	return p &^ uint8((1<<(c.bpr+1))-1)
}

// ============================================================================
// Software interrupt lines (device side)
// ============================================================================

func checkID(id uint32) {
	if id >= MaxInterrupts {
		fault.Raise(fault.OutOfRange("interrupt id", id, MaxInterrupts))
	}
}

// SetPending asserts an interrupt line.
func (c *Controller) SetPending(id uint32) {
	checkID(id)
	c.pending[id/32] |= 1 << (id % 32)
}

// ClearPending deasserts a pending interrupt that has not been acknowledged.
func (c *Controller) ClearPending(id uint32) {
	checkID(id)
	c.pending[id/32] &^= 1 << (id % 32)
}

// Pending reports whether the interrupt is pending.
func (c *Controller) Pending(id uint32) bool {
	checkID(id)

	return c.pending[id/32]&(1<<(id%32)) != 0
}

// EnableInterrupt enables forwarding of one interrupt.
func (c *Controller) EnableInterrupt(id uint32) {
	checkID(id)
	c.enabled[id/32] |= 1 << (id % 32)
}

// DisableInterrupt disables forwarding of one interrupt.
func (c *Controller) DisableInterrupt(id uint32) {
	checkID(id)
	c.enabled[id/32] &^= 1 << (id % 32)
}

// Enabled reports whether the interrupt is enabled.
func (c *Controller) Enabled(id uint32) bool {
	checkID(id)

	return c.enabled[id/32]&(1<<(id%32)) != 0
}

// SetPriority sets an interrupt's priority byte. Unimplemented low bits are
// discarded, as a real distributor does.
func (c *Controller) SetPriority(id uint32, prio uint8) {
	checkID(id)
	c.priority[id] = prio & c.prioMask
}

// Priority returns an interrupt's priority byte.
func (c *Controller) Priority(id uint32) uint8 {
	checkID(id)

	return c.priority[id]
}

// EnableDistributor turns group forwarding on or off at the distributor.
func (c *Controller) EnableDistributor(on bool) { c.distEnabled = on }

// EnableCPUInterface turns signaling to the core on or off.
func (c *Controller) EnableCPUInterface(on bool) { c.cpuEnabled = on }

// ============================================================================
// Delivery
// ============================================================================

// highestPending returns the best deliverable interrupt: enabled, pending,
// priority strictly below the mask, and group priority strictly below the
// running group priority. Lowest priority value wins; ties go to the lowest
// ID.
func (c *Controller) highestPending() (uint32, bool) {
	if !c.distEnabled || !c.cpuEnabled {
		return SpuriousID, false
	}

	best := uint32(SpuriousID)
	bestPrio := uint32(0x100)
	for word := 0; word < len(c.pending); word++ {
		deliverable := c.pending[word] & c.enabled[word]
		if deliverable == 0 {
			continue
		}
		for bit := uint32(0); bit < 32; bit++ {
			if deliverable&(1<<bit) == 0 {
				continue
			}
			id := uint32(word)*32 + bit
			if p := uint32(c.priority[id]); p < bestPrio {
				best = id
				bestPrio = p
			}
		}
	}

	if best == SpuriousID {
		return SpuriousID, false
	}
	if bestPrio >= c.pmr {
		return SpuriousID, false
	}
	if len(c.activePrio) > 0 {
		top := c.activePrio[len(c.activePrio)-1]
		if c.groupPriority(uint8(bestPrio)) >= c.groupPriority(top) {
			return SpuriousID, false
		}
	}

	return best, true
}

// IRQAsserted reports whether the controller is signaling the core's IRQ
// line.
func (c *Controller) IRQAsserted() bool {
	_, ok := c.highestPending()

	return ok
}

// Acknowledge performs an IAR read: the winning interrupt becomes active
// (pushed on the running-priority stack) and its pending state clears. With
// nothing deliverable it returns SpuriousID.
func (c *Controller) Acknowledge() uint32 {
	id, ok := c.highestPending()
	if !ok {
		return SpuriousID
	}

	c.pending[id/32] &^= 1 << (id % 32)
	c.activeID = append(c.activeID, id)
	c.activePrio = append(c.activePrio, c.priority[id])

	return id
}

// EndOfInterrupt performs an EOIR write. Completion must match the innermost
// active interrupt; anything else is a dispatch bug.
func (c *Controller) EndOfInterrupt(id uint32) {
	if len(c.activeID) == 0 {
		fault.Raisef(fault.CategoryProgramming, "EOI_UNDERFLOW", "end of interrupt %d with no active interrupt", id)
	}
	top := c.activeID[len(c.activeID)-1]
	if top != id {
		fault.Raisef(fault.CategoryProgramming, "EOI_ORDER", "end of interrupt %d while %d is innermost", id, top)
	}

	c.activeID = c.activeID[:len(c.activeID)-1]
	c.activePrio = c.activePrio[:len(c.activePrio)-1]
}

// RunningPriority returns the group priority of the innermost active
// interrupt, or IdlePriority when none is active.
func (c *Controller) RunningPriority() uint32 {
	if len(c.activePrio) == 0 {
		return IdlePriority
	}

	return uint32(c.groupPriority(c.activePrio[len(c.activePrio)-1]))
}

// ActiveDepth returns the number of stacked active interrupts.
func (c *Controller) ActiveDepth() int { return len(c.activeID) }

// PriorityMaskValue returns the current PMR value.
func (c *Controller) PriorityMaskValue() uint32 { return c.pmr }

// BinaryPointValue returns the current BPR value.
func (c *Controller) BinaryPointValue() uint32 { return c.bpr }

// setPMR applies the implemented-bit clamp of the priority mask register.
func (c *Controller) setPMR(v uint32) {
	c.pmr = v & uint32(c.prioMask)
}

// setBPR applies the hardware floor of the binary point register.
func (c *Controller) setBPR(v uint32) {
	v &= binaryPointBits
	if v < c.minBPR {
		v = c.minBPR
	}
	c.bpr = v
}
