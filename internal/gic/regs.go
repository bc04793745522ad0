package gic

import (
	"github.com/vireo-rt/vireo/internal/bus"
	"github.com/vireo-rt/vireo/internal/fault"
)

// Distributor register offsets.
const (
	GICDCtlr      = 0x000
	GICDTyper     = 0x004
	GICDISEnabler = 0x100
	GICDICEnabler = 0x180
	GICDISPendr   = 0x200
	GICDICPendr   = 0x280
	GICDIPriority = 0x400
	GICDSGIR      = 0xF00

	// DistributorSize is the mapped span of the distributor block.
	DistributorSize = 0x1000
)

// CPU interface register offsets.
const (
	GICCCtlr = 0x00
	GICCPMR  = 0x04
	GICCBPR  = 0x08
	GICCIAR  = 0x0C
	GICCEOIR = 0x10
	GICCRPR  = 0x14
	GICCHPPI = 0x18

	// CPUInterfaceSize is the mapped span of the CPU interface block.
	CPUInterfaceSize = 0x100
)

// distributorPort exposes the distributor as a bus device.
type distributorPort struct {
	c *Controller
}

// Distributor returns the distributor register block for bus mapping.
func (c *Controller) Distributor() *distributorPort { return &distributorPort{c: c} }

func (d *distributorPort) Load32(off uint32) uint32 {
	c := d.c
	switch {
	case off == GICDCtlr:
		if c.distEnabled {
			return 1
		}

		return 0
	case off == GICDTyper:
		return MaxInterrupts/32 - 1
	case off >= GICDISEnabler && off < GICDISEnabler+MaxInterrupts/8:
		return c.enabled[(off-GICDISEnabler)/4]
	case off >= GICDICEnabler && off < GICDICEnabler+MaxInterrupts/8:
		return c.enabled[(off-GICDICEnabler)/4]
	case off >= GICDISPendr && off < GICDISPendr+MaxInterrupts/8:
		return c.pending[(off-GICDISPendr)/4]
	case off >= GICDICPendr && off < GICDICPendr+MaxInterrupts/8:
		return c.pending[(off-GICDICPendr)/4]
	case off >= GICDIPriority && off < GICDIPriority+MaxInterrupts:
		id := off - GICDIPriority

		return uint32(c.priority[id]) | uint32(c.priority[id+1])<<8 |
			uint32(c.priority[id+2])<<16 | uint32(c.priority[id+3])<<24
	}

	fault.Raisef(fault.CategoryProgramming, "UNKNOWN_REG", "distributor load at offset 0x%03X", off)

	return 0
}

func (d *distributorPort) Store32(off uint32, v uint32) {
	c := d.c
	switch {
	case off == GICDCtlr:
		c.distEnabled = v&1 != 0

		return
	case off >= GICDISEnabler && off < GICDISEnabler+MaxInterrupts/8:
		c.enabled[(off-GICDISEnabler)/4] |= v

		return
	case off >= GICDICEnabler && off < GICDICEnabler+MaxInterrupts/8:
		c.enabled[(off-GICDICEnabler)/4] &^= v

		return
	case off >= GICDISPendr && off < GICDISPendr+MaxInterrupts/8:
		c.pending[(off-GICDISPendr)/4] |= v

		return
	case off >= GICDICPendr && off < GICDICPendr+MaxInterrupts/8:
		c.pending[(off-GICDICPendr)/4] &^= v

		return
	case off >= GICDIPriority && off < GICDIPriority+MaxInterrupts:
		id := off - GICDIPriority
		c.SetPriority(id, uint8(v))
		c.SetPriority(id+1, uint8(v>>8))
		c.SetPriority(id+2, uint8(v>>16))
		c.SetPriority(id+3, uint8(v>>24))

		return
	case off == GICDSGIR:
		// Single core: the target filter is ignored.
		c.SetPending(v & 0xF)

		return
	}

	fault.Raisef(fault.CategoryProgramming, "UNKNOWN_REG", "distributor store at offset 0x%03X", off)
}

// Load8 serves the byte-accessible priority registers.
func (d *distributorPort) Load8(off uint32) uint8 {
	if off >= GICDIPriority && off < GICDIPriority+MaxInterrupts {
		return d.c.priority[off-GICDIPriority]
	}

	fault.Raisef(fault.CategoryProgramming, "BYTE_ACCESS", "distributor byte load at offset 0x%03X", off)

	return 0
}

// Store8 serves the byte-accessible priority registers.
func (d *distributorPort) Store8(off uint32, v uint8) {
	if off >= GICDIPriority && off < GICDIPriority+MaxInterrupts {
		d.c.SetPriority(off-GICDIPriority, v)

		return
	}

	fault.Raisef(fault.CategoryProgramming, "BYTE_ACCESS", "distributor byte store at offset 0x%03X", off)
}

// cpuInterfacePort exposes the CPU interface as a bus device. All registers
// are word-only.
type cpuInterfacePort struct {
	bus.WordOnly
	c *Controller
}

// CPUInterface returns the CPU interface register block for bus mapping.
func (c *Controller) CPUInterface() *cpuInterfacePort { return &cpuInterfacePort{c: c} }

func (p *cpuInterfacePort) Load32(off uint32) uint32 {
	c := p.c
	switch off {
	case GICCCtlr:
		if c.cpuEnabled {
			return 1
		}

		return 0
	case GICCPMR:
		return c.pmr
	case GICCBPR:
		return c.bpr
	case GICCIAR:
		return c.Acknowledge()
	case GICCRPR:
		return c.RunningPriority()
	case GICCHPPI:
		id, ok := c.highestPending()
		if !ok {
			return SpuriousID
		}

		return id
	}

	fault.Raisef(fault.CategoryProgramming, "UNKNOWN_REG", "cpu interface load at offset 0x%02X", off)

	return 0
}

func (p *cpuInterfacePort) Store32(off uint32, v uint32) {
	c := p.c
	switch off {
	case GICCCtlr:
		c.cpuEnabled = v&1 != 0

		return
	case GICCPMR:
		c.setPMR(v)

		return
	case GICCBPR:
		c.setBPR(v)

		return
	case GICCEOIR:
		c.EndOfInterrupt(v & 0x3FF)

		return
	}

	fault.Raisef(fault.CategoryProgramming, "UNKNOWN_REG", "cpu interface store at offset 0x%02X", off)
}
