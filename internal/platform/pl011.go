package platform

import "io"

// ===== Serial console device =====

// PL011 register offsets.
const (
	uartDROffset   = 0x00
	uartFROffset   = 0x18
	uartIBRDOffset = 0x24
	uartFBRDOffset = 0x28
	uartLCRHOffset = 0x2C
	uartCROffset   = 0x30
	uartIMSCOffset = 0x38
	uartMISOffset  = 0x40
	uartICROffset  = 0x44

	uartSize = 0x1000
)

// Flag register bits.
const (
	uartFRBusy = 1 << 3
	uartFRRXFE = 1 << 4
	uartFRTXFF = 1 << 5
	uartFRTXFE = 1 << 7
)

// Interrupt bits (IMSC, MIS, ICR).
const uartIntRX = 1 << 4

const uartTailSize = 4096

// Console is a serial port whose transmit side writes straight to a host
// sink and whose receive side is fed by InjectInput. The transmitter
// never fills, so code polling the flag register before each store makes
// progress immediately. A bounded tail of transmitted bytes is kept for
// inspection.
//
// Access is serialized by the machine; the console has no lock of its own.
type Console struct {
	sink io.Writer
	tail []byte

	rx      []byte
	imsc    uint32
	rxIntUp bool
	onRaise func()
}

// NewConsole creates a console writing transmitted bytes to sink. A nil
// sink discards output but still records the tail. onRaise runs when a
// receive interrupt is asserted.
func NewConsole(sink io.Writer, onRaise func()) *Console {
	return &Console{sink: sink, onRaise: onRaise}
}

// Load32 reads a console register.
func (c *Console) Load32(off uint32) uint32 {
	switch off {
	case uartDROffset:
		if len(c.rx) == 0 {
			return 0
		}
		b := c.rx[0]
		c.rx = c.rx[1:]
		return uint32(b)
	case uartFROffset:
		fr := uint32(uartFRTXFE)
		if len(c.rx) == 0 {
			fr |= uartFRRXFE
		}
		return fr
	case uartIMSCOffset:
		return c.imsc
	case uartMISOffset:
		if c.rxIntUp && c.imsc&uartIntRX != 0 {
			return uartIntRX
		}
		return 0
	default:
		return 0
	}
}

// Store32 writes a console register. Baud and line-control stores are
// accepted and ignored; the host link has no real line.
func (c *Console) Store32(off uint32, v uint32) {
	switch off {
	case uartDROffset:
		c.transmit(byte(v))
	case uartIMSCOffset:
		c.imsc = v
		if c.imsc&uartIntRX != 0 && len(c.rx) > 0 {
			c.assertRX()
		}
	case uartICROffset:
		if v&uartIntRX != 0 {
			c.rxIntUp = false
		}
	}
}

// Load8 reads the addressed byte of the containing register.
func (c *Console) Load8(off uint32) uint8 {
	word := c.Load32(off &^ 3)
	return uint8(word >> ((off & 3) * 8))
}

// Store8 forwards data-register byte stores; other registers are
// word-programmed.
func (c *Console) Store8(off uint32, v uint8) {
	if off == uartDROffset {
		c.transmit(v)
	}
}

func (c *Console) transmit(b byte) {
	if c.sink != nil {
		c.sink.Write([]byte{b})
	}
	c.tail = append(c.tail, b)
	if len(c.tail) > uartTailSize {
		c.tail = c.tail[len(c.tail)-uartTailSize:]
	}
}

// InjectInput queues host bytes on the receive side, asserting the
// receive interrupt if it is unmasked.
func (c *Console) InjectInput(data []byte) {
	if len(data) == 0 {
		return
	}
	c.rx = append(c.rx, data...)
	if c.imsc&uartIntRX != 0 {
		c.assertRX()
	}
}

func (c *Console) assertRX() {
	c.rxIntUp = true
	if c.onRaise != nil {
		c.onRaise()
	}
}

// InputPending reports whether unread receive bytes remain.
func (c *Console) InputPending() bool {
	return len(c.rx) > 0
}

// Tail returns up to the last 4 KiB of transmitted bytes.
func (c *Console) Tail() []byte {
	out := make([]byte, len(c.tail))
	copy(out, c.tail)
	return out
}

// TailString returns the transmit tail as text.
func (c *Console) TailString() string {
	return string(c.tail)
}
