package platform

// ===== Tick timer device =====

// SP804 register offsets, first timer of the pair.
const (
	timerLoadOffset    = 0x00
	timerValueOffset   = 0x04
	timerControlOffset = 0x08
	timerIntClrOffset  = 0x0C
	timerRISOffset     = 0x10
	timerMISOffset     = 0x14
	timerBGLoadOffset  = 0x18

	timerSize = 0x1000
)

// TimerControl bits.
const (
	timerCtrlOneShot  = 1 << 0
	timerCtrlPeriodic = 1 << 6
	timerCtrlIntEn    = 1 << 5
	timerCtrlEnable   = 1 << 7
)

// Timer is a down-counting interval timer with a raw interrupt status
// bit, programmed through its registers like the hardware part. The run
// loop advances it with processor cycles; on expiry it raises its line
// through the callback. The prescaler bits are accepted but the count
// always runs at the bus clock.
//
// Access is serialized by the machine; the timer has no lock of its own.
type Timer struct {
	load    uint32
	value   uint32
	control uint32
	ris     bool

	expiries uint64
	onExpire func()
}

// NewTimer creates a stopped timer. onExpire runs once per expiry while
// the interrupt enable bit is set; a nil callback counts expiries only.
func NewTimer(onExpire func()) *Timer {
	return &Timer{onExpire: onExpire}
}

// Load32 reads a timer register.
func (t *Timer) Load32(off uint32) uint32 {
	switch off {
	case timerLoadOffset, timerBGLoadOffset:
		return t.load
	case timerValueOffset:
		return t.value
	case timerControlOffset:
		return t.control
	case timerRISOffset:
		if t.ris {
			return 1
		}
		return 0
	case timerMISOffset:
		if t.ris && t.control&timerCtrlIntEn != 0 {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// Store32 writes a timer register.
func (t *Timer) Store32(off uint32, v uint32) {
	switch off {
	case timerLoadOffset:
		// Writing the load register also reloads the count.
		t.load = v
		t.value = v
	case timerBGLoadOffset:
		t.load = v
	case timerControlOffset:
		starting := v&timerCtrlEnable != 0 && t.control&timerCtrlEnable == 0
		t.control = v
		if starting && t.value == 0 {
			t.value = t.load
		}
	case timerIntClrOffset:
		t.ris = false
	}
}

// Load8 reads the addressed byte of the containing register.
func (t *Timer) Load8(off uint32) uint8 {
	word := t.Load32(off &^ 3)
	return uint8(word >> ((off & 3) * 8))
}

// Store8 is ignored; the part's registers are word-programmed.
func (t *Timer) Store8(off uint32, v uint8) {}

// Advance runs the count down by the given number of cycles, firing once
// per expiry. Disabled timers do not count.
func (t *Timer) Advance(cycles uint64) {
	if t.control&timerCtrlEnable == 0 {
		return
	}
	for cycles > 0 {
		if uint64(t.value) > cycles {
			t.value -= uint32(cycles)
			return
		}
		cycles -= uint64(t.value)
		t.expire()
		switch {
		case t.control&timerCtrlOneShot != 0:
			t.value = 0
			t.control &^= timerCtrlEnable
			return
		case t.control&timerCtrlPeriodic != 0:
			if t.load == 0 {
				t.value = 0
				return
			}
			t.value = t.load
		default:
			// Free-running mode wraps through the full count.
			t.value = 0xFFFFFFFF
		}
	}
}

func (t *Timer) expire() {
	t.ris = true
	t.expiries++
	if t.control&timerCtrlIntEn != 0 && t.onExpire != nil {
		t.onExpire()
	}
}

// Expiries reports how many times the count has reached zero.
func (t *Timer) Expiries() uint64 {
	return t.expiries
}

// Pending reports the raw interrupt status bit.
func (t *Timer) Pending() bool {
	return t.ris
}
