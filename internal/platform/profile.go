// Package platform assembles a complete simulated board: memory arena,
// processor core, system bus, interrupt controller, timer and console
// devices, the port layer, and the scheduler, all described by a JSON
// board profile. The machine owns the run loop; everything else reads
// its state through snapshots.
package platform

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/Masterminds/semver/v3"

	"github.com/vireo-rt/vireo/internal/gic"
	"github.com/vireo-rt/vireo/internal/port"
	"github.com/vireo-rt/vireo/internal/sched"
)

// ===== Board profile =====

// profileFormats gates which profile file revisions this build accepts.
var profileFormats = mustConstraint(">= 1.0.0, < 2.0.0")

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// HexWord is a 32-bit value that marshals as a "0x"-prefixed string so
// profile files read like a memory map.
type HexWord uint32

// UnmarshalJSON accepts "0x"-prefixed strings, decimal strings, and bare
// JSON numbers.
func (h *HexWord) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, perr := parseWord(s)
		if perr != nil {
			return perr
		}
		*h = HexWord(v)
		return nil
	}
	var n uint64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("platform: address must be a string or number: %s", data)
	}
	if n > 0xFFFFFFFF {
		return fmt.Errorf("platform: address 0x%X exceeds 32 bits", n)
	}
	*h = HexWord(n)
	return nil
}

// MarshalJSON renders the value as "0xXXXXXXXX".
func (h HexWord) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("0x%08X", uint32(h)))
}

func parseWord(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("platform: cannot parse address %q: %w", s, err)
	}
	return uint32(v), nil
}

// CPUBlock describes the processor.
type CPUBlock struct {
	ClockHz            uint64 `json:"clock_hz"`
	AllowUserModeStart bool   `json:"allow_user_mode_start"`
}

// ControllerBlock describes the interrupt controller's placement and shape.
type ControllerBlock struct {
	Base               HexWord `json:"base"`
	CPUInterfaceOffset HexWord `json:"cpu_interface_offset"`
	UniquePriorities   uint32  `json:"unique_priorities"`
	MinBinaryPoint     uint32  `json:"min_binary_point"`
}

// SchedulerBlock carries the timing and priority parameters.
type SchedulerBlock struct {
	TickRateHz         uint32 `json:"tick_rate_hz"`
	MaxAPICallPriority uint32 `json:"max_api_call_priority"`
	PriorityLevels     uint32 `json:"priority_levels"`
	MinStackWords      uint32 `json:"min_stack_words"`
}

// MemoryBlock sizes the stack arena.
type MemoryBlock struct {
	StackArenaWords uint32 `json:"stack_arena_words"`
}

// TimerBlock places the tick timer.
type TimerBlock struct {
	Base HexWord `json:"base"`
	IRQ  uint32  `json:"irq"`
}

// ConsoleBlock places the serial console.
type ConsoleBlock struct {
	Base HexWord `json:"base"`
	IRQ  uint32  `json:"irq"`
}

// DeviceBlock groups the board's peripherals.
type DeviceBlock struct {
	Timer   TimerBlock   `json:"timer"`
	Console ConsoleBlock `json:"console"`
}

// Profile is a complete board description, loadable from JSON.
type Profile struct {
	FormatVersion string `json:"format_version"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`

	CPU        CPUBlock        `json:"cpu"`
	Controller ControllerBlock `json:"interrupt_controller"`
	Scheduler  SchedulerBlock  `json:"scheduler"`
	FPU        port.FPUMode    `json:"fpu"`
	Memory     MemoryBlock     `json:"memory"`
	Devices    DeviceBlock     `json:"devices"`
}

// DefaultProfile returns the reference single-core board.
func DefaultProfile() *Profile {
	return &Profile{
		FormatVersion: "1.0.0",
		Name:          "refboard-a9",
		Description:   "Reference single-core board with one tick timer and one console",
		CPU: CPUBlock{
			ClockHz:            1_000_000_000, // 1 GHz
			AllowUserModeStart: false,
		},
		Controller: ControllerBlock{
			Base:               0x08040000,
			CPUInterfaceOffset: 0x00010000,
			UniquePriorities:   256,
			MinBinaryPoint:     0,
		},
		Scheduler: SchedulerBlock{
			TickRateHz:         1000, // 1 ms tick
			MaxAPICallPriority: 200,
			PriorityLevels:     8,
			MinStackWords:      96,
		},
		FPU: port.FPUModeOptional,
		Memory: MemoryBlock{
			StackArenaWords: 65536, // 256 KiB of task stacks
		},
		Devices: DeviceBlock{
			Timer:   TimerBlock{Base: 0x10011000, IRQ: 34},
			Console: ConsoleBlock{Base: 0x09000000, IRQ: 37},
		},
	}
}

// LoadProfile reads and validates a profile file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("platform: read profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes and validates profile JSON.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("platform: decode profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the profile for internal consistency. Port-level
// parameters get a second, stricter check when the machine builds its
// port configuration.
func (p *Profile) Validate() error {
	ver, err := semver.NewVersion(p.FormatVersion)
	if err != nil {
		return fmt.Errorf("platform: bad format_version %q: %w", p.FormatVersion, err)
	}
	if !profileFormats.Check(ver) {
		return fmt.Errorf("platform: format_version %s outside supported range %s",
			p.FormatVersion, "[1.0.0, 2.0.0)")
	}
	if p.Name == "" {
		return fmt.Errorf("platform: profile has no name")
	}
	if p.CPU.ClockHz == 0 {
		return fmt.Errorf("platform: cpu.clock_hz must be positive")
	}
	if p.Scheduler.TickRateHz == 0 {
		return fmt.Errorf("platform: scheduler.tick_rate_hz must be positive")
	}
	if uint64(p.Scheduler.TickRateHz) > p.CPU.ClockHz {
		return fmt.Errorf("platform: tick rate %d Hz exceeds cpu clock %d Hz",
			p.Scheduler.TickRateHz, p.CPU.ClockHz)
	}
	if p.Memory.StackArenaWords == 0 {
		return fmt.Errorf("platform: memory.stack_arena_words must be positive")
	}
	if p.Devices.Timer.IRQ < 32 || p.Devices.Timer.IRQ >= gic.MaxInterrupts {
		return fmt.Errorf("platform: timer irq %d outside shared peripheral range [32, %d)",
			p.Devices.Timer.IRQ, gic.MaxInterrupts)
	}
	if p.Devices.Console.IRQ < 32 || p.Devices.Console.IRQ >= gic.MaxInterrupts {
		return fmt.Errorf("platform: console irq %d outside shared peripheral range [32, %d)",
			p.Devices.Console.IRQ, gic.MaxInterrupts)
	}
	if p.Devices.Timer.IRQ == p.Devices.Console.IRQ {
		return fmt.Errorf("platform: timer and console share irq %d", p.Devices.Timer.IRQ)
	}
	if p.Scheduler.PriorityLevels == 0 || p.Scheduler.PriorityLevels > 64 {
		return fmt.Errorf("platform: scheduler.priority_levels %d outside [1, 64]",
			p.Scheduler.PriorityLevels)
	}
	if p.Scheduler.MinStackWords == 0 {
		return fmt.Errorf("platform: scheduler.min_stack_words must be positive")
	}
	if err := p.portConfig().Validate(); err != nil {
		return fmt.Errorf("platform: %w", err)
	}
	return nil
}

// portConfig maps the profile onto the port layer's configuration. The
// tick source hooks are left nil; the machine wires them to its devices.
func (p *Profile) portConfig() port.Config {
	return port.Config{
		ControllerBase:     uint32(p.Controller.Base),
		CPUInterfaceOffset: uint32(p.Controller.CPUInterfaceOffset),
		UniquePriorities:   p.Controller.UniquePriorities,
		MaxAPICallPriority: p.Scheduler.MaxAPICallPriority,
		FPU:                p.FPU,
		AllowUserModeStart: p.CPU.AllowUserModeStart,
		TickRateHz:         p.Scheduler.TickRateHz,
		CPUClockHz:         p.CPU.ClockHz,
	}
}

func (p *Profile) schedOptions() sched.Options {
	return sched.Options{
		PriorityLevels: p.Scheduler.PriorityLevels,
		MinStackWords:  p.Scheduler.MinStackWords,
	}
}

// TickIntervalCycles is the number of processor cycles between tick
// interrupts at the profile's clock and tick rate.
func (p *Profile) TickIntervalCycles() uint64 {
	return p.CPU.ClockHz / uint64(p.Scheduler.TickRateHz)
}
