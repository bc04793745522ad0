package platform

import (
	"github.com/vireo-rt/vireo/internal/bus"
	"github.com/vireo-rt/vireo/internal/fault"
	"github.com/vireo-rt/vireo/internal/sched"
	"github.com/vireo-rt/vireo/internal/trace"
)

// ===== Snapshots =====

// FaultView is a fault rendered for transport.
type FaultView struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Caller   string `json:"caller"`
	Text     string `json:"text"`
}

func viewOf(f *fault.Fault) *FaultView {
	if f == nil {
		return nil
	}
	return &FaultView{
		Category: string(f.Category),
		Code:     f.Code,
		Message:  f.Message,
		Caller:   f.Caller,
		Text:     f.Error(),
	}
}

// CoreState is the register file at snapshot time.
type CoreState struct {
	R    [16]uint32 `json:"r"`
	CPSR uint32     `json:"cpsr"`
	PC   uint32     `json:"pc"`
	SP   uint32     `json:"sp"`
	LR   uint32     `json:"lr"`
	Mode uint32     `json:"mode"`
	IRQs bool       `json:"irqs_enabled"`
}

// ExecView mirrors the port's execution state.
type ExecView struct {
	CriticalNesting  uint32 `json:"critical_nesting"`
	InterruptNesting uint32 `json:"interrupt_nesting"`
	YieldPending     bool   `json:"yield_pending"`
	TaskHasFPU       bool   `json:"task_has_fpu"`
}

// ControllerState is the interrupt controller's visible registers.
type ControllerState struct {
	PriorityMask    uint32 `json:"priority_mask"`
	RunningPriority uint32 `json:"running_priority"`
	BinaryPoint     uint32 `json:"binary_point"`
	ActiveDepth     int    `json:"active_depth"`
	TimerPending    bool   `json:"timer_pending"`
}

// MemoryState summarizes the stack arena.
type MemoryState struct {
	CapacityWords uint32 `json:"capacity_words"`
	UsedWords     uint32 `json:"used_words"`
	PeakWords     uint32 `json:"peak_words"`
	Regions       int    `json:"regions"`
}

// MachineState is one consistent snapshot of the whole machine.
type MachineState struct {
	Profile       string           `json:"profile"`
	Steps         uint64           `json:"steps"`
	Tick          uint64           `json:"tick"`
	Started       bool             `json:"started"`
	Halted        bool             `json:"halted"`
	Fault         *FaultView       `json:"fault,omitempty"`
	Core          CoreState        `json:"core"`
	CurrentTask   *sched.TaskInfo  `json:"current_task,omitempty"`
	Exec          ExecView         `json:"exec"`
	Controller    ControllerState  `json:"controller"`
	Memory        MemoryState      `json:"memory"`
	TimerExpiries uint64           `json:"timer_expiries"`
	BusRanges     []bus.Range      `json:"bus_ranges"`
}

// State captures a consistent snapshot, serialized against the run loop.
func (m *Machine) State() MachineState {
	m.mu.Lock()
	defer m.mu.Unlock()

	core := m.core.Snapshot()
	st := m.pt.ExecState()
	s := MachineState{
		Profile: m.profile.Name,
		Steps:   m.steps,
		Tick:    m.sc.TickCount(),
		Started: m.pt.Started(),
		Halted:  m.halted,
		Fault:   viewOf(m.haltCause),
		Core: CoreState{
			R:    core.R,
			CPSR: core.CPSR,
			PC:   core.PC(),
			SP:   core.SP(),
			LR:   core.LR(),
			Mode: core.Mode(),
			IRQs: core.IRQEnabled(),
		},
		Exec: ExecView{
			CriticalNesting:  st.CriticalNesting,
			InterruptNesting: st.InterruptNesting,
			YieldPending:     st.YieldPending,
			TaskHasFPU:       st.TaskHasFPU,
		},
		Controller: ControllerState{
			PriorityMask:    m.ctl.PriorityMaskValue(),
			RunningPriority: m.ctl.RunningPriority(),
			BinaryPoint:     m.ctl.BinaryPointValue(),
			ActiveDepth:     m.ctl.ActiveDepth(),
			TimerPending:    m.timer.Pending(),
		},
		Memory: MemoryState{
			CapacityWords: uint32(m.mem.Capacity()),
			UsedWords:     uint32(m.mem.Used()),
			PeakWords:     uint32(m.mem.PeakUsage()),
			Regions:       m.mem.Regions(),
		},
		TimerExpiries: m.timer.Expiries(),
		BusRanges:     m.bus.Ranges(),
	}
	if info, ok := m.sc.Current(); ok {
		s.CurrentTask = &info
	}
	return s
}

// Tasks snapshots every task control block.
func (m *Machine) Tasks() []sched.TaskInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sc.Tasks()
}

// TickCount reads the scheduler tick under the machine lock.
func (m *Machine) TickCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sc.TickCount()
}

// Steps reports how many bursts have executed.
func (m *Machine) Steps() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.steps
}

// Halted reports whether a terminal fault has stopped the machine, and
// the fault if so.
func (m *Machine) Halted() (bool, *fault.Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted, m.haltCause
}

// ConsoleTail returns the recent console output.
func (m *Machine) ConsoleTail() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.console.TailString()
}

// InjectConsoleInput feeds host bytes into the console's receive side.
func (m *Machine) InjectConsoleInput(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.console.InjectInput(data)
}

// TraceTail returns up to n recent trace samples.
func (m *Machine) TraceTail(n int) []trace.Sample {
	return m.rec.Tail(n)
}

// BusPeek reads one word from the bus without executing a burst. The read
// goes through the real device, side effects included; peeking the
// controller's acknowledge register acknowledges. Reads of unmapped
// addresses report the fault instead of halting the machine.
func (m *Machine) BusPeek(addr uint32) (uint32, *fault.Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var v uint32
	f := fault.Catch(func() { v = m.bus.Load32(addr) })
	return v, f
}

// RoutineName resolves an address through the code space.
func (m *Machine) RoutineName(addr uint32) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.space.NameOf(addr)
}
