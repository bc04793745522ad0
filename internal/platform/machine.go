package platform

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/vireo-rt/vireo/internal/arena"
	"github.com/vireo-rt/vireo/internal/arm"
	"github.com/vireo-rt/vireo/internal/bus"
	"github.com/vireo-rt/vireo/internal/fault"
	"github.com/vireo-rt/vireo/internal/gic"
	"github.com/vireo-rt/vireo/internal/port"
	"github.com/vireo-rt/vireo/internal/sched"
	"github.com/vireo-rt/vireo/internal/trace"
)

// ===== Machine assembly =====

const (
	codeSpaceBase = 0x40000000

	defaultTraceCapacity = 4096
	defaultBurstsPerTick = 10
)

// MachineOptions tune the parts of the machine the profile does not fix.
type MachineOptions struct {
	// StepCycles is the processor time charged per routine burst. Zero
	// selects one tenth of the tick interval.
	StepCycles uint64
	// TraceCapacity sizes the execution trace ring. Zero selects the
	// default.
	TraceCapacity int
	// ConsoleOut receives the console's transmitted bytes. Nil discards
	// them; the transmit tail is kept either way.
	ConsoleOut io.Writer
}

// Machine is one assembled board: core, bus, interrupt controller,
// devices, port layer, and scheduler, driven by a single run loop.
//
// The machine's own goroutine is the only one that may execute bursts or
// call task-side scheduler operations. Other goroutines observe it
// through the snapshot accessors, which serialize against the loop.
type Machine struct {
	mu sync.Mutex

	profile *Profile
	mem     *arena.Arena
	core    *arm.Core
	in      *arm.Intrinsics
	bus     *bus.Bus
	ctl     *gic.Controller
	pt      *port.Port
	sc      *sched.Scheduler
	space   *arm.CodeSpace
	timer   *Timer
	console *Console
	rec     *trace.Recorder

	stepCycles uint64
	exitTrap   uint32

	steps     uint64
	halted    bool
	haltCause *fault.Fault
}

// NewMachine assembles a machine from a validated profile.
func NewMachine(p *Profile, opts MachineOptions) (*Machine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	mem, err := arena.New(arena.Index(p.Memory.StackArenaWords))
	if err != nil {
		return nil, fmt.Errorf("platform: stack arena: %w", err)
	}
	ctl, err := gic.New(p.Controller.UniquePriorities, p.Controller.MinBinaryPoint)
	if err != nil {
		return nil, fmt.Errorf("platform: interrupt controller: %w", err)
	}

	m := &Machine{
		profile: p,
		mem:     mem,
		core:    arm.NewCore(),
		bus:     bus.New(),
		ctl:     ctl,
		space:   arm.NewCodeSpace(codeSpaceBase),
	}
	m.in = arm.NewIntrinsics(m.core)
	m.timer = NewTimer(func() { ctl.SetPending(p.Devices.Timer.IRQ) })
	m.console = NewConsole(opts.ConsoleOut, func() { ctl.SetPending(p.Devices.Console.IRQ) })

	distBase := uint32(p.Controller.Base)
	cpuBase := distBase + uint32(p.Controller.CPUInterfaceOffset)
	if err := m.bus.Map("intc.dist", distBase, gic.DistributorSize, ctl.Distributor()); err != nil {
		return nil, fmt.Errorf("platform: %w", err)
	}
	if err := m.bus.Map("intc.cpu", cpuBase, gic.CPUInterfaceSize, ctl.CPUInterface()); err != nil {
		return nil, fmt.Errorf("platform: %w", err)
	}
	if err := m.bus.Map("timer", uint32(p.Devices.Timer.Base), timerSize, m.timer); err != nil {
		return nil, fmt.Errorf("platform: %w", err)
	}
	if err := m.bus.Map("console", uint32(p.Devices.Console.Base), uartSize, m.console); err != nil {
		return nil, fmt.Errorf("platform: %w", err)
	}

	cfg := p.portConfig()
	cfg.ArmTickSource = m.armTick
	cfg.ClearTickSource = m.clearTick
	cfg.InterruptLine = ctl.IRQAsserted

	m.pt, err = port.New(cfg, m.core, m.in, m.bus, mem)
	if err != nil {
		return nil, fmt.Errorf("platform: %w", err)
	}
	m.exitTrap = m.space.Bind("taskExitTrap", m.pt.ExitTrapRoutine())
	m.pt.SetExitTrap(m.exitTrap)

	m.sc, err = sched.New(m.pt, mem, p.schedOptions())
	if err != nil {
		return nil, fmt.Errorf("platform: %w", err)
	}
	m.pt.AttachInterrupt(p.Devices.Timer.IRQ, m.pt.TickInterruptHandler)

	capacity := opts.TraceCapacity
	if capacity == 0 {
		capacity = defaultTraceCapacity
	}
	m.rec, err = trace.NewRecorder(capacity)
	if err != nil {
		return nil, err
	}

	m.stepCycles = opts.StepCycles
	if m.stepCycles == 0 {
		m.stepCycles = p.TickIntervalCycles() / defaultBurstsPerTick
		if m.stepCycles == 0 {
			m.stepCycles = 1
		}
	}
	return m, nil
}

// armTick programs the timer through its bus registers and opens the tick
// interrupt's path through the controller.
func (m *Machine) armTick() {
	interval := m.profile.TickIntervalCycles()
	base := uint32(m.profile.Devices.Timer.Base)
	m.bus.Store32(base+timerLoadOffset, uint32(interval))
	m.bus.Store32(base+timerControlOffset, timerCtrlEnable|timerCtrlPeriodic|timerCtrlIntEn)

	irq := m.profile.Devices.Timer.IRQ
	m.ctl.SetPriority(irq, m.tickPriority())
	m.ctl.EnableInterrupt(irq)
	m.ctl.EnableDistributor(true)
	m.ctl.EnableCPUInterface(true)
}

func (m *Machine) clearTick() {
	m.bus.Store32(uint32(m.profile.Devices.Timer.Base)+timerIntClrOffset, 1)
}

// tickPriority is the second-lowest implemented priority level. The
// bottom level never passes a fully open mask under the controller's
// strict comparison, so the tick sits one step above it.
func (m *Machine) tickPriority() uint8 {
	shift := m.ctl.PriorityShift()
	return uint8((m.profile.Controller.UniquePriorities - 2) << shift)
}

// AddTask binds the routine in the code space and creates a task running
// it. Machine goroutine only.
func (m *Machine) AddTask(name string, priority, stackWords uint32, r arm.Routine, param uint32) (uint32, error) {
	entry := m.space.Bind(name, r)
	return m.sc.CreateTask(name, entry, param, priority, stackWords)
}

// Bind adds a routine to the code space without creating a task, for
// interrupt handler bodies and shared helpers.
func (m *Machine) Bind(name string, r arm.Routine) uint32 {
	return m.space.Bind(name, r)
}

// Scheduler exposes the task API for routines running on the machine
// goroutine.
func (m *Machine) Scheduler() *sched.Scheduler { return m.sc }

// Bus exposes the register bus for routines doing device I/O. Machine
// goroutine only.
func (m *Machine) Bus() *bus.Bus { return m.bus }

// Port exposes the port layer for handler attachment and task-side
// operations. Machine goroutine only.
func (m *Machine) Port() *port.Port { return m.pt }

// Console returns the board's serial console.
func (m *Machine) Console() *Console { return m.console }

// Trace returns the execution trace ring.
func (m *Machine) Trace() *trace.Recorder { return m.rec }

// Profile returns the board description the machine was built from.
func (m *Machine) Profile() *Profile { return m.profile }

// Run starts the scheduler if needed and executes bursts until the tick
// count advances by ticks, the context ends, or the machine halts on a
// terminal fault. ticks of zero runs until one of the other two.
func (m *Machine) Run(ctx context.Context, ticks uint64) error {
	if err := m.start(); err != nil {
		return err
	}
	target := m.TickCount() + ticks
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if ticks != 0 && m.TickCount() >= target {
			return nil
		}
		if err := m.StepOnce(); err != nil {
			return err
		}
	}
}

func (m *Machine) start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.halted {
		return fmt.Errorf("platform: machine halted: %s", m.haltCause.Error())
	}
	if m.pt.Started() {
		return nil
	}
	if f := fault.Catch(func() {
		m.sc.Prepare()
		m.pt.StartScheduler()
	}); f != nil {
		m.halted = true
		m.haltCause = f
		return fmt.Errorf("platform: startup: %s", f.Error())
	}
	return nil
}

// StepOnce executes one burst of the routine at the current program
// counter, advances device time, and drains deliverable interrupts. A
// fault halts the machine and is returned as an error.
func (m *Machine) StepOnce() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.halted {
		return fmt.Errorf("platform: machine halted: %s", m.haltCause.Error())
	}
	if !m.pt.Started() {
		return fmt.Errorf("platform: machine not started")
	}

	f := fault.Catch(func() {
		pc := m.core.PC()
		r, ok := m.space.Lookup(pc)
		if !ok {
			fault.Raisef(fault.CategoryProgramming, "UNBOUND_PC",
				"program counter 0x%08X resolves to no routine", pc)
		}
		if r.Step(m.core) == arm.DispositionReturned {
			m.core.SetPC(m.core.LR())
		}
		m.timer.Advance(m.stepCycles)
		m.pt.PollInterrupts()
	})

	m.steps++
	m.record()

	if f != nil {
		m.halted = true
		m.haltCause = f
		return fmt.Errorf("platform: halted at step %d: %s", m.steps, f.Error())
	}
	return nil
}

func (m *Machine) record() {
	s := trace.Sample{
		Step: m.steps,
		Tick: m.sc.TickCount(),
		PC:   m.core.PC(),
	}
	st := m.pt.ExecState()
	s.InterruptNesting = st.InterruptNesting
	s.CriticalNesting = st.CriticalNesting
	if info, ok := m.sc.Current(); ok {
		s.TaskID = info.ID
		s.TaskName = info.Name
	}
	m.rec.Record(s)
}
