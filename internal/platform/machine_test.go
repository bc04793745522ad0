package platform

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/vireo-rt/vireo/internal/arm"
	"github.com/vireo-rt/vireo/internal/fault"
)

func testProfile() *Profile {
	p := DefaultProfile()
	p.Memory.StackArenaWords = 8192
	return p
}

// oneTickPerStep makes every burst end in a tick interrupt, so tick
// arithmetic in tests is exact.
func oneTickPerStep(p *Profile) MachineOptions {
	return MachineOptions{StepCycles: p.TickIntervalCycles()}
}

func newTestMachine(t *testing.T, opts MachineOptions) *Machine {
	t.Helper()
	m, err := NewMachine(testProfile(), opts)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	return m
}

func spin() arm.Routine {
	return arm.RoutineFunc(func(*arm.Core) arm.Disposition { return arm.DispositionContinue })
}

func TestMachineRunsForRequestedTicks(t *testing.T) {
	p := testProfile()
	m, err := NewMachine(p, oneTickPerStep(p))
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	bursts := 0
	if _, err := m.AddTask("idle", 0, 128, arm.RoutineFunc(func(*arm.Core) arm.Disposition {
		bursts++
		return arm.DispositionContinue
	}), 0); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	if err := m.Run(context.Background(), 5); err != nil {
		t.Fatalf("Run: %v", err)
	}

	st := m.State()
	if !st.Started || st.Halted {
		t.Fatalf("state = started %v halted %v", st.Started, st.Halted)
	}
	if st.Tick != 5 || st.Steps != 5 {
		t.Fatalf("tick = %d steps = %d, want 5 and 5", st.Tick, st.Steps)
	}
	if bursts != 5 {
		t.Fatalf("bursts = %d, want 5", bursts)
	}
	if st.TimerExpiries != 5 {
		t.Fatalf("timer expiries = %d, want 5", st.TimerExpiries)
	}
	if st.CurrentTask == nil || st.CurrentTask.Name != "idle" {
		t.Fatalf("current task = %+v", st.CurrentTask)
	}
	if st.Controller.PriorityMask != 0xFF {
		t.Fatalf("mask = 0x%02X between bursts, want fully open", st.Controller.PriorityMask)
	}
	if st.Exec.InterruptNesting != 0 || st.Exec.CriticalNesting != 0 {
		t.Fatalf("nesting = %+v between bursts", st.Exec)
	}
}

func TestMachineRotatesEqualPriorityTasks(t *testing.T) {
	p := testProfile()
	m, err := NewMachine(p, oneTickPerStep(p))
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	counts := map[string]int{}
	worker := func(name string) arm.Routine {
		return arm.RoutineFunc(func(*arm.Core) arm.Disposition {
			counts[name]++
			return arm.DispositionContinue
		})
	}
	if _, err := m.AddTask("a", 1, 128, worker("a"), 0); err != nil {
		t.Fatalf("AddTask a: %v", err)
	}
	if _, err := m.AddTask("b", 1, 128, worker("b"), 0); err != nil {
		t.Fatalf("AddTask b: %v", err)
	}
	if _, err := m.AddTask("idle", 0, 128, spin(), 0); err != nil {
		t.Fatalf("AddTask idle: %v", err)
	}

	if err := m.Run(context.Background(), 6); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if counts["a"] != 3 || counts["b"] != 3 {
		t.Fatalf("counts = %v, want 3 bursts each", counts)
	}
	if counts["idle"] != 0 {
		t.Fatal("idle ran while level 1 was ready")
	}

	names := map[string]bool{}
	for _, s := range m.TraceTail(0) {
		names[s.TaskName] = true
	}
	if !names["a"] || !names["b"] {
		t.Fatalf("trace saw %v, want both workers", names)
	}
}

func TestMachineSleepAndWake(t *testing.T) {
	p := testProfile()
	m, err := NewMachine(p, oneTickPerStep(p))
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}

	wakes := 0
	started := false
	worker := arm.RoutineFunc(func(*arm.Core) arm.Disposition {
		if started {
			wakes++
		}
		started = true
		m.Scheduler().Sleep(3)
		return arm.DispositionContinue
	})
	if _, err := m.AddTask("worker", 2, 128, worker, 0); err != nil {
		t.Fatalf("AddTask worker: %v", err)
	}
	if _, err := m.AddTask("idle", 0, 128, spin(), 0); err != nil {
		t.Fatalf("AddTask idle: %v", err)
	}

	if err := m.Run(context.Background(), 8); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if wakes != 2 {
		t.Fatalf("wakes = %d, want 2 over 8 ticks sleeping 3", wakes)
	}

	var found bool
	for _, info := range m.Tasks() {
		if info.Name == "worker" {
			found = true
			if info.State != "delayed" {
				t.Fatalf("worker state = %s, want delayed", info.State)
			}
		}
	}
	if !found {
		t.Fatal("worker missing from task list")
	}
}

func TestMachineHaltsWhenTaskReturns(t *testing.T) {
	p := testProfile()
	m, err := NewMachine(p, oneTickPerStep(p))
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	if _, err := m.AddTask("oneshot", 1, 128, arm.RoutineFunc(func(*arm.Core) arm.Disposition {
		return arm.DispositionReturned
	}), 0); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if _, err := m.AddTask("idle", 0, 128, spin(), 0); err != nil {
		t.Fatalf("AddTask idle: %v", err)
	}

	err = m.Run(context.Background(), 10)
	if err == nil {
		t.Fatal("expected the return trap to halt the run")
	}
	if !strings.Contains(err.Error(), "TASK_RETURN") {
		t.Fatalf("error = %v, want the return trap fault", err)
	}

	halted, f := m.Halted()
	if !halted || f == nil || f.Category != fault.CategoryTerminal {
		t.Fatalf("halted = %v fault = %+v", halted, f)
	}
	st := m.State()
	if st.Fault == nil || st.Fault.Code != "TASK_RETURN" {
		t.Fatalf("state fault = %+v", st.Fault)
	}

	// A halted machine refuses further work.
	if err := m.StepOnce(); err == nil {
		t.Fatal("StepOnce should fail after a halt")
	}
}

func TestMachineConsoleOutput(t *testing.T) {
	p := testProfile()
	var out bytes.Buffer
	opts := oneTickPerStep(p)
	opts.ConsoleOut = &out
	m, err := NewMachine(p, opts)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}

	base := uint32(p.Devices.Console.Base)
	printed := false
	printer := arm.RoutineFunc(func(*arm.Core) arm.Disposition {
		if !printed {
			printed = true
			for _, b := range []byte("hi\n") {
				m.Bus().Store32(base+uartDROffset, uint32(b))
			}
		}
		m.Scheduler().Sleep(100)
		return arm.DispositionContinue
	})
	if _, err := m.AddTask("printer", 1, 128, printer, 0); err != nil {
		t.Fatalf("AddTask printer: %v", err)
	}
	if _, err := m.AddTask("idle", 0, 128, spin(), 0); err != nil {
		t.Fatalf("AddTask idle: %v", err)
	}

	if err := m.Run(context.Background(), 3); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != "hi\n" {
		t.Fatalf("sink = %q", out.String())
	}
	if m.ConsoleTail() != "hi\n" {
		t.Fatalf("tail = %q", m.ConsoleTail())
	}
}

func TestMachineConsoleReceiveInterrupt(t *testing.T) {
	p := testProfile()
	m, err := NewMachine(p, oneTickPerStep(p))
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}

	conBase := uint32(p.Devices.Console.Base)
	conIRQ := p.Devices.Console.IRQ
	distBase := uint32(p.Controller.Base)

	var received []byte
	m.Port().AttachInterrupt(conIRQ, func(uint32) {
		for m.Bus().Load32(conBase+uartFROffset)&uartFRRXFE == 0 {
			received = append(received, byte(m.Bus().Load32(conBase+uartDROffset)))
		}
		m.Bus().Store32(conBase+uartICROffset, uartIntRX)
	})

	armed := false
	setup := arm.RoutineFunc(func(*arm.Core) arm.Disposition {
		if !armed {
			armed = true
			// Open the receive path: unmask in the console, enable the
			// line in the distributor.
			m.Bus().Store32(conBase+uartIMSCOffset, uartIntRX)
			m.Bus().Store32(distBase+0x100+(conIRQ/32)*4, 1<<(conIRQ%32))
		}
		return arm.DispositionContinue
	})
	if _, err := m.AddTask("setup", 1, 128, setup, 0); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	if err := m.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run: %v", err)
	}
	m.InjectConsoleInput([]byte("ok"))
	if err := m.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run after inject: %v", err)
	}

	if string(received) != "ok" {
		t.Fatalf("received = %q", received)
	}
	st := m.State()
	if st.Exec.InterruptNesting != 0 || st.Controller.ActiveDepth != 0 {
		t.Fatalf("interrupt state did not unwind: %+v %+v", st.Exec, st.Controller)
	}
}

func TestMachineBusPeek(t *testing.T) {
	p := testProfile()
	m, err := NewMachine(p, oneTickPerStep(p))
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	if _, err := m.AddTask("idle", 0, 128, spin(), 0); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if err := m.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run: %v", err)
	}

	v, f := m.BusPeek(uint32(p.Devices.Timer.Base) + timerLoadOffset)
	if f != nil {
		t.Fatalf("peek faulted: %v", f)
	}
	if uint64(v) != p.TickIntervalCycles() {
		t.Fatalf("timer load = %d, want %d", v, p.TickIntervalCycles())
	}

	if _, f := m.BusPeek(0x00000010); f == nil {
		t.Fatal("unmapped peek should report a fault")
	}
	if halted, _ := m.Halted(); halted {
		t.Fatal("a peek fault must not halt the machine")
	}
}

func TestMachineTickPriorityAvoidsBottomLevel(t *testing.T) {
	m := newTestMachine(t, MachineOptions{})
	if got := m.tickPriority(); got != 0xFE {
		t.Fatalf("tick priority = 0x%02X, want 0xFE", got)
	}
}

func TestMachineRunHonorsContext(t *testing.T) {
	m := newTestMachine(t, MachineOptions{})
	if _, err := m.AddTask("idle", 0, 128, spin(), 0); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Run(ctx, 0); err != context.Canceled {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
}

func TestMachineStartWithoutTasksFaults(t *testing.T) {
	m := newTestMachine(t, MachineOptions{})
	err := m.Run(context.Background(), 1)
	if err == nil {
		t.Fatal("expected startup to fail with no ready task")
	}
	if !strings.Contains(err.Error(), "NO_READY_TASK") {
		t.Fatalf("error = %v", err)
	}
}
