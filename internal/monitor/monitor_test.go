package monitor

import (
	"strings"
	"testing"

	"github.com/vireo-rt/vireo/internal/arm"
	"github.com/vireo-rt/vireo/internal/platform"
)

func newTestMachine(t *testing.T) *platform.Machine {
	t.Helper()
	p := platform.DefaultProfile()
	p.Memory.StackArenaWords = 8192
	m, err := platform.NewMachine(p, platform.MachineOptions{
		StepCycles: p.TickIntervalCycles(),
	})
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	spin := arm.RoutineFunc(func(c *arm.Core) arm.Disposition {
		return arm.DispositionContinue
	})
	if _, err := m.AddTask("idle", 0, 128, spin, 0); err != nil {
		t.Fatalf("AddTask idle: %v", err)
	}
	if _, err := m.AddTask("main", 1, 128, spin, 0); err != nil {
		t.Fatalf("AddTask main: %v", err)
	}
	return m
}

func runScript(t *testing.T, m *platform.Machine, lines ...string) string {
	t.Helper()
	term := NewScriptTerminal(lines...)
	mo := New(m, term)
	if err := mo.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return term.Output()
}

func TestMonitorStateAndRegs(t *testing.T) {
	m := newTestMachine(t)
	out := runScript(t, m, "run 2", "state", "regs", "quit")

	if !strings.Contains(out, "profile refboard-a9") {
		t.Fatalf("state output missing profile:\n%s", out)
	}
	if !strings.Contains(out, "tick 2") {
		t.Fatalf("state output missing tick count:\n%s", out)
	}
	if !strings.Contains(out, `running "main"`) {
		t.Fatalf("state output missing current task:\n%s", out)
	}
	if !strings.Contains(out, "mode ") || !strings.Contains(out, "cpsr 0x") {
		t.Fatalf("regs output incomplete:\n%s", out)
	}
	if m.TickCount() != 2 {
		t.Fatalf("run command advanced to tick %d, want 2", m.TickCount())
	}
}

func TestMonitorTasksAndTrace(t *testing.T) {
	m := newTestMachine(t)
	out := runScript(t, m, "run 1", "tasks", "trace 3", "quit")

	if !strings.Contains(out, "NAME") || !strings.Contains(out, "main") {
		t.Fatalf("tasks output incomplete:\n%s", out)
	}
	if !strings.Contains(out, "idle") {
		t.Fatalf("tasks output missing idle task:\n%s", out)
	}
	if !strings.Contains(out, "STEP") || !strings.Contains(out, "TICK") {
		t.Fatalf("trace output missing header:\n%s", out)
	}
}

func TestMonitorBusPeek(t *testing.T) {
	m := newTestMachine(t)
	out := runScript(t, m, "run 1", "bus 0x10011000", "bus 0x00000010", "quit")

	if !strings.Contains(out, "[0x10011000] = 0x") {
		t.Fatalf("bus read of timer load register failed:\n%s", out)
	}
	if !strings.Contains(out, "UNMAPPED_ADDRESS") {
		t.Fatalf("unmapped bus read did not report a fault:\n%s", out)
	}
	if halted, _ := m.Halted(); halted {
		t.Fatal("bus command halted the machine")
	}
}

func TestMonitorStepAndSend(t *testing.T) {
	m := newTestMachine(t)
	out := runScript(t, m, "run 1", "step 3", "send hello world", "quit")

	if !strings.Contains(out, "step 4") {
		t.Fatalf("step output missing step count:\n%s", out)
	}
	if !strings.Contains(out, "sent") {
		t.Fatalf("send did not confirm:\n%s", out)
	}
	if !m.Console().InputPending() {
		t.Fatal("send left no console input pending")
	}
	if m.Steps() != 4 {
		t.Fatalf("machine at step %d, want 4", m.Steps())
	}
}

func TestMonitorTickAndAliases(t *testing.T) {
	m := newTestMachine(t)
	out := runScript(t, m, "t", "tick 2", "s 2", "q")

	if !strings.Contains(out, "tick 1 after 1 steps") {
		t.Fatalf("single tick not reported:\n%s", out)
	}
	if !strings.Contains(out, "tick 3 after 3 steps") {
		t.Fatalf("tick 2 not reported:\n%s", out)
	}
	if m.TickCount() != 5 {
		t.Fatalf("machine at tick %d, want 5", m.TickCount())
	}
	if m.Steps() != 5 {
		t.Fatalf("machine at step %d, want 5", m.Steps())
	}
}

func TestMonitorBadInput(t *testing.T) {
	m := newTestMachine(t)
	out := runScript(t, m,
		"",
		"bogus",
		"bus",
		"bus zz",
		"trace -1",
		"run x",
		`send "unterminated`,
		"quit")

	if !strings.Contains(out, `unknown command "bogus"`) {
		t.Fatalf("unknown command not reported:\n%s", out)
	}
	if !strings.Contains(out, "usage: bus ADDR") {
		t.Fatalf("bus usage not printed:\n%s", out)
	}
	if !strings.Contains(out, `bus: bad address "zz"`) {
		t.Fatalf("bad address not reported:\n%s", out)
	}
	if !strings.Contains(out, `trace: bad count "-1"`) {
		t.Fatalf("bad trace count not reported:\n%s", out)
	}
	if !strings.Contains(out, `run: bad tick count "x"`) {
		t.Fatalf("bad run count not reported:\n%s", out)
	}
	if !strings.Contains(out, "parse error") {
		t.Fatalf("shlex error not reported:\n%s", out)
	}
}

func TestMonitorEndsAtEOF(t *testing.T) {
	m := newTestMachine(t)
	term := NewScriptTerminal("help")
	mo := New(m, term)
	if err := mo.Run(); err != nil {
		t.Fatalf("Run at end of input: %v", err)
	}
	if !strings.Contains(term.Output(), "commands:") {
		t.Fatalf("help output missing:\n%s", term.Output())
	}
}
