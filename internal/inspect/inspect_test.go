package inspect

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/vireo-rt/vireo/internal/arm"
	"github.com/vireo-rt/vireo/internal/platform"
)

// testMachine builds a small board, prints a banner, and runs three ticks
// so every endpoint has something to report.
func testMachine(t *testing.T) *platform.Machine {
	t.Helper()

	p := platform.DefaultProfile()
	p.Memory.StackArenaWords = 8192
	var console bytes.Buffer
	m, err := platform.NewMachine(p, platform.MachineOptions{
		StepCycles: p.TickIntervalCycles(),
		ConsoleOut: &console,
	})
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}

	printed := false
	conBase := uint32(p.Devices.Console.Base)
	boot := arm.RoutineFunc(func(*arm.Core) arm.Disposition {
		if !printed {
			printed = true
			for _, b := range []byte("boot\n") {
				m.Bus().Store32(conBase, uint32(b))
			}
		}
		return arm.DispositionContinue
	})
	if _, err := m.AddTask("boot", 1, 128, boot, 0); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if err := m.Run(context.Background(), 3); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return m
}

func TestInspectorEndToEnd(t *testing.T) {
	m := testMachine(t)

	ins, err := StartInspector(m, "127.0.0.1:0")
	if err != nil {
		t.Skip("http3 not supported here:", err)
	}
	defer ins.Stop()

	cli := NewClient(ins.Addr(), 3*time.Second)
	defer cli.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := cli.State(ctx)
	if err != nil {
		t.Skip("http3 dial failed:", err)
	}

	t.Run("state", func(t *testing.T) {
		if !st.Started || st.Halted {
			t.Fatalf("state = %+v", st)
		}
		if st.Tick != 3 {
			t.Fatalf("tick = %d, want 3", st.Tick)
		}
		if st.Profile != "refboard-a9" {
			t.Fatalf("profile = %q", st.Profile)
		}
		if st.CurrentTask == nil || st.CurrentTask.Name != "boot" {
			t.Fatalf("current task = %+v", st.CurrentTask)
		}
	})

	t.Run("tasks", func(t *testing.T) {
		tasks, err := cli.Tasks(ctx)
		if err != nil {
			t.Fatalf("Tasks: %v", err)
		}
		if len(tasks) != 1 || tasks[0].Name != "boot" {
			t.Fatalf("tasks = %+v", tasks)
		}
	})

	t.Run("trace", func(t *testing.T) {
		samples, err := cli.Trace(ctx, 10)
		if err != nil {
			t.Fatalf("Trace: %v", err)
		}
		if len(samples) == 0 {
			t.Fatal("no trace samples")
		}
		if samples[len(samples)-1].TaskName != "boot" {
			t.Fatalf("last sample = %+v", samples[len(samples)-1])
		}
	})

	t.Run("trace rejects bad count", func(t *testing.T) {
		if _, err := cli.Trace(ctx, -1); err == nil {
			t.Fatal("negative count should be rejected")
		}
	})

	t.Run("profile", func(t *testing.T) {
		p, err := cli.Profile(ctx)
		if err != nil {
			t.Fatalf("Profile: %v", err)
		}
		if p.Name != "refboard-a9" || p.Scheduler.TickRateHz != 1000 {
			t.Fatalf("profile = %+v", p)
		}
	})

	t.Run("console", func(t *testing.T) {
		text, err := cli.Console(ctx)
		if err != nil {
			t.Fatalf("Console: %v", err)
		}
		if text != "boot\n" {
			t.Fatalf("console = %q", text)
		}
	})

	t.Run("console input", func(t *testing.T) {
		if err := cli.SendConsoleInput(ctx, []byte("ping")); err != nil {
			t.Fatalf("SendConsoleInput: %v", err)
		}
		if !m.Console().InputPending() {
			t.Fatal("injected bytes did not reach the console")
		}
	})

	t.Run("host", func(t *testing.T) {
		info, err := cli.Host(ctx)
		if err != nil {
			t.Fatalf("Host: %v", err)
		}
		if info.OS == "" || info.CPUs <= 0 {
			t.Fatalf("host info = %+v", info)
		}
	})
}
