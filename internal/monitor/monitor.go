// Package monitor is an interactive inspection shell over one machine:
// register and task dumps, trace listings, bus reads, single-stepping,
// and console injection. The command loop owns the machine while it is
// active; nothing else may drive bursts concurrently.
package monitor

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/google/shlex"

	"github.com/vireo-rt/vireo/internal/arm"
	"github.com/vireo-rt/vireo/internal/platform"
	"github.com/vireo-rt/vireo/internal/trace"
)

// Terminal is the monitor's line-oriented screen and keyboard. The
// concrete implementations are the raw TTY and the scripted terminal the
// tests drive.
type Terminal interface {
	ReadLine() (string, error)
	WriteString(s string) error
	Close() error
}

// Monitor binds a machine to a terminal.
type Monitor struct {
	machine *platform.Machine
	term    Terminal
	quit    bool
}

// New creates a monitor over the machine and terminal.
func New(m *platform.Machine, term Terminal) *Monitor {
	return &Monitor{machine: m, term: term}
}

// Run prints the banner and serves commands until quit or end of input.
func (mo *Monitor) Run() error {
	mo.printf("vireo monitor, profile %s. Type help for commands.\n", mo.machine.Profile().Name)
	for !mo.quit {
		if err := mo.term.WriteString("vireo> "); err != nil {
			return err
		}
		line, err := mo.term.ReadLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := mo.Execute(line); err != nil {
			return err
		}
	}
	return nil
}

// Execute parses and runs one command line.
func (mo *Monitor) Execute(line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		mo.printf("parse error: %v\n", err)
		return nil
	}
	if len(args) == 0 {
		return nil
	}

	switch args[0] {
	case "help", "?":
		mo.cmdHelp()
	case "state":
		mo.cmdState()
	case "regs":
		mo.cmdRegs()
	case "tasks":
		mo.cmdTasks()
	case "trace":
		mo.cmdTrace(args[1:])
	case "bus":
		mo.cmdBus(args[1:])
	case "step", "s":
		mo.cmdStep(args[1:])
	case "tick", "t":
		mo.cmdTick(args[1:])
	case "run":
		mo.cmdRun(args[1:])
	case "send":
		mo.cmdSend(args[1:])
	case "console":
		mo.printf("%s", mo.machine.ConsoleTail())
	case "quit", "exit", "q":
		mo.quit = true
	default:
		mo.printf("unknown command %q, try help\n", args[0])
	}
	return nil
}

func (mo *Monitor) cmdHelp() {
	mo.printf(`commands:
  state          machine summary
  regs           core register dump
  tasks          task table
  trace [N]      last N trace samples (default 20)
  bus ADDR       read one word from the bus (hex or decimal address)
  step [N]       execute N bursts (default 1, alias s)
  tick [N]       run until N more ticks have fired (default 1, alias t)
  run TICKS      run until the tick count advances by TICKS
  send TEXT      inject TEXT plus newline into the console receiver
  console        dump recent console output
  quit           leave the monitor
`)
}

func (mo *Monitor) cmdState() {
	st := mo.machine.State()
	mo.printf("profile %s  steps %d  tick %d\n", st.Profile, st.Steps, st.Tick)
	if st.CurrentTask != nil {
		mo.printf("running %q  priority %d  runs %d\n",
			st.CurrentTask.Name, st.CurrentTask.Priority, st.CurrentTask.Runs)
	}
	mo.printf("mask 0x%02X  running-priority 0x%02X  active-depth %d\n",
		st.Controller.PriorityMask, st.Controller.RunningPriority, st.Controller.ActiveDepth)
	mo.printf("critical %d  interrupt %d  yield-pending %v  fpu %v\n",
		st.Exec.CriticalNesting, st.Exec.InterruptNesting, st.Exec.YieldPending, st.Exec.TaskHasFPU)
	mo.printf("arena %d/%d words used, peak %d, %d regions\n",
		st.Memory.UsedWords, st.Memory.CapacityWords, st.Memory.PeakWords, st.Memory.Regions)
	if st.Halted {
		mo.printf("HALTED: %s\n", st.Fault.Text)
	}
}

func (mo *Monitor) cmdRegs() {
	st := mo.machine.State()
	for i := 0; i < 13; i++ {
		mo.printf("r%-2d 0x%08X  ", i, st.Core.R[i])
		if i%4 == 3 {
			mo.printf("\n")
		}
	}
	mo.printf("\nsp  0x%08X  lr  0x%08X  pc  0x%08X (%s)\n",
		st.Core.SP, st.Core.LR, st.Core.PC, mo.machine.RoutineName(st.Core.PC))
	mo.printf("cpsr 0x%08X  mode %s  irqs %v\n",
		st.Core.CPSR, modeName(st.Core.Mode), st.Core.IRQs)
}

func (mo *Monitor) cmdTasks() {
	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPRIO\tSTATE\tENTRY\tSTACK\tRUNS")
	for _, t := range mo.machine.Tasks() {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t0x%08X\t%d\t%d\n",
			t.ID, t.Name, t.Priority, t.State, t.Entry, t.StackSize, t.Runs)
	}
	tw.Flush()
	mo.printf("%s", sb.String())
}

func (mo *Monitor) cmdTrace(args []string) {
	n := 20
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			mo.printf("trace: bad count %q\n", args[0])
			return
		}
		n = v
	}
	var sb strings.Builder
	if err := trace.WriteText(&sb, mo.machine.TraceTail(n)); err != nil {
		mo.printf("trace: %v\n", err)
		return
	}
	mo.printf("%s", sb.String())
}

func (mo *Monitor) cmdBus(args []string) {
	if len(args) != 1 {
		mo.printf("usage: bus ADDR\n")
		return
	}
	addr, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		mo.printf("bus: bad address %q\n", args[0])
		return
	}
	v, f := mo.machine.BusPeek(uint32(addr))
	if f != nil {
		mo.printf("bus: %s\n", f.Error())
		return
	}
	mo.printf("[0x%08X] = 0x%08X\n", uint32(addr), v)
}

func (mo *Monitor) cmdStep(args []string) {
	n := 1
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			mo.printf("step: bad count %q\n", args[0])
			return
		}
		n = v
	}
	for i := 0; i < n; i++ {
		if err := mo.machine.StepOnce(); err != nil {
			mo.printf("%v\n", err)
			return
		}
	}
	st := mo.machine.State()
	task := "?"
	if st.CurrentTask != nil {
		task = st.CurrentTask.Name
	}
	mo.printf("step %d  tick %d  task %s  pc %s\n",
		st.Steps, st.Tick, task, mo.machine.RoutineName(st.Core.PC))
}

func (mo *Monitor) cmdTick(args []string) {
	ticks := uint64(1)
	if len(args) > 0 {
		v, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil || v == 0 {
			mo.printf("tick: bad count %q\n", args[0])
			return
		}
		ticks = v
	}
	mo.advance(ticks)
}

func (mo *Monitor) cmdRun(args []string) {
	if len(args) != 1 {
		mo.printf("usage: run TICKS\n")
		return
	}
	ticks, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil || ticks == 0 {
		mo.printf("run: bad tick count %q\n", args[0])
		return
	}
	mo.advance(ticks)
}

func (mo *Monitor) advance(ticks uint64) {
	if err := mo.machine.Run(context.Background(), ticks); err != nil {
		mo.printf("%v\n", err)
		return
	}
	mo.printf("tick %d after %d steps\n", mo.machine.TickCount(), mo.machine.Steps())
}

func (mo *Monitor) cmdSend(args []string) {
	if len(args) == 0 {
		mo.printf("usage: send TEXT\n")
		return
	}
	mo.machine.InjectConsoleInput([]byte(strings.Join(args, " ") + "\n"))
	mo.printf("sent\n")
}

func (mo *Monitor) printf(format string, args ...interface{}) {
	_ = mo.term.WriteString(fmt.Sprintf(format, args...))
}

func modeName(mode uint32) string {
	switch mode {
	case arm.ModeUser:
		return "usr"
	case arm.ModeIRQ:
		return "irq"
	case arm.ModeSVC:
		return "svc"
	case arm.ModeSys:
		return "sys"
	default:
		return fmt.Sprintf("0x%02X", mode)
	}
}
