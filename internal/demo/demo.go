// Package demo supplies the canned workloads the simulator ships with: a
// periodic blinker pair exercising the tick and delay paths, a console echo
// task, and a deliberately faulting workload for walking the halt path.
package demo

import (
	"fmt"

	"github.com/vireo-rt/vireo/internal/arm"
	"github.com/vireo-rt/vireo/internal/platform"
	"github.com/vireo-rt/vireo/internal/port"
)

// Workload names accepted by Install.
const (
	WorkloadBlink = "blink"
	WorkloadCrash = "crash"
)

// Workloads lists the selectable workload names.
func Workloads() []string {
	return []string{WorkloadBlink, WorkloadCrash}
}

// Install wires the named workload onto a machine that has not started yet.
func Install(m *platform.Machine, name string) error {
	switch name {
	case WorkloadBlink:
		return installBlink(m)
	case WorkloadCrash:
		return installCrash(m)
	default:
		return fmt.Errorf("demo: unknown workload %q, have %v", name, Workloads())
	}
}

// Blinker periods in ticks, matching the reference application: two
// seconds and three seconds at the default 1000 Hz tick.
const (
	fastPeriod = 2000
	slowPeriod = 3000
	echoPeriod = 250
)

func installBlink(m *platform.Machine) error {
	con := m.Console()
	sc := m.Scheduler()

	if _, err := m.AddTask("idle", 0, 128, idleRoutine(), 0); err != nil {
		return err
	}

	slow := 0
	adopted := false
	slowTask := arm.RoutineFunc(func(c *arm.Core) arm.Disposition {
		if !adopted && m.Profile().FPU == port.FPUModeOptional {
			adopted = true
			m.Port().TaskUsesFPU()
		}
		slow++
		c.VFP.D[0] += uint32(slow)
		emit(con, fmt.Sprintf("slow %d\n", slow))
		sc.Sleep(slowPeriod)
		return arm.DispositionContinue
	})
	if _, err := m.AddTask("blink-slow", 1, 256, slowTask, 0); err != nil {
		return err
	}

	fast := 0
	fastTask := arm.RoutineFunc(func(*arm.Core) arm.Disposition {
		fast++
		emit(con, fmt.Sprintf("fast %d\n", fast))
		sc.Sleep(fastPeriod)
		return arm.DispositionContinue
	})
	if _, err := m.AddTask("blink-fast", 2, 256, fastTask, 0); err != nil {
		return err
	}

	var line []byte
	echoTask := arm.RoutineFunc(func(*arm.Core) arm.Disposition {
		for con.InputPending() {
			b := byte(con.Load32(0))
			if b == '\n' || b == '\r' {
				emit(con, "echo: "+string(line)+"\n")
				line = line[:0]
				continue
			}
			line = append(line, b)
		}
		sc.Sleep(echoPeriod)
		return arm.DispositionContinue
	})
	if _, err := m.AddTask("echo", 3, 256, echoTask, 0); err != nil {
		return err
	}
	return nil
}

func installCrash(m *platform.Machine) error {
	con := m.Console()
	sc := m.Scheduler()

	if _, err := m.AddTask("idle", 0, 128, idleRoutine(), 0); err != nil {
		return err
	}

	rounds := 0
	unstable := arm.RoutineFunc(func(*arm.Core) arm.Disposition {
		rounds++
		emit(con, fmt.Sprintf("working %d\n", rounds))
		if rounds >= 3 {
			// Falling off the end of the task body lands in the exit trap.
			return arm.DispositionReturned
		}
		sc.Sleep(1)
		return arm.DispositionContinue
	})
	if _, err := m.AddTask("unstable", 1, 256, unstable, 0); err != nil {
		return err
	}
	return nil
}

func idleRoutine() arm.RoutineFunc {
	return func(*arm.Core) arm.Disposition {
		return arm.DispositionContinue
	}
}

// emit pushes a string through the console data register one byte at a time,
// the way board code feeds a UART FIFO. The data register lives at offset
// zero.
func emit(con *platform.Console, s string) {
	for i := 0; i < len(s); i++ {
		con.Store32(0, uint32(s[i]))
	}
}
