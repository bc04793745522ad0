package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/vireo-rt/vireo/internal/cli"
	"github.com/vireo-rt/vireo/internal/demo"
	"github.com/vireo-rt/vireo/internal/inspect"
	"github.com/vireo-rt/vireo/internal/monitor"
	"github.com/vireo-rt/vireo/internal/platform"
	"github.com/vireo-rt/vireo/internal/trace"
)

// watchChunkTicks bounds how long a running machine goes between checks of
// the profile watcher and the shutdown signal.
const watchChunkTicks = 50

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		showHelp    = flag.Bool("help", false, "show help information")
		jsonOutput  = flag.Bool("json", false, "output version in JSON format")
		configFile  = flag.String("config", os.Getenv("VIREO_CONFIG"), "per-user defaults file")
		board       = flag.String("board", "", "board profile JSON (default: built-in refboard-a9)")
		workload    = flag.String("workload", demo.WorkloadBlink, "demo workload: "+strings.Join(demo.Workloads(), ", "))
		ticks       = flag.Uint64("ticks", 0, "stop after this many ticks (0 = run until halt or signal)")
		traceOut    = flag.String("trace", "", "write the execution trace as text to this file ('-' = stdout)")
		pngOut      = flag.String("png", "", "render the execution trace as a PNG timeline to this file")
		inspectAddr = flag.String("inspect", "", "serve the HTTP/3 inspector on this UDP address (e.g. localhost:4433)")
		watch       = flag.Bool("watch", false, "watch the board profile and restart the machine when it changes")
		useMonitor  = flag.Bool("monitor", false, "drop into the interactive monitor instead of free-running")
		verbose     = flag.Bool("verbose", false, "verbose output")
		debugMode   = flag.Bool("debug", false, "debug output")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Vireo single-core RTOS simulator.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEXAMPLES:\n")
		fmt.Fprintf(os.Stderr, "  %s --ticks 100                          # Run the blink workload for 100 ticks\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --board refboard.json --watch        # Hot-reload the board on edits\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --inspect localhost:4433             # Expose machine state over HTTP/3\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --monitor                            # Interactive stepping and inspection\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --ticks 200 --png timeline.png       # Render the schedule afterwards\n", os.Args[0])
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if *showVersion {
		cli.PrintVersion("Vireo Simulator", *jsonOutput)
		os.Exit(0)
	}

	cfg, err := cli.LoadConfig(*configFile)
	if err != nil {
		cli.ExitWithError("%v", err)
	}
	if *board == "" {
		*board = cfg.Board
	}
	if *inspectAddr == "" {
		*inspectAddr = cfg.InspectAddr
	}
	if *traceOut == "" {
		*traceOut = cfg.TraceFile
	}

	sim := &Simulator{
		Board:       *board,
		Workload:    *workload,
		Ticks:       *ticks,
		TraceOut:    *traceOut,
		PNGOut:      *pngOut,
		InspectAddr: *inspectAddr,
		Watch:       *watch,
		Monitor:     *useMonitor,
		Log:         cli.NewLogger(*verbose || cfg.Verbose, *debugMode || cfg.Debug),
	}

	if err := sim.Run(); err != nil {
		cli.ExitWithError("%v", err)
	}
}

// Simulator holds the parsed command line.
type Simulator struct {
	Board       string
	Workload    string
	Ticks       uint64
	TraceOut    string
	PNGOut      string
	InspectAddr string
	Watch       bool
	Monitor     bool
	Log         *cli.Logger
}

// Run builds the machine and drives it until done.
func (s *Simulator) Run() error {
	if s.Watch && s.Board == "" {
		return errors.New("--watch needs --board pointing at a profile file")
	}

	m, err := s.buildMachine()
	if err != nil {
		return err
	}
	s.Log.Info("profile %s, tick rate %d Hz", m.Profile().Name, m.Profile().Scheduler.TickRateHz)

	var insp *inspect.Inspector
	if s.InspectAddr != "" {
		insp, err = inspect.StartInspector(m, s.InspectAddr)
		if err != nil {
			return err
		}
		defer insp.Stop()
		s.Log.Info("inspector listening on https://%s (HTTP/3)", insp.Addr())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if s.Monitor {
		err = s.runMonitor(m)
	} else if s.Watch {
		// Reloads swap the machine out from under the session; keep the
		// final one so the artifacts reflect what actually ran last.
		m, err = s.runWatched(ctx, m, insp)
	} else {
		err = s.runOnce(ctx, m)
	}

	if werr := s.writeArtifacts(m); werr != nil && err == nil {
		err = werr
	}
	return err
}

func (s *Simulator) buildMachine() (*platform.Machine, error) {
	var (
		p   *platform.Profile
		err error
	)
	if s.Board == "" {
		p = platform.DefaultProfile()
	} else if p, err = platform.LoadProfile(s.Board); err != nil {
		return nil, err
	}

	m, err := platform.NewMachine(p, platform.MachineOptions{ConsoleOut: os.Stdout})
	if err != nil {
		return nil, err
	}
	if err := demo.Install(m, s.Workload); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Simulator) runMonitor(m *platform.Machine) error {
	term, err := monitor.OpenTerminal()
	if err != nil {
		return err
	}
	defer term.Close()
	return monitor.New(m, term).Run()
}

func (s *Simulator) runOnce(ctx context.Context, m *platform.Machine) error {
	err := m.Run(ctx, s.Ticks)
	if errors.Is(err, context.Canceled) {
		s.Log.Info("interrupted at tick %d", m.TickCount())
		return nil
	}
	if err != nil {
		return err
	}
	s.Log.Info("completed %d ticks in %d steps", m.TickCount(), m.Steps())
	return nil
}

// runWatched runs the machine in bounded chunks so profile edits and
// signals are picked up between chunks. A successful reload replaces the
// machine and starts it from scratch; a broken profile is reported and the
// old machine keeps running.
func (s *Simulator) runWatched(ctx context.Context, m *platform.Machine, insp *inspect.Inspector) (*platform.Machine, error) {
	w, err := platform.WatchProfile(s.Board, platform.DefaultDebounce)
	if err != nil {
		return m, err
	}
	defer w.Close()
	s.Log.Info("watching %s", s.Board)

	for {
		select {
		case <-ctx.Done():
			s.Log.Info("interrupted at tick %d", m.TickCount())
			return m, nil
		case p, ok := <-w.Profiles():
			if !ok {
				return m, nil
			}
			s.Log.Info("profile %s reloaded, restarting machine", p.Name)
			fresh, err := platform.NewMachine(p, platform.MachineOptions{ConsoleOut: os.Stdout})
			if err != nil {
				s.Log.Warn("reload rejected: %v", err)
				continue
			}
			if err := demo.Install(fresh, s.Workload); err != nil {
				s.Log.Warn("reload rejected: %v", err)
				continue
			}
			if insp != nil {
				insp.Retarget(fresh)
			}
			m = fresh
		case err, ok := <-w.Errors():
			if ok {
				s.Log.Warn("watch: %v", err)
			}
		default:
			if s.Ticks != 0 && m.TickCount() >= s.Ticks {
				s.Log.Info("completed %d ticks in %d steps", m.TickCount(), m.Steps())
				return m, nil
			}
			chunk := uint64(watchChunkTicks)
			if s.Ticks != 0 && s.Ticks-m.TickCount() < chunk {
				chunk = s.Ticks - m.TickCount()
			}
			if err := m.Run(ctx, chunk); err != nil {
				if errors.Is(err, context.Canceled) {
					continue
				}
				// A halt under watch is not fatal to the session: report
				// it and wait for the next profile edit.
				s.Log.Error("%v", err)
				if halted, _ := m.Halted(); halted {
					if err := s.waitForReload(ctx, w, &m, insp); err != nil {
						return m, err
					}
				}
			}
		}
	}
}

// waitForReload blocks a halted session until a good profile arrives or the
// context ends.
func (s *Simulator) waitForReload(ctx context.Context, w *platform.ProfileWatcher, m **platform.Machine, insp *inspect.Inspector) error {
	s.Log.Info("machine halted, waiting for a profile edit")
	for {
		select {
		case <-ctx.Done():
			return nil
		case p, ok := <-w.Profiles():
			if !ok {
				return nil
			}
			fresh, err := platform.NewMachine(p, platform.MachineOptions{ConsoleOut: os.Stdout})
			if err != nil {
				s.Log.Warn("reload rejected: %v", err)
				continue
			}
			if err := demo.Install(fresh, s.Workload); err != nil {
				s.Log.Warn("reload rejected: %v", err)
				continue
			}
			if insp != nil {
				insp.Retarget(fresh)
			}
			*m = fresh
			s.Log.Info("profile %s reloaded, restarting machine", p.Name)
			return nil
		case err, ok := <-w.Errors():
			if ok {
				s.Log.Warn("watch: %v", err)
			}
		}
	}
}

func (s *Simulator) writeArtifacts(m *platform.Machine) error {
	if s.TraceOut != "" {
		samples := m.Trace().Samples()
		if s.TraceOut == "-" {
			if err := trace.WriteText(os.Stdout, samples); err != nil {
				return err
			}
		} else {
			f, err := os.Create(s.TraceOut)
			if err != nil {
				return err
			}
			if err := trace.WriteText(f, samples); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			s.Log.Info("trace written to %s", s.TraceOut)
		}
	}
	if s.PNGOut != "" {
		if err := trace.RenderPNG(s.PNGOut, m.Trace().Samples()); err != nil {
			return err
		}
		s.Log.Info("timeline written to %s", s.PNGOut)
	}
	return nil
}
