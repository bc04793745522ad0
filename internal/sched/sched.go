// Package sched is the reference task scheduler driven through the port
// layer: fixed-priority, preemptive, with round-robin time slicing inside a
// priority level and tick-based sleeping. It exists to exercise the port
// contract end to end; it is deliberately small and keeps no clever data
// structures.
//
// All methods run on the machine goroutine: either from task routines,
// from interrupt handlers the port dispatches, or from assembly code before
// startup. Inspection snapshots are taken by the run loop, which owns the
// synchronization boundary.
package sched

import (
	"fmt"

	"github.com/vireo-rt/vireo/internal/arena"
	"github.com/vireo-rt/vireo/internal/fault"
	"github.com/vireo-rt/vireo/internal/port"
)

// TaskState describes where a task currently lives.
type TaskState string

const (
	StateReady   TaskState = "ready"
	StateRunning TaskState = "running"
	StateDelayed TaskState = "delayed"
	StateDeleted TaskState = "deleted"
)

// TCB is one task's control block.
type TCB struct {
	id       uint32
	name     string
	priority uint32
	entry    uint32
	param    uint32
	region   arena.Region
	stackTop arena.Index
	state    TaskState
	wakeTick uint64
	runs     uint64
}

// TaskInfo is the externally visible snapshot of one task.
type TaskInfo struct {
	ID        uint32    `json:"id"`
	Name      string    `json:"name"`
	Priority  uint32    `json:"priority"`
	State     TaskState `json:"state"`
	Entry     uint32    `json:"entry"`
	WakeTick  uint64    `json:"wake_tick,omitempty"`
	StackBase uint32    `json:"stack_base"`
	StackSize uint32    `json:"stack_size"`
	StackTop  uint32    `json:"stack_top"`
	Runs      uint64    `json:"runs"`
}

// Options bound the scheduler's shape.
type Options struct {
	// PriorityLevels is the number of task priorities; higher numbers run
	// first. Level 0 is conventionally the idle task's.
	PriorityLevels uint32
	// MinStackWords is the smallest stack a task may be created with.
	MinStackWords uint32
}

// DefaultOptions returns the dimensions used by the boards in this tree.
func DefaultOptions() Options {
	return Options{PriorityLevels: 8, MinStackWords: 96}
}

// Scheduler owns the task control blocks and the ready structure.
type Scheduler struct {
	port *port.Port
	mem  *arena.Arena
	opts Options

	tasks   []*TCB
	ready   [][]*TCB
	delayed []*TCB
	current *TCB

	tick   uint64
	nextID uint32
}

// New creates a scheduler over the given port and stack arena and binds
// itself as the port's scheduler.
func New(p *port.Port, mem *arena.Arena, opts Options) (*Scheduler, error) {
	if opts.PriorityLevels == 0 {
		return nil, fmt.Errorf("sched: at least one priority level required")
	}
	if opts.MinStackWords == 0 {
		return nil, fmt.Errorf("sched: minimum stack size required")
	}
	s := &Scheduler{
		port:  p,
		mem:   mem,
		opts:  opts,
		ready: make([][]*TCB, opts.PriorityLevels),
	}
	p.BindScheduler(s)
	return s, nil
}

// CreateTask allocates a stack region, builds the initial context, and
// queues the task ready. Tasks can be created both before startup and from
// running task context.
func (s *Scheduler) CreateTask(name string, entry, param, priority, stackWords uint32) (uint32, error) {
	if name == "" {
		return 0, fmt.Errorf("sched: task name required")
	}
	if priority >= s.opts.PriorityLevels {
		return 0, fmt.Errorf("sched: priority %d outside 0..%d", priority, s.opts.PriorityLevels-1)
	}
	if stackWords < s.opts.MinStackWords {
		return 0, fmt.Errorf("sched: stack of %d words below the minimum %d", stackWords, s.opts.MinStackWords)
	}

	region, err := s.mem.AllocRegion(arena.Index(stackWords))
	if err != nil {
		return 0, fmt.Errorf("sched: stack for %q: %w", name, err)
	}

	s.port.EnterCritical()
	s.nextID++
	t := &TCB{
		id:       s.nextID,
		name:     name,
		priority: priority,
		entry:    entry,
		param:    param,
		region:   region,
		stackTop: s.port.BuildInitialContext(region, entry, param),
		state:    StateReady,
	}
	s.tasks = append(s.tasks, t)
	s.ready[priority] = append(s.ready[priority], t)
	s.port.ExitCritical()

	// A newly created higher-priority task preempts its creator.
	if s.port.Started() && priority > s.current.priority {
		s.port.Yield()
	}

	return t.id, nil
}

// Sleep delays the calling task for the given number of ticks and switches
// away. Zero ticks degrades to a plain yield.
func (s *Scheduler) Sleep(ticks uint64) {
	fault.Assert(s.current != nil, fault.CategoryProgramming, "NO_TASK_CONTEXT",
		"sleep outside task context")
	if ticks == 0 {
		s.Yield()
		return
	}

	s.port.EnterCritical()
	s.current.state = StateDelayed
	s.current.wakeTick = s.tick + ticks
	s.delayed = append(s.delayed, s.current)
	s.port.ExitCritical()

	s.port.Yield()
}

// Yield hands the rest of the time slice to the next ready task of the same
// priority, if any.
func (s *Scheduler) Yield() {
	s.port.Yield()
}

// DeleteCurrent removes the calling task permanently and switches away.
// Its stack region stays allocated; the arena does not reclaim.
func (s *Scheduler) DeleteCurrent() {
	fault.Assert(s.current != nil, fault.CategoryProgramming, "NO_TASK_CONTEXT",
		"delete outside task context")
	s.port.EnterCritical()
	s.current.state = StateDeleted
	s.port.ExitCritical()

	s.port.Yield()
}

// IncrementTick advances scheduler time, wakes due sleepers, and reports
// whether the port should switch contexts: either a task of equal or higher
// priority woke up, or the running priority level holds another ready task
// and the slice rotates.
func (s *Scheduler) IncrementTick() bool {
	s.tick++

	switchNeeded := false
	remaining := s.delayed[:0]
	for _, t := range s.delayed {
		if t.wakeTick > s.tick {
			remaining = append(remaining, t)
			continue
		}
		t.state = StateReady
		t.wakeTick = 0
		s.ready[t.priority] = append(s.ready[t.priority], t)
		if s.current != nil && t.priority >= s.current.priority {
			switchNeeded = true
		}
	}
	s.delayed = remaining

	if s.current != nil && len(s.ready[s.current.priority]) > 0 {
		switchNeeded = true
	}
	return switchNeeded
}

// SwitchContext rotates the running task back into its ready queue and
// picks the highest-priority ready task as the new current. The port has
// already saved the outgoing context by the time this runs.
func (s *Scheduler) SwitchContext() {
	if s.current != nil && s.current.state == StateRunning {
		s.current.state = StateReady
		s.ready[s.current.priority] = append(s.ready[s.current.priority], s.current)
	}

	for level := int(s.opts.PriorityLevels) - 1; level >= 0; level-- {
		queue := s.ready[level]
		if len(queue) == 0 {
			continue
		}
		next := queue[0]
		s.ready[level] = queue[1:]
		next.state = StateRunning
		next.runs++
		s.current = next
		return
	}

	fault.Raisef(fault.CategoryConfig, "NO_READY_TASK",
		"no task is ready to run; an always-ready idle task is required")
}

// CurrentStackSlot exposes the running task's saved stack top for the port.
func (s *Scheduler) CurrentStackSlot() *arena.Index {
	fault.Assert(s.current != nil, fault.CategoryConfig, "NO_CURRENT_TASK",
		"context operation before the first task was selected")
	return &s.current.stackTop
}

// Prepare selects the first task to run. The startup sequencer restores
// from the slot this call fills in.
func (s *Scheduler) Prepare() {
	s.SwitchContext()
}

// TickCount returns the number of ticks since startup.
func (s *Scheduler) TickCount() uint64 {
	return s.tick
}

// Current returns a snapshot of the running task.
func (s *Scheduler) Current() (TaskInfo, bool) {
	if s.current == nil {
		return TaskInfo{}, false
	}
	return s.info(s.current), true
}

// Tasks returns snapshots of every task ever created, in creation order.
func (s *Scheduler) Tasks() []TaskInfo {
	out := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, s.info(t))
	}
	return out
}

func (s *Scheduler) info(t *TCB) TaskInfo {
	return TaskInfo{
		ID:        t.id,
		Name:      t.name,
		Priority:  t.priority,
		State:     t.state,
		Entry:     t.entry,
		WakeTick:  t.wakeTick,
		StackBase: uint32(t.region.Base),
		StackSize: uint32(t.region.Size),
		StackTop:  uint32(t.stackTop),
		Runs:      t.runs,
	}
}
