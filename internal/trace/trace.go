// Package trace records the run loop's execution history in a fixed ring:
// one sample per machine step, carrying the task, program counter, and
// nesting counters at that step. The ring is safe to read while the run
// loop appends.
package trace

import (
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
)

// Sample is one step's worth of execution state.
type Sample struct {
	Step             uint64 `json:"step"`
	Tick             uint64 `json:"tick"`
	TaskID           uint32 `json:"task_id"`
	TaskName         string `json:"task_name"`
	PC               uint32 `json:"pc"`
	InterruptNesting uint32 `json:"interrupt_nesting"`
	CriticalNesting  uint32 `json:"critical_nesting"`
}

// Recorder is a bounded ring of samples. Writes overwrite the oldest
// entries once the ring fills.
type Recorder struct {
	mu   sync.Mutex
	buf  []Sample
	next int
	full bool
}

// NewRecorder creates a ring holding up to capacity samples.
func NewRecorder(capacity int) (*Recorder, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("trace: capacity must be positive, got %d", capacity)
	}
	return &Recorder{buf: make([]Sample, capacity)}, nil
}

// Record appends one sample, overwriting the oldest if the ring is full.
func (r *Recorder) Record(s Sample) {
	r.mu.Lock()
	r.buf[r.next] = s
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
	r.mu.Unlock()
}

// Samples returns the recorded history, oldest first.
func (r *Recorder) Samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]Sample, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]Sample, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}

// Len reports how many samples are held.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.full {
		return len(r.buf)
	}
	return r.next
}

// Capacity reports the ring size.
func (r *Recorder) Capacity() int {
	return len(r.buf)
}

// Tail returns up to n of the most recent samples, oldest first.
func (r *Recorder) Tail(n int) []Sample {
	all := r.Samples()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// WriteText dumps samples as an aligned table. Switch points are marked so
// a scan of the column picks out every context change.
func WriteText(w io.Writer, samples []Sample) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tTICK\tTASK\tPC\tISR\tCRIT\t")
	var prev uint32
	for i, s := range samples {
		mark := ""
		if i > 0 && s.TaskID != prev {
			mark = " <- switch"
		}
		prev = s.TaskID
		fmt.Fprintf(tw, "%d\t%d\t%s\t0x%08X\t%d\t%d\t%s\n",
			s.Step, s.Tick, s.TaskName, s.PC, s.InterruptNesting, s.CriticalNesting, mark)
	}
	return tw.Flush()
}
