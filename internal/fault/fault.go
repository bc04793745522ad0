// Package fault provides the fatal assertion path for Vireo
package fault

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// Category represents different categories of fatal faults
type Category string

const (
	// CategoryConfig marks faults detected at build or start time: priority-bit
	// mismatches, unprivileged startup, unsupported FPU configuration,
	// malformed board profiles.
	CategoryConfig Category = "CONFIG"
	// CategoryProgramming marks caller contract violations, such as entering a
	// critical section from a nested interrupt handler.
	CategoryProgramming Category = "PROGRAMMING"
	// CategoryTerminal marks control-flow dead ends with no valid
	// continuation, such as a task function returning.
	CategoryTerminal Category = "TERMINAL"
)

// Fault carries the diagnostic context of a fatal condition. No fault is
// retryable: by the time one is raised, a hardware or caller invariant has
// already been violated.
type Fault struct {
	Category Category
	Code     string
	Message  string
	Context  map[string]interface{}
	Caller   string
}

// Error implements the error interface
func (f *Fault) Error() string {
	if len(f.Context) == 0 {
		return fmt.Sprintf("[%s:%s] %s (at %s)", f.Category, f.Code, f.Message, f.Caller)
	}

	return fmt.Sprintf("[%s:%s] %s %s (at %s)", f.Category, f.Code, f.Message, formatContext(f.Context), f.Caller)
}

// formatContext renders the context with sorted keys so diagnostics are
// stable across runs.
func formatContext(ctx map[string]interface{}) string {
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s=%v", k, ctx[k])
	}
	sb.WriteByte('}')

	return sb.String()
}

// New creates a fault, capturing the caller's location.
func New(category Category, code, message string, context map[string]interface{}) *Fault {
	return &Fault{
		Category: category,
		Code:     code,
		Message:  message,
		Context:  context,
		Caller:   callerLocation(2),
	}
}

func callerLocation(skip int) string {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}

	name := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		name = fn.Name()
	}

	// Trim the module prefix so diagnostics stay readable.
	if idx := strings.LastIndex(file, "/"); idx >= 0 {
		file = file[idx+1:]
	}

	return fmt.Sprintf("%s (%s:%d)", name, file, line)
}

// Handler receives a fault before the halt. It may log, record, or terminate;
// if it returns, Raise panics with the fault so no caller can continue past a
// violated invariant.
type Handler func(*Fault)

var (
	handlerMu sync.Mutex
	handler   Handler = defaultHandler
)

// defaultHandler writes the diagnostic to stderr.
func defaultHandler(f *Fault) {
	fmt.Fprintf(os.Stderr, "fatal: %s\n", f.Error())
}

// SetHandler installs a fault handler and returns the previous one. Passing
// nil restores the default.
func SetHandler(h Handler) Handler {
	handlerMu.Lock()
	defer handlerMu.Unlock()

	prev := handler
	if h == nil {
		h = defaultHandler
	}
	handler = h

	return prev
}

func currentHandler() Handler {
	handlerMu.Lock()
	defer handlerMu.Unlock()

	return handler
}

// Raise delivers the fault to the installed handler and then panics with it.
// It never returns.
func Raise(f *Fault) {
	currentHandler()(f)
	panic(f)
}

// Raisef raises a fault built from a format string. It never returns.
func Raisef(category Category, code, format string, args ...interface{}) {
	f := &Fault{
		Category: category,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Caller:   callerLocation(2),
	}
	Raise(f)
}

// Assert raises a fault unless cond holds. The message is only built on
// failure.
func Assert(cond bool, category Category, code, format string, args ...interface{}) {
	if cond {
		return
	}

	f := &Fault{
		Category: category,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Caller:   callerLocation(2),
	}
	Raise(f)
}

// Catch runs fn with the installed handler suppressed and returns the fault
// it raised, or nil if it completed. Panics that are not faults propagate
// unchanged.
func Catch(fn func()) (f *Fault) {
	prev := SetHandler(func(*Fault) {})
	defer SetHandler(prev)
	defer func() {
		if r := recover(); r != nil {
			if cf, ok := r.(*Fault); ok {
				f = cf

				return
			}
			panic(r)
		}
	}()

	fn()

	return nil
}

// Common fault constructors

// OutOfRange reports a bounds violation on an arena or register file.
func OutOfRange(what string, index, length uint32) *Fault {
	return &Fault{
		Category: CategoryProgramming,
		Code:     "OUT_OF_RANGE",
		Message:  fmt.Sprintf("%s index %d out of range for length %d", what, index, length),
		Context:  map[string]interface{}{"index": index, "length": length},
		Caller:   callerLocation(2),
	}
}

// UnmappedAddress reports a load or store to an address no device claims.
func UnmappedAddress(op string, addr uint32) *Fault {
	return &Fault{
		Category: CategoryProgramming,
		Code:     "UNMAPPED_ADDRESS",
		Message:  fmt.Sprintf("%s at unmapped address 0x%08X", op, addr),
		Context:  map[string]interface{}{"op": op, "addr": addr},
		Caller:   callerLocation(2),
	}
}
