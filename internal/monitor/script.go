package monitor

import (
	"io"
	"strings"
)

// ScriptTerminal feeds a fixed list of lines and collects everything the
// monitor prints. It backs non-interactive use and the tests.
type ScriptTerminal struct {
	lines []string
	next  int
	out   strings.Builder
}

// NewScriptTerminal builds a terminal that replays the given lines.
func NewScriptTerminal(lines ...string) *ScriptTerminal {
	return &ScriptTerminal{lines: lines}
}

func (st *ScriptTerminal) ReadLine() (string, error) {
	if st.next >= len(st.lines) {
		return "", io.EOF
	}
	line := st.lines[st.next]
	st.next++
	return line, nil
}

func (st *ScriptTerminal) WriteString(s string) error {
	st.out.WriteString(s)
	return nil
}

func (st *ScriptTerminal) Close() error { return nil }

// Output returns everything written so far.
func (st *ScriptTerminal) Output() string { return st.out.String() }
