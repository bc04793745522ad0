package monitor

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-tty"
)

const maxLineBytes = 512

// TTYTerminal is the interactive Terminal over the controlling tty in raw
// mode. Line editing is minimal: printable bytes, backspace, and enter.
type TTYTerminal struct {
	t       *tty.TTY
	restore func() error
}

// OpenTerminal opens the controlling tty and switches it to raw mode.
func OpenTerminal() (*TTYTerminal, error) {
	t, err := tty.Open()
	if err != nil {
		return nil, fmt.Errorf("monitor: open tty: %w", err)
	}
	return &TTYTerminal{t: t, restore: t.MustRaw()}, nil
}

// ReadLine assembles one line byte by byte, echoing as it goes. Ctrl-C and
// Ctrl-D end the session with io.EOF.
func (tt *TTYTerminal) ReadLine() (string, error) {
	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := tt.t.Input().Read(buf)
		if err != nil {
			return "", err
		}
		if n == 0 {
			continue
		}
		c := buf[0]
		switch {
		case c == 3 || c == 4:
			tt.echo("\r\n")
			return "", io.EOF
		case c == '\r' || c == '\n':
			tt.echo("\r\n")
			return string(line), nil
		case c == 0x7F || c == '\b':
			if len(line) > 0 {
				line = line[:len(line)-1]
				tt.echo("\b \b")
			}
		case c >= 0x20 && c < 0x7F:
			if len(line) < maxLineBytes {
				line = append(line, c)
				tt.echo(string(c))
			}
		}
	}
}

// WriteString writes to the screen, expanding newlines for raw mode.
func (tt *TTYTerminal) WriteString(s string) error {
	_, err := tt.t.Output().WriteString(strings.ReplaceAll(s, "\n", "\r\n"))
	return err
}

// Close restores the tty state.
func (tt *TTYTerminal) Close() error {
	if tt.restore != nil {
		_ = tt.restore()
	}
	return tt.t.Close()
}

func (tt *TTYTerminal) echo(s string) {
	_, _ = tt.t.Output().WriteString(s)
}
