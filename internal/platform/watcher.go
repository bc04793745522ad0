package platform

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ===== Profile file watching =====

// ProfileWatcher reloads a board profile whenever its file changes on
// disk. Edits are debounced so editors that write in several steps
// produce a single reload. Reloads that fail validation surface on the
// error channel and leave the running profile untouched.
type ProfileWatcher struct {
	path     string
	debounce time.Duration

	w        *fsnotify.Watcher
	profiles chan *Profile
	errs     chan error
	done     chan struct{}
}

// DefaultDebounce is the quiet period after the last file event before a
// reload is attempted.
const DefaultDebounce = 250 * time.Millisecond

// WatchProfile starts watching the profile file at path. The containing
// directory is watched rather than the file itself so atomic
// rename-into-place saves are seen. Pass 0 for the default debounce.
func WatchProfile(path string, debounce time.Duration) (*ProfileWatcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("platform: resolve profile path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("platform: create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("platform: watch %s: %w", filepath.Dir(abs), err)
	}

	pw := &ProfileWatcher{
		path:     abs,
		debounce: debounce,
		w:        w,
		profiles: make(chan *Profile, 8),
		errs:     make(chan error, 8),
		done:     make(chan struct{}),
	}
	go pw.loop()
	return pw, nil
}

// Profiles delivers each successfully reloaded profile.
func (pw *ProfileWatcher) Profiles() <-chan *Profile {
	return pw.profiles
}

// Errors delivers reload and watch failures.
func (pw *ProfileWatcher) Errors() <-chan error {
	return pw.errs
}

// Close stops the watcher and its channels.
func (pw *ProfileWatcher) Close() error {
	err := pw.w.Close()
	<-pw.done
	return err
}

func (pw *ProfileWatcher) loop() {
	defer close(pw.done)
	defer close(pw.profiles)
	defer close(pw.errs)

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		select {
		case ev, ok := <-pw.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != pw.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if armed && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(pw.debounce)
			armed = true

		case <-timer.C:
			armed = false
			p, err := LoadProfile(pw.path)
			if err != nil {
				pw.send(nil, err)
				continue
			}
			pw.send(p, nil)

		case err, ok := <-pw.w.Errors:
			if !ok {
				return
			}
			pw.send(nil, err)
		}
	}
}

// send never blocks the watch loop; when a channel is full the
// notification is dropped.
func (pw *ProfileWatcher) send(p *Profile, err error) {
	if err != nil {
		select {
		case pw.errs <- err:
		default:
		}
		return
	}
	select {
	case pw.profiles <- p:
	default:
	}
}
