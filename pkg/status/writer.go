package status

import (
	"errors"
	"sync"
	"time"
)

// ErrTerminal is returned when a transition is attempted after the status
// reached ready or failed.
var ErrTerminal = errors.New("setup status already terminal")

// Writer is the single owner of a mission's status document. It enforces
// running → ... → (ready | failed) and refuses further writes once terminal.
type Writer struct {
	store *Store
	now   func() time.Time

	mu       sync.Mutex
	current  SetupStatus
	terminal bool
}

// NewWriter returns a Writer that persists through store.
func NewWriter(store *Store) *Writer {
	return &Writer{
		store: store,
		now:   time.Now,
		current: SetupStatus{
			Status:   StateRunning,
			Services: []ServiceInstance{},
			Env:      map[string]string{},
		},
	}
}

// Current returns a copy of the last document written.
func (w *Writer) Current() SetupStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// Step records progress on the current step.
func (w *Writer) Step(step string) error {
	return w.update(func(st *SetupStatus) {
		st.Step = step
	})
}

// AddService attaches a reachable service and the env vars it exports.
func (w *Writer) AddService(svc ServiceInstance, env map[string]string) error {
	return w.update(func(st *SetupStatus) {
		st.Services = append(st.Services, svc)
		for k, v := range env {
			st.Env[k] = v
		}
	})
}

// SetDevServer records the running development server.
func (w *Writer) SetDevServer(port, pid int) error {
	return w.update(func(st *SetupStatus) {
		st.DevServer = &DevServer{Port: port, PID: pid}
	})
}

// Ready marks setup as complete.
func (w *Writer) Ready() error {
	return w.finish(StateReady, "")
}

// Fail marks setup as failed with cause.
func (w *Writer) Fail(cause error) error {
	msg := "setup failed"
	if cause != nil {
		msg = cause.Error()
	}
	return w.finish(StateFailed, msg)
}

func (w *Writer) finish(state State, errMsg string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.terminal {
		return ErrTerminal
	}
	w.terminal = true
	w.current.Status = state
	w.current.Error = errMsg
	w.current.Step = ""
	w.flushLocked()
	return nil
}

func (w *Writer) update(fn func(*SetupStatus)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.terminal {
		return ErrTerminal
	}
	fn(&w.current)
	w.flushLocked()
	return nil
}

func (w *Writer) flushLocked() {
	w.current.Timestamp = w.now().UTC()
	w.store.Write(w.snapshotLocked())
}

func (w *Writer) snapshotLocked() SetupStatus {
	st := w.current
	st.Services = append([]ServiceInstance(nil), w.current.Services...)
	st.Env = make(map[string]string, len(w.current.Env))
	for k, v := range w.current.Env {
		st.Env[k] = v
	}
	if w.current.DevServer != nil {
		ds := *w.current.DevServer
		st.DevServer = &ds
	}
	return st
}
