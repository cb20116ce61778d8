package status

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestWriterTransitionsToReadyOnce(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "status.json"))
	w := NewWriter(store)

	if err := w.Step("installing postgres"); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	got, _ := store.Read()
	if got == nil || got.Status != StateRunning || got.Step != "installing postgres" {
		t.Fatalf("after Step: %+v", got)
	}

	svc := ServiceInstance{Name: "postgres", URL: "postgres://localhost:5432/app", Port: 5432}
	if err := w.AddService(svc, map[string]string{"DATABASE_URL": svc.URL}); err != nil {
		t.Fatalf("AddService() error = %v", err)
	}
	if err := w.SetDevServer(3000, 99); err != nil {
		t.Fatalf("SetDevServer() error = %v", err)
	}
	if err := w.Ready(); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}

	got, _ = store.Read()
	if got.Status != StateReady || got.Step != "" {
		t.Fatalf("after Ready: %+v", got)
	}
	if got.Env["DATABASE_URL"] != svc.URL || len(got.Services) != 1 || got.DevServer.Port != 3000 {
		t.Fatalf("after Ready: %+v", got)
	}

	if err := w.Fail(errors.New("late")); !errors.Is(err, ErrTerminal) {
		t.Fatalf("Fail() after Ready error = %v, want ErrTerminal", err)
	}
	if err := w.Step("again"); !errors.Is(err, ErrTerminal) {
		t.Fatalf("Step() after Ready error = %v, want ErrTerminal", err)
	}
	again, _ := store.Read()
	if again.Status != StateReady || !again.Timestamp.Equal(got.Timestamp) {
		t.Fatalf("terminal document mutated: %+v", again)
	}
}

func TestWriterFailCarriesError(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "status.json"))
	w := NewWriter(store)

	if err := w.Fail(errors.New("postgres did not become reachable")); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	got, _ := store.Read()
	if got.Status != StateFailed || got.Error != "postgres did not become reachable" {
		t.Fatalf("after Fail: %+v", got)
	}
	if err := w.Ready(); !errors.Is(err, ErrTerminal) {
		t.Fatalf("Ready() after Fail error = %v, want ErrTerminal", err)
	}
}

func TestWriterCurrentIsACopy(t *testing.T) {
	w := NewWriter(NewStore(filepath.Join(t.TempDir(), "status.json")))
	_ = w.AddService(ServiceInstance{Name: "redis"}, map[string]string{"REDIS_URL": "redis://x"})

	cur := w.Current()
	cur.Env["REDIS_URL"] = "mutated"
	cur.Services[0].Name = "mutated"

	again := w.Current()
	if again.Env["REDIS_URL"] != "redis://x" || again.Services[0].Name != "redis" {
		t.Fatalf("Current() leaked internal state: %+v", again)
	}
}
