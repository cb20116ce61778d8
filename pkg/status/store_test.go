package status

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestStoreReadMissing(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), ".mission", "setup-status.json"))
	st, err := s.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if st != nil {
		t.Fatalf("Read() = %+v, want nil", st)
	}
}

func TestStoreWriteCreatesDirAndRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".mission", "setup-status.json")
	s := NewStore(path)

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Write(SetupStatus{
		Status:    StateReady,
		Timestamp: ts,
		Services:  []ServiceInstance{{Name: "postgres", URL: "postgres://localhost:5432/app", Port: 5432}},
		DevServer: &DevServer{Port: 3000, PID: 42},
		Env:       map[string]string{"DATABASE_URL": "postgres://localhost:5432/app"},
	})

	got, err := s.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got == nil {
		t.Fatal("Read() = nil after write")
	}
	if got.Status != StateReady || !got.Timestamp.Equal(ts) {
		t.Errorf("got status=%q ts=%v", got.Status, got.Timestamp)
	}
	svc, ok := got.Service("postgres")
	if !ok || svc.Port != 5432 {
		t.Errorf("Service(postgres) = %+v, %v", svc, ok)
	}
	if got.DevServer == nil || got.DevServer.PID != 42 {
		t.Errorf("DevServer = %+v", got.DevServer)
	}
	if got.Env["DATABASE_URL"] == "" {
		t.Errorf("Env = %v", got.Env)
	}

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*"))
	if len(matches) != 1 {
		t.Errorf("status dir contains %v, want only the status file", matches)
	}
}

func TestStoreWriteEmitsEmptyCollections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	s := NewStore(path)
	s.Write(SetupStatus{Status: StateRunning, Step: "cloning"})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"services": []`, `"env": {}`, `"step": "cloning"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("document %s missing %s", data, want)
		}
	}
	if strings.Contains(string(data), "devServer") || strings.Contains(string(data), `"error"`) {
		t.Errorf("document %s has unset optional fields", data)
	}
}

func TestStoreReadMalformedIsAbsent(t *testing.T) {
	tests := map[string]string{
		"truncated":     `{"status":"run`,
		"unknown state": `{"status":"paused"}`,
		"not an object": `[]`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "status.json")
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatal(err)
			}
			st, err := NewStore(path).Read()
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if st != nil {
				t.Fatalf("Read() = %+v, want nil", st)
			}
		})
	}
}

func TestStoreWriteFailureIsSwallowed(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	// The parent "directory" is a regular file, so the write cannot succeed.
	s := NewStore(filepath.Join(blocker, "status.json"))
	s.Write(SetupStatus{Status: StateRunning})
}

func TestStoreConcurrentReadersNeverSeePartialDocuments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	s := NewStore(path)
	s.Write(SetupStatus{Status: StateRunning, Step: "step-0"})

	done := make(chan struct{})
	var wg sync.WaitGroup
	var readErr error
	var errMu sync.Mutex
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := NewStore(path)
			for {
				select {
				case <-done:
					return
				default:
				}
				st, err := r.Read()
				if err == nil && st == nil {
					err = errors.New("observed absent or partial document")
				}
				if err != nil {
					errMu.Lock()
					readErr = err
					errMu.Unlock()
					return
				}
			}
		}()
	}

	big := make(map[string]string)
	for i := 0; i < 200; i++ {
		big["KEY_"+string(rune('A'+i%26))+string(rune('a'+i/26))] = "value-with-some-length"
	}
	for i := 0; i < 200; i++ {
		s.Write(SetupStatus{Status: StateRunning, Step: "step", Env: big})
	}
	close(done)
	wg.Wait()

	if readErr != nil {
		t.Fatal(readErr)
	}
}
