package events

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/holon-run/mission/pkg/gateway"
)

const testSecret = "test-secret"

// fakeGateway records accepted envelopes and every attempt, failing on demand.
type fakeGateway struct {
	t        *testing.T
	server   *httptest.Server
	mu       sync.Mutex
	attempts []Envelope
	accepted []Envelope
	// fail decides whether attempt n (0-based) for env is rejected.
	fail func(n int, env Envelope) bool
}

func newFakeGateway(t *testing.T) *fakeGateway {
	g := &fakeGateway{t: t}
	g.server = httptest.NewServer(http.HandlerFunc(g.handle))
	t.Cleanup(g.server.Close)
	return g
}

func (g *fakeGateway) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if r.Header.Get(gateway.SignatureHeader) != gateway.Sign([]byte(testSecret), body) {
		http.Error(w, "bad signature", http.StatusUnauthorized)
		return
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	g.mu.Lock()
	n := len(g.attempts)
	g.attempts = append(g.attempts, env)
	fail := g.fail != nil && g.fail(n, env)
	if !fail {
		g.accepted = append(g.accepted, env)
	}
	g.mu.Unlock()

	if fail {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (g *fakeGateway) acceptedLabels() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, env := range g.accepted {
		out = append(out, env.Data.(AgentError).Message)
	}
	return out
}

func newTestReporter(t *testing.T, g *fakeGateway, journal *Journal) *Reporter {
	t.Helper()
	tr, err := gateway.NewTransport(gateway.TransportConfig{Secret: testSecret})
	if err != nil {
		t.Fatal(err)
	}
	ep, err := gateway.NewEndpoints(g.server.URL, "mission-1")
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewReporter(ReporterConfig{
		Sender:        tr,
		Endpoints:     ep,
		Journal:       journal,
		RetryDelay:    10 * time.Millisecond,
		DrainInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func drain(t *testing.T, r *Reporter) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Drain(ctx); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
}

// labelled events make order assertions readable.
func labelled(s string) Event { return AgentError{Message: s} }

func TestReporterPreservesOrder(t *testing.T) {
	g := newFakeGateway(t)
	r := newTestReporter(t, g, nil)

	want := []string{"e1", "e2", "e3", "e4", "e5", "e6", "e7", "e8"}
	for _, s := range want {
		r.Report(labelled(s))
	}
	drain(t, r)

	got := g.acceptedLabels()
	if len(got) != len(want) {
		t.Fatalf("accepted %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("accepted %v, want %v", got, want)
		}
	}
	if r.Pending() != 0 {
		t.Errorf("Pending() = %d after drain", r.Pending())
	}
}

func TestReporterRetriesFailedHeadBeforeLaterEvents(t *testing.T) {
	g := newFakeGateway(t)
	failures := 0
	g.fail = func(_ int, env Envelope) bool {
		if env.Data.(AgentError).Message == "e2" && failures < 2 {
			failures++
			return true
		}
		return false
	}
	r := newTestReporter(t, g, nil)

	for _, s := range []string{"e1", "e2", "e3", "e4"} {
		r.Report(labelled(s))
	}
	drain(t, r)

	got := g.acceptedLabels()
	want := []string{"e1", "e2", "e3", "e4"}
	if len(got) != len(want) {
		t.Fatalf("accepted %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("accepted %v, want %v", got, want)
		}
	}

	// No attempt for e3 or e4 may precede the successful e2 delivery.
	g.mu.Lock()
	defer g.mu.Unlock()
	seenE2OK := false
	e2Failures := 0
	for _, env := range g.attempts {
		switch env.Data.(AgentError).Message {
		case "e2":
			if e2Failures < 2 {
				e2Failures++
			} else {
				seenE2OK = true
			}
		case "e3", "e4":
			if !seenE2OK {
				t.Fatalf("later event attempted before e2 was accepted: %v", g.attempts)
			}
		}
	}
}

func TestReporterRetriedEventKeepsIdentity(t *testing.T) {
	g := newFakeGateway(t)
	g.fail = func(n int, _ Envelope) bool { return n == 0 }
	r := newTestReporter(t, g, nil)

	r.Report(AgentStart{})
	drain(t, r)

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(g.attempts))
	}
	first, second := g.attempts[0], g.attempts[1]
	if first.ID != second.ID || !first.Timestamp.Equal(second.Timestamp) {
		t.Errorf("retry changed identity: %+v vs %+v", first, second)
	}
	if first.MissionID != "mission-1" {
		t.Errorf("MissionID = %q", first.MissionID)
	}
}

func TestReporterReportAfterDrain(t *testing.T) {
	g := newFakeGateway(t)
	r := newTestReporter(t, g, nil)

	r.Report(labelled("before"))
	drain(t, r)
	r.Report(labelled("after"))
	drain(t, r)

	got := g.acceptedLabels()
	if len(got) != 2 || got[1] != "after" {
		t.Errorf("accepted %v", got)
	}
}

func TestReporterDrainHonoursContext(t *testing.T) {
	g := newFakeGateway(t)
	g.fail = func(int, Envelope) bool { return true }
	r := newTestReporter(t, g, nil)

	r.Report(labelled("stuck"))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := r.Drain(ctx); err != context.DeadlineExceeded {
		t.Fatalf("Drain() error = %v, want DeadlineExceeded", err)
	}
	if r.Pending() != 1 {
		t.Errorf("Pending() = %d, want event kept", r.Pending())
	}
}

func TestReporterDeltaSequence(t *testing.T) {
	g := newFakeGateway(t)
	r := newTestReporter(t, g, nil)

	r.Report(MessageDelta{MessageID: "m1", Delta: "a"})
	r.Report(MessageDelta{MessageID: "m2", Delta: "x"})
	r.Report(MessageDelta{MessageID: "m1", Delta: "b"})
	r.Report(MessageDelta{MessageID: "m1", Delta: "c", Seq: 42})
	drain(t, r)

	g.mu.Lock()
	defer g.mu.Unlock()
	var seqs []int64
	for _, env := range g.accepted {
		seqs = append(seqs, env.Data.(MessageDelta).Seq)
	}
	want := []int64{1, 1, 2, 42}
	for i := range want {
		if seqs[i] != want[i] {
			t.Fatalf("seqs = %v, want %v", seqs, want)
		}
	}
}

func TestReporterJournal(t *testing.T) {
	g := newFakeGateway(t)
	path := filepath.Join(t.TempDir(), "state", "events.ndjson")
	journal, err := OpenJournal(path)
	if err != nil {
		t.Fatal(err)
	}
	r := newTestReporter(t, g, journal)

	r.Report(AgentStart{Prompt: "hi"})
	r.Report(AgentEnd{Reason: "idle"})
	drain(t, r)
	if err := journal.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var types []Type
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var env Envelope
		if err := json.Unmarshal(sc.Bytes(), &env); err != nil {
			t.Fatalf("journal line: %v", err)
		}
		types = append(types, env.Type)
	}
	if len(types) != 2 || types[0] != TypeAgentStart || types[1] != TypeAgentEnd {
		t.Errorf("journal types = %v", types)
	}
}

func TestNewReporterValidation(t *testing.T) {
	if _, err := NewReporter(ReporterConfig{}); err == nil {
		t.Error("expected error without sender")
	}
	tr, _ := gateway.NewTransport(gateway.TransportConfig{Secret: "x"})
	if _, err := NewReporter(ReporterConfig{Sender: tr}); err == nil {
		t.Error("expected error without endpoints")
	}
}
