package trace

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite3", filepath.Join(t.TempDir(), "trace.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func recordedRun(t *testing.T, s *Store) *Run {
	t.Helper()
	r, err := StartRun(s, "sha256:doc")
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	r.CallEnter("main")
	r.EffectPerform("ask")
	r.EffectResume()
	r.ToolCall("http_get")
	r.SchemaValidate("user", true)
	r.CallExit("main", "Int")
	r.End()
	return r
}

func TestRunJournal(t *testing.T) {
	s := openTestStore(t)
	r := recordedRun(t, s)

	events, err := s.Events(r.RunID())
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	// run_start + 6 engine events + run_end
	if len(events) != 8 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0].Kind != "run_start" || events[len(events)-1].Kind != "run_end" {
		t.Errorf("bookends = %q .. %q", events[0].Kind, events[len(events)-1].Kind)
	}
	if events[0].PrevHash != GenesisHash {
		t.Errorf("first event chains from %q", events[0].PrevHash)
	}
	for i := 1; i < len(events); i++ {
		if events[i].PrevHash != events[i-1].Hash {
			t.Errorf("event %d breaks the chain", events[i].Seq)
		}
	}
	if events[4].Kind != "tool_call" || events[4].Details["tool"] != "http_get" {
		t.Errorf("tool event = %+v", events[4])
	}

	runs, err := s.Runs()
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0] != r.RunID() {
		t.Errorf("runs = %v", runs)
	}
}

func TestVerifyIntactChain(t *testing.T) {
	s := openTestStore(t)
	r := recordedRun(t, s)
	if err := s.Verify(r.RunID()); err != nil {
		t.Errorf("intact run failed verification: %v", err)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	s := openTestStore(t)
	r := recordedRun(t, s)

	_, err := s.db.Exec(
		"UPDATE events SET cell = 'forged' WHERE run_id = ? AND seq = 2", r.RunID())
	if err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if err := s.Verify(r.RunID()); err == nil {
		t.Fatal("tampered event verified")
	}
}

func TestVerifyDetectsBrokenChain(t *testing.T) {
	s := openTestStore(t)
	r := recordedRun(t, s)

	_, err := s.db.Exec(
		"UPDATE events SET prev_hash = 'sha256:bogus' WHERE run_id = ? AND seq = 3", r.RunID())
	if err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if err := s.Verify(r.RunID()); err == nil {
		t.Fatal("broken chain verified")
	}
}

func TestVerifyUnknownRun(t *testing.T) {
	s := openTestStore(t)
	if err := s.Verify("no-such-run"); err == nil {
		t.Fatal("unknown run verified")
	}
}

func TestRunsAreIsolated(t *testing.T) {
	s := openTestStore(t)
	a := recordedRun(t, s)
	b := recordedRun(t, s)
	if a.RunID() == b.RunID() {
		t.Fatal("run ids collide")
	}
	events, err := s.Events(a.RunID())
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	for _, e := range events {
		if e.RunID != a.RunID() {
			t.Errorf("event %d belongs to run %s", e.Seq, e.RunID)
		}
	}
	if err := s.Verify(b.RunID()); err != nil {
		t.Errorf("second run failed verification: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("postgres", "ignored"); err == nil {
		t.Fatal("unknown driver accepted")
	}
}
