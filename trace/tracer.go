package trace

import (
	"time"

	"github.com/google/uuid"

	"github.com/lumen-lang/lumen/vm"
)

// Run journals one engine run into a Store. It implements vm.Tracer; the
// engine calls it single-threaded, so no locking is needed. Storage errors
// are logged and swallowed: tracing never fails a computation.
type Run struct {
	store *Store
	runID string
	seq   int64
	prev  string
}

// StartRun opens a new run against the module's doc hash and writes the
// run_start event.
func StartRun(store *Store, docHash string) (*Run, error) {
	r := &Run{
		store: store,
		runID: uuid.NewString(),
		prev:  GenesisHash,
	}
	if err := store.beginRun(r.runID, docHash, time.Now().UTC()); err != nil {
		return nil, err
	}
	r.record("run_start", "", "", nil)
	return r, nil
}

// End writes the run_end event and closes out the run row.
func (r *Run) End() {
	r.record("run_end", "", "", nil)
	if err := r.store.endRun(r.runID, time.Now().UTC()); err != nil {
		log.Errorf("%s", err.Error())
	}
}

// RunID returns the run's uuid.
func (r *Run) RunID() string { return r.runID }

func (r *Run) record(kind, cell, message string, details map[string]any) {
	r.seq++
	e := &Event{
		RunID:     r.runID,
		Seq:       r.seq,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Cell:      cell,
		Message:   message,
		Details:   details,
		PrevHash:  r.prev,
	}
	e.Hash = eventHash(e)
	r.prev = e.Hash
	if err := r.store.append(e); err != nil {
		log.Errorf("%s", err.Error())
	}
}

// ---------------------------------------------------------------------------
// vm.Tracer
// ---------------------------------------------------------------------------

func (r *Run) RunRef() string { return r.runID }

func (r *Run) Step(cell string, pc int, op vm.Opcode) {
	r.record("vm_step", cell, "", map[string]any{"ip": pc, "opcode": op.Name()})
}

func (r *Run) CallEnter(cell string) {
	r.record("call_enter", cell, "", nil)
}

func (r *Run) CallExit(cell string, resultType string) {
	r.record("call_exit", cell, "", map[string]any{"result_type": resultType})
}

func (r *Run) EffectPerform(op string) {
	r.record("effect_perform", "", "", map[string]any{"op": op})
}

func (r *Run) EffectResume() {
	r.record("effect_resume", "", "", nil)
}

func (r *Run) ToolCall(tool string) {
	r.record("tool_call", "", "", map[string]any{"tool": tool})
}

func (r *Run) SchemaValidate(schema string, valid bool) {
	r.record("schema_validate", "", "", map[string]any{"schema": schema, "valid": valid})
}

func (r *Run) Error(msg string) {
	r.record("error", "", msg, nil)
}
