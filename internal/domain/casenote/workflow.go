package casenote

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/clinixnote/clinixnote/internal/platform/llm"
)

type State string

const (
	StateIdle                State = "idle"
	StateCaseEntered         State = "case_entered"
	StateNoteGenerating      State = "note_generating"
	StateNoteReady           State = "note_ready"
	StateDischargeGenerating State = "discharge_generating"
	StateDischargeReady      State = "discharge_ready"
	StateFailed              State = "failed"
)

// DefaultTemperature is the sampling temperature used when none is set.
const DefaultTemperature float32 = 0.5

// Failure describes the last failed generation.
type Failure struct {
	Stage Stage
	Err   error
	At    time.Time
}

// Workflow is the per-session state machine. It owns the case, the note, the
// diagnosis and the discharge summary of exactly one session.
//
// The mutex is not held across the completion call, so Snapshot observes the
// generating states while a call is in flight. A second action during that
// window gets ErrGenerationInProgress.
type Workflow struct {
	mu sync.Mutex

	state State
	// resume is the state actions are evaluated against while in StateFailed.
	resume   State
	inFlight bool

	caseInput CaseInput
	note      *ClinicalNote
	diagnosis string
	discharge *DischargeSummary
	failure   *Failure

	temperature float32
	now         func() time.Time
}

func NewWorkflow(temperature float32) *Workflow {
	return &Workflow{
		state:       StateIdle,
		resume:      StateIdle,
		temperature: temperature,
		now:         time.Now,
	}
}

// Snapshot is a read-only copy of the workflow for display.
type Snapshot struct {
	State     State
	Resume    State
	Case      CaseInput
	Note      *ClinicalNote
	Diagnosis string
	Discharge *DischargeSummary
	Failure   *Failure
}

func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Snapshot{
		State:     w.state,
		Resume:    w.resume,
		Case:      w.caseInput,
		Diagnosis: w.diagnosis,
	}
	if w.note != nil {
		n := *w.note
		s.Note = &n
	}
	if w.discharge != nil {
		d := *w.discharge
		s.Discharge = &d
	}
	if w.failure != nil {
		f := *w.failure
		s.Failure = &f
	}
	return s
}

func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// SubmitCase replaces the session's case. Artifacts derived from an earlier
// case are dropped.
func (w *Workflow) SubmitCase(in CaseInput) error {
	if in.IsZero() {
		return &ValidationError{Field: "case_summary", Message: "case summary is required"}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.inFlight {
		return ErrGenerationInProgress
	}
	w.caseInput = in
	w.note = nil
	w.diagnosis = ""
	w.discharge = nil
	w.failure = nil
	w.state = StateCaseEntered
	w.resume = StateCaseEntered
	return nil
}

// Reset returns the workflow to Idle and forgets everything it holds.
func (w *Workflow) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.inFlight {
		return ErrGenerationInProgress
	}
	w.caseInput = CaseInput{}
	w.note = nil
	w.diagnosis = ""
	w.discharge = nil
	w.failure = nil
	w.state = StateIdle
	w.resume = StateIdle
	return nil
}

// GenerateNote asks the model for a SOAP note and differentials. On success
// the stored note is replaced; on failure it is left as it was.
func (w *Workflow) GenerateNote(ctx context.Context, client llm.Client) (ClinicalNote, error) {
	w.mu.Lock()
	if w.inFlight {
		w.mu.Unlock()
		return ClinicalNote{}, ErrGenerationInProgress
	}
	if w.caseInput.IsZero() {
		w.mu.Unlock()
		return ClinicalNote{}, &ValidationError{Field: "case_summary", Message: "submit a case before generating a note"}
	}
	prompt := ComposeNotePrompt(w.caseInput)
	w.begin(StateNoteGenerating)
	temperature := w.temperature
	w.mu.Unlock()

	text, err := w.complete(ctx, client, StageNote, llm.Request{
		SystemInstruction: SystemInstruction(StageNote),
		UserPrompt:        prompt,
		Temperature:       temperature,
	})

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.fail(StageNote, err)
		return ClinicalNote{}, err
	}
	note := ClinicalNote{RawText: text, GeneratedAt: w.now().UTC()}
	w.note = &note
	w.succeed(StateNoteReady)
	return note, nil
}

// GenerateDischarge asks the model for a discharge summary. It needs a final
// diagnosis and a case. A prior note is optional and, when present, is
// included in the prompt.
func (w *Workflow) GenerateDischarge(ctx context.Context, client llm.Client, diagnosis string, opts DischargeOptions) (DischargeSummary, error) {
	if strings.TrimSpace(diagnosis) == "" {
		return DischargeSummary{}, &ValidationError{Field: "final_diagnosis", Message: "final diagnosis is required"}
	}

	w.mu.Lock()
	if w.inFlight {
		w.mu.Unlock()
		return DischargeSummary{}, ErrGenerationInProgress
	}
	if w.caseInput.IsZero() {
		w.mu.Unlock()
		return DischargeSummary{}, &ValidationError{Field: "case_summary", Message: "submit a case before generating a discharge summary"}
	}
	prompt := ComposeDischargePrompt(w.caseInput, diagnosis, w.note, opts)
	w.begin(StateDischargeGenerating)
	temperature := w.temperature
	w.mu.Unlock()

	text, err := w.complete(ctx, client, StageDischarge, llm.Request{
		SystemInstruction: SystemInstruction(StageDischarge),
		UserPrompt:        prompt,
		Temperature:       temperature,
	})

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.fail(StageDischarge, err)
		return DischargeSummary{}, err
	}
	d := DischargeSummary{
		RawText:        text,
		Diagnosis:      diagnosis,
		SecondLanguage: strings.TrimSpace(opts.SecondLanguage),
		GeneratedAt:    w.now().UTC(),
	}
	w.diagnosis = diagnosis
	w.discharge = &d
	w.succeed(StateDischargeReady)
	return d, nil
}

// complete calls the model without holding mu. If the client panics the
// attempt is recorded as failed before the panic continues, so the session
// does not stay in a generating state.
func (w *Workflow) complete(ctx context.Context, client llm.Client, stage Stage, req llm.Request) (string, error) {
	defer func() {
		if r := recover(); r != nil {
			w.mu.Lock()
			w.fail(stage, fmt.Errorf("completion client panicked: %v", r))
			w.mu.Unlock()
			panic(r)
		}
	}()
	return client.Complete(ctx, req)
}

// begin must be called with mu held.
func (w *Workflow) begin(generating State) {
	if w.state != StateFailed {
		w.resume = w.state
	}
	w.state = generating
	w.inFlight = true
}

// succeed must be called with mu held.
func (w *Workflow) succeed(ready State) {
	w.inFlight = false
	w.failure = nil
	w.state = ready
	w.resume = ready
}

// fail must be called with mu held. The resume state stays at the last ready
// state so the same action can be fired again.
func (w *Workflow) fail(stage Stage, err error) {
	w.inFlight = false
	w.failure = &Failure{Stage: stage, Err: err, At: w.now().UTC()}
	w.state = StateFailed
}
