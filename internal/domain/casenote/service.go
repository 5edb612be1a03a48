package casenote

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinixnote/clinixnote/internal/platform/blobstore"
	"github.com/clinixnote/clinixnote/internal/platform/llm"
	"github.com/clinixnote/clinixnote/internal/platform/pdf"
	"github.com/clinixnote/clinixnote/internal/platform/recordlog"
)

// ErrListingUnsupported is returned by ListRecords when the configured sink
// cannot read records back.
var ErrListingUnsupported = errors.New("the configured record sink does not support listing")

// ServiceConfig wires a Service. Archive is optional.
type ServiceConfig struct {
	Sessions      *SessionStore
	Clients       llm.Factory
	DefaultAPIKey string
	Records       recordlog.Sink
	Renderer      *pdf.Renderer
	Archive       blobstore.BlobStore
	PersistOnNote bool
	Temperature   float32
	Logger        zerolog.Logger
}

type Service struct {
	sessions      *SessionStore
	clients       llm.Factory
	defaultAPIKey string
	records       recordlog.Sink
	renderer      *pdf.Renderer
	archive       blobstore.BlobStore
	persistOnNote bool
	temperature   float32
	logger        zerolog.Logger
	now           func() time.Time
}

func NewService(cfg ServiceConfig) *Service {
	return &Service{
		sessions:      cfg.Sessions,
		clients:       cfg.Clients,
		defaultAPIKey: cfg.DefaultAPIKey,
		records:       cfg.Records,
		renderer:      cfg.Renderer,
		archive:       cfg.Archive,
		persistOnNote: cfg.PersistOnNote,
		temperature:   cfg.Temperature,
		logger:        cfg.Logger.With().Str("component", "casenote").Logger(),
		now:           time.Now,
	}
}

// -- Sessions --

// CreateSession opens a session for owner. apiKey falls back to the
// configured default; with neither the call fails with AuthenticationFailed.
func (s *Service) CreateSession(ctx context.Context, owner, apiKey string) (*Session, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		key = s.defaultAPIKey
	}
	client, err := s.clients.NewClient(ctx, key)
	if err != nil {
		return nil, err
	}

	w := NewWorkflow(s.temperature)
	w.now = s.now
	sess := &Session{
		ID:        uuid.New(),
		Owner:     owner,
		CreatedAt: s.now().UTC(),
		Workflow:  w,
		client:    client,
	}
	s.sessions.Add(sess)
	s.logger.Info().Str("session_id", sess.ID.String()).Str("owner", owner).Msg("session opened")
	return sess, nil
}

// GetSession returns owner's session. Sessions belonging to someone else are
// reported as not found.
func (s *Service) GetSession(owner string, id uuid.UUID) (*Session, error) {
	sess, ok := s.sessions.Get(id)
	if !ok || sess.Owner != owner {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// EndSession forgets the session and everything it holds.
func (s *Service) EndSession(owner string, id uuid.UUID) error {
	if _, err := s.GetSession(owner, id); err != nil {
		return err
	}
	s.sessions.Remove(id)
	s.logger.Info().Str("session_id", id.String()).Msg("session closed")
	return nil
}

// -- Workflow actions --

func (s *Service) SubmitCase(owner string, id uuid.UUID, req CaseRequest) (Snapshot, error) {
	sess, err := s.GetSession(owner, id)
	if err != nil {
		return Snapshot{}, err
	}
	in, err := NewCaseInput(req)
	if err != nil {
		return Snapshot{}, err
	}
	if err := sess.Workflow.SubmitCase(in); err != nil {
		return Snapshot{}, err
	}
	s.logger.Debug().Str("session_id", id.String()).Msg("case submitted")
	return sess.Workflow.Snapshot(), nil
}

// NoteResult is a generated note plus the outcome of persisting it. A
// persistence failure never hides the note.
type NoteResult struct {
	Note         ClinicalNote
	Record       *recordlog.Record
	PersistError error
}

func (s *Service) GenerateNote(ctx context.Context, owner string, id uuid.UUID) (*NoteResult, error) {
	sess, err := s.GetSession(owner, id)
	if err != nil {
		return nil, err
	}

	start := s.now()
	note, err := sess.Workflow.GenerateNote(ctx, sess.client)
	if err != nil {
		s.logFailure(id, StageNote, err)
		return nil, err
	}
	s.logger.Info().
		Str("session_id", id.String()).
		Str("stage", string(StageNote)).
		Dur("elapsed", s.now().Sub(start)).
		Msg("note generated")

	res := &NoteResult{Note: note}
	if s.persistOnNote {
		rec, err := s.appendRecord(ctx, sess.Workflow.Snapshot(), "")
		if err != nil {
			res.PersistError = err
		} else {
			res.Record = &rec
		}
	}
	return res, nil
}

func (s *Service) GenerateDischarge(ctx context.Context, owner string, id uuid.UUID, diagnosis string, opts DischargeOptions) (DischargeSummary, error) {
	sess, err := s.GetSession(owner, id)
	if err != nil {
		return DischargeSummary{}, err
	}

	start := s.now()
	d, err := sess.Workflow.GenerateDischarge(ctx, sess.client, diagnosis, opts)
	if err != nil {
		s.logFailure(id, StageDischarge, err)
		return DischargeSummary{}, err
	}
	s.logger.Info().
		Str("session_id", id.String()).
		Str("stage", string(StageDischarge)).
		Bool("bilingual", d.SecondLanguage != "").
		Dur("elapsed", s.now().Sub(start)).
		Msg("discharge summary generated")
	return d, nil
}

// SaveCase appends the session's case to the record log. diagnosis, when
// given, is recorded in place of the workflow's.
func (s *Service) SaveCase(ctx context.Context, owner string, id uuid.UUID, diagnosis string) (recordlog.Record, error) {
	sess, err := s.GetSession(owner, id)
	if err != nil {
		return recordlog.Record{}, err
	}
	snap := sess.Workflow.Snapshot()
	if snap.Case.IsZero() {
		return recordlog.Record{}, &ValidationError{Field: "case_summary", Message: "submit a case before saving"}
	}
	return s.appendRecord(ctx, snap, diagnosis)
}

func (s *Service) appendRecord(ctx context.Context, snap Snapshot, diagnosis string) (recordlog.Record, error) {
	if strings.TrimSpace(diagnosis) == "" {
		diagnosis = snap.Diagnosis
	}
	rec := recordlog.Record{
		Name:           snap.Case.PatientName(),
		Phone:          snap.Case.Phone(),
		Timestamp:      s.now().UTC(),
		CaseSummary:    snap.Case.CaseSummary(),
		FinalDiagnosis: diagnosis,
	}
	if snap.Note != nil {
		rec.GeneratedNote = snap.Note.RawText
	}
	if err := s.records.Append(ctx, rec); err != nil {
		s.logger.Error().Err(err).Msg("appending session record")
		return recordlog.Record{}, err
	}
	return rec, nil
}

// ListRecords pages through saved records, oldest first.
func (s *Service) ListRecords(ctx context.Context, limit, offset int) ([]recordlog.Record, int, error) {
	l, ok := s.records.(recordlog.Lister)
	if !ok {
		return nil, 0, ErrListingUnsupported
	}
	return l.List(ctx, limit, offset)
}

// -- Export --

// Export is a rendered discharge summary ready for download.
type Export struct {
	FileName string
	Document *pdf.Document
	Archived *blobstore.BlobMetadata
}

// ExportDischarge renders the session's discharge summary. Lines no font can
// draw are left out and listed in Document.Skipped. When an archive is
// configured the PDF is also stored there; an archive failure is logged and
// does not fail the export.
func (s *Service) ExportDischarge(ctx context.Context, owner string, id uuid.UUID) (*Export, error) {
	sess, err := s.GetSession(owner, id)
	if err != nil {
		return nil, err
	}
	snap := sess.Workflow.Snapshot()
	if snap.Discharge == nil {
		return nil, ErrNoDischarge
	}

	fields := []pdf.Field{
		{Label: "Patient", Value: snap.Case.PatientName()},
		{Label: "Phone", Value: snap.Case.Phone()},
		{Label: "Diagnosis", Value: snap.Discharge.Diagnosis},
		{Label: "Generated", Value: snap.Discharge.GeneratedAt.Format("2006-01-02 15:04 MST")},
	}
	doc, err := s.renderer.Render("Discharge Summary", fields, snap.Discharge.RawText)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", id.String()).Msg("rendering discharge summary")
		return nil, err
	}
	if len(doc.Skipped) > 0 {
		s.logger.Warn().
			Str("session_id", id.String()).
			Int("skipped_lines", len(doc.Skipped)).
			Msg("discharge summary exported with skipped lines")
	}

	exp := &Export{
		FileName: DischargeFileName(snap.Case.PatientName()),
		Document: doc,
	}
	if s.archive != nil {
		meta, err := s.archive.Put(ctx, blobstore.BlobMetadata{
			FileName:    exp.FileName,
			ContentType: "application/pdf",
			SessionID:   id.String(),
			CreatedBy:   owner,
		}, doc.Bytes)
		if err != nil {
			s.logger.Error().Err(err).Str("session_id", id.String()).Msg("archiving discharge summary")
		} else {
			exp.Archived = meta
		}
	}
	return exp, nil
}

var fileNameUnsafe = regexp.MustCompile(`[^\p{L}\p{N}_-]+`)

const dischargeSuffix = "_discharge.pdf"

// DischargeFileName builds "{name}_discharge.pdf" with spaces turned into
// underscores and anything else outside letters, digits, '_' and '-'
// dropped. An empty result becomes "patient".
func DischargeFileName(patientName string) string {
	name := strings.Join(strings.Fields(patientName), "_")
	name = fileNameUnsafe.ReplaceAllString(name, "")
	if name == "" {
		name = "patient"
	}
	return name + dischargeSuffix
}

func (s *Service) logFailure(id uuid.UUID, stage Stage, err error) {
	evt := s.logger.Warn().Str("session_id", id.String()).Str("stage", string(stage))
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		evt.Str("field", ve.Field).Msg("generation rejected")
	case errors.Is(err, ErrGenerationInProgress):
		evt.Msg("generation already in progress")
	default:
		evt.Str("kind", string(llm.KindOf(err))).Msg("completion failed")
	}
}
