package casenote

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinixnote/clinixnote/internal/platform/auth"
	"github.com/clinixnote/clinixnote/internal/platform/llm"
	"github.com/clinixnote/clinixnote/internal/platform/pdf"
	"github.com/clinixnote/clinixnote/internal/platform/recordlog"
	"github.com/clinixnote/clinixnote/pkg/pagination"
)

// APIKeyHeader carries the completion credential when it is not in the body.
const APIKeyHeader = "X-LLM-API-Key"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleNurse))
	g.POST("/sessions", h.CreateSession)
	g.GET("/sessions/:id", h.GetSession)
	g.DELETE("/sessions/:id", h.EndSession)
	g.PUT("/sessions/:id/case", h.SubmitCase)
	g.POST("/sessions/:id/note", h.GenerateNote)
	g.POST("/sessions/:id/discharge", h.GenerateDischarge)
	g.POST("/sessions/:id/records", h.SaveCase)
	g.GET("/sessions/:id/discharge.pdf", h.ExportDischarge)
	g.GET("/records", h.ListRecords)
}

// -- Views --

type failureView struct {
	Stage   Stage     `json:"stage"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type sessionView struct {
	ID        uuid.UUID         `json:"id"`
	State     State             `json:"state"`
	CreatedAt time.Time         `json:"created_at"`
	Case      *CaseRequest      `json:"case,omitempty"`
	Note      *ClinicalNote     `json:"note,omitempty"`
	Diagnosis string            `json:"final_diagnosis,omitempty"`
	Discharge *DischargeSummary `json:"discharge,omitempty"`
	Failure   *failureView      `json:"failure,omitempty"`
}

func newSessionView(sess *Session, snap Snapshot) sessionView {
	v := sessionView{
		ID:        sess.ID,
		State:     snap.State,
		CreatedAt: sess.CreatedAt,
		Note:      snap.Note,
		Diagnosis: snap.Diagnosis,
		Discharge: snap.Discharge,
	}
	if !snap.Case.IsZero() {
		r := snap.Case.request()
		v.Case = &r
	}
	if f := snap.Failure; f != nil {
		v.Failure = &failureView{Stage: f.Stage, Message: f.Err.Error(), At: f.At}
		if errors.As(f.Err, new(*ValidationError)) {
			v.Failure.Kind = "validation"
		} else {
			v.Failure.Kind = string(llm.KindOf(f.Err))
		}
	}
	return v
}

type noteView struct {
	Note         ClinicalNote      `json:"note"`
	Record       *recordlog.Record `json:"record,omitempty"`
	PersistError string            `json:"persist_error,omitempty"`
}

// -- Handlers --

func (h *Handler) CreateSession(c echo.Context) error {
	var body struct {
		APIKey string `json:"api_key"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if body.APIKey == "" {
		body.APIKey = c.Request().Header.Get(APIKeyHeader)
	}

	sess, err := h.svc.CreateSession(c.Request().Context(), owner(c), body.APIKey)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, newSessionView(sess, sess.Workflow.Snapshot()))
}

func (h *Handler) GetSession(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	sess, err := h.svc.GetSession(owner(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, newSessionView(sess, sess.Workflow.Snapshot()))
}

func (h *Handler) EndSession(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	if err := h.svc.EndSession(owner(c), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SubmitCase(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	var req CaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	snap, err := h.svc.SubmitCase(owner(c), id, req)
	if err != nil {
		return httpError(err)
	}
	sess, err := h.svc.GetSession(owner(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, newSessionView(sess, snap))
}

func (h *Handler) GenerateNote(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.GenerateNote(c.Request().Context(), owner(c), id)
	if err != nil {
		return httpError(err)
	}
	v := noteView{Note: res.Note, Record: res.Record}
	if res.PersistError != nil {
		v.PersistError = res.PersistError.Error()
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) GenerateDischarge(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	var body struct {
		FinalDiagnosis string `json:"final_diagnosis"`
		DischargeOptions
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	d, err := h.svc.GenerateDischarge(c.Request().Context(), owner(c), id, body.FinalDiagnosis, body.DischargeOptions)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) SaveCase(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	var body struct {
		FinalDiagnosis string `json:"final_diagnosis"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rec, err := h.svc.SaveCase(c.Request().Context(), owner(c), id, body.FinalDiagnosis)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) ExportDischarge(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	exp, err := h.svc.ExportDischarge(c.Request().Context(), owner(c), id)
	if err != nil {
		return httpError(err)
	}

	hdr := c.Response().Header()
	hdr.Set(echo.HeaderContentDisposition, attachmentDisposition(exp.FileName))
	if n := len(exp.Document.Skipped); n > 0 {
		hdr.Set("X-Export-Skipped-Lines", strconv.Itoa(n))
	}
	if exp.Archived != nil {
		hdr.Set("X-Archive-ID", exp.Archived.ID)
	}
	return c.Blob(http.StatusOK, "application/pdf", exp.Document.Bytes)
}

func (h *Handler) ListRecords(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListRecords(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// -- Helpers --

func owner(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}

// attachmentDisposition always carries an ASCII filename. Names outside ASCII
// are added in the RFC 6266 filename* form.
func attachmentDisposition(fileName string) string {
	fallback := asciiFileName(fileName)
	v := `attachment; filename="` + fallback + `"`
	if fallback != fileName {
		v += "; filename*=UTF-8''" + url.PathEscape(fileName)
	}
	return v
}

func asciiFileName(fileName string) string {
	stem := strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, strings.TrimSuffix(fileName, dischargeSuffix))
	return DischargeFileName(strings.Trim(stem, "_-"))
}

func sessionID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid session id")
	}
	return id, nil
}

// httpError maps domain and adapter errors to HTTP responses. Completion
// messages are passed through so the clinician sees what the service said.
func httpError(err error) error {
	var (
		ve *ValidationError
		ce *llm.CompletionError
		we *recordlog.WriteError
		re *pdf.RenderError
	)
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, ve.Error())
	case errors.Is(err, ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrGenerationInProgress), errors.Is(err, ErrNoDischarge):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrListingUnsupported):
		return echo.NewHTTPError(http.StatusNotImplemented, err.Error())
	case errors.As(err, &ce):
		return echo.NewHTTPError(completionStatus(ce), ce.Error())
	case errors.As(err, &we):
		return echo.NewHTTPError(http.StatusInternalServerError, "could not save the record")
	case errors.As(err, &re):
		return echo.NewHTTPError(http.StatusInternalServerError, re.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}

func completionStatus(ce *llm.CompletionError) int {
	switch ce.Kind {
	case llm.AuthenticationFailed:
		return http.StatusUnauthorized
	case llm.RateLimited:
		return http.StatusTooManyRequests
	case llm.NetworkFailure:
		if ce.Timeout() {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}
