package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"globule-intake/internal/core"
	"globule-intake/internal/report"
	"globule-intake/pkg"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionBusy     = errors.New("session is busy")
)

// maxUpload bounds a single photo or audio upload.
const maxUpload = 8 << 20

// entry guards one session.  Inputs take the lock with TryLock, so a second
// input arriving while a model call is in flight is rejected instead of queued.
type entry struct {
	mu   sync.Mutex
	sess *pkg.Session
}

// Server bundles together the dependencies required by the kiosk handlers and
// owns the registry of live sessions.
type Server struct {
	Intake *core.Intake
	// Slips is optional; without it the slip endpoint answers 404.
	Slips *report.Slip
	Log   zerolog.Logger
	// CallTimeout bounds one input including every model call it triggers.
	CallTimeout time.Duration
	// IdleTTL drops sessions without input for that long; FinishedTTL drops
	// sessions that reached the terminal step, leaving time to print the slip.
	IdleTTL     time.Duration
	FinishedTTL time.Duration

	mu       sync.RWMutex
	sessions map[string]*entry
}

// NewServer constructs a Server with an empty session registry.
func NewServer(intake *core.Intake, slips *report.Slip, log zerolog.Logger) *Server {
	return &Server{
		Intake:      intake,
		Slips:       slips,
		Log:         log,
		CallTimeout: 2 * time.Minute,
		IdleTTL:     30 * time.Minute,
		FinishedTTL: 5 * time.Minute,
		sessions:    map[string]*entry{},
	}
}

// RegisterRoutes wires the kiosk API on e.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/sessions")
	g.POST("", s.handleCreateSession)
	g.GET("/:id", s.handleGetSession)
	g.POST("/:id/type", s.handleSelectType)
	g.POST("/:id/registration", s.handleRegister)
	g.POST("/:id/lookup", s.handleLookup)
	g.POST("/:id/answer", s.handleAnswer)
	g.POST("/:id/audio", s.handleAudio)
	g.POST("/:id/photo", s.handlePhoto)
	g.POST("/:id/photo/skip", s.simple(pkg.InputSkipPhoto))
	g.POST("/:id/advance", s.simple(pkg.InputAdvance))
	g.POST("/:id/reset", s.simple(pkg.InputReset))
	g.GET("/:id/slip.pdf", s.handleSlip)
}

// sessionView is the JSON shape of GET /api/sessions/:id.
type sessionView struct {
	pkg.Reply
	Busy   bool            `json:"busy"`
	Record *pkg.CaseRecord `json:"record,omitempty"`
}

func (s *Server) lookupEntry(id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	en, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return en, nil
}

// acquire returns the session entry locked for the caller.
func (s *Server) acquire(id string) (*entry, error) {
	en, err := s.lookupEntry(id)
	if err != nil {
		return nil, err
	}
	if !en.mu.TryLock() {
		return nil, ErrSessionBusy
	}
	return en, nil
}

// Evict removes expired sessions and returns how many were dropped.  Sessions
// busy with an input are left alone.
func (s *Server) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, en := range s.sessions {
		if !en.mu.TryLock() {
			continue
		}
		ttl := s.IdleTTL
		if en.sess.State.Step() == pkg.StepTerminal {
			ttl = s.FinishedTTL
		}
		if now.Sub(en.sess.UpdatedAt) > ttl {
			delete(s.sessions, id)
			n++
		}
		en.mu.Unlock()
	}
	return n
}

// RunJanitor calls Evict every interval until ctx is done.
func (s *Server) RunJanitor(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				s.Log.Info().Int("evicted", n).Int("live", s.Len()).Msg("expired sessions dropped")
			}
		}
	}
}

// Len returns the number of live sessions.
func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// handleCreateSession starts a visit and returns the triage prompt.
func (s *Server) handleCreateSession(c echo.Context) error {
	id := uuid.NewString()
	sess := pkg.NewSession(id)
	en := &entry{sess: sess}

	s.mu.Lock()
	s.sessions[id] = en
	s.mu.Unlock()

	en.mu.Lock()
	defer en.mu.Unlock()
	reply := s.Intake.Begin(c.Request().Context(), sess)
	s.Log.Info().Str("session_id", id).Msg("session created")
	return c.JSON(http.StatusCreated, reply)
}

// handleGetSession renders the current step.  While an input is being
// processed only the busy flag is reported.
func (s *Server) handleGetSession(c echo.Context) error {
	id := c.Param("id")
	en, err := s.acquire(id)
	if errors.Is(err, ErrSessionBusy) {
		return c.JSON(http.StatusOK, sessionView{Reply: pkg.Reply{SessionID: id}, Busy: true})
	}
	if err != nil {
		return httpError(err)
	}
	defer en.mu.Unlock()
	return c.JSON(http.StatusOK, sessionView{Reply: s.Intake.View(en.sess), Record: en.sess.Record})
}

type typeRequest struct {
	PatientType pkg.PatientType `json:"patient_type"`
}

func (s *Server) handleSelectType(c echo.Context) error {
	var req typeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	return s.advance(c, pkg.Input{Kind: pkg.InputSelectType, PatientType: req.PatientType})
}

type registerRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

func (s *Server) handleRegister(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	return s.advance(c, pkg.Input{Kind: pkg.InputRegister, Name: req.Name, Phone: req.Phone})
}

type lookupRequest struct {
	RegistrationNumber string `json:"registration_number"`
}

func (s *Server) handleLookup(c echo.Context) error {
	var req lookupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	return s.advance(c, pkg.Input{Kind: pkg.InputLookup, RegistrationNumber: req.RegistrationNumber})
}

type answerRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleAnswer(c echo.Context) error {
	var req answerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	return s.advance(c, pkg.Input{Kind: pkg.InputAnswer, Text: req.Text})
}

// handleAudio takes a recorded answer from the multipart field "audio".
func (s *Server) handleAudio(c echo.Context) error {
	data, _, err := formFile(c, "audio")
	if err != nil {
		return err
	}
	return s.advance(c, pkg.Input{Kind: pkg.InputAudio, Audio: data})
}

// handlePhoto takes the captured image from the multipart field "photo".
func (s *Server) handlePhoto(c echo.Context) error {
	data, mime, err := formFile(c, "photo")
	if err != nil {
		return err
	}
	return s.advance(c, pkg.Input{Kind: pkg.InputPhoto, Photo: &pkg.Photo{Data: data, MIMEType: mime}})
}

func (s *Server) simple(kind pkg.InputKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		return s.advance(c, pkg.Input{Kind: kind})
	}
}

// advance runs one input against the session.  Model calls keep running when
// the kiosk drops the connection so that their results are kept on the record.
func (s *Server) advance(c echo.Context, input pkg.Input) error {
	en, err := s.acquire(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	defer en.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), s.CallTimeout)
	defer cancel()

	reply, err := s.Intake.Advance(ctx, en.sess, input)
	if err != nil {
		s.Log.Warn().Err(err).Str("session_id", en.sess.ID).Str("input", string(input.Kind)).Msg("input rejected")
		return httpError(err)
	}
	return c.JSON(http.StatusOK, reply)
}

// handleSlip returns the printable prescription of a finished visit.
func (s *Server) handleSlip(c echo.Context) error {
	if s.Slips == nil {
		return echo.NewHTTPError(http.StatusNotFound, "slips are not enabled")
	}
	en, err := s.acquire(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	defer en.mu.Unlock()

	pdf, err := s.Slips.Render(en.sess.Record, en.sess.UpdatedAt)
	switch {
	case errors.Is(err, report.ErrNoPrescription):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		s.Log.Error().Err(err).Str("session_id", en.sess.ID).Msg("slip rendering failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "slip unavailable")
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `inline; filename="slip-`+en.sess.Record.RegistrationNumber+`.pdf"`)
	return c.Blob(http.StatusOK, "application/pdf", pdf)
}

func formFile(c echo.Context, field string) ([]byte, string, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, "", echo.NewHTTPError(http.StatusBadRequest, "missing "+field+" file")
	}
	if fh.Size > maxUpload {
		return nil, "", echo.NewHTTPError(http.StatusRequestEntityTooLarge, field+" too large")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", echo.NewHTTPError(http.StatusBadRequest, "unreadable "+field)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUpload))
	if err != nil {
		return nil, "", echo.NewHTTPError(http.StatusBadRequest, "unreadable "+field)
	}
	mime := fh.Header.Get(echo.HeaderContentType)
	if mime == "" || mime == echo.MIMEOctetStream {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSessionBusy):
		return echo.NewHTTPError(http.StatusConflict, "busy")
	case errors.Is(err, core.ErrUnexpectedInput):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, core.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
