package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"globule-intake/internal/core"
	"globule-intake/internal/db"
	"globule-intake/internal/report"
	"globule-intake/pkg"
)

type scriptedLLM struct{ calls int }

func (m *scriptedLLM) Generate(_ context.Context, prompt string, _ *pkg.Photo) (string, error) {
	m.calls++
	if strings.HasPrefix(prompt, "Analyze this case") {
		return `{"analysis": "Aconite vs Belladonna", "followup_question": "Kya dar lagta hai?"}`, nil
	}
	return "Aconite 30C\nEvery 2 hours.", nil
}

func newTestServer(t *testing.T) (*echo.Echo, *Server, *db.MemoryStore) {
	t.Helper()
	store := db.NewMemoryStore()
	intake := core.NewIntake(&scriptedLLM{}, store, nil, nil, zerolog.Nop())
	srv := NewServer(intake, report.NewSlip(""), zerolog.Nop())
	e := echo.New()
	e.Use(Recovery(zerolog.Nop()))
	e.Use(Logger(zerolog.Nop()))
	srv.RegisterRoutes(e)
	return e, srv, store
}

func do(t *testing.T, e *echo.Echo, method, path, body string) (*httptest.ResponseRecorder, pkg.Reply) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var reply pkg.Reply
	if rec.Code < 300 && strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
			t.Fatalf("decode reply: %v", err)
		}
	}
	return rec, reply
}

func createSession(t *testing.T, e *echo.Echo) string {
	t.Helper()
	rec, reply := do(t, e, http.MethodPost, "/api/sessions", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if reply.SessionID == "" || reply.Step != pkg.StepTriage {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	return reply.SessionID
}

func TestHandlers_AcuteVisit(t *testing.T) {
	e, _, store := newTestServer(t)
	id := createSession(t, e)
	base := "/api/sessions/" + id

	if rec, _ := do(t, e, http.MethodPost, base+"/type", `{"patient_type":"acute"}`); rec.Code != http.StatusOK {
		t.Fatalf("select type: %d %s", rec.Code, rec.Body)
	}
	_, reply := do(t, e, http.MethodPost, base+"/registration", `{"name":"Ravi","phone":"9990001111"}`)
	if reply.Step != pkg.StepQuestion || reply.Slot != 2 {
		t.Fatalf("expected question 2, got %+v", reply)
	}
	for slot := 2; slot <= 5; slot++ {
		do(t, e, http.MethodPost, base+"/answer", `{"text":"tez bukhar"}`)
		_, reply = do(t, e, http.MethodPost, base+"/advance", "")
	}
	if reply.Step != pkg.StepCaptureImage || reply.ImageCategory == nil || *reply.ImageCategory != pkg.ImageTongue {
		t.Fatalf("expected tongue photo step, got %+v", reply)
	}

	_, reply = do(t, e, http.MethodPost, base+"/photo/skip", "")
	if reply.Step != pkg.StepAnalyze || reply.Prompt != "Kya dar lagta hai?" {
		t.Fatalf("unexpected analyze reply: %+v", reply)
	}
	do(t, e, http.MethodPost, base+"/answer", `{"text":"haan"}`)
	_, reply = do(t, e, http.MethodPost, base+"/advance", "")
	if reply.Step != pkg.StepTerminal || !strings.HasPrefix(reply.Result, "Aconite 30C") {
		t.Fatalf("unexpected terminal reply: %+v", reply)
	}

	if store.Len() != 1 {
		t.Errorf("expected one stored patient, got %d", store.Len())
	}
}

func TestHandlers_UnknownSession(t *testing.T) {
	e, _, _ := newTestServer(t)
	rec, _ := do(t, e, http.MethodPost, "/api/sessions/nope/advance", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandlers_UnexpectedInput(t *testing.T) {
	e, _, _ := newTestServer(t)
	id := createSession(t, e)
	rec, _ := do(t, e, http.MethodPost, "/api/sessions/"+id+"/lookup", `{"registration_number":"011230"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
	rec, _ = do(t, e, http.MethodPost, "/api/sessions/"+id+"/type", `{"patient_type":"vip"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandlers_BusySession(t *testing.T) {
	e, srv, _ := newTestServer(t)
	id := createSession(t, e)

	en, err := srv.lookupEntry(id)
	if err != nil {
		t.Fatal(err)
	}
	en.mu.Lock()
	defer en.mu.Unlock()

	rec, _ := do(t, e, http.MethodPost, "/api/sessions/"+id+"/advance", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 while busy, got %d", rec.Code)
	}

	rec, _ = do(t, e, http.MethodGet, "/api/sessions/"+id, "")
	var view struct {
		Busy bool `json:"busy"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || !view.Busy {
		t.Errorf("expected busy view, got %d %s", rec.Code, rec.Body)
	}
}

func TestHandlers_GetSession(t *testing.T) {
	e, _, _ := newTestServer(t)
	id := createSession(t, e)
	rec, reply := do(t, e, http.MethodGet, "/api/sessions/"+id, "")
	if rec.Code != http.StatusOK || reply.Step != pkg.StepTriage || reply.Prompt != core.TriagePrompt {
		t.Errorf("unexpected view: %d %+v", rec.Code, reply)
	}
}

func TestHandlers_PhotoUpload(t *testing.T) {
	e, _, _ := newTestServer(t)
	id := createSession(t, e)
	base := "/api/sessions/" + id
	do(t, e, http.MethodPost, base+"/type", `{"patient_type":"acute"}`)
	do(t, e, http.MethodPost, base+"/registration", `{"name":"Ravi","phone":"9990001111"}`)
	for slot := 2; slot <= 5; slot++ {
		do(t, e, http.MethodPost, base+"/answer", `{"text":"daane aur khujli"}`)
		do(t, e, http.MethodPost, base+"/advance", "")
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("photo", "skin.jpg")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write([]byte{0xff, 0xd8, 0xff, 0xe0, 0, 0x10, 'J', 'F', 'I', 'F'})
	_ = w.Close()

	req := httptest.NewRequest(http.MethodPost, base+"/photo", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var reply pkg.Reply
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode: %v (%s)", err, rec.Body)
	}
	if rec.Code != http.StatusOK || reply.Step != pkg.StepAnalyze {
		t.Errorf("expected analyze after photo, got %d %+v", rec.Code, reply)
	}
}

func TestHandlers_MissingUpload(t *testing.T) {
	e, _, _ := newTestServer(t)
	id := createSession(t, e)
	rec, _ := do(t, e, http.MethodPost, "/api/sessions/"+id+"/audio", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without a file, got %d", rec.Code)
	}
}

func TestHandlers_SlipBeforePrescription(t *testing.T) {
	e, _, _ := newTestServer(t)
	id := createSession(t, e)
	rec, _ := do(t, e, http.MethodGet, "/api/sessions/"+id+"/slip.pdf", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 before a prescription, got %d", rec.Code)
	}
}

func TestRecovery(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := Recovery(zerolog.Nop())(func(c echo.Context) error {
		panic("boom")
	})
	err := h(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 HTTPError, got %v", err)
	}
}

func TestServer_EvictsExpiredSessions(t *testing.T) {
	e, srv, _ := newTestServer(t)
	idle := createSession(t, e)
	busy := createSession(t, e)
	fresh := createSession(t, e)
	done := createSession(t, e)

	now := time.Now()
	for id, age := range map[string]time.Duration{
		idle:  time.Hour,
		busy:  time.Hour,
		fresh: time.Minute,
		done:  10 * time.Minute,
	} {
		en, err := srv.lookupEntry(id)
		if err != nil {
			t.Fatal(err)
		}
		en.sess.UpdatedAt = now.Add(-age)
	}
	doneEntry, _ := srv.lookupEntry(done)
	doneEntry.sess.State = pkg.Terminal{}

	busyEntry, _ := srv.lookupEntry(busy)
	busyEntry.mu.Lock()

	if n := srv.Evict(now); n != 2 {
		t.Errorf("expected 2 evictions, got %d", n)
	}
	busyEntry.mu.Unlock()

	for _, id := range []string{idle, done} {
		if _, err := srv.lookupEntry(id); err == nil {
			t.Errorf("session %s should have been evicted", id)
		}
	}
	for _, id := range []string{busy, fresh} {
		if _, err := srv.lookupEntry(id); err != nil {
			t.Errorf("session %s should still be live", id)
		}
	}
	if srv.Len() != 2 {
		t.Errorf("expected 2 live sessions, got %d", srv.Len())
	}

	rec, _ := do(t, e, http.MethodGet, "/api/sessions/"+idle, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an evicted session, got %d", rec.Code)
	}
}
