package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/parley/config"
	"github.com/mohammad-safakhou/parley/internal/executor"
	"github.com/mohammad-safakhou/parley/internal/extract"
	"github.com/mohammad-safakhou/parley/internal/orchestrator"
	"github.com/mohammad-safakhou/parley/internal/planner"
	"github.com/mohammad-safakhou/parley/internal/session"
	"github.com/mohammad-safakhou/parley/internal/session/inmemory"
)

type scriptedLLM struct {
	responses []string
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt, model string, options map[string]interface{}) (string, error) {
	if len(s.responses) == 0 {
		return "", io.EOF
	}
	out := s.responses[0]
	s.responses = s.responses[1:]
	return out, nil
}

func (s *scriptedLLM) GenerateWithTokens(ctx context.Context, prompt, model string, options map[string]interface{}) (string, int64, int64, error) {
	out, err := s.Generate(ctx, prompt, model, options)
	return out, 0, 0, err
}

func (s *scriptedLLM) Transcribe(ctx context.Context, audio io.Reader, filename, model string) (string, error) {
	return "stub transcript", nil
}

func newTestHandler(llmStub *scriptedLLM) (*Handler, *inmemory.Store) {
	limits := config.LimitsConfig{
		ConfidenceThreshold: 0.7,
		ContentCharBudget:   12000,
		MaxClarifications:   2,
		MaxUploadMB:         50,
		MaxImageMB:          10,
		MaxAudioMB:          1, // tiny ceiling keeps the oversize test cheap
	}
	store := inmemory.NewStore(30 * time.Minute)
	extractor := extract.New(config.ExtractionConfig{}, limits, llmStub, "whisper-1")
	p := planner.New(llmStub, "gpt-4o", limits, nil)
	e := executor.New(llmStub, "gpt-4o-mini", limits, nil)
	orch := orchestrator.New(store, p, e, extractor, nil, limits)
	return &Handler{
		Orchestrator: orch,
		Store:        store,
		Extractor:    extractor,
		Limits:       limits,
		logger:       log.New(io.Discard, "", 0),
	}, store
}

func multipartBody(t *testing.T, fields map[string]string, filename string, fileBytes []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(fileBytes); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func doRequest(t *testing.T, h *Handler, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	e := newRouter(h)
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
		req.Header.Set(echo.HeaderContentType, contentType)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response: %v (%s)", err, rec.Body.String())
	}
	return out
}

func TestProcessMessageOnly(t *testing.T) {
	h, _ := newTestHandler(&scriptedLLM{responses: []string{
		`{"intent": "conversational", "confidence": 0.95}`,
		"Hello! How can I help?",
	}})

	body, ct := multipartBody(t, map[string]string{"message": "hi there"}, "", nil)
	rec := doRequest(t, h, http.MethodPost, "/process", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	env := decode(t, rec)
	if env["response"] != "Hello! How can I help?" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env["session_id"] == nil || env["trace"] == nil {
		t.Fatalf("envelope missing session_id or trace: %+v", env)
	}
}

func TestProcessTextUploadSummarize(t *testing.T) {
	h, store := newTestHandler(&scriptedLLM{responses: []string{
		`{"intent": "summarize", "confidence": 0.9}`,
		`{"one_line": "the gist", "three_bullets": ["a", "b", "c"], "five_sentence": "longer"}`,
	}})

	body, ct := multipartBody(t, map[string]string{"message": "summarize this"}, "doc.txt", []byte("document body"))
	rec := doRequest(t, h, http.MethodPost, "/process", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	env := decode(t, rec)
	if env["one_line"] != "the gist" {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	// Content must be on the session for follow-ups.
	sess, err := store.Get(context.Background(), env["session_id"].(string))
	if err != nil {
		t.Fatalf("session not created: %v", err)
	}
	if sess.Extracted == nil || sess.Extracted.Text != "document body" {
		t.Fatalf("extracted content not stored: %+v", sess.Extracted)
	}
}

func TestProcessNoInput(t *testing.T) {
	h, _ := newTestHandler(&scriptedLLM{})
	body, ct := multipartBody(t, map[string]string{}, "", nil)
	rec := doRequest(t, h, http.MethodPost, "/process", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	env := decode(t, rec)
	if env["error"] != extract.ErrNoInput.Error() {
		t.Fatalf("400 body must carry the no-input error, got %s", rec.Body.String())
	}
}

func TestProcessUnsupportedExtension(t *testing.T) {
	h, _ := newTestHandler(&scriptedLLM{})
	body, ct := multipartBody(t, nil, "archive.zip", []byte("pk"))
	rec := doRequest(t, h, http.MethodPost, "/process", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (%s)", rec.Code, rec.Body.String())
	}
}

func TestProcessOversizeAudio(t *testing.T) {
	h, _ := newTestHandler(&scriptedLLM{})
	big := bytes.Repeat([]byte("a"), 1200*1024) // over the 1MB test ceiling
	body, ct := multipartBody(t, nil, "clip.mp3", big)
	rec := doRequest(t, h, http.MethodPost, "/process", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (%s)", rec.Code, rec.Body.String())
	}
	env := decode(t, rec)
	msg, _ := env["error"].(string)
	if !strings.Contains(msg, "audio") {
		t.Fatalf("oversize audio should be called out specifically: %q", msg)
	}
}

func TestSessionDebugView(t *testing.T) {
	h, store := newTestHandler(&scriptedLLM{})
	sess, _ := store.Upsert(context.Background(), "", func(s *session.Session) {
		s.AddTurn("user", "hello")
		s.AddTurn("assistant", "question?")
		s.Clarifications = 1
		s.Extracted = &session.ExtractedContent{Text: "body", Type: "pdf"}
		s.LastIntent = "summarize"
	})

	rec := doRequest(t, h, http.MethodGet, "/session/"+sess.ID, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	view := decode(t, rec)
	if view["message_count"] != float64(2) || view["clarifications"] != float64(1) {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view["has_content"] != true || view["last_intent"] != "summarize" {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestSessionNotFound(t *testing.T) {
	h, _ := newTestHandler(&scriptedLLM{})
	rec := doRequest(t, h, http.MethodGet, "/session/unknown", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSessionDelete(t *testing.T) {
	h, store := newTestHandler(&scriptedLLM{})
	sess, _ := store.Upsert(context.Background(), "", func(s *session.Session) {})

	rec := doRequest(t, h, http.MethodDelete, "/session/"+sess.ID, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doRequest(t, h, http.MethodDelete, "/session/"+sess.ID, nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	h, _ := newTestHandler(&scriptedLLM{})
	rec := doRequest(t, h, http.MethodGet, "/healthz", nil, "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}
