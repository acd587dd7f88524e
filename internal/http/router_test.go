package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"speech-tone-service/internal/models"
	"speech-tone-service/internal/service/latency"
	"speech-tone-service/internal/service/orchestrator"
	"speech-tone-service/internal/service/session"
	"speech-tone-service/internal/tone"
)

type fixture struct {
	handler http.Handler
	store   *session.Store
	hub     *Hub
}

func newFixture(t *testing.T, mode tone.Mode) *fixture {
	t.Helper()

	engine, err := tone.NewDefaultEngine()
	if err != nil {
		t.Fatalf("NewDefaultEngine: %v", err)
	}
	store := session.NewStore(session.DefaultLimits())
	orch, err := orchestrator.New(engine, mode, store, latency.NewReporter())
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}

	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	return &fixture{
		handler: NewRouter(Dependencies{
			Handler:  orch,
			Engine:   engine,
			Mode:     mode,
			Sessions: store,
			Hub:      hub,
		}),
		store: store,
		hub:   hub,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestRouter_Health(t *testing.T) {
	f := newFixture(t, tone.ModeNeutral)

	for path, body := range map[string]string{"/v1/liveness": "ok", "/v1/readiness": "ready"} {
		rec := f.do(t, http.MethodGet, path, "")
		if rec.Code != http.StatusOK || rec.Body.String() != body {
			t.Errorf("%s: got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}

func TestRouter_Messages(t *testing.T) {
	f := newFixture(t, tone.ModeFormal)

	rec := f.do(t, http.MethodPost, "/v1/messages", `{"id":"u1","chunk_index":0,"text":"I'm gonna join","event":"FRAGMENT"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("fragment: status %d, body %s", rec.Code, rec.Body.String())
	}
	var preview models.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &preview); err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if preview.Event != models.EventPreview || preview.Text != "I am going to join" {
		t.Errorf("unexpected preview %+v", preview)
	}

	rec = f.do(t, http.MethodGet, "/v1/sessions", "")
	if strings.TrimSpace(rec.Body.String()) != `{"active":1}` {
		t.Errorf("sessions: got %s", rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/v1/messages", `{"id":"u1","chunk_index":-1,"text":"","event":"END_GRAMMAR","is_final":true,"end_of_speech_time":null}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("session end: status %d", rec.Code)
	}
	var final models.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &final); err != nil {
		t.Fatalf("decode final: %v", err)
	}
	if final.Event != models.EventFinal || final.Text != "I am going to join." {
		t.Errorf("unexpected final %+v", final)
	}
	if f.store.Len() != 0 {
		t.Errorf("expected session removed, got %d", f.store.Len())
	}
}

func TestRouter_MessagesNoOutput(t *testing.T) {
	f := newFixture(t, tone.ModeNeutral)

	rec := f.do(t, http.MethodPost, "/v1/messages", `{"id":"u9","chunk_index":0,"text":"x","event":"END_ASR"}`)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if f.store.Len() != 0 {
		t.Errorf("unknown event must not create a session, got %d", f.store.Len())
	}
}

func TestRouter_MessagesInvalid(t *testing.T) {
	f := newFixture(t, tone.ModeNeutral)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing id", `{"chunk_index":0,"text":"x","event":"FRAGMENT"}`},
		{"bad index", `{"id":"u1","chunk_index":-1,"text":"x","event":"FRAGMENT"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/v1/messages", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), `"error"`) {
				t.Errorf("expected error body, got %s", rec.Body.String())
			}
		})
	}
}

func TestRouter_Rewrite(t *testing.T) {
	f := newFixture(t, tone.ModeNeutral)

	tests := []struct {
		name   string
		body   string
		status int
		want   string
	}{
		{"explicit mode", `{"text":"I really   need  assistance","mode":"casual"}`, http.StatusOK, `{"text":"I really need help","mode":"casual"}`},
		{"default mode", `{"text":"  spaced   out  "}`, http.StatusOK, `{"text":"spaced out","mode":"neutral"}`},
		{"mixed case mode", `{"text":"very good","mode":"Concise"}`, http.StatusOK, `{"text":"good","mode":"concise"}`},
		{"unknown mode", `{"text":"hi","mode":"pirate"}`, http.StatusBadRequest, ""},
		{"malformed", `[]`, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/v1/rewrite", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			if tt.want != "" && strings.TrimSpace(rec.Body.String()) != tt.want {
				t.Errorf("body = %s, want %s", rec.Body.String(), tt.want)
			}
		})
	}
	if f.store.Len() != 0 {
		t.Error("rewrite must not create sessions")
	}
}

func TestRouter_WebSocketStream(t *testing.T) {
	f := newFixture(t, tone.ModeConcise)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/v1/ws"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{not json`)); err != nil {
		t.Fatalf("write malformed: %v", err)
	}
	for _, m := range []models.Message{
		models.Fragment("ws1", 0, "I really really appreciate it"),
		models.SessionEnd("ws1", nil),
	} {
		if err := conn.WriteJSON(m); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	var preview, final models.Message
	if err := conn.ReadJSON(&preview); err != nil {
		t.Fatalf("read preview: %v", err)
	}
	if err := conn.ReadJSON(&final); err != nil {
		t.Fatalf("read final: %v", err)
	}
	if preview.Event != models.EventPreview || preview.Text != "I appreciate it" {
		t.Errorf("unexpected preview %+v", preview)
	}
	if final.Event != models.EventFinal || final.Text != "I appreciate it." {
		t.Errorf("unexpected final %+v", final)
	}
}

func TestRouter_Watch(t *testing.T) {
	f := newFixture(t, tone.ModeNeutral)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/v1/watch"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for f.hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if f.hub.Clients() != 1 {
		t.Fatalf("expected 1 watcher, got %d", f.hub.Clients())
	}

	want := models.Message{ID: "w1", Text: "hello.", Event: models.EventFinal, IsFinal: true}
	if err := f.hub.Publish(context.Background(), want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got models.Message
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}
