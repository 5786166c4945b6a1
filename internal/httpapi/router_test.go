package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"live-caption-engine/internal/capture"
	"live-caption-engine/internal/config"
	"live-caption-engine/internal/models"
	"live-caption-engine/internal/recognize"
	"live-caption-engine/internal/session"
	"live-caption-engine/internal/token"
)

// stubDevice is a capture device producing nothing.
type stubDevice struct {
	frames chan capture.Frame
}

func (d *stubDevice) Open(ctx context.Context) error {
	d.frames = make(chan capture.Frame)
	return nil
}

func (d *stubDevice) Frames() <-chan capture.Frame { return d.frames }

func (d *stubDevice) Close() error {
	if d.frames != nil {
		close(d.frames)
		d.frames = nil
	}
	return nil
}

// stubAdapter accepts everything, emits nothing, and is always drained.
type stubAdapter struct{}

func (stubAdapter) Start(ctx context.Context, cb recognize.Callback) error { return nil }
func (stubAdapter) SendAudio(ctx context.Context, audio []byte) error      { return nil }
func (stubAdapter) Close() error                                           { return nil }

func (stubAdapter) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func newTestServer(t *testing.T) (*httptest.Server, *session.Controller) {
	t.Helper()
	ctrl := session.NewController(session.Deps{
		Capture: capture.NewController(&stubDevice{}),
		Tokens:  &token.Static{Cred: token.Credential{Success: false, MockMode: true}},
		Selector: func(ctx context.Context, cred token.Credential) (recognize.Factory, error) {
			return func(ctx context.Context) (recognize.Adapter, error) {
				return stubAdapter{}, nil
			}, nil
		},
		Session: config.SessionConfig{TimeLimit: time.Hour, TickInterval: time.Second},
	})
	tokens := &token.Static{Cred: token.Credential{
		Success:    true,
		Key:        "test-key",
		Region:     "westeurope",
		AuthMethod: "subscription_key",
	}}
	srv := httptest.NewServer(NewRouter(ctrl, tokens))
	t.Cleanup(func() {
		srv.Close()
		ctrl.Stop(context.Background())
	})
	return srv, ctrl
}

func postJSON(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s response: %v", url, err)
	}
	return resp, body
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/v1/liveness", "/v1/readiness"} {
		resp := getJSON(t, srv.URL+path, nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s returned %d", path, resp.StatusCode)
		}
	}
}

func TestSessionCommands_FullCycle(t *testing.T) {
	srv, _ := newTestServer(t)

	steps := []struct {
		path      string
		wantState string
	}{
		{"/v1/session/start", "recording"},
		{"/v1/session/pause", "paused"},
		{"/v1/session/resume", "recording"},
		{"/v1/session/stop", "stopped"},
	}

	for _, step := range steps {
		resp, body := postJSON(t, srv.URL+step.path)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("POST %s returned %d: %s", step.path, resp.StatusCode, body)
		}
		var snap models.SessionSnapshot
		if err := json.Unmarshal(body, &snap); err != nil {
			t.Fatalf("decode %s response: %v", step.path, err)
		}
		if snap.State != step.wantState {
			t.Errorf("%s: state %s, want %s", step.path, snap.State, step.wantState)
		}
	}
}

func TestSessionCommands_ConflictStatusCodes(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		prep []string
		path string
	}{
		{"pause while idle", nil, "/v1/session/pause"},
		{"resume while idle", nil, "/v1/session/resume"},
		{"double start", []string{"/v1/session/start"}, "/v1/session/start"},
		{"resume while recording", []string{"/v1/session/start"}, "/v1/session/resume"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer postJSON(t, srv.URL+"/v1/session/stop")
			for _, p := range tt.prep {
				if resp, body := postJSON(t, srv.URL+p); resp.StatusCode != http.StatusOK {
					t.Fatalf("prep %s returned %d: %s", p, resp.StatusCode, body)
				}
			}
			resp, body := postJSON(t, srv.URL+tt.path)
			if resp.StatusCode != http.StatusConflict {
				t.Errorf("expected 409, got %d: %s", resp.StatusCode, body)
			}
			var e struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(body, &e); err != nil || e.Error == "" {
				t.Errorf("conflict response missing error payload: %s", body)
			}
		})
	}
}

func TestStop_WhileIdleIsOK(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := postJSON(t, srv.URL+"/v1/session/stop")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("idempotent stop returned %d", resp.StatusCode)
	}
}

func TestStatus_ReportsSessionAndLevel(t *testing.T) {
	srv, _ := newTestServer(t)
	postJSON(t, srv.URL+"/v1/session/start")

	var st struct {
		Session models.SessionSnapshot  `json:"session"`
		Level   models.AudioLevelSample `json:"level"`
	}
	resp := getJSON(t, srv.URL+"/v1/session", &st)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status returned %d", resp.StatusCode)
	}
	if st.Session.State != "recording" {
		t.Errorf("expected recording, got %s", st.Session.State)
	}
	if st.Session.ID == "" {
		t.Errorf("status missing session id")
	}
	if st.Level.Classification == "" {
		t.Errorf("status missing level classification")
	}
}

func TestTranscript_EmptyIsNotNull(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := getJSON(t, srv.URL+"/v1/session/transcript", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transcript returned %d", resp.StatusCode)
	}

	// Raw body check: segments must be [] even before any session ran.
	raw, err := http.Get(srv.URL + "/v1/session/transcript")
	if err != nil {
		t.Fatalf("GET transcript: %v", err)
	}
	defer raw.Body.Close()
	var payload map[string]json.RawMessage
	if err := json.NewDecoder(raw.Body).Decode(&payload); err != nil {
		t.Fatalf("decode transcript: %v", err)
	}
	if string(payload["segments"]) != "[]" {
		t.Errorf("expected empty array for segments, got %s", payload["segments"])
	}
}

func TestToken_Passthrough(t *testing.T) {
	srv, _ := newTestServer(t)

	var cred token.Credential
	resp := getJSON(t, srv.URL+"/v1/token", &cred)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token returned %d", resp.StatusCode)
	}
	if !cred.Success || cred.Key != "test-key" || cred.AuthMethod != "subscription_key" {
		t.Errorf("credential not passed through: %+v", cred)
	}
}

func TestToken_ProviderErrorIsMockModePayload(t *testing.T) {
	ctrl := session.NewController(session.Deps{
		Capture: capture.NewController(&stubDevice{}),
		Session: config.SessionConfig{TimeLimit: time.Hour},
	})
	tokens := &token.Static{Err: errors.New("token service unreachable")}
	srv := httptest.NewServer(NewRouter(ctrl, tokens))
	defer srv.Close()

	var cred token.Credential
	resp := getJSON(t, srv.URL+"/v1/token", &cred)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token error should still be 200, got %d", resp.StatusCode)
	}
	if cred.Success || !cred.MockMode || cred.Error == "" {
		t.Errorf("expected mock-mode failure payload, got %+v", cred)
	}
}
