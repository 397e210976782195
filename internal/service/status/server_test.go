package status

import (
	"EliteCompanion/internal/app/monitor"
	"EliteCompanion/internal/classifier"
	"EliteCompanion/internal/config"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fakeController struct {
	mu       sync.Mutex
	running  bool
	starts   int
	audioErr error
}

func (f *fakeController) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.running = true
	return nil
}

func (f *fakeController) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return nil
}

func (f *fakeController) TestAudio(context.Context) error { return f.audioErr }

func (f *fakeController) Status() monitor.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return monitor.Status{
		Running:      f.running,
		RecentEvents: []classifier.Event{{Type: "FSDJump", Tier: classifier.Ambient, Summary: "Arrived in Sol."}},
	}
}

type statusBody struct {
	Running      bool `json:"running"`
	RecentEvents []struct {
		Type string `json:"Type"`
		Tier string `json:"Tier"`
	} `json:"recentEvents"`
}

func newTestServer(t *testing.T, cfg config.StatusServerConfig, ctrl Controller) (*Server, *httptest.Server) {
	t.Helper()
	s := New(cfg, ctrl, nil)
	s.pushEvery = 10 * time.Millisecond
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func do(t *testing.T, method, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStatusAndCommands(t *testing.T) {
	ctrl := &fakeController{}
	_, ts := newTestServer(t, config.StatusServerConfig{Path: "/"}, ctrl)

	resp := do(t, http.MethodGet, ts.URL+"/status", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /status = %d", resp.StatusCode)
	}
	var body statusBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Running || len(body.RecentEvents) != 1 || body.RecentEvents[0].Tier != "ambient" {
		t.Fatalf("status = %+v", body)
	}

	if resp := do(t, http.MethodGet, ts.URL+"/start", ""); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET /start = %d, want 405", resp.StatusCode)
	}
	if resp := do(t, http.MethodPost, ts.URL+"/start", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /start = %d", resp.StatusCode)
	}
	ctrl.mu.Lock()
	starts := ctrl.starts
	ctrl.mu.Unlock()
	if starts != 1 || !ctrl.Status().Running {
		t.Fatalf("controller not started: starts=%d", starts)
	}
	if resp := do(t, http.MethodPost, ts.URL+"/stop", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /stop = %d", resp.StatusCode)
	}
	if ctrl.Status().Running {
		t.Fatal("controller still running after /stop")
	}
}

func TestAudioFailureIsReported(t *testing.T) {
	ctrl := &fakeController{audioErr: errors.New("google tts: quota exceeded")}
	_, ts := newTestServer(t, config.StatusServerConfig{}, ctrl)

	resp := do(t, http.MethodPost, ts.URL+"/test-audio", "")
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("POST /test-audio = %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || !strings.Contains(body["error"], "quota") {
		t.Fatalf("error body = %v (%v)", body, err)
	}

	ctrl = &fakeController{}
	_, ts = newTestServer(t, config.StatusServerConfig{}, ctrl)
	if resp := do(t, http.MethodPost, ts.URL+"/test-audio", ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("POST /test-audio = %d", resp.StatusCode)
	}
}

func TestAuthToken(t *testing.T) {
	_, ts := newTestServer(t, config.StatusServerConfig{Path: "/api/", AuthToken: "s3cret"}, &fakeController{})

	if resp := do(t, http.MethodGet, ts.URL+"/api/status", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", resp.StatusCode)
	}
	if resp := do(t, http.MethodGet, ts.URL+"/api/status", "wrong"); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d, want 401", resp.StatusCode)
	}
	if resp := do(t, http.MethodGet, ts.URL+"/api/status", "s3cret"); resp.StatusCode != http.StatusOK {
		t.Fatalf("bearer token = %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodGet, ts.URL+"/api/status?token=s3cret", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("query token = %d", resp.StatusCode)
	}
}

func TestWebsocketPushesStatus(t *testing.T) {
	ctrl := &fakeController{}
	_, ts := newTestServer(t, config.StatusServerConfig{}, ctrl)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first statusBody
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("first message: %v", err)
	}
	if first.Running {
		t.Fatalf("first = %+v", first)
	}

	_ = ctrl.Start(context.Background())
	for {
		var next statusBody
		if err := conn.ReadJSON(&next); err != nil {
			t.Fatalf("next message: %v", err)
		}
		if next.Running {
			break
		}
	}
}

func TestCommandsRejectForeignOrigin(t *testing.T) {
	ctrl := &fakeController{}
	_, ts := newTestServer(t, config.StatusServerConfig{}, ctrl)

	post := func(origin string) int {
		t.Helper()
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/stop", nil)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Origin", origin)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	if code := post("https://evil.example"); code != http.StatusForbidden {
		t.Fatalf("foreign origin = %d, want 403", code)
	}
	if code := post("null"); code != http.StatusForbidden {
		t.Fatalf("opaque origin = %d, want 403", code)
	}
	for _, origin := range []string{"http://localhost:5173", "http://127.0.0.1:8080", ts.URL} {
		if code := post(origin); code != http.StatusOK {
			t.Fatalf("origin %s = %d", origin, code)
		}
	}
	// Чтение статуса не меняет состояние и доступно всем
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/status", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /status = %d", resp.StatusCode)
	}
}

func TestWebsocketRejectsForeignOrigin(t *testing.T) {
	_, ts := newTestServer(t, config.StatusServerConfig{}, &fakeController{})
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	if err == nil {
		t.Fatal("dial with foreign origin succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("handshake response = %v", resp)
	}
}
