package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"chattrix-calls/internal/audit"
	"chattrix-calls/internal/auth"
	"chattrix-calls/internal/calls"
	"chattrix-calls/internal/config"
	"chattrix-calls/internal/quality"
	"chattrix-calls/internal/ratelimit"
	"chattrix-calls/internal/reporting"
	"chattrix-calls/internal/signaling"
	"chattrix-calls/internal/timeout"

	"github.com/gin-gonic/gin"
)

type stubMinter struct {
	mu  sync.Mutex
	err error
}

func (m *stubMinter) fail(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *stubMinter) Mint(_ context.Context, channelID, participantID string) (calls.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return calls.Credential{}, m.err
	}
	return calls.Credential{Token: channelID + "/" + participantID, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type testAPI struct {
	router *gin.Engine
	auth   *auth.Manager
	minter *stubMinter
}

func newTestAPI(t *testing.T, rl *ratelimit.PerUser) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	am, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Hour, RefreshTokenTTL: 24 * time.Hour})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}

	timers := timeout.New(timeout.Options{Workers: 2})
	t.Cleanup(func() { _ = timers.Close(context.Background()) })

	repo := calls.NewMemoryRepo()
	events := audit.NewService(audit.NewMemoryRepo(), nil)
	minter := &stubMinter{}
	hub := signaling.NewHub(nil)
	svc := calls.NewService(repo, timers, minter, hub, calls.Options{
		RingTimeout: time.Minute,
		Observer:    events,
	})

	h := Handlers{
		Auth:      am,
		Calls:     svc,
		Reporting: reporting.NewService(repo),
		Audit:     events,
		Quality:   quality.NewService(quality.NewMemoryRepo(), svc, hub, nil),
		MediaURL:  "wss://media.example",
	}
	mw := Middlewares{Auth: auth.RequireAccessToken(am)}
	if rl != nil {
		mw.InitiateLimit = ratelimit.Middleware(rl)
	}

	r := gin.New()
	Register(r, h, mw, RouteOptions{DevTokens: true})
	return &testAPI{router: r, auth: am, minter: minter}
}

func (a *testAPI) token(t *testing.T, userID, role string) string {
	t.Helper()
	p, err := a.auth.IssuePair(time.Now(), userID, role)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return p.AccessToken
}

func (a *testAPI) do(t *testing.T, method, path, tok string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w.Code, out
}

func (a *testAPI) doRaw(t *testing.T, method, path, tok, raw string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w.Code, out
}

func callID(t *testing.T, body map[string]any) string {
	t.Helper()
	call, ok := body["call"].(map[string]any)
	if !ok {
		t.Fatalf("response has no call: %v", body)
	}
	id, _ := call["id"].(string)
	if id == "" {
		t.Fatalf("call has no id: %v", call)
	}
	return id
}

func TestCallLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t, nil)
	alice, bob, carol := api.token(t, "alice", "member"), api.token(t, "bob", "member"), api.token(t, "carol", "member")

	code, body := api.do(t, http.MethodPost, "/v1/calls", alice, gin.H{"callee_id": "bob", "call_type": "video"})
	if code != http.StatusCreated {
		t.Fatalf("initiate: expected 201, got %d %v", code, body)
	}
	id := callID(t, body)
	if body["media_url"] != "wss://media.example" || body["credential"] == nil {
		t.Fatalf("expected credential and media url: %v", body)
	}

	// busy
	code, body = api.do(t, http.MethodPost, "/v1/calls", carol, gin.H{"callee_id": "bob", "call_type": "audio"})
	if code != http.StatusConflict || body["code"] != "busy" {
		t.Fatalf("expected 409 busy, got %d %v", code, body)
	}

	// strangers cannot see the call
	if code, _ = api.do(t, http.MethodGet, "/v1/calls/"+id, carol, nil); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
	// only the callee accepts
	if code, _ = api.do(t, http.MethodPost, "/v1/calls/"+id+"/accept", alice, nil); code != http.StatusForbidden {
		t.Fatalf("expected 403 for caller accept, got %d", code)
	}

	code, body = api.do(t, http.MethodPost, "/v1/calls/"+id+"/accept", bob, nil)
	if code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d %v", code, body)
	}

	code, body = api.do(t, http.MethodGet, "/v1/calls/active", alice, nil)
	if code != http.StatusOK || callID(t, body) != id {
		t.Fatalf("active: got %d %v", code, body)
	}

	if code, _ = api.do(t, http.MethodPost, "/v1/calls/"+id+"/credential", alice, nil); code != http.StatusOK {
		t.Fatalf("credential: expected 200, got %d", code)
	}

	code, body = api.do(t, http.MethodPost, "/v1/calls/"+id+"/end", alice, gin.H{"reason": "bye"})
	if code != http.StatusOK {
		t.Fatalf("end: expected 200, got %d %v", code, body)
	}
	if code, body = api.do(t, http.MethodPost, "/v1/calls/"+id+"/end", bob, nil); code != http.StatusConflict || body["code"] != "invalid_status" {
		t.Fatalf("second end: expected 409 invalid_status, got %d %v", code, body)
	}

	if code, _ = api.do(t, http.MethodGet, "/v1/calls/active", alice, nil); code != http.StatusNotFound {
		t.Fatalf("expected no active call, got %d", code)
	}

	code, body = api.do(t, http.MethodGet, "/v1/calls/history?status=ended&limit=5", bob, nil)
	if code != http.StatusOK {
		t.Fatalf("history: %d %v", code, body)
	}
	if list, _ := body["calls"].([]any); len(list) != 1 {
		t.Fatalf("expected one ended call, got %v", body["calls"])
	}

	code, body = api.do(t, http.MethodGet, "/v1/calls/"+id+"/events", bob, nil)
	if code != http.StatusOK {
		t.Fatalf("events: %d %v", code, body)
	}
	if list, _ := body["events"].([]any); len(list) != 3 {
		t.Fatalf("expected incoming, accepted and ended events, got %v", body["events"])
	}

	code, body = api.do(t, http.MethodGet, "/v1/calls/statistics?period=day", alice, nil)
	if code != http.StatusOK || body["total_calls"] != float64(1) || body["outgoing_calls"] != float64(1) {
		t.Fatalf("statistics: %d %v", code, body)
	}
}

func TestCallErrorsOverHTTP(t *testing.T) {
	api := newTestAPI(t, nil)
	alice := api.token(t, "alice", "member")

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"self call", http.MethodPost, "/v1/calls", gin.H{"callee_id": "alice", "call_type": "audio"}, http.StatusBadRequest},
		{"bad type", http.MethodPost, "/v1/calls", gin.H{"callee_id": "bob", "call_type": "fax"}, http.StatusBadRequest},
		{"unknown call", http.MethodPost, "/v1/calls/nope/end", nil, http.StatusNotFound},
		{"bad status filter", http.MethodGet, "/v1/calls/history?status=paused", nil, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/v1/calls/history?limit=-1", nil, http.StatusBadRequest},
		{"bad period", http.MethodGet, "/v1/calls/statistics?period=decade", nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		code, body := api.do(t, tc.method, tc.path, alice, tc.body)
		if code != tc.status {
			t.Fatalf("%s: expected %d, got %d %v", tc.name, tc.status, code, body)
		}
	}

	if code, _ := api.do(t, http.MethodGet, "/v1/calls/active", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
}

func TestCredentialFailureReturnsCall(t *testing.T) {
	api := newTestAPI(t, nil)
	alice := api.token(t, "alice", "member")
	api.minter.fail(errors.New("media down"))

	code, body := api.do(t, http.MethodPost, "/v1/calls", alice, gin.H{"callee_id": "bob", "call_type": "audio"})
	if code != http.StatusBadGateway || body["code"] != "credential_generation_failed" {
		t.Fatalf("expected 502, got %d %v", code, body)
	}
	id := callID(t, body)

	// the call itself was created and rings
	api.minter.fail(nil)
	code, body = api.do(t, http.MethodGet, "/v1/calls/"+id, alice, nil)
	if code != http.StatusOK {
		t.Fatalf("get: %d %v", code, body)
	}
	if call := body["call"].(map[string]any); call["status"] != "ringing" {
		t.Fatalf("expected ringing, got %v", call["status"])
	}
}

func TestAdminTerminate(t *testing.T) {
	api := newTestAPI(t, nil)
	alice, admin := api.token(t, "alice", "member"), api.token(t, "ops", "admin")

	_, body := api.do(t, http.MethodPost, "/v1/calls", alice, gin.H{"callee_id": "bob", "call_type": "audio"})
	id := callID(t, body)

	if code, _ := api.do(t, http.MethodPost, "/v1/admin/calls/"+id+"/terminate", alice, nil); code != http.StatusForbidden {
		t.Fatalf("members must not terminate, got %d", code)
	}
	for _, st := range []string{"ringing", "rejected", "paused"} {
		if code, _ := api.do(t, http.MethodPost, "/v1/admin/calls/"+id+"/terminate", admin, gin.H{"status": st}); code != http.StatusBadRequest {
			t.Fatalf("status %q must be rejected, got %d", st, code)
		}
	}

	code, body := api.do(t, http.MethodPost, "/v1/admin/calls/"+id+"/terminate", admin, nil)
	if code != http.StatusOK {
		t.Fatalf("terminate: %d %v", code, body)
	}
	if call := body["call"].(map[string]any); call["status"] != "failed" {
		t.Fatalf("expected failed, got %v", call["status"])
	}
}

func TestIssueTokenAndRateLimit(t *testing.T) {
	api := newTestAPI(t, ratelimit.NewPerUser(1, 1))

	code, body := api.do(t, http.MethodPost, "/v1/auth/token", "", gin.H{"user_id": "dave"})
	if code != http.StatusOK {
		t.Fatalf("token: %d %v", code, body)
	}
	tok, _ := body["access_token"].(string)

	if code, _ = api.do(t, http.MethodPost, "/v1/auth/token", "", gin.H{"user_id": "dave", "role": "root"}); code != http.StatusBadRequest {
		t.Fatalf("expected unknown role to be rejected, got %d", code)
	}
	code, body = api.do(t, http.MethodPost, "/v1/auth/token", "", gin.H{"user_id": "3f2504e0-4f89-11d3-9a0c-0305e82c3301"})
	if code != http.StatusBadRequest || body["code"] != "invalid_argument" {
		t.Fatalf("expected uuid-length user id to be rejected, got %d %v", code, body)
	}
	if code, _ = api.do(t, http.MethodPost, "/v1/auth/token", "", gin.H{"user_id": strings.Repeat("u", calls.MaxUserIDLength)}); code != http.StatusOK {
		t.Fatalf("expected user id at the length limit to be accepted, got %d", code)
	}

	code, body = api.do(t, http.MethodPost, "/v1/calls", tok, gin.H{"callee_id": "erin", "call_type": "audio"})
	if code != http.StatusCreated {
		t.Fatalf("first initiate: %d %v", code, body)
	}
	if code, _ = api.do(t, http.MethodPost, "/v1/calls", tok, gin.H{"callee_id": "frank", "call_type": "audio"}); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
}

func TestMalformedBodiesAreRejected(t *testing.T) {
	api := newTestAPI(t, nil)
	alice, bob, admin := api.token(t, "alice", "member"), api.token(t, "bob", "member"), api.token(t, "ops", "admin")

	_, body := api.do(t, http.MethodPost, "/v1/calls", alice, gin.H{"callee_id": "bob", "call_type": "audio"})
	id := callID(t, body)

	cases := []struct {
		path string
		tok  string
	}{
		{"/v1/calls/" + id + "/reject", bob},
		{"/v1/calls/" + id + "/end", alice},
		{"/v1/admin/calls/" + id + "/terminate", admin},
	}
	for _, tc := range cases {
		code, body := api.doRaw(t, http.MethodPost, tc.path, tc.tok, `{"reason":`)
		if code != http.StatusBadRequest || body["error"] != "invalid json" {
			t.Fatalf("%s: expected 400 invalid json, got %d %v", tc.path, code, body)
		}
	}

	code, body := api.do(t, http.MethodGet, "/v1/calls/"+id, alice, nil)
	if code != http.StatusOK {
		t.Fatalf("get: %d %v", code, body)
	}
	if call := body["call"].(map[string]any); call["status"] != "ringing" {
		t.Fatalf("malformed requests must not change the call, got %v", call["status"])
	}

	// an absent body is still fine
	if code, body = api.doRaw(t, http.MethodPost, "/v1/calls/"+id+"/reject", bob, ""); code != http.StatusOK {
		t.Fatalf("reject without body: %d %v", code, body)
	}
}

func TestQualityAndHistoryOverHTTP(t *testing.T) {
	api := newTestAPI(t, nil)
	alice, bob, carol := api.token(t, "alice", "member"), api.token(t, "bob", "member"), api.token(t, "carol", "member")

	_, body := api.do(t, http.MethodPost, "/v1/calls", alice, gin.H{"callee_id": "bob", "call_type": "audio"})
	id := callID(t, body)
	if code, _ := api.do(t, http.MethodPost, "/v1/calls/"+id+"/accept", bob, nil); code != http.StatusOK {
		t.Fatalf("accept: %d", code)
	}

	qualityPath := "/v1/calls/" + id + "/quality"
	code, body := api.do(t, http.MethodPost, qualityPath, bob, gin.H{"network_quality": "POOR", "packet_loss_rate": 0.2, "round_trip_time_ms": 180})
	if code != http.StatusCreated {
		t.Fatalf("report: %d %v", code, body)
	}
	if code, _ = api.do(t, http.MethodPost, qualityPath, bob, gin.H{"network_quality": "good", "packet_loss_rate": 2}); code != http.StatusBadRequest {
		t.Fatalf("expected out-of-range loss to be rejected, got %d", code)
	}
	if code, _ = api.do(t, http.MethodPost, qualityPath, carol, gin.H{"network_quality": "good"}); code != http.StatusForbidden {
		t.Fatalf("expected strangers to be refused, got %d", code)
	}
	if code, _ = api.do(t, http.MethodGet, "/v1/calls/nope/quality", alice, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown call, got %d", code)
	}

	code, body = api.do(t, http.MethodGet, qualityPath, alice, nil)
	if code != http.StatusOK || body["network_quality"] != "poor" || body["samples"] != float64(1) {
		t.Fatalf("quality stats: %d %v", code, body)
	}

	history := "/v1/calls/" + id + "/history"
	if code, body = api.do(t, http.MethodDelete, history, alice, nil); code != http.StatusConflict {
		t.Fatalf("expected active call to stay in history, got %d %v", code, body)
	}
	if code, _ = api.do(t, http.MethodPost, "/v1/calls/"+id+"/end", alice, nil); code != http.StatusOK {
		t.Fatalf("end: %d", code)
	}
	if code, body = api.do(t, http.MethodDelete, history, alice, nil); code != http.StatusNoContent {
		t.Fatalf("hide: %d %v", code, body)
	}

	_, body = api.do(t, http.MethodGet, "/v1/calls/history", alice, nil)
	if list, _ := body["calls"].([]any); len(list) != 0 {
		t.Fatalf("expected alice's history to be empty, got %v", body["calls"])
	}
	_, body = api.do(t, http.MethodGet, "/v1/calls/history", bob, nil)
	if list, _ := body["calls"].([]any); len(list) != 1 {
		t.Fatalf("expected bob to keep the call, got %v", body["calls"])
	}
}
