package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"brightchat/internal/domain"
	"brightchat/internal/forwarder"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// upstream is a fake webhook that counts calls.
type upstream struct {
	*httptest.Server
	calls atomic.Int32
	last  atomic.Value // []byte
}

func newUpstream(t *testing.T, status int, body string) *upstream {
	t.Helper()
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		data, _ := io.ReadAll(r.Body)
		u.last.Store(data)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(u.Close)
	return u
}

func newTestServer(t *testing.T, up *upstream) *Server {
	t.Helper()
	fwd := forwarder.New(forwarder.Config{URL: up.URL, Timeout: 5 * time.Second, Logger: testLogger()})
	return New(Config{Forwarder: fwd, Logger: testLogger(), Version: "test"})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
	}
	return m
}

// --- POST /api/chat ---

func TestChat_ExamplePassthrough(t *testing.T) {
	up := newUpstream(t, http.StatusOK, `{"reply":"Hello!"}`)
	srv := newTestServer(t, up)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/chat", `{"message":"Hi","sender":"user","chatId":"abc"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != `{"reply":"Hello!"}` {
		t.Fatalf("body should equal upstream JSON, got %s", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content-type = %q", ct)
	}

	var sent map[string]string
	json.Unmarshal(up.last.Load().([]byte), &sent)
	if sent["message"] != "Hi" || sent["sender"] != "user" || sent["chatId"] != "abc" {
		t.Fatalf("unexpected webhook payload %v", sent)
	}
	ts, err := time.Parse(domain.TimestampLayout, sent["timestamp"])
	if err != nil {
		t.Fatalf("timestamp %q: %v", sent["timestamp"], err)
	}
	if d := time.Since(ts); d < -time.Second || d > 5*time.Second {
		t.Fatalf("timestamp %v not close to now", ts)
	}
}

func TestChat_PassthroughArbitraryJSON(t *testing.T) {
	body := `{"output":[1,2,3],"nested":{"ok":true},"response":"Sure thing"}`
	up := newUpstream(t, http.StatusOK, body)
	srv := newTestServer(t, up)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/chat", `{"message":"Hi","sender":"agent","chatId":"abc","timestamp":"2024-01-01T00:00:00.000Z"}`)
	if rec.Code != http.StatusOK || rec.Body.String() != body {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
}

func TestChat_MethodNotAllowed(t *testing.T) {
	up := newUpstream(t, http.StatusOK, `{}`)
	srv := newTestServer(t, up)

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		rec := do(t, srv.Handler(), method, "/api/chat", "")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s: expected 405, got %d", method, rec.Code)
		}
		if got := decodeBody(t, rec)["message"]; got != "Method not allowed" {
			t.Fatalf("%s: message = %v", method, got)
		}
		if allow := rec.Header().Get("Allow"); allow != http.MethodPost {
			t.Fatalf("%s: Allow = %q", method, allow)
		}
	}
	if n := up.calls.Load(); n != 0 {
		t.Fatalf("expected no webhook calls, got %d", n)
	}
}

func TestChat_InvalidInput(t *testing.T) {
	up := newUpstream(t, http.StatusOK, `{}`)
	srv := newTestServer(t, up)

	tests := []struct {
		name string
		body string
	}{
		{"missing message", `{"sender":"user","chatId":"abc"}`},
		{"missing sender", `{"message":"Hi","chatId":"abc"}`},
		{"missing chatId", `{"message":"Hi","sender":"user"}`},
		{"bad sender", `{"message":"Hi","sender":"bot","chatId":"abc"}`},
		{"empty message", `{"message":"","sender":"user","chatId":"abc"}`},
		{"wrong type", `{"message":5,"sender":"user","chatId":"abc"}`},
		{"malformed json", `{"message":`},
		{"trailing garbage", `{"message":"Hi","sender":"user","chatId":"abc"} not json`},
		{"two objects", `{"message":"Hi","sender":"user","chatId":"abc"}{"x":1}`},
		{"not an object", `["Hi"]`},
		{"empty body", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			body := decodeBody(t, rec)
			if body["message"] != "Invalid request data" {
				t.Fatalf("message = %v", body["message"])
			}
			issues, ok := body["errors"].([]any)
			if !ok || len(issues) == 0 {
				t.Fatalf("expected non-empty errors, got %v", body["errors"])
			}
		})
	}
	if n := up.calls.Load(); n != 0 {
		t.Fatalf("invalid input must not reach the webhook, got %d calls", n)
	}
}

func TestChat_InvalidSenderIssueShape(t *testing.T) {
	srv := newTestServer(t, newUpstream(t, http.StatusOK, `{}`))
	rec := do(t, srv.Handler(), http.MethodPost, "/api/chat", `{"message":"Hi","sender":"bot","chatId":"abc"}`)

	var body struct {
		Errors []forwarder.Issue `json:"errors"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Errors) != 1 {
		t.Fatalf("expected 1 issue, got %+v", body.Errors)
	}
	is := body.Errors[0]
	if is.Code != "invalid_enum_value" || len(is.Path) != 1 || is.Path[0] != "sender" {
		t.Fatalf("unexpected issue %+v", is)
	}
}

func TestChat_UpstreamFailure(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusBadGateway} {
		up := newUpstream(t, status, `{"secret":"upstream detail"}`)
		srv := newTestServer(t, up)

		rec := do(t, srv.Handler(), http.MethodPost, "/api/chat", `{"message":"Hi","sender":"user","chatId":"abc"}`)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("upstream %d: expected 500, got %d", status, rec.Code)
		}
		if strings.Contains(rec.Body.String(), "upstream detail") {
			t.Fatalf("upstream body leaked: %s", rec.Body.String())
		}
		if got := decodeBody(t, rec)["message"]; got != "Failed to process chat message" {
			t.Fatalf("message = %v", got)
		}
		if n := up.calls.Load(); n != 1 {
			t.Fatalf("expected exactly one webhook attempt, got %d", n)
		}
	}
}

func TestChat_UpstreamNotJSON(t *testing.T) {
	up := newUpstream(t, http.StatusOK, `Workflow was started`)
	srv := newTestServer(t, up)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/chat", `{"message":"Hi","sender":"user","chatId":"abc"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestChat_UpstreamUnreachable(t *testing.T) {
	up := newUpstream(t, http.StatusOK, `{}`)
	srv := newTestServer(t, up)
	up.Close()

	rec := do(t, srv.Handler(), http.MethodPost, "/api/chat", `{"message":"Hi","sender":"user","chatId":"abc"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

type forwarderFunc func(ctx context.Context, msg domain.ChatMessage) (json.RawMessage, error)

func (f forwarderFunc) Forward(ctx context.Context, msg domain.ChatMessage) (json.RawMessage, error) {
	return f(ctx, msg)
}

func TestChat_PanicRecovered(t *testing.T) {
	srv := New(Config{
		Forwarder: forwarderFunc(func(context.Context, domain.ChatMessage) (json.RawMessage, error) {
			panic("boom")
		}),
		Logger: testLogger(),
	})

	rec := do(t, srv.Handler(), http.MethodPost, "/api/chat", `{"message":"Hi","sender":"user","chatId":"abc"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if got := decodeBody(t, rec)["message"]; got != "Internal Server Error" {
		t.Fatalf("message = %v", got)
	}
}

func TestChat_RequestContextPropagated(t *testing.T) {
	var gotDeadline bool
	srv := New(Config{
		Forwarder: forwarderFunc(func(ctx context.Context, msg domain.ChatMessage) (json.RawMessage, error) {
			_, gotDeadline = ctx.Deadline()
			return json.RawMessage(`{}`), nil
		}),
		Logger: testLogger(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"Hi","sender":"user","chatId":"abc"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || !gotDeadline {
		t.Fatalf("expected request context to reach the forwarder (code %d)", rec.Code)
	}
}

// --- other routes ---

func TestUnknownAPIPath(t *testing.T) {
	srv := newTestServer(t, newUpstream(t, http.StatusOK, `{}`))
	rec := do(t, srv.Handler(), http.MethodGet, "/api/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if got := decodeBody(t, rec)["message"]; got != "Not found" {
		t.Fatalf("message = %v", got)
	}
}

func TestStatus(t *testing.T) {
	srv := newTestServer(t, newUpstream(t, http.StatusOK, `{}`))
	rec := do(t, srv.Handler(), http.MethodGet, "/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected status body %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	up := newUpstream(t, http.StatusOK, `{}`)
	fwd := forwarder.New(forwarder.Config{URL: up.URL, Logger: testLogger()})
	srv := New(Config{Forwarder: fwd, MetricsPath: "/metrics", Logger: testLogger()})

	do(t, srv.Handler(), http.MethodPost, "/api/chat", `{"message":"Hi","sender":"user","chatId":"abc"}`)
	rec := do(t, srv.Handler(), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `brightchat_chat_requests_total{outcome="ok"}`) {
		t.Fatalf("metrics output missing chat counter:\n%s", rec.Body.String())
	}
}

func TestMetricsDisabledFallsBackToWidget(t *testing.T) {
	srv := newTestServer(t, newUpstream(t, http.StatusOK, `{}`))
	rec := do(t, srv.Handler(), http.MethodGet, "/metrics", "")
	if !strings.Contains(rec.Body.String(), "Start Conversation") {
		t.Fatalf("expected widget index, got %s", rec.Body.String())
	}
}

func TestStatic_EmbeddedWidget(t *testing.T) {
	srv := newTestServer(t, newUpstream(t, http.StatusOK, `{}`))

	rec := do(t, srv.Handler(), http.MethodGet, "/", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Get Your Personalized Quote") {
		t.Fatalf("index: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, srv.Handler(), http.MethodGet, "/app.js", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "brightchat_session_id") {
		t.Fatalf("app.js: %d", rec.Code)
	}
}

func TestStatic_SPAFallback(t *testing.T) {
	srv := newTestServer(t, newUpstream(t, http.StatusOK, `{}`))

	for _, path := range []string{"/quote", "/deep/client/route", "/missing.png"} {
		rec := do(t, srv.Handler(), http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "Start Conversation") {
			t.Fatalf("%s: expected index.html", path)
		}
	}
}

func TestStatic_DiskOverride(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>custom widget</h1>"), 0o644)
	os.WriteFile(filepath.Join(dir, "extra.txt"), []byte("extra"), 0o644)

	srv := New(Config{Forwarder: forwarderFunc(nil), StaticDir: dir, Logger: testLogger()})

	rec := do(t, srv.Handler(), http.MethodGet, "/anything", "")
	if !strings.Contains(rec.Body.String(), "custom widget") {
		t.Fatalf("expected disk index, got %s", rec.Body.String())
	}
	rec = do(t, srv.Handler(), http.MethodGet, "/extra.txt", "")
	if rec.Body.String() != "extra" {
		t.Fatalf("expected extra.txt, got %s", rec.Body.String())
	}
}

func TestStatic_MissingDiskDirUsesEmbedded(t *testing.T) {
	srv := New(Config{Forwarder: forwarderFunc(nil), StaticDir: filepath.Join(t.TempDir(), "absent"), Logger: testLogger()})
	rec := do(t, srv.Handler(), http.MethodGet, "/", "")
	if !strings.Contains(rec.Body.String(), "Start Conversation") {
		t.Fatal("expected embedded widget")
	}
}

// --- logging ---

func TestRequestLogger_APIOnly(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	logger := slog.New(slog.NewTextHandler(&lockedWriter{w: &buf, mu: &mu}, &slog.HandlerOptions{Level: slog.LevelInfo}))

	up := newUpstream(t, http.StatusOK, `{"reply":"Hello!"}`)
	fwd := forwarder.New(forwarder.Config{URL: up.URL, Logger: testLogger()})
	srv := New(Config{Forwarder: fwd, Logger: logger})

	do(t, srv.Handler(), http.MethodPost, "/api/chat", `{"message":"Hi","sender":"user","chatId":"abc"}`)
	do(t, srv.Handler(), http.MethodGet, "/", "")

	mu.Lock()
	out := buf.String()
	mu.Unlock()

	if !strings.Contains(out, "api request") || !strings.Contains(out, "path=/api/chat") || !strings.Contains(out, "status=200") {
		t.Fatalf("expected api request log, got:\n%s", out)
	}
	if !strings.Contains(out, "Hello!") {
		t.Fatalf("expected response snippet in log, got:\n%s", out)
	}
	if strings.Count(out, "api request") != 1 {
		t.Fatalf("non-API requests should not be logged:\n%s", out)
	}
}

type lockedWriter struct {
	w  io.Writer
	mu *sync.Mutex
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func TestCappedBuffer(t *testing.T) {
	c := &cappedBuffer{limit: 5}
	n, _ := c.Write([]byte("abc"))
	if n != 3 {
		t.Fatalf("n = %d", n)
	}
	c.Write([]byte("defgh"))
	if got := c.String(); got != "abcde…" {
		t.Fatalf("got %q", got)
	}
}

// --- lifecycle ---

func TestHandler_BuiltOnceConcurrently(t *testing.T) {
	srv := newTestServer(t, newUpstream(t, http.StatusOK, `{}`))

	const n = 32
	handlers := make([]http.Handler, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handlers[i] = srv.Handler()
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if handlers[i] != handlers[0] {
			t.Fatal("Handler returned different routers")
		}
	}
}

func TestServe_ShutdownIdempotent(t *testing.T) {
	srv := newTestServer(t, newUpstream(t, http.StatusOK, `{}`))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background(), ln) }()

	url := "http://" + ln.Addr().String() + "/status"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server not reachable: %v", err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}

func TestServe_StopsOnContextCancel(t *testing.T) {
	srv := newTestServer(t, newUpstream(t, http.StatusOK, `{}`))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not stop on context cancel")
	}
}

func TestServe_AfterShutdownReturnsImmediately(t *testing.T) {
	srv := newTestServer(t, newUpstream(t, http.StatusOK, `{}`))
	srv.Shutdown(context.Background())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Serve(context.Background(), ln); err != nil {
		t.Fatalf("Serve after Shutdown: %v", err)
	}
}

func TestNew_NoSideEffects(t *testing.T) {
	srv := New(Config{Addr: "127.0.0.1:1", Forwarder: forwarderFunc(nil)})
	if srv.handler != nil || srv.httpServer != nil {
		t.Fatal("New must not build the router or open a listener")
	}
}
