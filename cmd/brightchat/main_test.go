package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"brightchat/internal/client"
	"brightchat/internal/config"
	"brightchat/internal/domain"
	"brightchat/internal/session"
	"brightchat/internal/widget"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type replySender func(msg domain.ChatMessage) (client.Reply, error)

func (f replySender) Send(_ context.Context, msg domain.ChatMessage) (client.Reply, error) {
	return f(msg)
}

// lockedBuffer lets the test read output written from send goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestConversation(store domain.KeyValueStorage, r widget.Renderer, send replySender) *widget.Conversation {
	return widget.New(widget.Config{
		Sender:   send,
		Storage:  store,
		Script:   &widget.Script{Opening: "Hello from the bot"},
		Renderer: r,
		Logger:   quietLogger,
	})
}

func TestTerminal_ChatRoundTrip(t *testing.T) {
	store := session.NewMemoryStorage()
	out := &lockedBuffer{}
	term := newTerminal(strings.NewReader("\nwhat covers floods?\n/quit\n"), out, store, quietLogger)

	var got domain.ChatMessage
	conv := newTestConversation(store, term, func(msg domain.ChatMessage) (client.Reply, error) {
		got = msg
		return client.Reply{"response": "Home insurance does."}, nil
	})

	if err := term.Run(context.Background(), conv); err != nil {
		t.Fatalf("Run: %v", err)
	}

	text := out.String()
	for _, want := range []string{
		"Welcome to BrightChat",
		"Mr. Bright: Hello from the bot",
		"Mr. Bright: Home insurance does.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "Mr. Bright: what covers floods?") {
		t.Error("user message should not be echoed as an agent line")
	}
	if got.Message != "what covers floods?" || got.Sender != domain.SenderUser || got.ChatID == "" {
		t.Fatalf("unexpected message sent: %+v", got)
	}
}

func TestTerminal_EOFOnWelcomeScreen(t *testing.T) {
	store := session.NewMemoryStorage()
	out := &lockedBuffer{}
	term := newTerminal(strings.NewReader(""), out, store, quietLogger)
	conv := newTestConversation(store, term, func(domain.ChatMessage) (client.Reply, error) {
		t.Fatal("nothing should be sent")
		return nil, nil
	})

	if err := term.Run(context.Background(), conv); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if conv.Screen() != widget.ScreenWelcome {
		t.Fatalf("screen = %v, want welcome", conv.Screen())
	}
}

func TestTerminal_ResetClearsSession(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStorage()
	if err := store.Set(ctx, session.StorageKey, "chat_old"); err != nil {
		t.Fatal(err)
	}

	out := &lockedBuffer{}
	term := newTerminal(strings.NewReader("\n/reset\n"), out, store, quietLogger)
	conv := newTestConversation(store, term, func(domain.ChatMessage) (client.Reply, error) {
		return client.Reply{}, nil
	})

	if err := term.Run(ctx, conv); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok, _ := store.Get(ctx, session.StorageKey); ok {
		t.Fatal("session id should be cleared")
	}
	if !strings.Contains(out.String(), "Session cleared.") {
		t.Fatalf("missing reset notice:\n%s", out.String())
	}
}

func TestTerminal_TypingNoticeCleared(t *testing.T) {
	var out bytes.Buffer
	term := newTerminal(strings.NewReader(""), &out, session.NewMemoryStorage(), quietLogger)

	term.TypingChanged(true)
	term.MessageAdded(domain.DisplayedMessage{Text: "hi", Sender: domain.SenderAgent})

	want := "Mr. Bright is typing...\r\033[KMr. Bright: hi\n"
	if out.String() != want {
		t.Fatalf("output = %q, want %q", out.String(), want)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func clearOverrides(t *testing.T) {
	t.Helper()
	t.Setenv("PORT", "")
	t.Setenv("BRIGHTCHAT_WEBHOOK_URL", "")
}

func TestDoctor_HealthyOfflineConfig(t *testing.T) {
	clearOverrides(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")

	cfg := config.Defaults()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Client.Storage = session.BackendFile
	cfg.Client.StoragePath = filepath.Join(dir, "data", "session.json")
	if err := config.Save(cfgPath, cfg); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	r := &report{out: &out}
	runChecks(context.Background(), r, cfgPath, true)

	if err := r.summary(); err != nil {
		t.Fatalf("summary: %v\n%s", err, out.String())
	}
	text := out.String()
	for _, want := range []string{
		"[PASS] Config file",
		"[PASS] Config validation",
		"[PASS] Session storage",
		"[PASS] Server port",
		"[WARN] Webhook",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in:\n%s", want, text)
		}
	}
}

func TestDoctor_InvalidConfigFails(t *testing.T) {
	clearOverrides(t)
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(cfgPath, []byte(`{"server": {"port": 99999}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	r := &report{out: &out}
	runChecks(context.Background(), r, cfgPath, true)

	if r.failed != 1 {
		t.Fatalf("failed = %d, want 1\n%s", r.failed, out.String())
	}
	if err := r.summary(); err == nil {
		t.Fatal("summary should report failure")
	}
}

func TestCheckSessionStore_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "s", "session.db")

	store, err := session.NewSQLiteStorage(path, quietLogger)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Set(ctx, session.StorageKey, "chat_keep"); err != nil {
		t.Fatal(err)
	}
	store.Close()

	if err := checkSessionStore(ctx, session.BackendSQLite, path); err != nil {
		t.Fatalf("checkSessionStore: %v", err)
	}

	store, err = session.NewSQLiteStorage(path, quietLogger)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if id, ok, _ := store.Get(ctx, session.StorageKey); !ok || id != "chat_keep" {
		t.Fatalf("stored session id disturbed: %q, %v", id, ok)
	}
	if _, ok, _ := store.Get(ctx, doctorKey); ok {
		t.Fatal("check key should be deleted")
	}
}

func TestCheckSessionStore_FileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "session.json")
	if err := checkSessionStore(context.Background(), session.BackendFile, path); err != nil {
		t.Fatalf("checkSessionStore: %v", err)
	}
}

func TestCheckSessionStore_UnknownBackend(t *testing.T) {
	if err := checkSessionStore(context.Background(), "redis", "x"); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestCheckReachable_BadURL(t *testing.T) {
	if err := checkReachable("http://127.0.0.1:1", 200*time.Millisecond); err == nil {
		t.Fatal("expected dial error on a closed port")
	}
}
