package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"brightchat/internal/client"
	"brightchat/internal/domain"
	"brightchat/internal/session"
	"brightchat/internal/widget"
)

const agentName = "Mr. Bright"

func chatCmd() *cobra.Command {
	var baseURL string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with Mr. Bright in the terminal",
		Long: `Plays the widget in the terminal: welcome screen, scripted greeting,
then every line you type is posted to /api/chat. Type /reset to start a new
session or /quit to exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			if baseURL == "" {
				baseURL = cfg.Client.BaseURL
			}

			store, err := session.Open(cfg.Client.Storage, cfg.Client.StoragePath, logger)
			if err != nil {
				return fmt.Errorf("open session storage: %w", err)
			}
			defer store.Close()

			script, err := widget.LoadScript(cfg.Client.ScriptPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			t := newTerminal(os.Stdin, os.Stdout, store, logger)
			conv := widget.New(widget.Config{
				Sender:       client.New(baseURL, nil),
				Storage:      store,
				Script:       script,
				Renderer:     t,
				MissingReply: widget.MissingReplyPolicy(cfg.Client.MissingReply),
				Logger:       logger,
			})
			return t.Run(ctx, conv)
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "", "chat server base URL (default: client.baseURL from config)")
	return cmd
}

// terminal renders a conversation on a text stream and feeds it input lines.
type terminal struct {
	in     io.Reader
	out    io.Writer
	store  domain.KeyValueStorage
	logger *slog.Logger

	mu     sync.Mutex // serializes writes to out
	typing bool
}

func newTerminal(in io.Reader, out io.Writer, store domain.KeyValueStorage, logger *slog.Logger) *terminal {
	return &terminal{in: in, out: out, store: store, logger: logger}
}

func (t *terminal) ScreenChanged(s widget.Screen) {
	if s == widget.ScreenChat {
		t.println("Type your message and press Enter. /reset starts a new session, /quit exits.")
	}
}

func (t *terminal) MessageAdded(m domain.DisplayedMessage) {
	// The user's own line is already on screen.
	if m.Sender == domain.SenderUser {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearTyping()
	fmt.Fprintf(t.out, "%s: %s\n", agentName, m.Text)
}

func (t *terminal) TypingChanged(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if on {
		t.typing = true
		fmt.Fprintf(t.out, "%s is typing...", agentName)
		return
	}
	t.clearTyping()
}

// clearTyping erases the typing notice. Callers hold t.mu.
func (t *terminal) clearTyping() {
	if t.typing {
		fmt.Fprint(t.out, "\r\033[K")
		t.typing = false
	}
}

func (t *terminal) println(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearTyping()
	fmt.Fprintln(t.out, s)
}

// Run shows the welcome screen, starts the chat on the first line of input
// and then sends each further line. It returns on EOF, /quit or ctx cancel
// once in-flight sends have finished.
func (t *terminal) Run(ctx context.Context, conv *widget.Conversation) error {
	defer conv.Stop()

	t.println("Welcome to BrightChat")
	t.println("Chat with " + agentName + ", your insurance assistant.")
	t.println("Press Enter to start chatting.")

	lines := make(chan string)
	scanErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		scanner := bufio.NewScanner(t.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			return <-scanErr
		}
		line = strings.TrimSpace(line)

		if conv.Screen() == widget.ScreenWelcome {
			if line == "/quit" {
				return nil
			}
			conv.StartChat()
			if line == "" {
				continue
			}
		}

		switch line {
		case "":
			continue
		case "/quit", "/exit", "/q":
			t.logger.Info("user requested quit")
			return nil
		case "/reset":
			if err := session.Reset(ctx, t.store); err != nil {
				t.println("Could not reset the session: " + err.Error())
				continue
			}
			t.println("Session cleared. The next message starts a new conversation.")
			continue
		}

		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
			defer cancel()
			if err := conv.Send(sendCtx, text); err != nil {
				t.logger.Debug("send failed", "err", err)
			}
		}(line)
	}
}
