// Package widget models the chat widget: a welcome screen, a scripted
// greeting, and the send/reply loop against the chat API.
package widget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"brightchat/internal/client"
	"brightchat/internal/domain"
	"brightchat/internal/session"
)

// Screen is the widget's current view.
type Screen int

const (
	ScreenWelcome Screen = iota
	ScreenChat
)

func (s Screen) String() string {
	switch s {
	case ScreenWelcome:
		return "welcome"
	case ScreenChat:
		return "chat"
	default:
		return "unknown"
	}
}

// MissingReplyPolicy decides what happens when the webhook answers without
// any reply text.
type MissingReplyPolicy string

const (
	MissingReplyFallback MissingReplyPolicy = "fallback"
	MissingReplyIgnore   MissingReplyPolicy = "ignore"
)

const (
	FallbackReply = "Thanks for your message! Our team will get back to you shortly."
	ErrorReply    = "Sorry, there was an error sending your message. Please try again."
)

// ErrNotInChat is returned by Send before StartChat has been called.
var ErrNotInChat = errors.New("chat has not been started")

// Sender delivers a message to the chat API. *client.Client satisfies it.
type Sender interface {
	Send(ctx context.Context, msg domain.ChatMessage) (client.Reply, error)
}

// Renderer observes the conversation. Calls are serialized and arrive in the
// same order as the underlying state changes.
type Renderer interface {
	ScreenChanged(Screen)
	MessageAdded(domain.DisplayedMessage)
	TypingChanged(bool)
}

type nopRenderer struct{}

func (nopRenderer) ScreenChanged(Screen) {}
func (nopRenderer) MessageAdded(domain.DisplayedMessage) {}
func (nopRenderer) TypingChanged(bool) {}

// Config configures a Conversation.
type Config struct {
	Sender       Sender
	Storage      domain.KeyValueStorage // holds the session id
	Script       *Script                // default: DefaultScript()
	Scheduler    Scheduler              // default: wall-clock timers
	Renderer     Renderer
	MissingReply MissingReplyPolicy // default: MissingReplyFallback
	Logger       *slog.Logger
	Now          func() time.Time
}

// Conversation is the widget state: screen, thread and typing indicator.
// It is safe for concurrent use; overlapping sends are not serialized and
// their replies land in arrival order.
type Conversation struct {
	sender       Sender
	storage      domain.KeyValueStorage
	script       *Script
	scheduler    Scheduler
	renderer     Renderer
	missingReply MissingReplyPolicy
	logger       *slog.Logger
	now          func() time.Time

	notifyMu sync.Mutex // orders Renderer calls

	mu       sync.Mutex
	screen   Screen
	messages []domain.DisplayedMessage
	typing   bool
	timers   []Timer
	stopped  bool
	seq      int
}

// New creates a conversation on the welcome screen.
func New(cfg Config) *Conversation {
	if cfg.Script == nil {
		cfg.Script = DefaultScript()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = WallClock{}
	}
	if cfg.Renderer == nil {
		cfg.Renderer = nopRenderer{}
	}
	if cfg.MissingReply == "" {
		cfg.MissingReply = MissingReplyFallback
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Conversation{
		sender:       cfg.Sender,
		storage:      cfg.Storage,
		script:       cfg.Script,
		scheduler:    cfg.Scheduler,
		renderer:     cfg.Renderer,
		missingReply: cfg.MissingReply,
		logger:       cfg.Logger,
		now:          cfg.Now,
		screen:       ScreenWelcome,
	}
}

func (c *Conversation) Screen() Screen {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.screen
}

func (c *Conversation) Typing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

// Messages returns a snapshot of the thread.
func (c *Conversation) Messages() []domain.DisplayedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.DisplayedMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// StartChat moves from the welcome screen to the chat screen and plays the
// greeting script. Later calls do nothing.
func (c *Conversation) StartChat() {
	c.notifyMu.Lock()
	c.mu.Lock()
	if c.screen == ScreenChat || c.stopped {
		c.mu.Unlock()
		c.notifyMu.Unlock()
		return
	}
	c.screen = ScreenChat
	c.mu.Unlock()
	c.renderer.ScreenChanged(ScreenChat)
	c.notifyMu.Unlock()

	c.appendMessage(c.script.Opening, domain.SenderAgent)

	if c.script.FollowUp == "" {
		return
	}
	c.schedule(c.script.TypingDelay, func() {
		c.setTyping(true)
		c.schedule(c.script.ReplyDelay, func() {
			c.setTyping(false)
			c.appendMessage(c.script.FollowUp, domain.SenderAgent)
		})
	})
}

// Send appends text as a user message, forwards it, and appends the agent's
// reply. Blank input is ignored. On failure the apology message is appended
// and the error is returned.
func (c *Conversation) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if c.Screen() != ScreenChat {
		return ErrNotInChat
	}

	c.appendMessage(text, domain.SenderUser)
	c.setTyping(true)

	// Re-read every time: the stored id may have been cleared since the last send.
	chatID, err := session.GetOrCreate(ctx, c.storage)
	if err != nil {
		c.fail(err)
		return fmt.Errorf("session id: %w", err)
	}

	reply, err := c.sender.Send(ctx, domain.ChatMessage{
		Message:   text,
		Sender:    domain.SenderUser,
		Timestamp: c.now().UTC().Format(domain.TimestampLayout),
		ChatID:    chatID,
	})
	if err != nil {
		c.fail(err)
		return fmt.Errorf("send message: %w", err)
	}

	c.setTyping(false)
	fields := client.ReplyFields
	if c.missingReply == MissingReplyIgnore {
		fields = client.WidgetReplyFields
	}
	if answer, ok := reply.TextFrom(fields...); ok {
		c.appendMessage(answer, domain.SenderAgent)
		return nil
	}
	if c.missingReply == MissingReplyFallback {
		c.appendMessage(FallbackReply, domain.SenderAgent)
	} else {
		c.logger.Debug("webhook reply had no text", "chat_id", chatID)
	}
	return nil
}

// Stop cancels pending greeting timers. The conversation accepts no further
// scripted messages afterwards.
func (c *Conversation) Stop() {
	c.mu.Lock()
	c.stopped = true
	timers := c.timers
	c.timers = nil
	c.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
}

func (c *Conversation) fail(err error) {
	c.logger.Warn("chat send failed", "err", err)
	c.setTyping(false)
	c.appendMessage(ErrorReply, domain.SenderAgent)
}

func (c *Conversation) schedule(d time.Duration, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	t := c.scheduler.AfterFunc(d, func() {
		c.mu.Lock()
		stopped := c.stopped
		c.mu.Unlock()
		if !stopped {
			fn()
		}
	})
	c.timers = append(c.timers, t)
}

func (c *Conversation) appendMessage(text string, sender domain.Sender) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	c.seq++
	msg := domain.DisplayedMessage{
		ID:        strconv.Itoa(c.seq),
		Text:      text,
		Sender:    sender,
		Timestamp: c.now(),
	}
	c.messages = append(c.messages, msg)
	c.mu.Unlock()

	c.renderer.MessageAdded(msg)
}

func (c *Conversation) setTyping(on bool) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	changed := c.typing != on
	c.typing = on
	c.mu.Unlock()

	if changed {
		c.renderer.TypingChanged(on)
	}
}
