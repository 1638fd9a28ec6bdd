// Package smoke drives a deployed chat widget in headless Chrome: it opens
// the page, starts the chat, checks the stored session id, sends a message
// and waits for the agent's reply bubble.
package smoke

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/chromedp"

	"brightchat/internal/session"
)

const pollInterval = 250 * time.Millisecond

// Selectors are the CSS selectors the check relies on.
type Selectors struct {
	Start        string // welcome-screen button
	Input        string
	Submit       string
	UserMessage  string
	AgentMessage string
}

// DefaultSelectors matches the bundled widget.
func DefaultSelectors() Selectors {
	return Selectors{
		Start:        "[data-testid='button-start-chat']",
		Input:        "[data-testid='input-message']",
		Submit:       "[data-testid='button-send']",
		UserMessage:  ".message.user",
		AgentMessage: ".message.agent",
	}
}

type Config struct {
	Headless         bool
	Timeout          time.Duration // whole run (default 60s)
	GreetingMessages int           // agent bubbles to wait for before sending (default 2)
	Selectors        Selectors
	Logger           *slog.Logger
}

// Checker runs the smoke check.
type Checker struct {
	headless  bool
	timeout   time.Duration
	greetings int
	sel       Selectors
	logger    *slog.Logger
}

// Result summarises a successful run.
type Result struct {
	URL       string
	SessionID string
	Greeting  []string
	Reply     string
	Duration  time.Duration
}

func New(cfg Config) *Checker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.GreetingMessages <= 0 {
		cfg.GreetingMessages = 2
	}
	if cfg.Selectors == (Selectors{}) {
		cfg.Selectors = DefaultSelectors()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Checker{
		headless:  cfg.Headless,
		timeout:   cfg.Timeout,
		greetings: cfg.GreetingMessages,
		sel:       cfg.Selectors,
		logger:    cfg.Logger,
	}
}

// newContext creates a chromedp context. The caller must call cancel.
func (c *Checker) newContext(parent context.Context) (context.Context, context.CancelFunc) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if c.headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	return taskCtx, func() {
		taskCancel()
		allocCancel()
	}
}

// Run performs the check against url, sending message once the greeting has played.
func (c *Checker) Run(ctx context.Context, url, message string) (*Result, error) {
	start := time.Now()

	taskCtx, cancel := c.newContext(ctx)
	defer cancel()
	taskCtx, timeoutCancel := context.WithTimeout(taskCtx, c.timeout)
	defer timeoutCancel()

	c.logger.Info("opening widget", "url", url)
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(url),
		chromedp.WaitVisible(c.sel.Start, chromedp.ByQuery),
		chromedp.Click(c.sel.Start, chromedp.ByQuery),
		chromedp.WaitVisible(c.sel.Input, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("start chat: %w", err)
	}

	greeting, err := c.waitForTexts(taskCtx, c.sel.AgentMessage, c.greetings)
	if err != nil {
		return nil, fmt.Errorf("wait for greeting: %w", err)
	}

	sessionID, err := c.sessionID(taskCtx)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("chat started", "session_id", sessionID, "greeting", len(greeting))

	err = chromedp.Run(taskCtx,
		chromedp.SendKeys(c.sel.Input, message, chromedp.ByQuery),
		chromedp.Click(c.sel.Submit, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	reply, err := c.waitForReply(taskCtx)
	if err != nil {
		return nil, fmt.Errorf("wait for reply: %w", err)
	}

	after, err := c.sessionID(taskCtx)
	if err != nil {
		return nil, err
	}
	if after != sessionID {
		return nil, fmt.Errorf("session id changed during the chat: %q -> %q", sessionID, after)
	}

	return &Result{
		URL:       url,
		SessionID: sessionID,
		Greeting:  greeting,
		Reply:     reply,
		Duration:  time.Since(start),
	}, nil
}

func (c *Checker) sessionID(ctx context.Context) (string, error) {
	var id string
	if err := chromedp.Run(ctx, chromedp.Evaluate(sessionScript(), &id)); err != nil {
		return "", fmt.Errorf("read session id: %w", err)
	}
	if id == "" {
		return "", errors.New("widget did not store a session id")
	}
	return id, nil
}

func (c *Checker) waitForTexts(ctx context.Context, selector string, n int) ([]string, error) {
	for {
		var texts []string
		if err := chromedp.Run(ctx, chromedp.Evaluate(textsScript(selector), &texts)); err != nil {
			return nil, err
		}
		if len(texts) >= n {
			return texts, nil
		}
		if err := sleep(ctx, pollInterval); err != nil {
			return texts, err
		}
	}
}

func (c *Checker) waitForReply(ctx context.Context) (string, error) {
	script := replyScript(c.sel.UserMessage, c.sel.AgentMessage)
	for {
		var reply string
		if err := chromedp.Run(ctx, chromedp.Evaluate(script, &reply)); err != nil {
			return "", err
		}
		if reply != "" {
			return reply, nil
		}
		if err := sleep(ctx, pollInterval); err != nil {
			return "", err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func sessionScript() string {
	return fmt.Sprintf(`localStorage.getItem(%q) || ""`, session.StorageKey)
}

func textsScript(selector string) string {
	return fmt.Sprintf(`Array.from(document.querySelectorAll(%q)).map(function (el) {
	return el.innerText || el.textContent || "";
})`, selector)
}

// replyScript returns the text of the last agent bubble that follows the
// last user bubble, or "" if there is none yet.
func replyScript(userSel, agentSel string) string {
	return fmt.Sprintf(`(function () {
	var user = %q, agent = %q, seenUser = false, reply = "";
	document.querySelectorAll(user + ", " + agent).forEach(function (el) {
		if (el.matches(user)) {
			seenUser = true;
			reply = "";
		} else if (seenUser) {
			reply = el.innerText || el.textContent || "";
		}
	});
	return reply;
})()`, userSel, agentSel)
}
