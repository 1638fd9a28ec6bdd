package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"brightchat/internal/config"
	"brightchat/internal/session"
	"brightchat/internal/widget"
)

func doctorCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your BrightChat installation",
		Long: `Verifies that BrightChat's configuration, session storage, listen port,
webhook and greeting script are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := &report{out: os.Stdout}
			runChecks(cmd.Context(), r, resolveConfigPath(), offline)
			return r.summary()
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "skip the webhook reachability check")
	return cmd
}

type report struct {
	out                    io.Writer
	passed, warned, failed int
}

func (r *report) pass(check, detail string) {
	r.passed++
	fmt.Fprintf(r.out, "  [PASS] %-20s %s\n", check, detail)
}

func (r *report) fail(check, detail string) {
	r.failed++
	fmt.Fprintf(r.out, "  [FAIL] %-20s %s\n", check, detail)
}

func (r *report) warn(check, detail string) {
	r.warned++
	fmt.Fprintf(r.out, "  [WARN] %-20s %s\n", check, detail)
}

func (r *report) summary() error {
	fmt.Fprintf(r.out, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(r.out, "Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Fprintf(r.out, "\nPlease fix the failed checks before running BrightChat.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Fprintf(r.out, "\nBrightChat should work but consider fixing the warnings.\n")
	} else {
		fmt.Fprintf(r.out, "\nAll checks passed! BrightChat is ready to run.\n")
	}
	return nil
}

func runChecks(ctx context.Context, r *report, cfgPath string, offline bool) {
	fmt.Fprintf(r.out, "BrightChat Doctor v%s\n", version)
	fmt.Fprintf(r.out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

	// 1. Config file
	if _, err := os.Stat(cfgPath); err != nil {
		r.warn("Config file", fmt.Sprintf("not found at %s, using defaults (run 'brightchat init')", cfgPath))
	} else {
		r.pass("Config file", cfgPath)
	}

	// 2. Config loads and validates
	cfg, _, err := config.LoadOrDefaults(cfgPath)
	if err != nil {
		r.fail("Config validation", err.Error())
		return
	}
	r.pass("Config validation", "valid")

	// 3. Session storage
	if cfg.Client.Storage == session.BackendMemory {
		r.warn("Session storage", "memory: session ids are lost on exit")
	} else if err := checkSessionStore(ctx, cfg.Client.Storage, cfg.Client.StoragePath); err != nil {
		r.fail("Session storage", err.Error())
	} else {
		r.pass("Session storage", cfg.Client.Storage+": "+cfg.Client.StoragePath)
	}

	// 4. Listen port
	if err := checkPort(cfg.Server.Addr()); err != nil {
		r.warn("Server port", fmt.Sprintf("%s may be in use: %v", cfg.Server.Addr(), err))
	} else {
		r.pass("Server port", cfg.Server.Addr()+" available")
	}

	// 5. Webhook
	masked := config.Sanitize(cfg).Webhook.URL
	if offline {
		r.warn("Webhook", "reachability not checked (--offline)")
	} else if err := checkReachable(cfg.Webhook.URL, 5*time.Second); err != nil {
		r.fail("Webhook", fmt.Sprintf("%s: %v", masked, err))
	} else {
		r.pass("Webhook", masked+" reachable")
	}

	// 6. Greeting script
	if cfg.Client.ScriptPath != "" {
		if _, err := widget.LoadScript(cfg.Client.ScriptPath); err != nil {
			r.fail("Greeting script", err.Error())
		} else {
			r.pass("Greeting script", cfg.Client.ScriptPath)
		}
	}

	// 7. Static assets override
	if cfg.Server.StaticDir != "" {
		if _, err := os.Stat(filepath.Join(cfg.Server.StaticDir, "index.html")); err != nil {
			r.warn("Static assets", fmt.Sprintf("no index.html in %s, embedded widget will be served", cfg.Server.StaticDir))
		} else {
			r.pass("Static assets", cfg.Server.StaticDir)
		}
	}

	// 8. Log file
	if cfg.General.LogFile != "" {
		if err := checkWritableDir(filepath.Dir(cfg.General.LogFile)); err != nil {
			r.warn("Log file", err.Error())
		} else {
			r.pass("Log file", cfg.General.LogFile)
		}
	}
}

const doctorKey = "brightchat_doctor_check"

// checkSessionStore opens the configured backend and round-trips a
// throwaway key through it, leaving the stored session id untouched.
func checkSessionStore(ctx context.Context, kind, path string) error {
	store, err := session.Open(kind, path, logger)
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	want := session.GenerateID()
	if err := store.Set(ctx, doctorKey, want); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	got, ok, err := store.Get(ctx, doctorKey)
	if err != nil {
		return fmt.Errorf("cannot read: %w", err)
	}
	if !ok || got != want {
		return fmt.Errorf("read back %q, want %q", got, want)
	}
	if err := store.Delete(ctx, doctorKey); err != nil {
		return fmt.Errorf("cannot delete: %w", err)
	}
	return nil
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	f.Close()
	os.Remove(f.Name())
	return nil
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

// checkReachable dials the webhook host. It does not post anything.
func checkReachable(raw string, timeout time.Duration) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	conn, err := net.DialTimeout("tcp", host, timeout)
	if err != nil {
		return err
	}
	return conn.Close()
}
