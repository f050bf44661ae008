// Shared helpers for zeromonos CLI commands.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/zeromonos/internal/lifecycle"
	"github.com/mesh-intelligence/zeromonos/internal/sqlite"
)

// errUsage marks malformed command-line input.
var errUsage = errors.New("usage error")

// exactArgs is cobra.ExactArgs with the error marked as a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return fmt.Errorf("%w: %s", errUsage, err)
		}
		return nil
	}
}

// attachDepot resolves the data directory and attaches the configured
// backend. The caller must call Detach.
func (a *app) attachDepot() (*sqlite.Backend, error) {
	dataDir, err := a.resolveDataDir()
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	backend := sqlite.NewBackend()
	if err := backend.Attach(a.settings.depotConfig(dataDir)); err != nil {
		return nil, fmt.Errorf("attach %s backend: %w", a.settings.Backend, err)
	}
	return backend, nil
}

// withEngine attaches the depot, runs fn with an engine over it, and
// detaches.
func (a *app) withEngine(cmd *cobra.Command, fn func(e *lifecycle.Engine) error) error {
	logger, err := newLogger(cmd.ErrOrStderr(), a.settings.LogLevel, a.settings.LogFormat)
	if err != nil {
		return err
	}
	depot, err := a.attachDepot()
	if err != nil {
		return err
	}
	defer depot.Detach()
	return fn(lifecycle.New(depot, lifecycle.WithLogger(logger)))
}

// newLogger builds a text or JSON slog logger writing to w.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("%w: log_level %q", errUsage, level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("%w: log_format %q (want text or json)", errUsage, format)
	}
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// printLines writes tabwriter output trimming trailing padding.
func printLines(w io.Writer, s string) {
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
}

func shortToken(token string) string {
	if len(token) > 8 {
		return token[:8]
	}
	return token
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
