// Package logger is the structured logger shared by the core, storage
// backends and CLI. It wraps log/slog with a package-level logger whose
// level, format and destination can change at runtime.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Config selects level, format and destination.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or a file path
}

var (
	level = new(slog.LevelVar)

	mu     sync.Mutex
	out    io.Writer = os.Stdout
	file   *os.File
	color  bool
	asJSON bool

	current atomic.Pointer[slog.Logger]
)

func init() {
	color = isTerminal(os.Stdout)
	rebuild()
}

// rebuild swaps in a logger for the current destination and format.
// Callers hold mu, except init.
func rebuild() {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if asJSON {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = newTextHandler(out, level, color)
	}
	current.Store(slog.New(h))
}

// Init applies cfg. Empty fields keep their current value.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	if cfg.Output != "" {
		if err := openOutput(cfg.Output); err != nil {
			return err
		}
	}
	if cfg.Level != "" {
		if l, ok := ParseLevel(cfg.Level); ok {
			level.Set(l)
		}
	}
	if f := strings.ToLower(cfg.Format); f == "text" || f == "json" {
		asJSON = f == "json"
	}
	rebuild()
	return nil
}

func openOutput(dest string) error {
	var next *os.File
	switch strings.ToLower(dest) {
	case "stdout":
		next = os.Stdout
	case "stderr":
		next = os.Stderr
	default:
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %q: %w", dest, err)
		}
		next = f
	}

	if file != nil && file != next {
		_ = file.Close()
		file = nil
	}
	if next != os.Stdout && next != os.Stderr {
		file = next
	}
	out = next
	color = file == nil && isTerminal(next)
	return nil
}

// SetOutput writes to w from now on. Tests use it to capture output.
func SetOutput(w io.Writer, enableColor bool) {
	mu.Lock()
	defer mu.Unlock()
	out, color = w, enableColor
	rebuild()
}

// ParseLevel accepts DEBUG, INFO, WARN/WARNING and ERROR in any case.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO":
		return slog.LevelInfo, true
	case "WARN", "WARNING":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	}
	return 0, false
}

// SetLevel changes the minimum level. Unknown names are ignored.
func SetLevel(s string) {
	if l, ok := ParseLevel(s); ok {
		level.Set(l)
	}
}

// GetLevel returns the current minimum level name.
func GetLevel() string {
	return level.Level().String()
}

// SetFormat switches between "text" and "json". Unknown names are ignored.
func SetFormat(format string) {
	f := strings.ToLower(format)
	if f != "text" && f != "json" {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	asJSON = f == "json"
	rebuild()
}

// Enabled reports whether l would be written.
func Enabled(l slog.Level) bool {
	return l >= level.Level()
}

func log(ctx context.Context, l slog.Level, msg string, args []any) {
	if !Enabled(l) {
		return
	}
	if lc := FromContext(ctx); lc != nil {
		args = append(lc.fields(), args...)
	}
	current.Load().Log(ctx, l, msg, args...)
}

// Debug logs msg with key/value pairs or slog.Attr values.
func Debug(msg string, args ...any) { log(context.Background(), slog.LevelDebug, msg, args) }

func Info(msg string, args ...any)  { log(context.Background(), slog.LevelInfo, msg, args) }
func Warn(msg string, args ...any)  { log(context.Background(), slog.LevelWarn, msg, args) }
func Error(msg string, args ...any) { log(context.Background(), slog.LevelError, msg, args) }

// DebugCtx is Debug plus the LogContext fields carried by ctx.
func DebugCtx(ctx context.Context, msg string, args ...any) {
	log(ctx, slog.LevelDebug, msg, args)
}

func InfoCtx(ctx context.Context, msg string, args ...any) {
	log(ctx, slog.LevelInfo, msg, args)
}

func WarnCtx(ctx context.Context, msg string, args ...any) {
	log(ctx, slog.LevelWarn, msg, args)
}

func ErrorCtx(ctx context.Context, msg string, args ...any) {
	log(ctx, slog.LevelError, msg, args)
}

func Debugf(format string, v ...any) {
	if Enabled(slog.LevelDebug) {
		log(context.Background(), slog.LevelDebug, fmt.Sprintf(format, v...), nil)
	}
}

func Warnf(format string, v ...any) {
	if Enabled(slog.LevelWarn) {
		log(context.Background(), slog.LevelWarn, fmt.Sprintf(format, v...), nil)
	}
}

func Errorf(format string, v ...any) {
	log(context.Background(), slog.LevelError, fmt.Sprintf(format, v...), nil)
}

// Duration returns the milliseconds elapsed since start.
func Duration(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
