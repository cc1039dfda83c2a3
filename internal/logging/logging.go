package logging

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// Options is the log section of the relay config.
type Options struct {
	Level  string    `koanf:"level" yaml:"level"`
	JSON   bool      `koanf:"json" yaml:"json"`
	Output io.Writer `koanf:"-" yaml:"-"` // defaults to stderr
}

var def atomic.Value

func init() {
	cfg := &slog.HandlerOptions{Level: slog.LevelInfo}
	h := slog.NewTextHandler(os.Stderr, cfg)
	def.Store(slog.New(h))
}

// Configure replaces the process logger. Text goes to stderr unless
// opts.Output is set.
func Configure(opts Options) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	cfg := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	var h slog.Handler
	if opts.JSON {
		h = slog.NewJSONHandler(out, cfg)
	} else {
		h = slog.NewTextHandler(out, cfg)
	}
	def.Store(slog.New(h))
}

// ParseLevel maps debug, warn and error to their slog levels. Anything else,
// including "", is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L returns the current process logger.
func L() *slog.Logger {
	l, _ := def.Load().(*slog.Logger)
	return l
}

// InitFromEnv configures the default logger before the config file is read,
// so config loading itself can log.
func InitFromEnv() {
	json, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv("ADSBRELAY_LOG_JSON")))
	Configure(Options{Level: os.Getenv("ADSBRELAY_LOG_LEVEL"), JSON: json})
}
