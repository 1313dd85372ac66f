// Package logging wraps zerolog in the category-gated debug-logging
// shape the teacher's own pkg/logger uses, so call sites read exactly
// like slog-style structured logging (l.Info("msg", "k", v, ...))
// while the actual backend is zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Level mirrors the verbosity levels the teacher's logger exposed.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Category names a narrow debug channel a caller can enable
// independently, matching pkg/logger's DebugRTP/DebugNAL/... split.
type Category string

const (
	CategoryQueue  Category = "queue"
	CategoryMixer  Category = "mixer"
	CategoryScene  Category = "scene"
	CategoryRTP    Category = "rtp"
	CategoryWHIP   Category = "whip"
	CategoryOutput Category = "output"
	CategoryAll    Category = "all"
)

// ParseLevel converts a string into a Level, matching the teacher's
// accepted spellings.
func ParseLevel(level string) (Level, error) {
	switch level {
	case "debug", "DEBUG":
		return LevelDebug, nil
	case "info", "INFO":
		return LevelInfo, nil
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn, nil
	case "error", "ERROR":
		return LevelError, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
	}
}

func (l Level) zerologLevel() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Config configures a Logger.
type Config struct {
	Level      Level
	Writer     io.Writer
	Categories map[Category]bool

	mu sync.RWMutex
}

// NewConfig returns sensible defaults: info level to stderr, no
// category debugging enabled.
func NewConfig() *Config {
	return &Config{
		Level:      LevelInfo,
		Writer:     os.Stderr,
		Categories: make(map[Category]bool),
	}
}

// EnableCategory turns on a debug category; CategoryAll enables them all.
func (c *Config) EnableCategory(cat Category) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cat == CategoryAll {
		for _, k := range []Category{CategoryQueue, CategoryMixer, CategoryScene, CategoryRTP, CategoryWHIP, CategoryOutput} {
			c.Categories[k] = true
		}
		return
	}
	c.Categories[cat] = true
}

func (c *Config) isEnabled(cat Category) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Categories[cat]
}

// Logger is a structured logger with category-gated debug helpers,
// backed by zerolog but exposing slog-shaped call sites.
type Logger struct {
	z      zerolog.Logger
	config *Config
}

// New constructs a Logger from cfg.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = NewConfig()
	}
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	z := zerolog.New(w).Level(cfg.Level.zerologLevel()).With().Timestamp().Logger()
	return &Logger{z: z, config: cfg}
}

// Default returns a Logger with default configuration, useful for
// components exercised directly from tests without a full pipeline
// wiring.
func Default() *Logger {
	return New(NewConfig())
}

// With returns a child logger carrying the given key/value attributes,
// mirroring slog's With(...) call shape.
func (l *Logger) With(args ...any) *Logger {
	ctx := l.z.With()
	ctx = applyArgs(ctx, args)
	return &Logger{z: ctx.Logger(), config: l.config}
}

func applyArgs(ctx zerolog.Context, args []any) zerolog.Context {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, args[i+1])
	}
	return ctx
}

func (l *Logger) event(e *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, args[i+1])
	}
	e.Msg(msg)
}

func (l *Logger) Debug(msg string, args ...any) { l.event(l.z.Debug(), msg, args) }
func (l *Logger) Info(msg string, args ...any)  { l.event(l.z.Info(), msg, args) }
func (l *Logger) Warn(msg string, args ...any)  { l.event(l.z.Warn(), msg, args) }
func (l *Logger) Error(msg string, args ...any) { l.event(l.z.Error(), msg, args) }

// DebugCategory logs at debug level only if cat is enabled, the way
// the teacher's DebugRTP/DebugNAL/... helpers gate on a single flag
// each; here the category name rides along as an attribute so one
// helper covers the whole closed set.
func (l *Logger) DebugCategory(cat Category, msg string, args ...any) {
	if l.config != nil && l.config.isEnabled(cat) {
		l.event(l.z.Debug().Str("category", string(cat)), msg, args)
	}
}
