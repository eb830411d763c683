// Package logging provides categorized file-based logging for forest.
// Each category writes to its own file under <workspace>/.forest/logs/,
// backed by zap cores; warnings and errors are echoed to stderr.
// Before Initialize is called every logger is a no-op, so library code
// can log unconditionally.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup and wiring
	CategoryBreaker   Category = "breaker"   // Circuit breaker transitions
	CategoryAPI       Category = "api"       // Intelligence provider calls
	CategoryEmbedding Category = "embedding" // Embedding engine
	CategoryGenerator Category = "generator" // Schema-driven generation
	CategoryFallback  Category = "fallback"  // Deterministic fallback chain
	CategoryStore     Category = "store"     // Document store operations
	CategoryVector    Category = "vector"    // Vector store operations
	CategorySelector  Category = "selector"  // Next-task selection
	CategoryGuard     Category = "guard"     // Mutation guard decisions
	CategoryForest    Category = "forest"    // Orchestrator lifecycle
)

// Logger is a category-scoped printf-style logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu          sync.RWMutex
	loggers     = make(map[Category]*Logger)
	logsDir     string
	initialized bool
	minLevel    = zapcore.InfoLevel
	nop         = &Logger{sugar: zap.NewNop().Sugar()}
)

// Initialize sets up per-category log files under ws/.forest/logs.
// level is one of debug, info, warn, error; empty means info.
func Initialize(ws, level string) error {
	if ws == "" {
		return fmt.Errorf("workspace path required")
	}

	dir := filepath.Join(ws, ".forest", "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	logsDir = dir
	initialized = true
	switch level {
	case "debug":
		minLevel = zapcore.DebugLevel
	case "warn":
		minLevel = zapcore.WarnLevel
	case "error":
		minLevel = zapcore.ErrorLevel
	default:
		minLevel = zapcore.InfoLevel
	}
	// Drop loggers built before (re)initialization so they pick up the
	// new directory and level.
	loggers = make(map[Category]*Logger)
	return nil
}

// Get returns the logger for a category, creating it on first use.
// Returns a no-op logger when logging is not initialized.
func Get(cat Category) *Logger {
	mu.RLock()
	if !initialized {
		mu.RUnlock()
		return nop
	}
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}
	l := buildLogger(cat)
	loggers[cat] = l
	return l
}

func buildLogger(cat Category) *Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	path := filepath.Join(logsDir, string(cat)+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		// Fall back to stderr only rather than failing the caller.
		core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), minLevel)
		return &Logger{category: cat, sugar: zap.New(core).Sugar().Named(string(cat))}
	}

	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(file), minLevel)
	stderrCore := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), zapcore.WarnLevel)
	core := zapcore.NewTee(fileCore, stderrCore)
	return &Logger{category: cat, sugar: zap.New(core).Sugar().Named(string(cat))}
}

// Debug logs a printf-style debug message.
func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }

// Info logs a printf-style info message.
func (l *Logger) Info(format string, args ...interface{}) { l.sugar.Infof(format, args...) }

// Warn logs a printf-style warning.
func (l *Logger) Warn(format string, args ...interface{}) { l.sugar.Warnf(format, args...) }

// Error logs a printf-style error.
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// Category-scoped convenience helpers, matching the call sites' most
// common pattern: one info line, occasionally a debug detail.

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func Breaker(format string, args ...interface{})   { Get(CategoryBreaker).Info(format, args...) }
func API(format string, args ...interface{})       { Get(CategoryAPI).Info(format, args...) }
func Embedding(format string, args ...interface{}) { Get(CategoryEmbedding).Info(format, args...) }
func Generator(format string, args ...interface{}) { Get(CategoryGenerator).Info(format, args...) }
func Fallback(format string, args ...interface{})  { Get(CategoryFallback).Info(format, args...) }
func Store(format string, args ...interface{})     { Get(CategoryStore).Info(format, args...) }
func Vector(format string, args ...interface{})    { Get(CategoryVector).Info(format, args...) }
func Selector(format string, args ...interface{})  { Get(CategorySelector).Info(format, args...) }
func Guard(format string, args ...interface{})     { Get(CategoryGuard).Info(format, args...) }
func Forest(format string, args ...interface{})    { Get(CategoryForest).Info(format, args...) }

func StoreDebug(format string, args ...interface{})  { Get(CategoryStore).Debug(format, args...) }
func VectorDebug(format string, args ...interface{}) { Get(CategoryVector).Debug(format, args...) }
func GeneratorDebug(format string, args ...interface{}) {
	Get(CategoryGenerator).Debug(format, args...)
}
func SelectorDebug(format string, args ...interface{}) { Get(CategorySelector).Debug(format, args...) }
func EmbeddingDebug(format string, args ...interface{}) {
	Get(CategoryEmbedding).Debug(format, args...)
}

// Timer measures an operation's duration and logs it on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation for the given category.
func StartTimer(cat Category, op string) *Timer {
	return &Timer{category: cat, op: op, start: time.Now()}
}

// Stop logs the elapsed time at debug level.
func (t *Timer) Stop() {
	Get(t.category).Debug("%s completed in %s", t.op, time.Since(t.start))
}

// Sync flushes all open loggers. Safe to call at shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	for _, l := range loggers {
		_ = l.sugar.Sync()
	}
}
