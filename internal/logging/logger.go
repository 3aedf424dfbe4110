package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

const defaultBufferSize = 1000

// Logger is satisfied by *slog.Logger. Packages that only emit logs take
// this instead of the concrete type.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

var (
	mutex         sync.RWMutex
	globalConfig  Config
	isInitialized bool
	rootLevel     = &slog.LevelVar{}
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevels  = make(map[string]*slog.LevelVar)
	logBuffer     *RingBuffer
	logCallback   LogCallback
)

// Config is the [logging] section of the configuration file.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

// Initialize sets up output handlers and levels. Loggers handed out before
// the call are rebuilt so they pick up the configured format.
func Initialize(config Config) {
	mutex.Lock()
	defer mutex.Unlock()

	globalConfig = config
	isInitialized = true
	if logBuffer == nil {
		logBuffer = NewRingBuffer(defaultBufferSize)
	}

	applyLevels()
	for module, level := range moduleLevels {
		moduleLoggers[module] = slog.New(createHandler(config.Format, level)).With("module", module)
	}
	slog.SetDefault(slog.New(createHandler(config.Format, rootLevel)))
}

// SetLevels changes the global and per-module levels of a running process.
// The output format stays as initialized.
func SetLevels(config Config) {
	mutex.Lock()
	defer mutex.Unlock()

	globalConfig.Level = config.Level
	globalConfig.Modules = config.Modules
	applyLevels()
}

// applyLevels pushes globalConfig into every LevelVar. Callers hold mutex.
func applyLevels() {
	rootLevel.Set(levelFor(""))
	for module, level := range moduleLevels {
		level.Set(levelFor(module))
	}
}

// levelFor resolves the level of module from globalConfig. Callers hold mutex.
func levelFor(module string) slog.Level {
	level := slog.LevelInfo
	if parsed, ok := parseLevel(globalConfig.Level); ok {
		level = parsed
	}
	if module != "" {
		if parsed, ok := parseLevel(globalConfig.Modules[module]); ok {
			level = parsed
		}
	}
	return level
}

// GetBuffer returns the history of recent log entries.
func GetBuffer() *RingBuffer {
	mutex.RLock()
	defer mutex.RUnlock()
	return logBuffer
}

// SetLogCallback registers a function called with every buffered entry.
// The API uses it to publish log events.
func SetLogCallback(callback LogCallback) {
	mutex.Lock()
	defer mutex.Unlock()
	logCallback = callback
}

func sink() (*RingBuffer, LogCallback) {
	mutex.RLock()
	defer mutex.RUnlock()
	return logBuffer, logCallback
}

// GetLogger returns the logger of module, creating it on first use.
func GetLogger(module string) *slog.Logger {
	mutex.RLock()
	logger, ok := moduleLoggers[module]
	mutex.RUnlock()
	if ok {
		return logger
	}

	mutex.Lock()
	defer mutex.Unlock()
	if logger, ok := moduleLoggers[module]; ok {
		return logger
	}

	level := &slog.LevelVar{}
	level.Set(levelFor(module))
	format := "text"
	if isInitialized {
		format = globalConfig.Format
	}

	logger = slog.New(createHandler(format, level)).With("module", module)
	moduleLoggers[module] = logger
	moduleLevels[module] = level
	return logger
}

// createHandler fans out to stdout, the journal when running under
// systemd, and the in-memory history.
func createHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var stdout slog.Handler
	if format == "json" {
		stdout = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		stdout = slog.NewTextHandler(os.Stdout, opts)
	}

	var handlers []slog.Handler
	if isStdoutAvailable() {
		handlers = append(handlers, stdout)
	}
	if IsJournalAvailable() {
		handlers = append(handlers, NewJournalHandler(level))
	}
	handlers = append(handlers, NewBufferHandler(level))

	if len(handlers) == 1 {
		return handlers[0]
	}
	return NewMultiHandler(handlers...)
}

// isStdoutAvailable reports whether stdout is open. Services started
// without one log to the journal only.
func isStdoutAvailable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode&(os.ModeCharDevice|os.ModeNamedPipe|os.ModeSocket) != 0 || mode.IsRegular()
}

func parseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return 0, false
	}
}
