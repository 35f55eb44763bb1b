package logger

import (
	"fmt"
	"io"
	"log"
	"sync"

	"wsotp/internal/events"
)

// Logger wraps standard logging with event bus integration.
// The server mirrors logs to the bus so admin watch sessions can see them;
// the CLI uses TUI mode to keep stderr clean while the dashboard runs.
type Logger struct {
	mu       sync.RWMutex
	eventBus *events.Bus
	tuiMode  bool
	debug    bool
}

var (
	defaultLogger  = &Logger{}
	originalWriter io.Writer
)

// SetEventBus sets the event bus that receives log events.
func SetEventBus(bus *events.Bus) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.eventBus = bus
}

// SetDebug enables Debug output.
func SetDebug(enabled bool) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.debug = enabled
}

// SetTUIMode enables or disables TUI mode.
// In TUI mode, logs are sent to event bus instead of stderr.
func SetTUIMode(enabled bool) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.tuiMode = enabled

	if enabled {
		originalWriter = log.Writer()
		log.SetOutput(io.Discard)
	} else if originalWriter != nil {
		log.SetOutput(originalWriter)
	}
}

// Debug logs a message only when debug output is enabled.
func Debug(format string, args ...interface{}) {
	defaultLogger.mu.RLock()
	enabled := defaultLogger.debug
	defaultLogger.mu.RUnlock()
	if enabled {
		defaultLogger.log("debug", format, args...)
	}
}

// Info logs an informational message.
func Info(format string, args ...interface{}) {
	defaultLogger.log("info", format, args...)
}

// Warn logs a warning message.
func Warn(format string, args ...interface{}) {
	defaultLogger.log("warn", format, args...)
}

// Error logs an error message.
func Error(format string, args ...interface{}) {
	defaultLogger.log("error", format, args...)
}

func (l *Logger) log(level, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)

	l.mu.RLock()
	tuiMode := l.tuiMode
	bus := l.eventBus
	l.mu.RUnlock()

	if bus != nil {
		bus.PublishLog(level, message)
	}
	if !tuiMode {
		log.Print(message)
	}
}
