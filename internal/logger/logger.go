package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	SILENT // No logging
)

var (
	levelNames = map[LogLevel]string{
		DEBUG:  "DEBUG",
		INFO:   "INFO",
		WARN:   "WARN",
		ERROR:  "ERROR",
		SILENT: "SILENT",
	}

	levelColors = map[LogLevel]string{
		DEBUG:  "\033[36m", // Cyan
		INFO:   "\033[32m", // Green
		WARN:   "\033[33m", // Yellow
		ERROR:  "\033[31m", // Red
		SILENT: "",
	}

	resetColor = "\033[0m"
)

// Logger provides leveled logging with module support.
// A Logger returned by For or Module shares its sink with its parent.
type Logger struct {
	sink   *sink
	module string
}

type sink struct {
	mu       sync.Mutex
	level    LogLevel
	useColor bool
	out      *log.Logger
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = New(INFO, os.Stderr, false)
)

// Init replaces the global logger (call once at startup)
func Init(level LogLevel, output io.Writer, useColor bool) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = New(level, output, useColor)
}

// New creates a new Logger instance
func New(level LogLevel, output io.Writer, useColor bool) *Logger {
	if output == nil {
		output = os.Stderr
	}

	flags := log.Ldate | log.Ltime | log.Lmicroseconds

	return &Logger{
		sink: &sink{
			level:    level,
			useColor: useColor,
			out:      log.New(output, "", flags),
		},
	}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return New(SILENT, io.Discard, false)
}

// For returns a module-tagged logger bound to the global sink.
func For(module string) *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger.Module(module)
}

// Module returns a logger that tags every line with module.
func (l *Logger) Module(module string) *Logger {
	return &Logger{sink: l.sink, module: module}
}

// SetLevel changes the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.level
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	l.sink.mu.Lock()
	currentLevel := l.sink.level
	useColor := l.sink.useColor
	l.sink.mu.Unlock()

	if level < currentLevel || level >= SILENT {
		return
	}

	prefix := fmt.Sprintf("[%s]", levelNames[level])
	if useColor {
		prefix = levelColors[level] + prefix + resetColor
	}

	if l.module != "" {
		prefix = fmt.Sprintf("%s [%s]", prefix, l.module)
	}

	message := fmt.Sprintf(format, args...)
	l.sink.out.Printf("%s %s", prefix, message)
}

// Debugf logs a debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

// Infof logs an info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

// Warnf logs a warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

// Errorf logs an error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

// Global logger functions (use default logger)

// SetLevel sets the global log level
func SetLevel(level LogLevel) {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	defaultLogger.SetLevel(level)
}

// GetLevel returns the global log level
func GetLevel() LogLevel {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger.GetLevel()
}

// Debug logs a debug message using the global logger
func Debug(module string, format string, args ...interface{}) {
	For(module).Debugf(format, args...)
}

// Info logs an info message using the global logger
func Info(module string, format string, args ...interface{}) {
	For(module).Infof(format, args...)
}

// Warn logs a warning message using the global logger
func Warn(module string, format string, args ...interface{}) {
	For(module).Warnf(format, args...)
}

// Error logs an error message using the global logger
func Error(module string, format string, args ...interface{}) {
	For(module).Errorf(format, args...)
}

// ParseLevel parses a log level string
func ParseLevel(s string) (LogLevel, error) {
	switch s {
	case "debug", "DEBUG":
		return DEBUG, nil
	case "info", "INFO":
		return INFO, nil
	case "warn", "WARN", "warning", "WARNING":
		return WARN, nil
	case "error", "ERROR":
		return ERROR, nil
	case "silent", "SILENT", "none", "NONE":
		return SILENT, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", s)
	}
}

// String returns the string representation of a log level
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}
