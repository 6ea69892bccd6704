// Package logger is a small leveled logger whose lines carry a component tag.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var logLevelNames = map[LogLevel]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := logLevelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel maps a config value (debug, info, warn, error) to a LogLevel.
// Unknown values fall back to LevelInfo and report ok=false.
func ParseLevel(s string) (LogLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, true
	case "info", "":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	default:
		return LevelInfo, false
	}
}

// Logger provides leveled logging with a component tag per line.
type Logger struct {
	MinLevel LogLevel

	mu  sync.Mutex
	out *log.Logger
	now func() time.Time
}

// New returns a logger writing to w. A nil writer means stderr.
func New(w io.Writer, level LogLevel) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{
		MinLevel: level,
		out:      log.New(w, "", 0),
		now:      time.Now,
	}
}

func (l *Logger) log(level LogLevel, component, message string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.MinLevel {
		return
	}
	if l.out == nil {
		l.out = log.New(os.Stderr, "", 0)
	}
	now := time.Now
	if l.now != nil {
		now = l.now
	}

	timestamp := now().Format("2006-01-02 15:04:05.000")
	formattedMsg := fmt.Sprintf(message, args...)

	if component != "" {
		l.out.Printf("[%s] [%s] [%s] %s", timestamp, level, component, formattedMsg)
	} else {
		l.out.Printf("[%s] [%s] %s", timestamp, level, formattedMsg)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(component, message string, args ...interface{}) {
	l.log(LevelDebug, component, message, args...)
}

// Info logs an info message
func (l *Logger) Info(component, message string, args ...interface{}) {
	l.log(LevelInfo, component, message, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(component, message string, args ...interface{}) {
	l.log(LevelWarn, component, message, args...)
}

// Error logs an error message
func (l *Logger) Error(component, message string, args ...interface{}) {
	l.log(LevelError, component, message, args...)
}

// Writer adapts the logger to an io.Writer at the given level, one line per
// write. It lets chi's request logger and http.Server.ErrorLog share the
// same output.
func (l *Logger) Writer(level LogLevel, component string) io.Writer {
	return lineWriter{l: l, level: level, component: component}
}

type lineWriter struct {
	l         *Logger
	level     LogLevel
	component string
}

func (w lineWriter) Write(p []byte) (int, error) {
	w.l.log(w.level, w.component, "%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
