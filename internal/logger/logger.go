// Package logger provides leveled logging with debug, info, warn, and error levels.
// It wraps the standard log package and supports a plain text layout with caller
// information or a JSON-lines layout suitable for log shippers.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents a logging level
type Level int

const (
	// DebugLevel logs are typically voluminous, and are usually disabled in production.
	DebugLevel Level = iota
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs are more important than Info, but don't need individual human review.
	WarnLevel
	// ErrorLevel logs are high-priority. If the service is running smoothly, it shouldn't generate any error-level logs.
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "FATAL"
	}
}

// ParseLevel maps a config string to a Level. Unknown values fall back to InfoLevel.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Logger provides leveled logging
type Logger struct {
	level  Level
	json   bool
	out    io.Writer
	logger *log.Logger
	mu     sync.Mutex
}

var (
	// Global logger instance
	defaultLogger *Logger
)

// Init initializes the default logger with the specified level and format
func Init(level string, format string) {
	InitWithWriter(level, format, os.Stderr)
}

// InitWithWriter is Init with an explicit destination, used by tests.
func InitWithWriter(level string, format string, w io.Writer) {
	jsonFormat := strings.ToLower(format) == "json"

	flags := log.LstdFlags | log.Lmicroseconds
	if !jsonFormat {
		flags |= log.Lshortfile
	}

	defaultLogger = &Logger{
		level:  ParseLevel(level),
		json:   jsonFormat,
		out:    w,
		logger: log.New(w, "", flags),
	}
}

type jsonLine struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"msg"`
}

func (l *Logger) emit(lvl Level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if !l.json {
		_ = l.logger.Output(3, "["+lvl.String()+"] "+msg)
		return
	}

	line, err := json.Marshal(jsonLine{
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Level:   strings.ToLower(lvl.String()),
		Message: msg,
	})
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(append(line, '\n'))
}

func enabled(lvl Level) bool {
	return defaultLogger != nil && defaultLogger.level <= lvl
}

// Debug logs a message at DebugLevel
func Debug(format string, args ...interface{}) {
	if enabled(DebugLevel) {
		defaultLogger.emit(DebugLevel, format, args...)
	}
}

// Info logs a message at InfoLevel
func Info(format string, args ...interface{}) {
	if enabled(InfoLevel) {
		defaultLogger.emit(InfoLevel, format, args...)
	}
}

// Warn logs a message at WarnLevel
func Warn(format string, args ...interface{}) {
	if enabled(WarnLevel) {
		defaultLogger.emit(WarnLevel, format, args...)
	}
}

// Error logs a message at ErrorLevel
func Error(format string, args ...interface{}) {
	if enabled(ErrorLevel) {
		defaultLogger.emit(ErrorLevel, format, args...)
	}
}

// Fatal logs a message and exits
func Fatal(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.emit(ErrorLevel+1, format, args...)
	} else {
		log.Printf("[FATAL] "+format, args...)
	}
	os.Exit(1)
}
