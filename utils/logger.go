package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

// Level orders log severities; messages below the logger's level are dropped.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a LOG_LEVEL value to a Level. Unknown values fall back to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger provides leveled logging for the pipeline, the loader and the API.
type Logger struct {
	level Level
	info  *log.Logger
	warn  *log.Logger
	err   *log.Logger
	debug *log.Logger
}

// NewLogger creates an info-level Logger writing to stdout/stderr.
func NewLogger() *Logger {
	return &Logger{
		level: LevelInfo,
		info:  log.New(os.Stdout, "", 0),
		warn:  log.New(os.Stdout, "", 0),
		err:   log.New(os.Stderr, "", 0),
		debug: log.New(os.Stdout, "", 0),
	}
}

// NewLoggerTo creates a Logger sending every level to w.
func NewLoggerTo(w io.Writer, level Level) *Logger {
	return &Logger{
		level: level,
		info:  log.New(w, "", 0),
		warn:  log.New(w, "", 0),
		err:   log.New(w, "", 0),
		debug: log.New(w, "", 0),
	}
}

// Discard returns a Logger that drops everything. Used by tests.
func Discard() *Logger {
	return NewLoggerTo(io.Discard, LevelError+1)
}

// SetLevel changes the minimum level that is written.
func (l *Logger) SetLevel(level Level) {
	l.level = level
}

func (l *Logger) timestamp() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

func (l *Logger) write(lvl Level, out *log.Logger, tag, format string, args ...any) {
	if lvl < l.level {
		return
	}
	out.Print(fmt.Sprintf("[%s] %s %s", l.timestamp(), tag, fmt.Sprintf(format, args...)))
}

func (l *Logger) Info(format string, args ...any) {
	l.write(LevelInfo, l.info, "\033[32mINFO\033[0m ", format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.write(LevelWarn, l.warn, "\033[33mWARN\033[0m ", format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.write(LevelError, l.err, "\033[31mERROR\033[0m", format, args...)
}

func (l *Logger) Debug(format string, args ...any) {
	l.write(LevelDebug, l.debug, "\033[36mDEBUG\033[0m", format, args...)
}
