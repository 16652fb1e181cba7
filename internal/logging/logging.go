// Package logging provides the logrus-backed logger used by the engine
// binding's debug/trace/alarm family (spec.md §4.4).
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger the way pkg/logger does in the teacher repo.
type Logger struct {
	*logrus.Logger
}

// Config mirrors the teacher's LoggingConfig shape.
type Config struct {
	Level      string
	Format     string
	Output     string
	FilePrefix string
}

// New creates a logger from Config.
func New(cfg Config) *Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	switch strings.ToLower(cfg.Output) {
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "softpbx"
		}
		logDir := "logs"
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			logger.Errorf("failed to create logs directory: %v", err)
		} else {
			logPath := filepath.Join(logDir, prefix+".log")
			file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				logger.Errorf("failed to open log file: %v", err)
			} else {
				logger.SetOutput(io.MultiWriter(os.Stdout, file))
			}
		}
	default:
		logger.SetOutput(os.Stdout)
	}

	return &Logger{Logger: logger}
}

// NewDefault creates a logger with sane stdout/text defaults for a
// particular engine or script context. The name is not attached to the
// returned logger: its output lines carry no engine field.
func NewDefault(name string) *Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetOutput(os.Stdout)
	l := &Logger{Logger: logger}
	if name != "" {
		return &Logger{Logger: logger.WithField("engine", name).Logger}
	}
	return l
}

// WithField returns a new log entry with a field attached.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithFields returns a new log entry with multiple fields attached.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

// Level is a script-visible debug level, ordered highest priority (lowest
// number) to lowest, per spec.md §4.4.
type Level int

const (
	Fail Level = iota
	Test
	Crit
	GoOn
	Conf
	Stub
	Warn
	Mild
	Note
	Call
	Info
	All
)

var levelNames = map[string]Level{
	"fail": Fail, "test": Test, "crit": Crit, "goon": GoOn,
	"conf": Conf, "stub": Stub, "warn": Warn, "mild": Mild,
	"note": Note, "call": Call, "info": Info, "all": All,
}

// ParseLevel resolves a script-supplied level name or ordinal to a Level.
// Unknown names default to Info, matching the engine binding's lenient
// handling of debug-level arguments.
func ParseLevel(name string) Level {
	key := strings.ToLower(strings.TrimSpace(name))
	if lvl, ok := levelNames[key]; ok {
		return lvl
	}
	if n, err := strconv.Atoi(key); err == nil {
		return Level(n).Clamp(Fail, All)
	}
	return Info
}

// Clamp restricts a level to [lo, hi], matching debug()'s behavior of
// clamping to [Conf, All] when aborts are disabled, [Fail, All] otherwise.
func (l Level) Clamp(lo, hi Level) Level {
	if l < lo {
		return lo
	}
	if l > hi {
		return hi
	}
	return l
}

// logrusLevel maps a script Level onto the underlying logrus level.
func (l Level) logrusLevel() logrus.Level {
	switch {
	case l <= Crit:
		return logrus.ErrorLevel
	case l <= Warn:
		return logrus.WarnLevel
	case l <= Call:
		return logrus.InfoLevel
	default:
		return logrus.DebugLevel
	}
}

// Emit writes a line at the given script level, attaching a trace-id field
// when one is present (the host bus's trace_id correlation, spec.md §4.5).
func (l *Logger) Emit(level Level, traceID string, msg string) {
	entry := l.Logger.WithField("level", level)
	if traceID != "" {
		entry = entry.WithField("trace_id", traceID)
	}
	switch level.logrusLevel() {
	case logrus.ErrorLevel:
		entry.Error(msg)
	case logrus.WarnLevel:
		entry.Warn(msg)
	case logrus.InfoLevel:
		entry.Info(msg)
	default:
		entry.Debug(msg)
	}
}
