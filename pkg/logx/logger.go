// Package logx provides structured component loggers for the pipeline.
package logx

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus entry with a fixed component field and a
// key-value call convention.
type Logger struct {
	entry *logrus.Entry
}

// NewLogger creates a logger for a component at the given level.
// Unknown levels fall back to info.
func NewLogger(level, component string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})

	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	base.SetLevel(parsed)

	entry := logrus.NewEntry(base)
	if component != "" {
		entry = entry.WithField("component", component)
	}
	return &Logger{entry: entry}
}

// WithComponent returns a child logger tagged with a sub-component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{entry: l.entry.WithField("component", component)}
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.entry.WithFields(fields(kv)).Debug(msg) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.entry.WithFields(fields(kv)).Info(msg) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.entry.WithFields(fields(kv)).Warn(msg) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.entry.WithFields(fields(kv)).Error(msg) }

// fields converts alternating key/value arguments into logrus fields.
// A trailing key without a value is kept with a nil value rather than dropped.
func fields(kv []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		if i+1 < len(kv) {
			f[key] = kv[i+1]
		} else {
			f[key] = nil
		}
	}
	return f
}
