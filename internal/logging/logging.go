// Package logging is the structured logger used across imagecore.
package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
)

type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

type Field interface {
	Key() string
	Value() interface{}
}

type stringField struct{ key, val string }

func (f stringField) Key() string        { return f.key }
func (f stringField) Value() interface{} { return f.val }

type intField struct {
	key string
	val int
}

func (f intField) Key() string        { return f.key }
func (f intField) Value() interface{} { return f.val }

type int64Field struct {
	key string
	val int64
}

func (f int64Field) Key() string        { return f.key }
func (f int64Field) Value() interface{} { return f.val }

type errorField struct {
	key string
	err error
}

func (f errorField) Key() string        { return f.key }
func (f errorField) Value() interface{} { return f.err }

func String(key, value string) Field      { return stringField{key, value} }
func Int(key string, value int) Field     { return intField{key, value} }
func Int64(key string, value int64) Field { return int64Field{key, value} }
func Error(key string, err error) Field   { return errorField{key, err} }

type NopLogger struct{}

func (NopLogger) Debug(string, ...Field) {}
func (NopLogger) Info(string, ...Field)  {}
func (NopLogger) Warn(string, ...Field)  {}
func (NopLogger) Error(string, ...Field) {}
func (NopLogger) With(...Field) Logger   { return NopLogger{} }

var debugEnabled = os.Getenv("IMAGECORE_DEBUG") != ""

// StdLogger writes key=value lines through a standard library log.Logger.
type StdLogger struct {
	out    *log.Logger
	debug  bool
	fields []Field
}

// New returns a StdLogger writing to out.
// Debug lines are printed only when IMAGECORE_DEBUG is set.
func New(out *log.Logger) *StdLogger {
	if out == nil {
		out = log.Default()
	}
	return &StdLogger{out: out, debug: debugEnabled}
}

var defaultLogger Logger = New(nil)

// Default returns the process-wide logger.
func Default() Logger { return defaultLogger }

// SetDefault replaces the process-wide logger; nil installs NopLogger.
func SetDefault(l Logger) {
	if l == nil {
		l = NopLogger{}
	}
	defaultLogger = l
}

// OrDefault returns l, or the process-wide logger when l is nil.
func OrDefault(l Logger) Logger {
	if l == nil {
		return defaultLogger
	}
	return l
}

func (l *StdLogger) Debug(msg string, fields ...Field) {
	if l.debug {
		l.write("DEBUG", msg, fields)
	}
}

func (l *StdLogger) Info(msg string, fields ...Field)  { l.write("INFO", msg, fields) }
func (l *StdLogger) Warn(msg string, fields ...Field)  { l.write("WARN", msg, fields) }
func (l *StdLogger) Error(msg string, fields ...Field) { l.write("ERROR", msg, fields) }

func (l *StdLogger) With(fields ...Field) Logger {
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &StdLogger{out: l.out, debug: l.debug, fields: merged}
}

func (l *StdLogger) write(level, msg string, fields []Field) {
	var sb strings.Builder
	sb.WriteString(level)
	sb.WriteByte(' ')
	sb.WriteString(msg)
	for _, f := range l.fields {
		fmt.Fprintf(&sb, " %s=%v", f.Key(), f.Value())
	}
	for _, f := range fields {
		fmt.Fprintf(&sb, " %s=%v", f.Key(), f.Value())
	}
	l.out.Print(sb.String())
}
