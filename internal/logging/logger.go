package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Level represents the logging level.
type Level int8

const (
	// LevelDebug is the most verbose level.
	LevelDebug Level = iota
	// LevelInfo is for informational messages.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages.
	LevelError
)

var levelNames = [...]string{"debug", "info", "warn", "error"}

// String returns the string representation of the log level.
func (l Level) String() string {
	if l < LevelDebug || int(l) >= len(levelNames) {
		return "unknown"
	}
	return levelNames[l]
}

// ParseLevel parses a level name, case-insensitively. Unknown names map to
// LevelInfo.
func ParseLevel(s string) Level {
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(i)
		}
	}
	return LevelInfo
}

// Format represents the log output format.
type Format int

const (
	// FormatText outputs logs in human-readable text format.
	FormatText Format = iota
	// FormatJSON outputs one JSON object per line.
	FormatJSON
)

// ParseFormat parses a string into a Format.
func ParseFormat(s string) Format {
	if strings.EqualFold(s, "json") {
		return FormatJSON
	}
	return FormatText
}

// Logger is the interface for structured logging.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	// Enabled reports whether entries at level are written.
	Enabled(level Level) bool
	// WithTxn returns a logger that tags every entry with a transaction id.
	WithTxn(txnid uint64) Logger
	// WithFields returns a logger that adds the given pairs to every entry.
	WithFields(keysAndValues ...interface{}) Logger
}

// Config holds the logger configuration.
type Config struct {
	Level  string
	Format string
	// Output is "stdout", "stderr" or a file path opened for append.
	Output string
}

type field struct {
	key string
	val interface{}
}

// sink is the destination shared by a logger and everything derived from it.
type sink struct {
	mu     sync.Mutex
	w      io.Writer
	level  Level
	format Format
}

type logger struct {
	out    *sink
	fields []field
}

// New creates a Logger from cfg. An output file that cannot be opened falls
// back to stderr.
func New(cfg Config) Logger {
	var w io.Writer
	switch cfg.Output {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			w = os.Stderr
		} else {
			w = f
		}
	}
	return NewWithWriter(w, ParseLevel(cfg.Level), ParseFormat(cfg.Format))
}

// NewWithWriter creates a Logger writing to w.
func NewWithWriter(w io.Writer, level Level, format Format) Logger {
	return &logger{out: &sink{w: w, level: level, format: format}}
}

// NewDefault creates a Logger at info level writing text to stdout.
func NewDefault() Logger {
	return NewWithWriter(os.Stdout, LevelInfo, FormatText)
}

// NewNop creates a logger that discards everything.
func NewNop() Logger {
	return nopLogger{}
}

func (l *logger) Debug(msg string, kv ...interface{}) { l.log(LevelDebug, msg, kv) }
func (l *logger) Info(msg string, kv ...interface{})  { l.log(LevelInfo, msg, kv) }
func (l *logger) Warn(msg string, kv ...interface{})  { l.log(LevelWarn, msg, kv) }
func (l *logger) Error(msg string, kv ...interface{}) { l.log(LevelError, msg, kv) }

func (l *logger) Enabled(level Level) bool {
	return level >= l.out.level
}

func (l *logger) WithTxn(txnid uint64) Logger {
	return &logger{out: l.out, fields: merge(l.fields, []interface{}{"txn", txnid})}
}

func (l *logger) WithFields(kv ...interface{}) Logger {
	return &logger{out: l.out, fields: merge(l.fields, kv)}
}

// merge returns base with the pairs of kv applied in order. A key already in
// base keeps its position and takes the new value. Non-string keys are
// skipped and a trailing key without a value is kept with a nil value.
func merge(base []field, kv []interface{}) []field {
	out := make([]field, len(base), len(base)+len(kv)/2+1)
	copy(out, base)
next:
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		var val interface{}
		if i+1 < len(kv) {
			val = kv[i+1]
		}
		for j := range out {
			if out[j].key == key {
				out[j].val = val
				continue next
			}
		}
		out = append(out, field{key, val})
	}
	return out
}

func (l *logger) log(level Level, msg string, kv []interface{}) {
	if !l.Enabled(level) {
		return
	}
	fields := l.fields
	if len(kv) > 0 {
		fields = merge(fields, kv)
	}
	ts := time.Now().UTC().Format(time.RFC3339)

	var buf bytes.Buffer
	if l.out.format == FormatJSON {
		writeJSON(&buf, ts, level, msg, fields)
	} else {
		writeText(&buf, ts, level, msg, fields)
	}
	buf.WriteByte('\n')

	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	l.out.w.Write(buf.Bytes())
}

func writeText(buf *bytes.Buffer, ts string, level Level, msg string, fields []field) {
	fmt.Fprintf(buf, "%s [%s] %s", ts, level, msg)
	for _, f := range fields {
		s := fmt.Sprint(f.val)
		if s == "" || strings.ContainsAny(s, " \t\n\"=") {
			s = strconv.Quote(s)
		}
		fmt.Fprintf(buf, " %s=%s", f.key, s)
	}
}

func writeJSON(buf *bytes.Buffer, ts string, level Level, msg string, fields []field) {
	buf.WriteString(`{"ts":`)
	writeJSONValue(buf, ts)
	buf.WriteString(`,"level":`)
	writeJSONValue(buf, level.String())
	buf.WriteString(`,"msg":`)
	writeJSONValue(buf, msg)
	for _, f := range fields {
		buf.WriteByte(',')
		writeJSONValue(buf, f.key)
		buf.WriteByte(':')
		writeJSONValue(buf, f.val)
	}
	buf.WriteByte('}')
}

// writeJSONValue writes v as JSON; errors and values json cannot encode are
// written as their string form.
func writeJSONValue(buf *bytes.Buffer, v interface{}) {
	if err, ok := v.(error); ok {
		v = err.Error()
	}
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(fmt.Sprint(v))
	}
	buf.Write(data)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})       {}
func (nopLogger) Info(string, ...interface{})        {}
func (nopLogger) Warn(string, ...interface{})        {}
func (nopLogger) Error(string, ...interface{})       {}
func (nopLogger) Enabled(Level) bool                 { return false }
func (n nopLogger) WithTxn(uint64) Logger            { return n }
func (n nopLogger) WithFields(...interface{}) Logger { return n }
