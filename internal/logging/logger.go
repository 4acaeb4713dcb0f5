package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

const DefaultBufferSize = 1000

// Format selects how entries are written to the output stream. The buffer
// and live subscribers always receive structured entries.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

type Options struct {
	Buffer   *LogBuffer
	MinLevel Level
	Output   io.Writer
	Format   Format
}

type Logger struct {
	buffer      *LogBuffer
	output      *log.Logger
	format      Format
	minLevel    Level
	baseContext map[string]string
	hub         *LogHub
}

func New(options Options) *Logger {
	buffer := options.Buffer
	if buffer == nil {
		buffer = NewLogBuffer(DefaultBufferSize)
	}
	output := options.Output
	if output == nil {
		output = io.Discard
	}
	format := options.Format
	flags := log.LstdFlags
	if format == FormatJSON {
		flags = 0
	} else {
		format = FormatText
	}
	return &Logger{
		buffer:   buffer,
		output:   log.New(output, "", flags),
		format:   format,
		minLevel: normalizeLevel(options.MinLevel),
		hub:      NewLogHub(),
	}
}

func NewLogger(buffer *LogBuffer, minLevel Level) *Logger {
	return New(Options{Buffer: buffer, MinLevel: minLevel, Output: os.Stderr})
}

func NewLoggerWithOutput(buffer *LogBuffer, minLevel Level, output io.Writer) *Logger {
	return New(Options{Buffer: buffer, MinLevel: minLevel, Output: output})
}

// Discard returns a logger that keeps a small buffer and writes nowhere.
func Discard() *Logger {
	return New(Options{Buffer: NewLogBuffer(64), MinLevel: LevelInfo})
}

// OrDiscard lets constructors accept a nil logger.
func OrDiscard(logger *Logger) *Logger {
	if logger == nil {
		return Discard()
	}
	return logger
}

func (l *Logger) Buffer() *LogBuffer {
	if l == nil {
		return nil
	}
	return l.buffer
}

// Subscribe streams entries logged from now on, at or above the logger's
// level. Call the returned func to unsubscribe.
func (l *Logger) Subscribe() (<-chan LogEntry, func()) {
	if l == nil || l.hub == nil {
		return nil, func() {}
	}
	return l.hub.Subscribe(0)
}

func (l *Logger) With(fields map[string]string) *Logger {
	if l == nil {
		return l
	}
	derived := *l
	derived.baseContext = mergeFields(l.baseContext, fields)
	return &derived
}

// Category is shorthand for With(CategoryKey=name).
func (l *Logger) Category(name string) *Logger {
	return l.With(map[string]string{CategoryKey: name})
}

func (l *Logger) Debug(message string, fields map[string]string) {
	l.log(LevelDebug, message, fields)
}

func (l *Logger) Info(message string, fields map[string]string) {
	l.log(LevelInfo, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]string) {
	l.log(LevelWarning, message, fields)
}

func (l *Logger) Error(message string, fields map[string]string) {
	l.log(LevelError, message, fields)
}

func (l *Logger) Enabled(level Level) bool {
	if l == nil {
		return false
	}
	return LevelAtLeast(level, l.minLevel)
}

func (l *Logger) log(level Level, message string, fields map[string]string) {
	if l == nil || !l.Enabled(level) {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Context:   mergeFields(l.baseContext, fields),
	}
	if l.buffer != nil {
		l.buffer.Add(entry)
	}
	if l.hub != nil {
		l.hub.Broadcast(entry)
	}
	if l.output != nil {
		l.output.Print(formatEntry(entry, l.format))
	}
}

func normalizeLevel(level Level) Level {
	switch level {
	case LevelDebug, LevelInfo, LevelWarning, LevelError:
		return level
	default:
		return LevelInfo
	}
}

func levelRank(level Level) int {
	switch level {
	case LevelDebug:
		return 0
	case LevelWarning:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

// LevelAtLeast reports whether level passes a minLevel filter. An empty
// minLevel passes everything.
func LevelAtLeast(level, minLevel Level) bool {
	if minLevel == "" {
		return true
	}
	return levelRank(level) >= levelRank(minLevel)
}

// ParseLevel accepts debug, info, warn/warning and error. Empty means info.
func ParseLevel(value string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return LevelDebug, true
	case "info", "":
		return LevelInfo, true
	case "warning", "warn":
		return LevelWarning, true
	case "error":
		return LevelError, true
	default:
		return "", false
	}
}

// ParseFormat accepts text or json. Empty means text.
func ParseFormat(value string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "text", "":
		return FormatText, true
	case "json":
		return FormatJSON, true
	default:
		return "", false
	}
}

func mergeFields(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	combined := make(map[string]string, len(base)+len(extra))
	for key, value := range base {
		combined[key] = value
	}
	for key, value := range extra {
		combined[key] = value
	}
	return combined
}

func formatEntry(entry LogEntry, format Format) string {
	if format == FormatJSON {
		payload, err := json.Marshal(entry)
		if err == nil {
			return string(payload)
		}
	}

	builder := strings.Builder{}
	builder.WriteString("level=")
	builder.WriteString(string(entry.Level))
	builder.WriteString(" msg=")
	builder.WriteString(strconv.Quote(entry.Message))

	keys := make([]string, 0, len(entry.Context))
	for key := range entry.Context {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		builder.WriteString(fmt.Sprintf(" %s=%s", key, strconv.Quote(entry.Context[key])))
	}
	return builder.String()
}
