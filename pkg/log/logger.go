// Package log provides Conary's structured logger: leveled, field-carrying,
// text or JSON output, with per-component level overrides and optional
// file rotation. No external logging library is used, matching the
// teacher's own choice to hand-roll this concern.
package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Format selects the output encoding.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Entry is a single emitted log record.
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
}

// Logger is a structured, leveled logger.
type Logger struct {
	mu              sync.RWMutex
	level           Level
	output          io.Writer
	format          Format
	fields          map[string]interface{}
	includeCaller   bool
	componentLevels map[string]Level
	rotator         *LogRotator
}

// Config configures a new Logger.
type Config struct {
	Level         Level
	Output        io.Writer
	Format        Format
	IncludeCaller bool
	Rotation      *RotationConfig
}

// DefaultConfig returns sane defaults: INFO level, text format, to stdout.
func DefaultConfig() *Config {
	return &Config{
		Level:         INFO,
		Output:        os.Stdout,
		Format:        FormatText,
		IncludeCaller: true,
	}
}

// New creates a Logger from the given configuration.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	l := &Logger{
		level:           cfg.Level,
		output:          cfg.Output,
		format:          cfg.Format,
		fields:          make(map[string]interface{}),
		includeCaller:   cfg.IncludeCaller,
		componentLevels: make(map[string]Level),
	}
	if l.output == nil {
		l.output = os.Stdout
	}
	if cfg.Rotation != nil {
		rotator, err := NewLogRotator(cfg.Rotation)
		if err != nil {
			return nil, fmt.Errorf("create log rotator: %w", err)
		}
		l.rotator = rotator
		l.output = rotator
	}
	return l, nil
}

// WithField returns a derived logger carrying an additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a derived logger carrying additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	return &Logger{
		level:           l.level,
		output:          l.output,
		format:          l.format,
		fields:          merged,
		includeCaller:   l.includeCaller,
		componentLevels: l.componentLevels,
		rotator:         l.rotator,
	}
}

// WithComponent is shorthand for WithField("component", name).
func (l *Logger) WithComponent(name string) *Logger {
	return l.WithField("component", name)
}

// SetComponentLevel overrides the effective level for a named component.
func (l *Logger) SetComponentLevel(component string, level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.componentLevels[component] = level
}

// SetLevel sets the logger's default level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) enabled(level Level) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if comp, ok := l.fields["component"]; ok {
		if name, ok := comp.(string); ok {
			if compLevel, exists := l.componentLevels[name]; exists {
				return level >= compLevel
			}
		}
	}
	return level >= l.level
}

func (l *Logger) emit(level Level, message string, extra map[string]interface{}) {
	if !l.enabled(level) {
		return
	}

	entry := Entry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Message:   message,
		Fields:    make(map[string]interface{}),
	}

	l.mu.RLock()
	for k, v := range l.fields {
		entry.Fields[k] = v
	}
	l.mu.RUnlock()
	for k, v := range extra {
		entry.Fields[k] = v
	}

	if l.includeCaller {
		if _, file, line, ok := runtime.Caller(2); ok {
			parts := strings.Split(file, "/")
			entry.Caller = fmt.Sprintf("%s:%d", parts[len(parts)-1], line)
		}
	}

	var out string
	if l.format == FormatJSON {
		if raw, err := json.Marshal(entry); err == nil {
			out = string(raw) + "\n"
		} else {
			out = l.formatText(entry)
		}
	} else {
		out = l.formatText(entry)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.output.Write([]byte(out))
}

func (l *Logger) formatText(entry Entry) string {
	var sb strings.Builder
	sb.WriteString(entry.Timestamp.Format("2006-01-02 15:04:05.000"))
	sb.WriteString(" [")
	sb.WriteString(entry.Level)
	sb.WriteString("] ")
	if entry.Caller != "" {
		sb.WriteString("[")
		sb.WriteString(entry.Caller)
		sb.WriteString("] ")
	}
	sb.WriteString(entry.Message)
	if len(entry.Fields) > 0 {
		sb.WriteString(" {")
		first := true
		for k, v := range entry.Fields {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			fmt.Fprintf(&sb, "%s=%v", k, v)
		}
		sb.WriteString("}")
	}
	sb.WriteString("\n")
	return sb.String()
}

func (l *Logger) Trace(message string, fields ...map[string]interface{}) {
	l.emit(TRACE, message, firstOrNil(fields))
}

func (l *Logger) Debug(message string, fields ...map[string]interface{}) {
	l.emit(DEBUG, message, firstOrNil(fields))
}

func (l *Logger) Info(message string, fields ...map[string]interface{}) {
	l.emit(INFO, message, firstOrNil(fields))
}

func (l *Logger) Warn(message string, fields ...map[string]interface{}) {
	l.emit(WARN, message, firstOrNil(fields))
}

func (l *Logger) Error(message string, fields ...map[string]interface{}) {
	l.emit(ERROR, message, firstOrNil(fields))
}

// Fatal logs at FATAL and terminates the process.
func (l *Logger) Fatal(message string, fields ...map[string]interface{}) {
	l.emit(FATAL, message, firstOrNil(fields))
	os.Exit(1)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.emit(DEBUG, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.emit(INFO, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.emit(WARN, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.emit(ERROR, fmt.Sprintf(format, args...), nil)
}

func firstOrNil(fieldMaps []map[string]interface{}) map[string]interface{} {
	if len(fieldMaps) > 0 {
		return fieldMaps[0]
	}
	return nil
}

// Close releases any rotation resources held by the logger.
func (l *Logger) Close() error {
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

// Sync flushes buffered output.
func (l *Logger) Sync() error {
	if l.rotator != nil {
		return l.rotator.Sync()
	}
	return nil
}
