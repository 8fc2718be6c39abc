// Package logging provides structured logging with file and console output.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogEntry is one captured log line, served by the control API.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
	Data      string `json:"data,omitempty"`
}

// Logger wraps zerolog with file output and log history
type Logger struct {
	zlog    zerolog.Logger
	file    *os.File
	logPath string
	history *historyWriter
}

// Config holds logger configuration
type Config struct {
	Dir        string `mapstructure:"dir"`         // log file directory; empty disables the file
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	MaxHistory int    `mapstructure:"max_history"` // entries kept in memory
	Console    bool   `mapstructure:"console"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Dir:        filepath.Join(home, ".speechsync", "logs"),
		Level:      "info",
		MaxHistory: 1000,
		Console:    true,
	}
}

// New creates a Logger writing JSON to a dated file, pretty lines to the
// console when enabled, and every entry to the in-memory history.
func New(cfg *Config) (*Logger, error) {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg *Config, console io.Writer) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 1000
	}

	history := &historyWriter{max: cfg.MaxHistory}
	writers := []io.Writer{history}

	l := &Logger{history: history}

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		logFileName := fmt.Sprintf("speechsync_%s.log", time.Now().Format("2006-01-02"))
		l.logPath = filepath.Join(cfg.Dir, logFileName)

		file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = file
		writers = append(writers, file)
	}

	if cfg.Console && console != nil {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        console,
			TimeFormat: "15:04:05",
		})
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	l.zlog = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Str("app", "speechsync").
		Logger()

	l.zlog.Info().
		Str("component", "logging").
		Str("logFile", l.logPath).
		Str("level", level.String()).
		Msg("Logger initialized")

	return l, nil
}

// SetOnLog sets a callback for real-time log streaming
func (l *Logger) SetOnLog(fn func(LogEntry)) {
	l.history.mu.Lock()
	defer l.history.mu.Unlock()
	l.history.onLog = fn
}

// History returns up to limit of the most recent entries; limit <= 0 means all.
func (l *Logger) History(limit int) []LogEntry {
	return l.history.recent(limit)
}

// LogPath returns the current log file path, empty when file output is off.
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close closes the log file
func (l *Logger) Close() error {
	l.zlog.Info().Str("component", "logging").Msg("Logger shutting down")
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Component returns a zerolog.Logger with the component field set
func (l *Logger) Component(name string) zerolog.Logger {
	return l.zlog.With().Str("component", name).Logger()
}

// Zerolog returns the underlying zerolog.Logger
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// historyWriter keeps the newest JSON log lines as LogEntry values.
type historyWriter struct {
	mu      sync.RWMutex
	entries []LogEntry
	max     int
	onLog   func(LogEntry)
}

func (h *historyWriter) Write(p []byte) (int, error) {
	var fields map[string]any
	if err := json.Unmarshal(p, &fields); err != nil {
		return len(p), nil
	}

	entry := LogEntry{
		Timestamp: time.Now().Format("15:04:05.000"),
		Level:     popString(fields, zerolog.LevelFieldName),
		Component: popString(fields, "component"),
		Message:   popString(fields, zerolog.MessageFieldName),
	}
	delete(fields, zerolog.TimestampFieldName)
	delete(fields, "app")
	entry.Data = formatData(fields)

	h.mu.Lock()
	h.entries = append(h.entries, entry)
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
	onLog := h.onLog
	h.mu.Unlock()

	if onLog != nil {
		go onLog(entry)
	}
	return len(p), nil
}

func (h *historyWriter) recent(limit int) []LogEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 || limit > len(h.entries) {
		limit = len(h.entries)
	}
	result := make([]LogEntry, limit)
	copy(result, h.entries[len(h.entries)-limit:])
	return result
}

func popString(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	delete(fields, key)
	return fmt.Sprint(v)
}

// formatData renders the remaining fields as sorted key=value pairs
func formatData(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return strings.Join(parts, ", ")
}
