// Package logger configures the zerolog logger shared by the report tool:
// a rotated JSON log file plus optional human-readable console output.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps zerolog.Logger and owns the rotating file behind it.
type Logger struct {
	zerolog.Logger
	file io.Closer
}

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	LogDir     string
	FileName   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Console    bool      // Enable console output
	ConsoleOut io.Writer // Console destination, os.Stdout when nil
}

func (c *Config) applyDefaults() {
	if c.LogDir == "" {
		c.LogDir = "./logs"
	}
	if c.FileName == "" {
		c.FileName = "bmsreport.log"
	}
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = 10
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = 5
	}
	if c.MaxAgeDays == 0 {
		c.MaxAgeDays = 30
	}
	if c.ConsoleOut == nil {
		c.ConsoleOut = os.Stdout
	}
}

// New creates a new logger instance. If the log directory cannot be
// created it falls back to stderr.
func New(cfg Config) *Logger {
	cfg.applyDefaults()
	level := parseLogLevel(cfg.Level)

	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return &Logger{
			Logger: zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger(),
		}
	}

	fileWriter := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, cfg.FileName),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}

	writers := []io.Writer{fileWriter}
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        cfg.ConsoleOut,
			TimeFormat: "2006-01-02 15:04:05",
		})
	}

	zl := zerolog.New(io.MultiWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Caller().
		Logger()

	return &Logger{Logger: zl, file: fileWriter}
}

// NewWriter creates a logger that writes JSON lines to w with no file
// behind it.
func NewWriter(w io.Writer, level string) *Logger {
	return &Logger{
		Logger: zerolog.New(w).Level(parseLogLevel(level)).With().Timestamp().Logger(),
	}
}

// parseLogLevel converts string log level to zerolog level
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Close closes the rotating log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// WithField adds a field to the logger
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{Logger: l.Logger.With().Interface(key, value).Logger(), file: l.file}
}

// WithFields adds multiple fields to the logger
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.Logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{Logger: ctx.Logger(), file: l.file}
}
