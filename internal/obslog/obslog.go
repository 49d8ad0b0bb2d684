package obslog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects where and how the process logs.
type Options struct {
	Level   string // debug, info, warn, error
	Format  string // legacy, json, console
	Console bool
	File    string // empty disables file output
	Caller  bool
}

// DefaultLogFile is used when LOG_TO_FILE is set without LOG_FILE.
const DefaultLogFile = "logs/cube-duel.log"

// DefaultOptions logs info and above in the legacy layout to stdout only.
func DefaultOptions() Options {
	return Options{Level: "info", Format: "legacy", Console: true}
}

var global atomic.Pointer[zap.Logger]

func init() { global.Store(zap.NewNop()) }

// L returns the process logger. It is a no-op logger until Init runs.
func L() *zap.Logger { return global.Load() }

// Set replaces the process logger; tests use it with zaptest/observer cores.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	global.Store(l)
}

// Init builds the logger from opts and installs it.
func Init(opts Options) error {
	level := parseLevel(opts.Level)
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	var cores []zapcore.Core

	if opts.Console {
		cores = append(cores, zapcore.NewCore(encoder(format), zapcore.AddSync(os.Stdout), level))
	}
	if path := strings.TrimSpace(opts.File); path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create log dir: %w", err)
			}
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(encoder(format), zapcore.AddSync(f), level))
	}
	if len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(encoder(format), zapcore.AddSync(os.Stderr), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zapcore.ErrorLevel))
	if opts.Caller || format == "legacy" {
		logger = logger.WithOptions(zap.AddCaller())
	}
	Set(logger)
	return nil
}

// InitFromEnv reads LOG_LEVEL, LOG_FORMAT, LOG_TO_CONSOLE, LOG_TO_FILE, LOG_FILE
// and LOG_CALLER.
func InitFromEnv() error {
	opts := DefaultOptions()
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		opts.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_FORMAT")); v != "" {
		opts.Format = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_TO_CONSOLE")); v != "" {
		opts.Console = strings.EqualFold(v, "true")
	}
	opts.File = strings.TrimSpace(os.Getenv("LOG_FILE"))
	if opts.File == "" && strings.EqualFold(os.Getenv("LOG_TO_FILE"), "true") {
		opts.File = DefaultLogFile
	}
	opts.Caller = strings.EqualFold(os.Getenv("LOG_CALLER"), "true")
	return Init(opts)
}

func encoder(format string) zapcore.Encoder {
	switch format {
	case "json":
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(cfg)
	case "console":
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(cfg)
	default:
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.ConsoleSeparator = " | "
		return zapcore.NewConsoleEncoder(cfg)
	}
}

func parseLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
