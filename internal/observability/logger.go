// Package observability owns the process-wide loggers.
package observability

import (
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logging profiles.
const (
	ProfileConsole    = "console"
	ProfileStructured = "structured"
)

var (
	mu sync.Mutex

	// CLILogger is the command logger. It is a no-op until InitCLILogger
	// or SetCLILogger runs.
	CLILogger = zap.NewNop()
)

// Options configures NewLogger.
type Options struct {
	// Name is attached to every entry as the logger name.
	Name string

	// Level is debug, info, warn or error. Empty is info.
	Level string

	// Profile is console or structured (JSON). Empty is console.
	Profile string

	// Output defaults to stderr. Stdout is reserved for JSONL records.
	Output io.Writer
}

// NewLogger builds a zap logger from opts.
func NewLogger(opts Options) (*zap.Logger, error) {
	level := zap.InfoLevel
	if opts.Level != "" {
		l, err := zapcore.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, err
		}
		level = l
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var enc zapcore.Encoder
	switch strings.ToLower(opts.Profile) {
	case ProfileStructured:
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(cfg)
	default:
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		if f, ok := out.(*os.File); !ok || !isTerminal(f) {
			cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		enc = zapcore.NewConsoleEncoder(cfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(out), level)
	logger := zap.New(core, zap.AddStacktrace(zap.DPanicLevel))
	if opts.Name != "" {
		logger = logger.Named(opts.Name)
	}
	return logger, nil
}

// InitCLILogger installs a console CLILogger at info, or debug when
// verbose.
func InitCLILogger(name string, verbose bool) {
	level := "info"
	if verbose {
		level = "debug"
	}
	// The level is one of two valid constants.
	logger, _ := NewLogger(Options{Name: name, Level: level})
	SetCLILogger(logger)
}

// SetCLILogger replaces CLILogger, syncing the previous logger.
func SetCLILogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	mu.Lock()
	defer mu.Unlock()
	_ = CLILogger.Sync()
	CLILogger = logger
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
