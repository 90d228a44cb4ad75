// Package logger holds the zerolog logger shared by every component. Setting
// it also reconfigures gnark's internal logger so circuit compilation writes to
// the same sink at the same level.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	gnarklogger "github.com/consensys/gnark/logger"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = New("info", "auto", os.Stderr)
)

// Logger returns the shared logger.
func Logger() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := logger
	return &l
}

// Set replaces the shared logger.
func Set(l zerolog.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
	gnarklogger.Set(l)
}

// Disable discards all output.
func Disable() {
	Set(zerolog.Nop())
	gnarklogger.Disable()
}

// New builds a logger writing to w. format is "console", "json" or "auto";
// auto picks console output when w is a terminal.
func New(level, format string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if format == "console" || (format == "auto" && isTerminal(w)) {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Configure validates level and format and installs the resulting logger.
func Configure(level, format string, w io.Writer) error {
	if _, err := zerolog.ParseLevel(strings.ToLower(level)); err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	switch format {
	case "console", "json", "auto":
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	Set(New(level, format, w))
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
