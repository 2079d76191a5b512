// Package logging configures the standard logger and adds a level gate on
// top of it.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	}
	return fmt.Sprintf("Level(%d)", int32(l))
}

func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

var current atomic.Int32

func init() { current.Store(int32(LevelInfo)) }

func SetLevel(l Level) { current.Store(int32(l)) }

func Enabled(l Level) bool { return l >= Level(current.Load()) }

// Logf writes to lg (log.Default() when nil) if level is enabled. Lines
// below INFO and above it are tagged with the level name.
func Logf(lg *log.Logger, level Level, format string, args ...any) {
	if !Enabled(level) {
		return
	}
	if lg == nil {
		lg = log.Default()
	}
	if level != LevelInfo {
		format = level.String() + " " + format
	}
	lg.Printf(format, args...)
}

type Options struct {
	// File, when set, receives a copy of every line (append mode).
	File  string
	Level string
	// Quiet drops stderr output; the file still gets everything.
	Quiet bool
}

// Setup points the standard logger at stderr plus the optional file and
// sets the level. The returned func closes the file.
func Setup(opts Options) (func() error, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	SetLevel(lvl)

	var writers []io.Writer
	if !opts.Quiet {
		writers = append(writers, os.Stderr)
	}

	closer := func() error { return nil }
	if opts.File != "" {
		if dir := filepath.Dir(opts.File); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create log dir: %w", err)
			}
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f.Close
	}

	switch len(writers) {
	case 0:
		log.SetOutput(io.Discard)
	case 1:
		log.SetOutput(writers[0])
	default:
		log.SetOutput(io.MultiWriter(writers...))
	}
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	return closer, nil
}
