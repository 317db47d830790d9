// Package logging builds the bracketed-prefix loggers used across the
// engine, optionally teeing them into a rotating log file.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the shared log sink.
type Options struct {
	// File enables a rotating log file in addition to stderr. Empty
	// disables the file sink.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Quiet drops the stderr stream, keeping only the file sink.
	// Used by watch-mode rendering so log lines do not tear the
	// board.
	Quiet bool
}

// Factory hands out loggers that share one sink, so every package
// writes to the same file with its own prefix.
type Factory struct {
	w      io.Writer
	closer io.Closer
}

// NewFactory builds the sink described by opts.
func NewFactory(opts Options) *Factory {
	f := &Factory{w: os.Stderr}
	if opts.Quiet {
		f.w = io.Discard
	}

	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		}
		f.closer = rotator
		if opts.Quiet {
			f.w = rotator
		} else {
			f.w = io.MultiWriter(os.Stderr, rotator)
		}
	}
	return f
}

// Logger returns a logger writing to the shared sink with a
// bracketed prefix, e.g. Logger("store") prefixes "[store] ".
func (f *Factory) Logger(prefix string) *log.Logger {
	return log.New(f.w, fmt.Sprintf("[%s] ", prefix), log.LstdFlags)
}

// Writer exposes the shared sink for output that bypasses the log
// package.
func (f *Factory) Writer() io.Writer {
	return f.w
}

// Close flushes and closes the file sink, if any.
func (f *Factory) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}
