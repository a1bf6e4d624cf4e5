// Package logging constructs the prefixed loggers used across tipsync.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a logger writing to stderr, or to a size-rotated file when
// logFile is non-empty. The prefix is wrapped in brackets, matching the
// daemon log style ("[engine] ", "[hub] ").
func New(prefix, logFile string) *log.Logger {
	var w io.Writer = os.Stderr
	if logFile != "" {
		w = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	return log.New(w, "["+prefix+"] ", log.LstdFlags)
}

// Discard returns a logger that drops everything. Used by tests and by
// commands that only print results.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}
