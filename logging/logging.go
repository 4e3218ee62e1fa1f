// Package logging builds the phuslu/log loggers shared by every component.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/phuslu/log"
)

// Config selects the level, format and optional file output of a logger.
type Config struct {
	Level    string
	Format   string
	FilePath string
}

// New creates a logger from cfg. Console output always goes to stderr because
// stdout carries the stdio protocol stream.
func New(cfg Config) *log.Logger {
	var console log.Writer
	if strings.EqualFold(cfg.Format, "json") {
		console = &log.IOWriter{Writer: os.Stderr}
	} else {
		console = &log.ConsoleWriter{Writer: os.Stderr}
	}

	writer := console
	if cfg.FilePath != "" {
		writer = &log.MultiEntryWriter{
			console,
			&log.FileWriter{
				Filename:   cfg.FilePath,
				MaxSize:    100 * 1024 * 1024,
				MaxBackups: 3,
			},
		}
	}

	return &log.Logger{
		Level:      parseLevel(cfg.Level),
		TimeFormat: "2006-01-02T15:04:05Z07:00",
		Writer:     writer,
	}
}

// NewWithOutput creates a JSON logger writing to w.
func NewWithOutput(level string, w io.Writer) *log.Logger {
	return &log.Logger{
		Level:  parseLevel(level),
		Writer: &log.IOWriter{Writer: w},
	}
}

// NewSilent returns a logger that discards everything.
func NewSilent() *log.Logger {
	return NewWithOutput("error", io.Discard)
}

// OrSilent returns logger, or a silent logger when it is nil.
func OrSilent(logger *log.Logger) *log.Logger {
	if logger == nil {
		return NewSilent()
	}
	return logger
}

func parseLevel(level string) log.Level {
	if level == "" {
		return log.InfoLevel
	}
	return log.ParseLevel(strings.ToLower(level))
}
