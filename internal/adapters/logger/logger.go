// Package logger implements a logging adapter using log/slog.
package logger

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"go.trai.ch/docsync/internal/core/ports"
)

// messager describes an error that can report its own message without the chain.
// zerr errors implement it.
type messager interface {
	Message() string
}

// Logger implements ports.Logger using log/slog.
type Logger struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	jsonMode bool
	output   io.Writer
}

// New creates a new Logger writing human-readable text to stderr.
func New() *Logger {
	return NewWithWriter(os.Stderr, false)
}

// NewWithWriter creates a Logger writing to w, as JSON when jsonMode is set.
func NewWithWriter(w io.Writer, jsonMode bool) *Logger {
	l := &Logger{}
	l.configure(w, jsonMode)
	return l
}

var _ ports.Logger = (*Logger)(nil)

// SetOutput updates the logger's output destination, preserving the JSON mode.
// If w is nil, os.Stderr is used.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.configure(w, l.jsonMode)
}

// SetJSON switches between JSON and text logging, preserving the output.
func (l *Logger) SetJSON(enable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.configure(l.output, enable)
}

func (l *Logger) configure(w io.Writer, jsonMode bool) {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	var handler slog.Handler
	if jsonMode {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	l.output = w
	l.jsonMode = jsonMode
	l.logger = slog.New(handler)
}

// Info logs an informational message.
func (l *Logger) Info(msg string, args ...any) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.Info(msg, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...any) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.Warn(msg, args...)
}

// Error logs an error. The message is the first link of the error chain; the full chain
// is attached under "error".
func (l *Logger) Error(err error, args ...any) {
	if err == nil {
		return
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	attrs := append([]any{"error", err.Error()}, args...)
	if causes := causeChain(err); len(causes) > 1 {
		attrs = append(attrs, "causes", strings.Join(causes[1:], " -> "))
	}
	l.logger.Error(headline(err), attrs...)
}

func headline(err error) string {
	if m, ok := err.(messager); ok {
		return m.Message()
	}
	msg, _, _ := strings.Cut(err.Error(), "\n")
	return msg
}

// causeChain walks the zerr chain collecting each link's own message.
func causeChain(err error) []string {
	var messages []string
	for current := err; current != nil; {
		m, ok := current.(messager)
		if !ok {
			messages = append(messages, current.Error())
			break
		}
		messages = append(messages, m.Message())
		current = errors.Unwrap(current)
	}
	return messages
}
