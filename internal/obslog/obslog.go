// Package obslog is the ambient logging wrapper used across the core. It
// uses a bracketed-prefix convention over the standard log package rather
// than introducing a structured logging dependency.
package obslog

import (
	"io"
	"log"
	"os"
	"sync"
)

// Logger prefixes every line with a component tag, e.g. "[pipeline:cam1]".
type Logger struct {
	component string
	std       *log.Logger
}

var (
	outputMu      sync.RWMutex
	defaultOutput io.Writer = os.Stderr
)

// SetOutput redirects all loggers, including those created before this call;
// used by tests to capture output.
func SetOutput(w io.Writer) {
	outputMu.Lock()
	defaultOutput = w
	outputMu.Unlock()
}

// sharedOutput forwards every write to the current defaultOutput.
type sharedOutput struct{}

func (sharedOutput) Write(p []byte) (int, error) {
	outputMu.RLock()
	w := defaultOutput
	outputMu.RUnlock()
	return w.Write(p)
}

// New returns a Logger tagged with component, e.g. "pipeline:cam1" or "alarm".
func New(component string) *Logger {
	return &Logger{
		component: component,
		std:       log.New(sharedOutput{}, "", log.LstdFlags|log.Lmicroseconds),
	}
}

func (l *Logger) Infof(format string, args ...any) {
	l.std.Printf("[INFO] [%s] "+format, append([]any{l.component}, args...)...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.std.Printf("[WARN] [%s] "+format, append([]any{l.component}, args...)...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.std.Printf("[ERROR] [%s] "+format, append([]any{l.component}, args...)...)
}

func (l *Logger) Debugf(format string, args ...any) {
	l.std.Printf("[DEBUG] [%s] "+format, append([]any{l.component}, args...)...)
}
