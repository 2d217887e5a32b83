// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Logger defines an interface for writing log messages.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// DefaultLogger logs to the Go stdlib logs.
type DefaultLogger struct{}

var _ Logger = DefaultLogger{}

// Infof implements the Logger.Infof interface.
func (DefaultLogger) Infof(format string, args ...interface{}) {
	_ = log.Output(2, fmt.Sprintf(format, args...))
}

// Errorf implements the Logger.Errorf interface.
func (DefaultLogger) Errorf(format string, args ...interface{}) {
	_ = log.Output(2, fmt.Sprintf(format, args...))
}

// Fatalf implements the Logger.Fatalf interface.
func (DefaultLogger) Fatalf(format string, args ...interface{}) {
	_ = log.Output(2, fmt.Sprintf(format, args...))
	os.Exit(1)
}

// NoopLogger discards all log messages. Fatalf still panics.
type NoopLogger struct{}

// Infof implements the Logger.Infof interface.
func (NoopLogger) Infof(format string, args ...interface{}) {}

// Errorf implements the Logger.Errorf interface.
func (NoopLogger) Errorf(format string, args ...interface{}) {}

// Fatalf implements the Logger.Fatalf interface.
func (NoopLogger) Fatalf(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}

// zapLogger adapts a zap logger to the Logger interface.
type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger returns a Logger that writes through l.
func NewZapLogger(l *zap.Logger) Logger {
	return zapLogger{s: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

// Infof implements the Logger.Infof interface.
func (l zapLogger) Infof(format string, args ...interface{}) {
	l.s.Infof(format, args...)
}

// Errorf implements the Logger.Errorf interface.
func (l zapLogger) Errorf(format string, args ...interface{}) {
	l.s.Errorf(format, args...)
}

// Fatalf implements the Logger.Fatalf interface.
func (l zapLogger) Fatalf(format string, args ...interface{}) {
	l.s.Fatalf(format, args...)
}

// InMemLogger implements Logger using an in-memory buffer. Used for testing.
type InMemLogger struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

var _ Logger = (*InMemLogger)(nil)

// Reset clears the internal buffer.
func (b *InMemLogger) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

// String returns the current internal buffer.
func (b *InMemLogger) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Infof is part of the Logger interface.
func (b *InMemLogger) Infof(format string, args ...interface{}) {
	b.write("", format, args...)
}

// Errorf is part of the Logger interface.
func (b *InMemLogger) Errorf(format string, args ...interface{}) {
	b.write("error: ", format, args...)
}

// Fatalf is part of the Logger interface.
func (b *InMemLogger) Fatalf(format string, args ...interface{}) {
	b.write("fatal: ", format, args...)
	panic(errors.Errorf(format, args...))
}

func (b *InMemLogger) write(prefix, format string, args ...interface{}) {
	s := fmt.Sprintf(format, args...)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.WriteString(prefix)
	b.buf.WriteString(s)
	if n := len(s); n == 0 || s[n-1] != '\n' {
		b.buf.WriteByte('\n')
	}
}
