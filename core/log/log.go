// SPDX-FileCopyrightText: Copyright (C) 2017  Yawning Angel, 2026 The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package log provides a logging backend, based around the go-logging package.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/op/go-logging.v1"
)

const (
	logFormat = "%{time:15:04:05.000} %{level:.4s} %{module}: %{message}"
	fileMode  = 0600
)

var levels = map[string]logging.Level{
	"ERROR":   logging.ERROR,
	"WARNING": logging.WARNING,
	"NOTICE":  logging.NOTICE,
	"INFO":    logging.INFO,
	"DEBUG":   logging.DEBUG,
}

// ParseLevel maps a case insensitive level name to a go-logging level.
func ParseLevel(l string) (logging.Level, error) {
	lvl, ok := levels[strings.ToUpper(l)]
	if !ok {
		return logging.CRITICAL, fmt.Errorf("log: invalid level: '%v'", l)
	}
	return lvl, nil
}

// ValidLevel returns true iff l names a supported log level.
func ValidLevel(l string) bool {
	_, err := ParseLevel(l)
	return err == nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// Backend is a log backend shared by every component of a session.  The
// output can be swapped under it with Rotate while loggers stay valid.
type Backend struct {
	sync.RWMutex

	leveled logging.LeveledBackend
	out     io.WriteCloser

	file      string
	level     logging.Level
	overrides map[string]logging.Level
	disable   bool
}

// New initializes a logging backend.  An empty file logs to stdout.
func New(file string, level string, disable bool) (*Backend, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	b := &Backend{
		file:      file,
		level:     lvl,
		overrides: make(map[string]logging.Level),
		disable:   disable,
	}
	if err = b.open(); err != nil {
		return nil, err
	}
	return b, nil
}

// NewDiscard returns a backend that drops every record.  Components fall
// back to it when the caller does not supply a backend.
func NewDiscard() *Backend {
	b, err := New("", "ERROR", true)
	if err != nil {
		panic("BUG: log: discard backend: " + err.Error())
	}
	return b
}

func (b *Backend) open() error {
	switch {
	case b.disable:
		b.out = nopCloser{io.Discard}
	case b.file == "":
		b.out = nopCloser{os.Stdout}
	default:
		f, err := os.OpenFile(b.file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, fileMode)
		if err != nil {
			return fmt.Errorf("log: failed to open %v: %w", b.file, err)
		}
		b.out = f
	}

	formatted := logging.NewBackendFormatter(
		logging.NewLogBackend(b.out, "", 0),
		logging.MustStringFormatter(logFormat),
	)
	b.leveled = logging.AddModuleLevel(formatted)
	b.leveled.SetLevel(b.level, "")
	for module, lvl := range b.overrides {
		b.leveled.SetLevel(lvl, module)
	}
	return nil
}

// GetLogger returns a per-module logger that writes to the backend.
func (b *Backend) GetLogger(module string) *logging.Logger {
	l := logging.MustGetLogger(module)
	l.SetBackend(b)
	return l
}

// SetModuleLevel overrides the level of a single module, e.g. to trace
// the handshake without the noise of every RPC.  Overrides survive Rotate.
func (b *Backend) SetModuleLevel(module, level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}

	b.Lock()
	defer b.Unlock()
	b.overrides[module] = lvl
	b.leveled.SetLevel(lvl, module)
	return nil
}

// Log implements logging.Backend.
func (b *Backend) Log(level logging.Level, calldepth int, record *logging.Record) error {
	b.RLock()
	defer b.RUnlock()
	return b.leveled.Log(level, calldepth, record)
}

// GetLevel implements logging.Leveled.
func (b *Backend) GetLevel(module string) logging.Level {
	b.RLock()
	defer b.RUnlock()
	return b.leveled.GetLevel(module)
}

// SetLevel implements logging.Leveled.
func (b *Backend) SetLevel(level logging.Level, module string) {
	b.RLock()
	defer b.RUnlock()
	b.leveled.SetLevel(level, module)
}

// IsEnabledFor implements logging.Leveled.
func (b *Backend) IsEnabledFor(level logging.Level, module string) bool {
	b.RLock()
	defer b.RUnlock()
	return b.leveled.IsEnabledFor(level, module)
}

// Rotate reopens the log file, for use on SIGHUP style log rotation.
func (b *Backend) Rotate() error {
	b.Lock()
	defer b.Unlock()

	if err := b.out.Close(); err != nil {
		return err
	}
	return b.open()
}

// Close releases the log file, if any.
func (b *Backend) Close() error {
	b.Lock()
	defer b.Unlock()
	return b.out.Close()
}
