// Package nlog is the fabric's process-wide leveled logger.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
	LevelDebug
)

var (
	mu  sync.RWMutex
	std = logrus.New()
	lvl = LevelInfo
)

func init() {
	std.SetOutput(os.Stderr)
	std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SetLevel adjusts the global verbosity; safe to call concurrently.
func SetLevel(l Level) {
	mu.Lock()
	lvl = l
	mu.Unlock()
}

func enabled(l Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return l <= lvl
}

func Infof(format string, args ...any) {
	if enabled(LevelInfo) {
		std.Infof(format, args...)
	}
}

func Infoln(args ...any) {
	if enabled(LevelInfo) {
		std.Infoln(args...)
	}
}

func Warningf(format string, args ...any) {
	if enabled(LevelWarning) {
		std.Warnf(format, args...)
	}
}

func Warningln(args ...any) {
	if enabled(LevelWarning) {
		std.Warnln(args...)
	}
}

func Errorf(format string, args ...any) {
	if enabled(LevelError) {
		std.Errorf(format, args...)
	}
}

func Errorln(args ...any) {
	if enabled(LevelError) {
		std.Errorln(args...)
	}
}

func Debugf(format string, args ...any) {
	if enabled(LevelDebug) {
		std.Debugf(format, args...)
	}
}

func Debugln(args ...any) {
	if enabled(LevelDebug) {
		std.Debugln(args...)
	}
}

// WithField returns a field-scoped logger, e.g. for per-rank or per-entity context.
func WithField(key string, value any) *logrus.Entry {
	return std.WithField(key, value)
}
