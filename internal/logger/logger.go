// SPDX-FileCopyrightText: 2025 The codegreen Authors
// SPDX-License-Identifier: Apache-2.0

// Package logger builds the process-wide slog.Logger from the configured
// level and format.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
)

var logLevel slog.Level

// New builds a logger writing to w. Unknown levels fall back to info;
// unknown formats are a programming error since config validates them.
func New(level, format string, w io.Writer) *slog.Logger {
	logLevel = parseLogLevel(level)
	return slog.New(handlerForFormat(format, logLevel, w))
}

// LogLevel returns the level the last constructed logger was built with
func LogLevel() slog.Level {
	return logLevel
}

func handlerForFormat(format string, logLevel slog.Level, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: true,
	}

	switch format {
	case "json":
		return slog.NewJSONHandler(w, opts)

	case "text":
		opts.ReplaceAttr = trimSourcePath
		return slog.NewTextHandler(w, opts)

	default:
		panic(fmt.Sprintf("invalid format: %s", format))
	}
}

// trimSourcePath shortens the source attribute to its last two directories
// plus the filename so text logs stay readable
func trimSourcePath(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.SourceKey {
		return a
	}
	src, ok := a.Value.Any().(*slog.Source)
	if !ok {
		return a
	}

	parts := strings.Split(filepath.ToSlash(src.File), "/")
	if len(parts) > 3 {
		parts = parts[len(parts)-3:]
	}
	src.File = filepath.Join(parts...)
	return a
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
