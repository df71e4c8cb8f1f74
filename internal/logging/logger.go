// Copyright (c) 2026 Cartbridge Team
// Cartbridge - smart cart payment status bridge
// This source code is licensed under the MIT license found in the LICENSE file.

package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	clog "github.com/charmbracelet/log"
	"golang.org/x/term"
)

// L is the package-level logger. Components should derive their own logger
// with L.With(...) and receive it explicitly.
var L = clog.New(os.Stderr)

// Init configures L with the given level and format and writes to w. Valid
// formats are "auto", "text", "json" and "logfmt"; "auto" picks text when w is
// a terminal and json otherwise.
func Init(level, format string, w io.Writer) error {
	if w == nil {
		w = os.Stderr
	}
	lvl := clog.InfoLevel
	if s := strings.TrimSpace(level); s != "" {
		parsed, err := clog.ParseLevel(strings.ToLower(s))
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}
	formatter, err := parseFormatter(format, w)
	if err != nil {
		return err
	}
	L = clog.NewWithOptions(w, clog.Options{
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       formatter,
	})
	return nil
}

func parseFormatter(format string, w io.Writer) (clog.Formatter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "auto":
		if isTerminal(w) {
			return clog.TextFormatter, nil
		}
		return clog.JSONFormatter, nil
	case "text":
		return clog.TextFormatter, nil
	case "json":
		return clog.JSONFormatter, nil
	case "logfmt":
		return clog.LogfmtFormatter, nil
	default:
		return clog.TextFormatter, fmt.Errorf("invalid log format %q", format)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Debugf logs a debug-level formatted message.
func Debugf(format string, v ...interface{}) {
	L.Debug(fmt.Sprintf(format, v...))
}

// Infof logs an info-level formatted message.
func Infof(format string, v ...interface{}) {
	L.Info(fmt.Sprintf(format, v...))
}

// Warnf logs a warning-level formatted message.
func Warnf(format string, v ...interface{}) {
	L.Warn(fmt.Sprintf(format, v...))
}

// Errorf logs an error-level formatted message.
func Errorf(format string, v ...interface{}) {
	L.Error(fmt.Sprintf(format, v...))
}

// Discard returns a logger that drops everything. Handy for tests.
func Discard() *clog.Logger {
	return clog.New(io.Discard)
}
