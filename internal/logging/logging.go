// Package logging sets up the process-wide slog.Logger. It mirrors
// original_source's extractor.go, which logs to both stdout and a file
// via io.MultiWriter when a log file is configured, falling back to
// stdout alone otherwise.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Setup installs a text-handler slog.Logger as the default logger, and
// returns a close func the caller should defer.
func Setup(service, logFile string) (closeFn func()) {
	writers := []io.Writer{os.Stdout}
	closeFn = func() {}

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			slog.Warn("could not open log file, using stdout only", slog.String("path", logFile), slog.Any("error", err))
		} else {
			writers = append(writers, f)
			closeFn = func() { _ = f.Close() }
		}
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(handler).With(slog.String("service", service))
	slog.SetDefault(logger)
	return closeFn
}
