// Package logging configures the controller's structured logger, the way
// the teacher's MAPE service wires slog: both stdout and an append-only
// log file through an io.MultiWriter. It extends that shape with a second,
// Warn-and-above-only sink, because spec §7's error classification already
// splits every hvacerr.Kind into recoverable-logs-at-Warn and
// fatal-logs-at-Error — an operator tailing the controller cares about
// that split trail far more than about the Info-level transition and
// service-call lines the main log fills up with.
package logging

import (
	"context"
	"log"
	"log/slog"
	"os"
	"path/filepath"
)

const alertsFileName = "hvac-controller.alerts.log"

// Init configures slog to log to both stdout and a log file under
// HVAC_LOG_DIR (default "./logs"), plus a parallel alerts file holding
// only Warn-and-above records. HVAC_LOG_LEVEL overrides the minimum level
// written to the main log and stdout ("debug", "info", "warn", "error";
// default "info") without affecting the alerts file, which always keeps
// the Warn floor. It returns the logger and the opened main log file so
// callers can Close() it on shutdown; on failure to open the main log
// file it falls back to stdout only.
func Init() (*slog.Logger, *os.File) {
	logDir := os.Getenv("HVAC_LOG_DIR")
	if logDir == "" {
		logDir = "./logs"
	}
	_ = os.MkdirAll(logDir, 0o755)

	level := parseLevel(os.Getenv("HVAC_LOG_LEVEL"))

	mainPath := filepath.Join(logDir, "hvac-controller.log")
	mainFile, err := os.OpenFile(mainPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
		logger.Error("failed to open log file; falling back to stdout only", "error", err)
		return logger, nil
	}

	mw := NewMultiWriter(mainFile, os.Stdout)
	mainHandler := slog.NewTextHandler(mw, &slog.HandlerOptions{Level: level})

	var handler slog.Handler = mainHandler
	alertsPath := filepath.Join(logDir, alertsFileName)
	if alertsFile, err := os.OpenFile(alertsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err != nil {
		slog.New(mainHandler).Warn("failed to open alerts log; alerts will only appear in the main log", "error", err)
	} else {
		handler = &splitHandler{
			primary: mainHandler,
			alerts:  slog.NewTextHandler(alertsFile, &slog.HandlerOptions{Level: slog.LevelWarn}),
		}
	}

	logger := slog.New(handler)

	// keep the legacy stdlib logger (used by vendored/third-party code paths)
	// aligned to the same sink.
	log.SetOutput(mw)
	return logger, mainFile
}

func parseLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// splitHandler fans every record through primary and, when its level is
// Warn or above, also through alerts — the dedicated trail for the
// recoverable/fatal hvacerr.Kind entries of spec §7.
type splitHandler struct {
	primary slog.Handler
	alerts  slog.Handler
}

func (h *splitHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.alerts.Enabled(ctx, level)
}

func (h *splitHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.primary.Enabled(ctx, r.Level) {
		if err := h.primary.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	if h.alerts.Enabled(ctx, r.Level) {
		return h.alerts.Handle(ctx, r.Clone())
	}
	return nil
}

func (h *splitHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &splitHandler{primary: h.primary.WithAttrs(attrs), alerts: h.alerts.WithAttrs(attrs)}
}

func (h *splitHandler) WithGroup(name string) slog.Handler {
	return &splitHandler{primary: h.primary.WithGroup(name), alerts: h.alerts.WithGroup(name)}
}
