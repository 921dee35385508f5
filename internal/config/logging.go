package config

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// InitSlog configures the process-wide JSON slog handler. The daemon
// additionally routes through lumberjack for log rotation, since keepd is
// a long-running process.
func InitSlog(logFile string, level slog.Level, rotate bool) {
	var w io.Writer = os.Stderr
	if logFile != "" {
		if rotate {
			w = &lumberjack.Logger{Filename: logFile, MaxSize: 50, MaxBackups: 5, MaxAge: 28}
		} else if f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			w = f
		}
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
