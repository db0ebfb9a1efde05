package sr

import (
	"log/slog"
	"os"
)

var logLevel = new(slog.LevelVar)

// ConfigureLogging sets up the global default logger and configures the log
// level based on the SR_LOG_LEVEL environment variable. It defaults to Info.
//
// Services call this at startup; daemons that ship logs pass json=true to emit
// structured records.
func ConfigureLogging(json bool) {
	logLevel.Set(slog.LevelInfo)

	switch os.Getenv("SR_LOG_LEVEL") {
	case "DEBUG", "debug":
		logLevel.Set(slog.LevelDebug)
	case "WARN", "warn":
		logLevel.Set(slog.LevelWarn)
	case "ERROR", "error":
		logLevel.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// SetLogLevel sets the logging level for the logger configured by ConfigureLogging.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}
