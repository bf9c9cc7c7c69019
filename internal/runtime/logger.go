package runtime

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Loggers pairs the application logger with the quieter backend client logger.
type Loggers struct {
	App *zap.Logger
	SDK *zap.Logger
}

// NewLoggers builds console loggers named "app" and "sdk" at their own levels.
func NewLoggers(appLevel, sdkLevel string) (Loggers, error) {
	app, err := NewLogger(appLevel)
	if err != nil {
		return Loggers{}, fmt.Errorf("app logger: %w", err)
	}
	sdk, err := NewLogger(sdkLevel)
	if err != nil {
		return Loggers{}, fmt.Errorf("sdk logger: %w", err)
	}
	return Loggers{App: app.Named("app"), SDK: sdk.Named("sdk")}, nil
}

// NewLogger returns a console logger writing to stdout. Error entries carry a
// stack trace.
func NewLogger(level string) (*zap.Logger, error) {
	if level == "" {
		level = "info"
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.Encoding = "console"
	cfg.Sampling = nil
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg.Build()
}

// DefaultLogger is used before the configuration is known.
func DefaultLogger() *zap.Logger {
	logger, err := NewLogger("info")
	if err != nil {
		return zap.New(zapcore.NewCore(
			zapcore.NewConsoleEncoder(zap.NewProductionEncoderConfig()),
			zapcore.Lock(os.Stderr),
			zapcore.InfoLevel,
		))
	}
	return logger
}
