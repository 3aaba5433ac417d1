package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is a no-op until Init is called.
var Log = zap.NewNop().Sugar()

func Init(logFilePath string, debug bool) error {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{logFilePath}
	cfg.ErrorOutputPaths = []string{logFilePath}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	l, err := cfg.Build()
	if err != nil {
		return err
	}
	Log = l.Sugar()
	Log.Infow("logger initialized", "path", logFilePath)
	return nil
}

func Sync() {
	_ = Log.Sync()
}
