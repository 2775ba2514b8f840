package sysutil

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log and LogSugar discard everything until InitLogger runs, so library
// packages can log unconditionally.
var (
	Log      = zap.NewNop()
	LogSugar = Log.Sugar()
)

// InitLogger installs a console logger at level ("debug", "info", "warn",
// "error"). An empty level means debug.
func InitLogger(level string) error {
	lvl := zap.DebugLevel
	if level != "" {
		var err error
		if lvl, err = zapcore.ParseLevel(level); err != nil {
			return err
		}
	}

	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(config.EncoderConfig),
		zapcore.AddSync(os.Stdout),
		lvl,
	)
	Log = zap.New(core, zap.AddCaller())
	LogSugar = Log.Sugar()
	return nil
}
