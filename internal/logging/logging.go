package logging

import (
	"fmt"

	"github.com/leighmacdonald/scorebot/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxLogFileSizeMB = 20
	maxLogFileCount  = 3
	maxLogFileDays   = 14
)

// MustCreateLogger builds the root logger for the configured run mode. When
// the debug log is enabled every entry is also written, as JSON, to a
// rotating file in the config dir.
func MustCreateLogger(settings *config.Settings) *zap.Logger {
	var loggingConfig zap.Config

	switch settings.RunMode {
	case config.ModeRelease:
		loggingConfig = zap.NewProductionConfig()
		loggingConfig.DisableCaller = true
	case config.ModeDebug:
		loggingConfig = zap.NewDevelopmentConfig()
		loggingConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case config.ModeTest:
		return zap.NewNop()
	default:
		panic(fmt.Sprintf("Unknown run mode: %s", settings.RunMode))
	}

	level, errLevel := zap.ParseAtomicLevel(settings.LogLevel)
	if errLevel != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", errLevel))
	}

	loggingConfig.Level.SetLevel(level.Level())

	logger, errLogger := loggingConfig.Build()
	if errLogger != nil {
		panic("Failed to create log config")
	}

	if settings.DebugLogEnabled {
		logger = logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, fileCore(settings.LogFilePath(), loggingConfig.Level))
		}))
	}

	return logger.Named("scorebot")
}

func fileCore(path string, level zapcore.LevelEnabler) zapcore.Core {
	writer := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxLogFileSizeMB,
		MaxBackups: maxLogFileCount,
		MaxAge:     maxLogFileDays,
	}

	return zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(writer), level)
}
