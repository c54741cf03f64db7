// Package logging builds the process-wide zap.Logger: a human-readable
// console sink plus a rotated JSON file sink, both level-gated by
// $LOG_LEVEL.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultLogPath is used when LOG_PATH isn't set.
const DefaultLogPath = "logs/registrywarden.log"

const (
	maxSizeMB  = 100
	maxBackups = 10
	maxAgeDays = 30
)

// New builds a *zap.Logger reading its level from $LOG_LEVEL (debug,
// info, warn, error; defaults to info) and its file sink path from
// $LOG_PATH (defaults to DefaultLogPath).
func New() *zap.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	consoleEncoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	console := zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), level)

	fileEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	rotator := &lumberjack.Logger{
		Filename:   logPath(),
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	file := zapcore.NewCore(fileEncoder, zapcore.AddSync(rotator), level)

	core := zapcore.NewTee(console, file)
	return zap.New(core, zap.AddCaller())
}

func logPath() string {
	if path := os.Getenv("LOG_PATH"); path != "" {
		return path
	}
	return DefaultLogPath
}

func parseLevel(raw string) zapcore.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
