// Package synclog is the agent's durable, append-only record of sync
// outcomes. It is written for people diagnosing a broken setup and is never
// read back by keysync itself.
package synclog

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultMaxSizeMB  = 5
	defaultMaxBackups = 3
)

// Log appends one timestamped plaintext line per event.
type Log struct {
	path   string
	writer *lumberjack.Logger
	logger *zap.Logger
}

// Open opens (creating if needed) the log file at path for appending.
// Old content is kept; files are rotated once they grow past a few MB.
func Open(path string) (*Log, error) {
	if path == "" {
		return nil, fmt.Errorf("sync log path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create sync log directory: %w", err)
	}

	// Fail early on an unwritable location instead of on the first sync.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open sync log: %w", err)
	}
	_ = f.Close()

	writer := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    defaultMaxSizeMB,
		MaxBackups: defaultMaxBackups,
		LocalTime:  true,
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:          "time",
		LevelKey:         "level",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       zapcore.ISO8601TimeEncoder,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(writer),
		zapcore.InfoLevel,
	)

	return &Log{
		path:   path,
		writer: writer,
		logger: zap.New(core),
	}, nil
}

// Path returns the active log file.
func (l *Log) Path() string {
	return l.path
}

// Success records a delivered batch.
func (l *Log) Success(fields ...zap.Field) {
	l.logger.Info("sync ok", fields...)
}

// Failure records a batch that could not be delivered.
func (l *Log) Failure(err error, fields ...zap.Field) {
	l.logger.Error("sync failed", append(fields, zap.Error(err))...)
}

// Event records anything else worth keeping (agent start, file found...).
func (l *Log) Event(msg string, fields ...zap.Field) {
	l.logger.Info(msg, fields...)
}

// Close flushes and closes the file.
func (l *Log) Close() error {
	_ = l.logger.Sync()
	if err := l.writer.Close(); err != nil {
		return fmt.Errorf("failed to close sync log: %w", err)
	}
	return nil
}
