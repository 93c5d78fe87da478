// Package logging builds the structured event log: JSON lines through a
// rotating file writer.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"ftpshell/config"
	"ftpshell/protocol"
)

// New returns a logger writing to cfg.File. An empty file name disables
// logging. The returned function flushes and closes the file.
func New(cfg config.LogConfig) (*zap.Logger, func(), error) {
	if cfg.File == "" {
		return zap.NewNop(), func() {}, nil
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, nil, fmt.Errorf("log directory: %w", err)
	}

	writer := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(writer), level)
	logger := zap.New(core)

	closeFn := func() {
		_ = logger.Sync()
		_ = writer.Close()
	}
	return logger, closeFn, nil
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// Observer writes the control channel transcript to a logger at debug level.
type Observer struct {
	logger *zap.Logger
}

// NewObserver returns a protocol.Observer logging to l. name tells several
// control channels apart, e.g. "control" or "job-3".
func NewObserver(l *zap.Logger, name string) *Observer {
	return &Observer{logger: l.With(zap.String("channel", name))}
}

var _ protocol.Observer = (*Observer)(nil)

func (o *Observer) CommandSent(line string) {
	o.logger.Debug("command", zap.String("line", line))
}

func (o *Observer) ResponseReceived(resp *protocol.Response) {
	o.logger.Debug("reply", zap.Int("code", resp.Code), zap.String("text", resp.Text))
}
