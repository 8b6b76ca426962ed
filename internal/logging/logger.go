// Package logging provides the structured logger used across every
// per-call subsystem. Call paths depend on the Logger interface only, never
// on zap directly, so tests can swap in a no-op implementation.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the sugared logging surface used throughout the bridge.
type Logger interface {
	Debugw(msg string, kv ...interface{})
	Infow(msg string, kv ...interface{})
	Warnw(msg string, kv ...interface{})
	Errorw(msg string, kv ...interface{})
	With(kv ...interface{}) Logger
	Sync() error
}

type zapLogger struct {
	s *zap.SugaredLogger
}

func (z *zapLogger) Debugw(msg string, kv ...interface{}) { z.s.Debugw(msg, kv...) }
func (z *zapLogger) Infow(msg string, kv ...interface{})  { z.s.Infow(msg, kv...) }
func (z *zapLogger) Warnw(msg string, kv ...interface{})  { z.s.Warnw(msg, kv...) }
func (z *zapLogger) Errorw(msg string, kv ...interface{}) { z.s.Errorw(msg, kv...) }
func (z *zapLogger) Sync() error                          { return z.s.Sync() }

func (z *zapLogger) With(kv ...interface{}) Logger {
	return &zapLogger{s: z.s.With(kv...)}
}

// Options controls how the process logger is constructed.
type Options struct {
	Level      string // debug|info|warn|error
	Production bool   // JSON encoder + file rotation when true
	FilePath   string // rotated log file; ignored in development
}

// New builds the process-wide Logger. Production mode writes JSON lines to
// stdout and to a lumberjack-rotated file; development mode writes a
// human-readable console encoder to stdout only.
func New(opts Options) (Logger, error) {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var encoder zapcore.Encoder
	var writers []zapcore.WriteSyncer
	if opts.Production {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "ts"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
		writers = append(writers, zapcore.AddSync(os.Stdout))
		if opts.FilePath != "" {
			writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
				Filename:   opts.FilePath,
				MaxSize:    100,
				MaxBackups: 5,
				MaxAge:     14,
				Compress:   true,
			}))
		}
	} else {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encoder = zapcore.NewConsoleEncoder(encCfg)
		writers = append(writers, zapcore.AddSync(os.Stdout))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(writers...), level)
	base := zap.New(core, zap.AddCaller())
	return &zapLogger{s: base.Sugar()}, nil
}

// Nop returns a Logger that discards everything, for tests that don't care
// about log output.
func Nop() Logger {
	return &zapLogger{s: zap.NewNop().Sugar()}
}
