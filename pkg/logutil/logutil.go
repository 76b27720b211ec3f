// Copyright 2021 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logutil

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/matrixorigin/scalable/pkg/common/moerr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const consoleTimeLayout = "2006/01/02 15:04:05.000000 -0700"

var gLogger atomic.Value

func init() {
	SetupLogger(&LogConfig{
		Level:  zapcore.InfoLevel.String(),
		Format: "console",
	})
}

// LogConfig log config
type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	Filename   string `toml:"filename"`
	MaxSize    int    `toml:"max-size"`
	MaxDays    int    `toml:"max-days"`
	MaxBackups int    `toml:"max-backups"`
	// DisableStore disables the extra file sink even if Filename is set.
	DisableStore bool `toml:"disable-store"`
	// StacktraceLevel level above which a stacktrace is attached, default panic.
	StacktraceLevel string `toml:"stacktrace-level"`
}

// ZapSink is an encoder and the syncer it writes to.
type ZapSink struct {
	enc zapcore.Encoder
	out zapcore.WriteSyncer
}

func (cfg *LogConfig) getLevel() zap.AtomicLevel {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zapcore.InfoLevel)
	}
	return level
}

func (cfg *LogConfig) getStacktraceLevel() zapcore.Level {
	level := zapcore.FatalLevel
	if cfg.StacktraceLevel == "" {
		return level
	}
	if err := level.UnmarshalText([]byte(cfg.StacktraceLevel)); err != nil {
		return zapcore.FatalLevel
	}
	return level
}

func (cfg *LogConfig) getOptions() []zap.Option {
	return []zap.Option{zap.AddStacktrace(cfg.getStacktraceLevel()), zap.AddCaller()}
}

func (cfg *LogConfig) getSyncer() zapcore.WriteSyncer {
	if cfg.Filename != "" {
		if stat, err := os.Stat(cfg.Filename); err == nil && stat.IsDir() {
			panic("log file can't be a directory")
		}
	}
	if cfg.Filename == "" || cfg.DisableStore {
		return getConsoleSyncer()
	}
	return zapcore.AddSync(cfg.getRotation())
}

// getRotation returns the rotating file writer of Filename. MaxSize is in
// megabytes.
func (cfg *LogConfig) getRotation() *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxDays,
		MaxBackups: cfg.MaxBackups,
		LocalTime:  true,
	}
}

func (cfg *LogConfig) getEncoder() zapcore.Encoder {
	return getLoggerEncoder(cfg.Format)
}

func (cfg *LogConfig) getSinks() []ZapSink {
	return []ZapSink{{cfg.getEncoder(), cfg.getSyncer()}}
}

func getConsoleSyncer() zapcore.WriteSyncer {
	return zapcore.Lock(os.Stdout)
}

func encodeConsoleTime(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format(consoleTimeLayout))
}

func getLoggerEncoder(format string) zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		TimeKey:        "time",
		NameKey:        "name",
		CallerKey:      "caller",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     encodeConsoleTime,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}

	switch format {
	case "json":
		return zapcore.NewJSONEncoder(encoderConfig)
	case "console", "":
		return zapcore.NewConsoleEncoder(withConsoleSeparator(encoderConfig))
	default:
		panic(moerr.NewInternalError(context.TODO(), "unsupported log format: %s", format))
	}
}

func withConsoleSeparator(cfg zapcore.EncoderConfig) zapcore.EncoderConfig {
	cfg.ConsoleSeparator = " "
	return cfg
}

// SetupLogger installs the global logger described by conf.
func SetupLogger(conf *LogConfig) {
	logger := newLogger(conf)
	replaceGlobalLogger(logger)
}

func newLogger(conf *LogConfig) *zap.Logger {
	level := conf.getLevel()
	cores := make([]zapcore.Core, 0, 1)
	for _, sink := range conf.getSinks() {
		cores = append(cores, zapcore.NewCore(sink.enc, sink.out, level))
	}
	return zap.New(zapcore.NewTee(cores...), conf.getOptions()...)
}

func replaceGlobalLogger(logger *zap.Logger) {
	gLogger.Store(logger)
}

// GetGlobalLogger returns the current global zap logger.
func GetGlobalLogger() *zap.Logger {
	return gLogger.Load().(*zap.Logger)
}

// Adjust returns the global logger if logger is nil.
func Adjust(logger *zap.Logger, options ...zap.Option) *zap.Logger {
	if logger != nil {
		return logger
	}
	if len(options) == 0 {
		return GetGlobalLogger()
	}
	return GetGlobalLogger().WithOptions(options...)
}
