// Licensed to the Apache Software Foundation (ASF) under one or more
// contributor license agreements.  See the NOTICE file distributed with
// this work for additional information regarding copyright ownership.
// The ASF licenses this file to You under the Apache License, Version 2.0
// (the "License"); you may not use this file except in compliance with
// the License.  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging backs the Beam log package with structured zap output.
package logging

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/apache/beam/it/internal/environment"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AllowedLevels maps the accepted LOG_LEVEL values to zap levels.
var AllowedLevels = map[string]zapcore.Level{
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
	"fatal": zapcore.FatalLevel,
}

// Logger implements log.Logger on top of a zap JSON core.
type Logger struct {
	inner *zap.Logger
	atom  zap.AtomicLevel
}

// New returns a Logger named name that writes JSON entries to w.
func New(name string, w io.Writer, level zapcore.Level) *Logger {
	atom := zap.NewAtomicLevelAt(level)
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	inner := zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.AddSync(w),
		atom,
	), zap.AddCaller())
	return &Logger{
		inner: inner.Named(name),
		atom:  atom,
	}
}

// ParseLevel converts a LOG_LEVEL value into a zap level.
func ParseLevel(value string) (zapcore.Level, error) {
	lvl, ok := AllowedLevels[strings.ToLower(strings.TrimSpace(value))]
	if !ok {
		return zapcore.InfoLevel, errors.Errorf("log level %q is not one of debug, info, warn, error, fatal", value)
	}
	return lvl, nil
}

// Install replaces the Beam logger with a Logger writing to stderr at the
// level named by LOG_LEVEL, which defaults to info.
func Install(name string) (*Logger, error) {
	lvl, err := ParseLevel(environment.LogLevel.Or("info"))
	if err != nil {
		return nil, err
	}
	l := New(name, os.Stderr, lvl)
	log.SetLogger(l)
	return l, nil
}

// SetLevel changes the minimum severity at runtime.
func (l *Logger) SetLevel(level zapcore.Level) {
	l.atom.SetLevel(level)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.inner.Sync()
}

// Log implements log.Logger. Fatal entries are written at error level with a
// fatal marker; beam's log package is responsible for terminating.
func (l *Logger) Log(_ context.Context, sev log.Severity, calldepth int, msg string) {
	z := l.inner.WithOptions(zap.AddCallerSkip(calldepth))
	msg = strings.TrimSuffix(msg, "\n")
	switch sev {
	case log.SevDebug:
		z.Debug(msg)
	case log.SevWarn:
		z.Warn(msg)
	case log.SevError:
		z.Error(msg)
	case log.SevFatal:
		z.Error(msg, zap.Bool("fatal", true))
	default:
		z.Info(msg)
	}
}
