// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging holds the process-wide structured logger. Until Init is
// called every logger returned here is a no-op, which keeps library users and
// tests quiet by default.
package logging

import (
	"os"
	"strings"
	"sync"

	"github.com/natefinch/lumberjack"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls level, encoding and destination. Output is "stdout",
// "stderr" or a file path; file output is rotated by size.
type Config struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

var (
	mu     sync.RWMutex
	base   = zap.NewNop()
	closer func() error
)

// Init replaces the global logger.
func Init(cfg Config) error {
	level, err := zapcore.ParseLevel(strings.ToLower(orDefault(cfg.Level, "info")))
	if err != nil {
		return errors.Wrapf(err, "log level %q", cfg.Level)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	switch strings.ToLower(orDefault(cfg.Format, "console")) {
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "console", "text":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return errors.Errorf("unknown log format %q", cfg.Format)
	}

	var (
		sink      zapcore.WriteSyncer
		closeSink func() error
	)
	switch out := orDefault(cfg.Output, "stdout"); strings.ToLower(out) {
	case "stdout":
		sink = zapcore.Lock(os.Stdout)
	case "stderr":
		sink = zapcore.Lock(os.Stderr)
	default:
		lj := &lumberjack.Logger{
			Filename:   out,
			MaxSize:    positiveOr(cfg.MaxSize, 100),
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		sink = zapcore.AddSync(lj)
		closeSink = lj.Close
	}

	l := zap.New(zapcore.NewCore(enc, sink, level), zap.AddCaller())

	mu.Lock()
	prevClose := closer
	_ = base.Sync()
	base = l
	closer = closeSink
	mu.Unlock()
	if prevClose != nil {
		_ = prevClose()
	}
	return nil
}

// L returns the global logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Named returns a child of the global logger.
func Named(name string) *zap.Logger { return L().Named(name) }

// Sync flushes buffered entries and closes a rotated log file, if any.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	err := base.Sync()
	if closer != nil {
		if cerr := closer(); cerr != nil && err == nil {
			err = cerr
		}
		closer = nil
	}
	return err
}

// Reset restores the no-op logger. Intended for tests.
func Reset() {
	mu.Lock()
	base = zap.NewNop()
	c := closer
	closer = nil
	mu.Unlock()
	if c != nil {
		_ = c()
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
