// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bridgeconfig loads bridge settings from flags, environment
// variables, and an optional config file, in that order of precedence.
// Environment variables use the TDSBRIDGE_ prefix with dashes mapped to
// underscores (TDSBRIDGE_POOL_IDLE_TIMEOUT). The native library has no
// argv, so the environment path is the one hosts actually use; the flag
// path serves the CLI.
package bridgeconfig

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sqlthink/tdsbridge/go/bridge"
)

// Settings keys.
const (
	KeyPoolMaxIdlePerKey = "pool-max-idle-per-key"
	KeyPoolIdleTimeout   = "pool-idle-timeout"
	KeyConnectTimeout    = "connect-timeout"
	KeyLogLevel          = "log-level"
	KeyLogFormat         = "log-format"
	KeyLogOutput         = "log-output"
	KeyTrace             = "trace"
)

// EnvPrefix is prepended to every environment variable the loader reads.
const EnvPrefix = "TDSBRIDGE"

// Loader owns a viper instance with the bridge's settings registered.
type Loader struct {
	v *viper.Viper
}

// New returns a loader with defaults registered and the environment bound.
func New() *Loader {
	v := viper.New()

	v.SetDefault(KeyPoolMaxIdlePerKey, 4)
	v.SetDefault(KeyPoolIdleTimeout, 30*time.Minute)
	v.SetDefault(KeyConnectTimeout, 15*time.Second)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyLogOutput, "stderr")
	v.SetDefault(KeyTrace, false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return &Loader{v: v}
}

// RegisterFlags declares the settings as command line flags and binds them,
// so flag values override environment and file values.
func (l *Loader) RegisterFlags(fs *pflag.FlagSet) {
	fs.Int(KeyPoolMaxIdlePerKey, l.v.GetInt(KeyPoolMaxIdlePerKey), "Maximum idle pooled connections kept per connection string")
	fs.Duration(KeyPoolIdleTimeout, l.v.GetDuration(KeyPoolIdleTimeout), "Close pooled connections idle longer than this")
	fs.Duration(KeyConnectTimeout, l.v.GetDuration(KeyConnectTimeout), "Timeout for opening a new connection")
	fs.String(KeyLogLevel, l.v.GetString(KeyLogLevel), "Log level (debug, info, warn, error)")
	fs.String(KeyLogFormat, l.v.GetString(KeyLogFormat), "Log format (json, text)")
	fs.String(KeyLogOutput, l.v.GetString(KeyLogOutput), "Log output (stdout, stderr, or file path)")
	fs.Bool(KeyTrace, l.v.GetBool(KeyTrace), "Trace every statement to standard error")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = l.v.BindPFlag(f.Name, f)
	})
}

// LoadFile merges an explicit config file into the loader. An empty path is
// a no-op.
func (l *Loader) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	l.v.SetConfigFile(path)
	if err := l.v.MergeInConfig(); err != nil {
		return fmt.Errorf("failed to load config file %q: %w", path, err)
	}
	return nil
}

// BridgeConfig materializes the bridge tunables.
func (l *Loader) BridgeConfig() bridge.Config {
	return bridge.Config{
		PoolMaxIdlePerKey: l.v.GetInt(KeyPoolMaxIdlePerKey),
		PoolIdleTimeout:   l.v.GetDuration(KeyPoolIdleTimeout),
		ConnectTimeout:    l.v.GetDuration(KeyConnectTimeout),
	}
}

// Trace reports whether statement tracing starts enabled.
func (l *Loader) Trace() bool {
	return l.v.GetBool(KeyTrace)
}

// NewLogger builds the process logger from the log-level, log-format, and
// log-output settings, falling back to defaults on anything unrecognized.
func (l *Loader) NewLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(l.v.GetString(KeyLogLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var output io.Writer
	switch out := l.v.GetString(KeyLogOutput); strings.ToLower(out) {
	case "stdout":
		output = os.Stdout
	case "stderr", "":
		output = os.Stderr
	default:
		file, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			output = os.Stderr
		} else {
			output = file
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(l.v.GetString(KeyLogFormat)) == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}
	return slog.New(handler)
}
