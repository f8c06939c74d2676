// Copyright 2025 James Ross
package obs

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process-wide zap logger. level is one of
// debug/info/warn/error; anything else falls back to info.
func NewLogger(level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	switch strings.ToLower(level) {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "json"
	return cfg.Build()
}

// Generic typed fields, used for anything that doesn't warrant its own
// domain helper below.
func String(k, v string) zap.Field    { return zap.String(k, v) }
func Int(k string, v int) zap.Field   { return zap.Int(k, v) }
func Bool(k string, v bool) zap.Field { return zap.Bool(k, v) }
func Err(err error) zap.Field         { return zap.Error(err) }

// Domain field helpers: dispatcher/phase/recovery log lines are keyed on
// some subset of {job, tenant, item, phase}; these give call sites a
// consistent key instead of each one spelling "job_id" out by hand.
func JobID(id string) zap.Field      { return zap.String("job_id", id) }
func ItemID(id string) zap.Field     { return zap.String("item_id", id) }
func Tenant(tenant string) zap.Field { return zap.String("tenant", tenant) }
func Phase(phase string) zap.Field   { return zap.String("phase", phase) }
