// Package logging adjusts go-log subsystem levels.
package logging

import (
	"math/big"

	"github.com/dustin/go-humanize"
	golog "github.com/textileio/go-log/v2"
	"go.uber.org/zap/zapcore"
)

// SetLogLevels sets levels for the given subsystems. The "*" key applies a
// level to every registered subsystem before the named ones are set.
func SetLogLevels(systems map[string]golog.LogLevel) error {
	if level, ok := systems["*"]; ok {
		if err := setAll(zapcore.Level(level)); err != nil {
			return err
		}
	}
	for sys, level := range systems {
		if sys == "*" {
			continue
		}
		if err := golog.SetLogLevel(sys, zapcore.Level(level).CapitalString()); err != nil {
			return err
		}
	}
	return nil
}

func setAll(l zapcore.Level) error {
	for _, s := range golog.GetSubsystems() {
		if err := golog.SetLogLevel(s, l.CapitalString()); err != nil {
			return err
		}
	}
	return nil
}

// SetDebug switches the given subsystems to debug level.
func SetDebug(subsystems ...string) error {
	levels := make(map[string]golog.LogLevel, len(subsystems))
	for _, s := range subsystems {
		levels[s] = golog.LevelDebug
	}
	return SetLogLevels(levels)
}

// Amount formats a currency amount with thousands separators. It's exact for
// every uint64.
func Amount(v uint64) string {
	return humanize.BigComma(new(big.Int).SetUint64(v))
}
