/*
 * Copyright (c) 2024 yakumioto <yaku.mioto@gmail.com>
 * All rights reserved.
 */

package otelactivity

import (
	"log/slog"

	"github.com/yakumioto/otelactivity/facility"
)

// LevelTrace is the level below slog.LevelDebug used for trace events.
const LevelTrace = slog.Level(-8)

// NativeLevel maps a slog level onto the coarser facility levels:
// trace and debug become debug, info stays info, warn and error become error.
func NativeLevel(level slog.Level) facility.Level {
	switch {
	case level < slog.LevelInfo:
		return facility.LevelDebug
	case level < slog.LevelWarn:
		return facility.LevelInfo
	default:
		return facility.LevelError
	}
}
