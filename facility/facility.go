/*
 * Copyright (c) 2024 yakumioto <yaku.mioto@gmail.com>
 * All rights reserved.
 */

// Package facility describes the native activity/logging capability the bridge
// drives: loggers, hierarchical activities with enter/exit scopes, and a flat
// leveled emit call.
package facility

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrNulByte is returned when text destined for the native layer contains an
// embedded NUL character.
var ErrNulByte = errors.New("text contains NUL byte")

// Handle is any native object that must be released.
type Handle interface {
	handle() uint64
}

// Logger is a native logger handle.
type Logger uint64

func (l Logger) handle() uint64 { return uint64(l) }

// Activity is a native activity handle.
type Activity uint64

func (a Activity) handle() uint64 { return uint64(a) }

const (
	// NoActivity is the zero handle.
	NoActivity Activity = 0
	// CurrentActivity stands for the ambient top-level activity. It is always
	// valid and never owned by the caller.
	CurrentActivity Activity = ^Activity(0)
)

// ActivityFlag mirrors os_activity_flag_t.
type ActivityFlag uint32

const (
	FlagDefault  ActivityFlag = 0
	FlagDetached ActivityFlag = 0x1
)

// Level mirrors os_log_type_t.
type Level uint8

const (
	LevelDefault Level = 0x00
	LevelInfo    Level = 0x01
	LevelDebug   Level = 0x02
	LevelError   Level = 0x10
	LevelFault   Level = 0x11
)

func (l Level) String() string {
	switch l {
	case LevelDefault:
		return "default"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	case LevelError:
		return "error"
	case LevelFault:
		return "fault"
	default:
		return "unknown"
	}
}

// Name is native text allocated once and referenced by pointer.
type Name struct {
	text string
}

// NewName allocates native text. The text must not contain NUL.
func NewName(text string) (*Name, error) {
	if strings.IndexByte(text, 0) >= 0 {
		return nil, errors.Wrapf(ErrNulByte, "name %q", text)
	}
	return &Name{text: text}, nil
}

func (n *Name) String() string {
	if n == nil {
		return ""
	}
	return n.text
}

// ScopeState is the bookkeeping for one scope enter. The facility fills in
// Activity and Previous, the activity that is current again after ScopeLeave.
// Outer links to the enclosing scope of the same logical thread.
type ScopeState struct {
	Activity Activity
	Previous Activity
	Outer    *ScopeState

	left atomic.Bool
}

// MarkLeft flags the scope as left and reports whether this call did it.
func (s *ScopeState) MarkLeft() bool {
	return s.left.CompareAndSwap(false, true)
}

// Left reports whether the scope has been left.
func (s *ScopeState) Left() bool {
	return s.left.Load()
}

type scopeKey struct{}

// ContextWithScope returns a copy of ctx carrying state as its innermost scope.
func ContextWithScope(ctx context.Context, state *ScopeState) context.Context {
	return context.WithValue(ctx, scopeKey{}, state)
}

// ScopeFromContext returns the innermost scope carried by ctx, or nil.
func ScopeFromContext(ctx context.Context) *ScopeState {
	if ctx == nil {
		return nil
	}
	state, _ := ctx.Value(scopeKey{}).(*ScopeState)
	return state
}

// CurrentFromContext returns the activity of the innermost scope in ctx that
// has not been left, or CurrentActivity.
func CurrentFromContext(ctx context.Context) Activity {
	for state := ScopeFromContext(ctx); state != nil; state = state.Outer {
		if !state.Left() {
			return state.Activity
		}
	}
	return CurrentActivity
}

// Facility is the native capability provider.
type Facility interface {
	CreateLogger(subsystem, category string) (Logger, error)
	CreateActivity(name *Name, parent Activity, flags ActivityFlag) (Activity, error)
	Release(h Handle) error
	// ScopeEnter makes a the current activity until the matching ScopeLeave.
	ScopeEnter(a Activity, state *ScopeState)
	ScopeLeave(state *ScopeState)
	// Emit logs message on l. ctx carries the scope of the calling logical
	// thread.
	Emit(ctx context.Context, l Logger, level Level, message string)
}
