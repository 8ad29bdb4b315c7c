/*
 * Copyright (c) 2024 yakumioto <yaku.mioto@gmail.com>
 * All rights reserved.
 */

package facility

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/zoobzio/clockz"
)

var _ Facility = &Recorder{}

// LoggerRecord is a logger created on a Recorder.
type LoggerRecord struct {
	Handle    Logger
	Subsystem string
	Category  string
}

// ActivityRecord is an activity created on a Recorder.
type ActivityRecord struct {
	Handle Activity
	Name   *Name
	Parent Activity
	Flags  ActivityFlag
}

// Emitted is one message passed to Emit.
type Emitted struct {
	Time     time.Time
	Logger   Logger
	Level    Level
	Activity Activity
	Message  string
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithClock sets the clock used to timestamp emitted messages.
func WithClock(clock clockz.Clock) RecorderOption {
	return func(r *Recorder) {
		r.clock = clock
	}
}

// Recorder is an in-memory Facility. It keeps everything it is given so that
// callers can inspect the activity tree and the emitted messages.
type Recorder struct {
	mu    sync.Mutex
	clock clockz.Clock
	next  uint64

	loggers    []LoggerRecord
	activities []ActivityRecord
	live       map[uint64]bool
	released   map[uint64]int
	emitted    []Emitted
	enters     int
	leaves     int
	restored   []Activity
}

// NewRecorder creates an empty Recorder.
func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{
		clock:    clockz.RealClock,
		live:     make(map[uint64]bool),
		released: make(map[uint64]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) allocate() uint64 {
	r.next++
	r.live[r.next] = true
	return r.next
}

func (r *Recorder) CreateLogger(subsystem, category string) (Logger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := Logger(r.allocate())
	r.loggers = append(r.loggers, LoggerRecord{Handle: l, Subsystem: subsystem, Category: category})
	return l, nil
}

func (r *Recorder) CreateActivity(name *Name, parent Activity, flags ActivityFlag) (Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if parent != CurrentActivity && parent != NoActivity && !r.live[uint64(parent)] {
		return NoActivity, errors.Errorf("parent activity %d is not live", parent)
	}
	a := Activity(r.allocate())
	r.activities = append(r.activities, ActivityRecord{Handle: a, Name: name, Parent: parent, Flags: flags})
	return a, nil
}

func (r *Recorder) Release(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := h.handle()
	if id == 0 || id >= uint64(CurrentActivity) || id > r.next {
		return errors.Errorf("release of unknown handle %d", id)
	}
	r.released[id]++
	if !r.live[id] {
		return errors.Errorf("handle %d released %d times", id, r.released[id])
	}
	delete(r.live, id)
	return nil
}

func (r *Recorder) ScopeEnter(a Activity, state *ScopeState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state.Previous = CurrentActivity
	if state.Outer != nil {
		state.Previous = state.Outer.Activity
	}
	state.Activity = a
	r.enters++
}

func (r *Recorder) ScopeLeave(state *ScopeState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaves++
	r.restored = append(r.restored, state.Previous)
}

func (r *Recorder) Emit(ctx context.Context, l Logger, level Level, message string) {
	current := CurrentFromContext(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.emitted = append(r.emitted, Emitted{
		Time:     r.clock.Now(),
		Logger:   l,
		Level:    level,
		Activity: current,
		Message:  message,
	})
}

// Loggers returns the loggers created so far.
func (r *Recorder) Loggers() []LoggerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LoggerRecord(nil), r.loggers...)
}

// Activities returns the activities created so far, in creation order.
func (r *Recorder) Activities() []ActivityRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ActivityRecord(nil), r.activities...)
}

// Emitted returns the messages emitted so far.
func (r *Recorder) Emitted() []Emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Emitted(nil), r.emitted...)
}

// Messages returns only the text of the emitted messages.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	messages := make([]string, 0, len(r.emitted))
	for _, e := range r.emitted {
		messages = append(messages, e.Message)
	}
	return messages
}

// ReleaseCount returns how many times h was passed to Release.
func (r *Recorder) ReleaseCount(h Handle) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released[h.handle()]
}

// Live reports whether h has been created and not yet released.
func (r *Recorder) Live(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live[h.handle()]
}

// Scopes returns the number of ScopeEnter and ScopeLeave calls.
func (r *Recorder) Scopes() (enters, leaves int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enters, r.leaves
}

// Restored returns, for each ScopeLeave, the activity that became current
// again.
func (r *Recorder) Restored() []Activity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Activity(nil), r.restored...)
}
