/*
 * Copyright (c) 2024 yakumioto <yaku.mioto@gmail.com>
 * All rights reserved.
 */

package otelactivity

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"

	"github.com/yakumioto/otelactivity/facility"
)

// activity is the per-span record: the native activity handle and the
// attributes captured when the span was created. parent is structural only;
// it is used to render the span chain and does not own anything.
//
// children and closed are guarded by the registry lock. A closed activity
// stays registered until its last child closes.
type activity struct {
	id         trace.SpanID
	parent     *activity
	handle     facility.Activity
	name       string
	attributes *AttributeMap
	released   atomic.Bool

	children int
	closed   bool
}

// release hands the native handle back exactly once.
func (a *activity) release(f facility.Facility) error {
	if !a.released.CompareAndSwap(false, true) {
		return consistencyError("release", ErrAlreadyReleased)
	}
	return f.Release(a.handle)
}

// chain returns the spans from the root down to a.
func (a *activity) chain() []*activity {
	depth := 0
	for n := a; n != nil; n = n.parent {
		depth++
	}
	chain := make([]*activity, depth)
	for n := a; n != nil; n = n.parent {
		depth--
		chain[depth] = n
	}
	return chain
}

// registry maps span ids to their activities.
type registry struct {
	mu     sync.RWMutex
	spans  map[trace.SpanID]*activity
	closed bool
}

func newRegistry() *registry {
	return &registry{spans: make(map[trace.SpanID]*activity)}
}

func (r *registry) get(id trace.SpanID) (*activity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.spans[id]
	return a, ok
}

// create registers the activity returned by build for s. build runs under the
// registry lock and receives the parent's activity, or nil for a root. It is
// not called when s.ID already has an activity.
func (r *registry) create(s SpanStart, build func(parent *activity) (*activity, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if _, ok := r.spans[s.ID]; ok {
		return nil
	}

	var parent *activity
	if s.Parent.IsValid() {
		p, ok := r.spans[s.Parent]
		if !ok && !s.OrphanRoot {
			return consistencyError("new span", errors.Wrapf(ErrParentNoActivity, "span %s parent %s", s.ID, s.Parent))
		}
		parent = p
	}

	a, err := build(parent)
	if err != nil {
		return err
	}
	if parent != nil {
		parent.children++
	}
	r.spans[a.id] = a
	return nil
}

// close marks id closed and removes every activity that is done as a result:
// id itself unless it still has children, then each closed ancestor whose last
// child it was. They are returned children first.
func (r *registry) close(id trace.SpanID) ([]*activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	a, ok := r.spans[id]
	if !ok || a.closed {
		return nil, consistencyError("close", errors.Wrapf(ErrNoActivity, "span %s", id))
	}
	a.closed = true

	var done []*activity
	for n := a; n != nil && n.closed && n.children == 0; n = n.parent {
		delete(r.spans, n.id)
		done = append(done, n)
		if n.parent != nil {
			n.parent.children--
		}
	}
	return done, nil
}

// drain closes the registry and returns every activity, children before
// parents.
func (r *registry) drain() []*activity {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	depth := func(a *activity) int {
		d := 0
		for n := a.parent; n != nil; n = n.parent {
			d++
		}
		return d
	}
	all := make([]*activity, 0, len(r.spans))
	for id, a := range r.spans {
		all = append(all, a)
		delete(r.spans, id)
	}
	slices.SortFunc(all, func(x, y *activity) int {
		return depth(y) - depth(x)
	})
	return all
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.spans)
}
