/*
 * Copyright (c) 2024 yakumioto <yaku.mioto@gmail.com>
 * All rights reserved.
 */

package otelactivity

import (
	"strings"
	"sync"

	"github.com/yakumioto/otelactivity/facility"
)

// Interner caches native activity names by signature so that spans from the
// same call site with the same attributes share one allocation. Entries are
// never evicted.
type Interner struct {
	mu    sync.Mutex
	names map[string]*facility.Name
}

// NewInterner returns an empty Interner.
func NewInterner() *Interner {
	return &Interner{names: make(map[string]*facility.Name)}
}

var sharedInterner = sync.OnceValue(NewInterner)

// SharedInterner returns the process-wide Interner. Bridges use it unless
// given another one with WithInterner.
func SharedInterner() *Interner {
	return sharedInterner()
}

// Intern returns the cached name for signature, allocating it on first use.
func (i *Interner) Intern(signature string) (*facility.Name, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if name, ok := i.names[signature]; ok {
		return name, nil
	}
	name, err := facility.NewName(signature)
	if err != nil {
		return nil, encodingError("intern", err)
	}
	i.names[signature] = name
	return name, nil
}

// Len returns the number of interned names.
func (i *Interner) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.names)
}

// Signature builds the interning key and activity name of a span:
// "target::name(k1: v1, k2: v2)".
func Signature(target, name string, attrs *AttributeMap) string {
	var b strings.Builder
	b.WriteString(target)
	b.WriteString("::")
	b.WriteString(name)
	b.WriteByte('(')
	n := 0
	attrs.Range(func(k, v string) bool {
		if n > 0 {
			b.WriteString(", ")
		}
		n++
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		return true
	})
	b.WriteByte(')')
	return b.String()
}
