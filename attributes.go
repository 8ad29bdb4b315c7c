/*
 * Copyright (c) 2024 yakumioto <yaku.mioto@gmail.com>
 * All rights reserved.
 */

package otelactivity

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

const (
	// MessageKey holds an event's message. It is rendered ahead of the other
	// event attributes.
	MessageKey = "message"
	// MetaPrefix marks internal attributes that are never rendered.
	MetaPrefix = "log."
)

// IsMeta reports whether key is an internal attribute.
func IsMeta(key string) bool {
	return strings.HasPrefix(key, MetaPrefix)
}

// AttributeMap is an insertion-ordered map of rendered attribute values.
type AttributeMap struct {
	keys   []string
	values map[string]string
}

// NewAttributeMap returns an empty AttributeMap.
func NewAttributeMap() *AttributeMap {
	return &AttributeMap{values: make(map[string]string)}
}

// Set stores value under key. A key that is already present keeps its position.
func (m *AttributeMap) Set(key, value string) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value stored under key.
func (m *AttributeMap) Get(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m.values[key]
	return v, ok
}

// Remove deletes key and returns its value.
func (m *AttributeMap) Remove(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m.values[key]
	if !ok {
		return "", false
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
	return v, true
}

// Len returns the number of attributes.
func (m *AttributeMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the keys in insertion order.
func (m *AttributeMap) Keys() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.keys...)
}

// Range calls fn for each attribute in insertion order until fn returns false.
func (m *AttributeMap) Range(fn func(key, value string) bool) {
	if m == nil {
		return
	}
	for _, k := range m.keys {
		if !fn(k, m.values[k]) {
			return
		}
	}
}

// Clone returns an independent copy.
func (m *AttributeMap) Clone() *AttributeMap {
	c := NewAttributeMap()
	m.Range(func(k, v string) bool {
		c.Set(k, v)
		return true
	})
	return c
}

// CollectAttributes renders span attributes into an AttributeMap.
func CollectAttributes(kvs []attribute.KeyValue) *AttributeMap {
	m := NewAttributeMap()
	for _, kv := range kvs {
		if !kv.Valid() {
			continue
		}
		m.Set(string(kv.Key), kv.Value.Emit())
	}
	return m
}

// CollectRecord renders a slog record into an AttributeMap. The record message
// goes first under MessageKey, followed by extra (attributes added with
// slog.Logger.With, already nested in their groups) and the record's own
// attributes, whose keys are prefixed with the joined group names.
func CollectRecord(record slog.Record, groups []string, extra []slog.Attr) *AttributeMap {
	m := NewAttributeMap()
	if record.Message != "" {
		m.Set(MessageKey, record.Message)
	}
	for _, attr := range extra {
		collectAttr(m, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		collectAttr(m, attr, groups...)
		return true
	})
	return m
}

// collectAttr flattens attr into m.
func collectAttr(m *AttributeMap, attr slog.Attr, groupKeys ...string) {
	val := attr.Value.Resolve()
	if attr.Key == "" && val.Kind() != slog.KindGroup {
		return
	}

	key := attr.Key
	if len(groupKeys) > 0 {
		key = strings.Join(groupKeys, ".")
		if attr.Key != "" {
			key += "." + attr.Key
		}
	}

	if val.Kind() == slog.KindGroup {
		prefix := groupKeys
		if attr.Key != "" {
			prefix = append(append([]string(nil), groupKeys...), attr.Key)
		}
		for _, groupAttr := range val.Group() {
			collectAttr(m, groupAttr, prefix...)
		}
		return
	}

	m.Set(key, formatValue(val))
}

func formatValue(val slog.Value) string {
	switch val.Kind() {
	case slog.KindString:
		return val.String()
	case slog.KindBool:
		return strconv.FormatBool(val.Bool())
	case slog.KindDuration:
		return val.Duration().String()
	case slog.KindFloat64:
		return strconv.FormatFloat(val.Float64(), 'g', -1, 64)
	case slog.KindInt64:
		return strconv.FormatInt(val.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(val.Uint64(), 10)
	case slog.KindTime:
		return val.Time().Format(time.RFC3339)
	case slog.KindAny:
		return formatAny(val.Any())
	default:
		return fmt.Sprintf("%+v", val.Any())
	}
}

func formatAny(value any) string {
	switch v := value.(type) {
	case nil:
		return "<nil>"
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	case []string, []int, []int64, []float64, []bool:
		return fmt.Sprint(v)
	default:
		return fmt.Sprintf("%+v", v)
	}
}
