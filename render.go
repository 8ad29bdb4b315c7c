/*
 * Copyright (c) 2024 yakumioto <yaku.mioto@gmail.com>
 * All rights reserved.
 */

package otelactivity

import (
	"strings"

	"github.com/pkg/errors"
)

// renderMessage builds the log line for an event:
//
//	root{k=v,k=v}: child: <message>  k=v k=v
//
// attrs is consumed: the message attribute is removed from it.
func renderMessage(chain []*activity, attrs *AttributeMap) (string, error) {
	var b strings.Builder

	for _, span := range chain {
		b.WriteString(span.name)

		n := 0
		span.attributes.Range(func(k, v string) bool {
			if IsMeta(k) {
				return true
			}
			if n == 0 {
				b.WriteByte('{')
			} else {
				b.WriteByte(',')
			}
			n++
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(v)
			return true
		})
		if n > 0 {
			b.WriteByte('}')
		}

		b.WriteString(": ")
	}

	if message, ok := attrs.Remove(MessageKey); ok {
		b.WriteString(message)
		b.WriteString("  ")
	}

	n := 0
	attrs.Range(func(k, v string) bool {
		if IsMeta(k) {
			return true
		}
		if n > 0 {
			b.WriteByte(' ')
		}
		n++
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
		return true
	})

	message := b.String()
	if strings.IndexByte(message, 0) >= 0 {
		return "", encodingError("render", errors.Wrapf(ErrNulByte, "message %q", message))
	}
	return message, nil
}
