/*
 * Copyright (c) 2024 yakumioto <yaku.mioto@gmail.com>
 * All rights reserved.
 */

package otelactivity

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/yakumioto/otelactivity/facility"
)

// ViolationKind classifies a FatalError.
type ViolationKind int

const (
	// EncodingViolation means text bound for the facility could not be
	// represented as NUL-terminated text.
	EncodingViolation ViolationKind = iota + 1
	// ConsistencyViolation means a span callback arrived in an order the span
	// lifecycle does not allow.
	ConsistencyViolation
)

func (k ViolationKind) String() string {
	switch k {
	case EncodingViolation:
		return "encoding violation"
	case ConsistencyViolation:
		return "consistency violation"
	default:
		return "unknown violation"
	}
}

var (
	ErrNulByte          = facility.ErrNulByte
	ErrEmptyIdentifier  = errors.New("identifier is empty")
	ErrNoActivity       = errors.New("span has no activity")
	ErrParentNoActivity = errors.New("parent span has no activity")
	ErrAlreadyReleased  = errors.New("activity already released")
	ErrScopeNotEntered  = errors.New("no entered scope in context")
	ErrScopeMismatch    = errors.New("exit does not match innermost entered span")
	ErrClosed           = errors.New("bridge is closed")
)

// FatalError is an unrecoverable bridge failure. Once a Bridge returns one it
// refuses further work; the owner decides what happens next.
type FatalError struct {
	Kind ViolationKind
	Op   string
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("otelactivity: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func encodingError(op string, err error) *FatalError {
	return &FatalError{Kind: EncodingViolation, Op: op, Err: err}
}

func consistencyError(op string, err error) *FatalError {
	return &FatalError{Kind: ConsistencyViolation, Op: op, Err: err}
}

// IsFatal reports whether err is, or wraps, a FatalError.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
