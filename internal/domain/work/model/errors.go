// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors raised by the control plane. Callers match with errors.Is.
var (
	ErrOrderTypeNotFound       = errors.New("order type not found")
	ErrNotFound                = errors.New("not found")
	ErrLeaseConflict           = errors.New("lease held by another agent")
	ErrLeaseExpired            = errors.New("lease expired")
	ErrNoItemsAvailable        = errors.New("no items available")
	ErrIdempotencyKeyRequired  = errors.New("idempotency key required")
	ErrNotReadyForApproval     = errors.New("order not ready for approval")
	ErrForbiddenDirectMutation = errors.New("direct mutation forbidden without work order")
)

// FieldError is a single structured validation failure.
// Field is a dotted path into the offending document.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s: %s (%s)", e.Field, e.Message, e.Code)
}

// ValidationError accumulates all field errors for one document; it is never
// fail-fast.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Errors) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.String()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// IllegalTransitionError reports a state change the transition graph forbids.
type IllegalTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: %s %s -> %s", e.Entity, e.From, e.To)
}

// ApplyError wraps a failure inside OrderType.apply. The surrounding
// transaction has rolled back and the order has been moved to failed.
type ApplyError struct {
	OrderID string
	Err     error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply failed for order %s: %v", e.OrderID, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsIllegalTransition reports whether err is an IllegalTransitionError.
func IsIllegalTransition(err error) bool {
	var it *IllegalTransitionError
	return errors.As(err, &it)
}
