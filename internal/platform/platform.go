// Package platform describes the chat-platform capabilities review flows
// depend on. Adapters translate their transport errors into *Error so flows
// can report a stable code for every failed step.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Member is a guild member as seen by review flows.
type Member struct {
	UserID string
	Roles  []string
}

// HasRole reports whether the member already holds roleID.
func (m *Member) HasRole(roleID string) bool {
	for _, r := range m.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// Role is a guild role.
type Role struct {
	ID       string
	Name     string
	Position int
}

// Platform is the set of side effects review flows perform. Every method
// takes a context; adapters should honor its deadline.
type Platform interface {
	FetchMember(ctx context.Context, guildID, userID string) (*Member, error)
	FetchRole(ctx context.Context, guildID, roleID string) (*Role, error)
	// CanManageRole reports whether the bot may grant roleID in the guild.
	CanManageRole(ctx context.Context, guildID, roleID string) (bool, error)
	GrantRole(ctx context.Context, guildID, userID, roleID, reason string) error
	SendDirectMessage(ctx context.Context, userID, content string) error
	// Kickable reports whether the bot is allowed to kick userID.
	Kickable(ctx context.Context, guildID, userID string) (bool, error)
	KickMember(ctx context.Context, guildID, userID, reason string) error
	// CloseThread archives and locks a support thread.
	CloseThread(ctx context.Context, threadID, reason string) error
}

// Code classifies a failed platform step.
type Code string

const (
	CodeNotFound           Code = "not_found"
	CodeMissingPermissions Code = "missing_permissions"
	CodeHierarchy          Code = "hierarchy"
	CodeCannotDM           Code = "cannot_dm"
	CodeTimeout            Code = "timeout"
	CodeUnknown            Code = "unknown"
)

// Error is a classified platform failure.
type Error struct {
	Op   string
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error for op.
func NewError(op string, code Code, err error) *Error {
	return &Error{Op: op, Code: code, Err: err}
}

// CodeOf extracts the classification of err. Context deadline errors map to
// CodeTimeout; anything unclassified is CodeUnknown.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	return CodeUnknown
}

// Call runs fn with a deadline of timeout. If fn does not return in time the
// call reports a CodeTimeout error even when fn ignores its context; fn
// keeps running in the background until it returns.
func Call(ctx context.Context, op string, timeout time.Duration, fn func(ctx context.Context) error) error {
	_, err := Fetch(ctx, op, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

type outcome[T any] struct {
	val T
	err error
}

// Fetch is Call for operations that return a value.
func Fetch[T any](ctx context.Context, op string, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome[T]{val: v, err: err}
	}()

	select {
	case r := <-done:
		return settle(op, r)
	case <-ctx.Done():
		// A result that is already there wins over the deadline.
		select {
		case r := <-done:
			return settle(op, r)
		default:
		}
		var zero T
		return zero, NewError(op, CodeTimeout, ctx.Err())
	}
}

func settle[T any](op string, r outcome[T]) (T, error) {
	if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
		var zero T
		var pe *Error
		if errors.As(r.err, &pe) && pe.Code == CodeTimeout {
			return zero, r.err
		}
		return zero, NewError(op, CodeTimeout, r.err)
	}
	return r.val, r.err
}
