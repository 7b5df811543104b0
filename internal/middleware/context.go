// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"context"
	"sync"
)

// userIDKey is the context key for the user ID holder.
type userIDKey struct{}

// errorCodeKey is the context key for the error code holder.
type errorCodeKey struct{}

// resourceIDKey is the context key for the resource ID holder.
type resourceIDKey struct{}

// holder is a mutable cell injected into the request context by middleware so
// handlers can publish values that outer middleware reads after completion.
// Plain context.WithValue cannot propagate upward from handlers.
type holder struct {
	mu    sync.Mutex
	value string
}

func (h *holder) set(v string) {
	h.mu.Lock()
	h.value = v
	h.mu.Unlock()
}

func (h *holder) get() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value
}

// WithUserID injects a user-ID cell into the context unless one is already
// present, so stacked middleware (logging, audit) share a single cell.
// Authentication runs inside those wrappers; without the cell the identity it
// resolves could never reach their completion paths.
func WithUserID(ctx context.Context) context.Context {
	if _, ok := ctx.Value(userIDKey{}).(*holder); ok {
		return ctx
	}
	return context.WithValue(ctx, userIDKey{}, &holder{})
}

// SetUserID publishes the authenticated user ID. If an outer middleware has
// injected a cell, the ID is written into it and becomes visible upstream
// after completion; otherwise a pre-filled cell is attached to the returned
// context (e.g., in bare handler tests).
func SetUserID(ctx context.Context, userID string) context.Context {
	if h, ok := ctx.Value(userIDKey{}).(*holder); ok {
		h.set(userID)
		return ctx
	}
	h := &holder{}
	h.set(userID)
	return context.WithValue(ctx, userIDKey{}, h)
}

// GetUserID retrieves the user ID from context. Returns empty string if not present.
func GetUserID(ctx context.Context) string {
	if h, ok := ctx.Value(userIDKey{}).(*holder); ok {
		return h.get()
	}
	return ""
}

// WithErrorCode injects an error-code cell into the context.
// Called by the logging middleware before the handler runs.
func WithErrorCode(ctx context.Context) context.Context {
	return context.WithValue(ctx, errorCodeKey{}, &holder{})
}

// SetErrorCode publishes an error code for the current request.
// Called by handlers when returning error responses; a no-op if no cell was
// injected (e.g., in bare handler tests).
func SetErrorCode(ctx context.Context, code string) {
	if h, ok := ctx.Value(errorCodeKey{}).(*holder); ok {
		h.set(code)
	}
}

// GetErrorCode retrieves the error code for the current request.
// Returns empty string if none was set.
func GetErrorCode(ctx context.Context) string {
	if h, ok := ctx.Value(errorCodeKey{}).(*holder); ok {
		return h.get()
	}
	return ""
}

// WithResourceID injects a resource-ID cell into the context.
// Called by the audit middleware before the handler runs.
func WithResourceID(ctx context.Context) context.Context {
	return context.WithValue(ctx, resourceIDKey{}, &holder{})
}

// SetResourceID publishes the route's resource ID for the current request so
// the audit record carries the exact parameter instead of a heuristic guess.
func SetResourceID(ctx context.Context, id string) {
	if h, ok := ctx.Value(resourceIDKey{}).(*holder); ok {
		h.set(id)
	}
}

// GetResourceID retrieves the resource ID for the current request.
// Returns empty string if none was set.
func GetResourceID(ctx context.Context) string {
	if h, ok := ctx.Value(resourceIDKey{}).(*holder); ok {
		return h.get()
	}
	return ""
}
