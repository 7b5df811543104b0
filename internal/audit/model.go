// Package audit records every API request as an append-only audit trail and
// classifies security-relevant outcomes into higher-severity security events.
package audit

import (
	"time"
)

// Record represents a single audited request. Records are created once per
// request and never mutated or deleted by this layer.
type Record struct {
	ID         string
	UserID     string
	Action     string
	Resource   string
	ResourceID string
	IPAddress  string
	UserAgent  string
	Method     string
	Path       string
	StatusCode int
	DurationMs int64
	RequestID  string
	CreatedAt  time.Time
}

// EventType identifies a class of security-relevant activity.
type EventType string

// Security event types.
const (
	EventLoginSuccess       EventType = "LOGIN_SUCCESS"
	EventLoginFailure       EventType = "LOGIN_FAILURE"
	EventPasswordReset      EventType = "PASSWORD_RESET"
	EventPermissionDenied   EventType = "PERMISSION_DENIED"
	EventSuspiciousActivity EventType = "SUSPICIOUS_ACTIVITY"
)

// SecurityEvent is produced for the strict subset of records that indicate
// security-relevant outcomes. Details are redacted before logging.
type SecurityEvent struct {
	Type      EventType
	UserID    string
	IPAddress string
	Method    string
	Path      string
	Status    int
	RequestID string
	Details   map[string]any
}
