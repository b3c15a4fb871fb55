package models

import (
	"time"
)

// Account represents one credential identity used to drive the upstream
// conversational UI. Accounts are rotated to spread load and avoid
// throttling.
//
// Concurrency: InUse is the sole mutual-exclusion guard. It is set
// atomically when an account is claimed for a task and cleared in a
// deferred cleanup on completion, failure, or cancellation. At most one
// worker holds a given account at any instant.
type Account struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email" validate:"required,email"`
	// EncryptedCredential is the encrypted login password. Decryption is
	// handled by the session layer just before interactive login.
	EncryptedCredential string `json:"encrypted_credential,omitempty"`
	// SessionState is an opaque browser-state blob (cookies + storage)
	// persisted after a successful login so the next task can skip
	// interactive authentication.
	SessionState []byte `json:"session_state,omitempty"`
	IsActive     bool   `json:"is_active" badgerhold:"index"`
	InUse        bool   `json:"in_use" badgerhold:"index"`
	// RateLimitedUntil gates availability until the wall-clock deadline
	// passes. Selection at exactly the deadline counts as available.
	RateLimitedUntil *time.Time `json:"rate_limited_until,omitempty"`
	UsageTotal       int        `json:"usage_total"`
	UsageSuccess     int        `json:"usage_success"`
	UsageFailure     int        `json:"usage_failure"`
	LastError        string     `json:"last_error,omitempty"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// AvailableAt reports whether the account can be claimed at the given
// instant: active, not held by another worker, and not cooling down.
func (a *Account) AvailableAt(now time.Time) bool {
	if !a.IsActive || a.InUse {
		return false
	}
	if a.RateLimitedUntil != nil && now.Before(*a.RateLimitedUntil) {
		return false
	}
	return true
}

// MaskSensitiveData returns a copy with credential material redacted.
// Used before exposing accounts on any external surface.
func (a *Account) MaskSensitiveData() *Account {
	masked := *a
	if masked.EncryptedCredential != "" {
		masked.EncryptedCredential = "[REDACTED]"
	}
	if len(masked.SessionState) > 0 {
		masked.SessionState = []byte("[REDACTED]")
	}
	return &masked
}
