package domain

import "time"

type SecurityEventType string

const (
	EventInvalidSignature SecurityEventType = "invalid_signature"
	EventExpiredToken     SecurityEventType = "expired_token"
	EventRevokedToken     SecurityEventType = "revoked_token"
	EventUsageExceeded    SecurityEventType = "usage_exceeded"
	EventDeviceMismatch   SecurityEventType = "device_mismatch"
)

// SecurityEvent is an append-only record of a validation failure. Rows carry
// only the token-ID prefix, never the full token or its signature, and are
// retained past the lifetime of the token records they reference.
type SecurityEvent struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	EventType      string    `gorm:"size:32;index;not null" json:"event_type"`
	TokenIDPrefix  string    `gorm:"size:8;index" json:"token_id_prefix"`
	UserID         *uint     `gorm:"index" json:"user_id,omitempty"`
	ContextSummary string    `gorm:"size:256" json:"context_summary"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}
