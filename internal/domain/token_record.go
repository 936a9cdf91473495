package domain

import "time"

// TokenRecord is the persisted, authoritative side of an issued link token.
// The signed envelope embedded in the link is immutable; everything mutable
// (usage, revocation) lives here, keyed by TokenID. Records are never
// deleted, only revoked or allowed to age past ExpiresAt.
type TokenRecord struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	TokenID               string     `gorm:"size:64;uniqueIndex;not null" json:"token_id"`
	UserID                uint       `gorm:"index;not null" json:"user_id"`
	Purpose               string     `gorm:"size:32;index;not null" json:"purpose"`
	DeviceFingerprintHash string     `gorm:"size:128;not null" json:"-"`
	ExpiresAt             time.Time  `gorm:"index;not null" json:"expires_at"`
	UsageCount            int        `gorm:"not null;default:0" json:"usage_count"`
	MaxUsage              int        `gorm:"not null" json:"max_usage"`
	Revoked               bool       `gorm:"index;not null;default:false" json:"revoked"`
	RevokedAt             *time.Time `json:"revoked_at,omitempty"`
	RevokedReason         string     `gorm:"size:64" json:"revoked_reason,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Live reports whether the record could still pass validation at now.
func (t *TokenRecord) Live(now time.Time) bool {
	return !t.Revoked && t.UsageCount < t.MaxUsage && now.Before(t.ExpiresAt)
}

func (t *TokenRecord) Remaining() int {
	if t.UsageCount >= t.MaxUsage {
		return 0
	}
	return t.MaxUsage - t.UsageCount
}

const tokenIDPrefixLen = 8

// TokenIDPrefix returns the short correlation prefix that is safe to log and
// store in security events. Full token IDs never leave the record store.
func TokenIDPrefix(tokenID string) string {
	if len(tokenID) <= tokenIDPrefixLen {
		return tokenID
	}
	return tokenID[:tokenIDPrefixLen]
}
