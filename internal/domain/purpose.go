package domain

import (
	"fmt"
	"strings"
	"time"
)

// Purpose is the single operation family a token authorizes. It is a closed
// set: anything outside the constants below fails ParsePurpose, so a typo can
// never slip past the purpose check.
type Purpose string

const (
	PurposePreferences Purpose = "preferences"
	PurposeUnsubscribe Purpose = "unsubscribe"
	PurposeFeedback    Purpose = "feedback"
)

func ParsePurpose(raw string) (Purpose, error) {
	p := Purpose(strings.TrimSpace(strings.ToLower(raw)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown token purpose %q", raw)
	}
	return p, nil
}

func (p Purpose) Valid() bool {
	switch p {
	case PurposePreferences, PurposeUnsubscribe, PurposeFeedback:
		return true
	}
	return false
}

// DefaultTTL is the issuance lifetime used when the caller does not override
// it. Unsubscribe links live longer because they are legally load-bearing.
func (p Purpose) DefaultTTL() time.Duration {
	switch p {
	case PurposeUnsubscribe:
		return 72 * time.Hour
	default:
		return 24 * time.Hour
	}
}

func (p Purpose) String() string { return string(p) }
