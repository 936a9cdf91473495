package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// 32 bytes = 256 bits; collision probability is negligible at this width.
const tokenIDBytes = 32

func NewTokenID() (string, error) {
	b := make([]byte, tokenIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
