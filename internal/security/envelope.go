package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	EnvelopeVersion   = "v1"
	envelopeAlgorithm = "HS256"
	minSecretLen      = 32
	maxEnvelopeLen    = 4096
)

var (
	ErrMalformedEnvelope = errors.New("malformed token envelope")
	ErrBadSignature      = errors.New("invalid envelope signature")
	ErrIncompleteClaims  = errors.New("incomplete envelope claims")
)

type envelopeHeader struct {
	Version   string `json:"v"`
	Algorithm string `json:"alg"`
}

// EnvelopeClaims is the immutable claim set embedded in a link token. All
// mutable token state lives in the token record referenced by TokenID.
type EnvelopeClaims struct {
	TokenID   string `json:"tid"`
	UserID    uint   `json:"uid"`
	DeviceFP  string `json:"dfp"`
	Purpose   string `json:"pur"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

func (c *EnvelopeClaims) Expiry() time.Time { return time.Unix(c.ExpiresAt, 0).UTC() }

func (c *EnvelopeClaims) complete() bool {
	return c.TokenID != "" && c.UserID != 0 && c.DeviceFP != "" &&
		c.Purpose != "" && c.IssuedAt != 0 && c.ExpiresAt != 0
}

// EnvelopeCodec signs and verifies the tagged {header, claims, signature}
// structure carried in link URLs. The serialization is deliberately its own:
// three base64url segments with an HMAC-SHA256 signature over the first two.
// There is no unsigned variant and no algorithm negotiation; a header naming
// anything other than HS256 fails verification outright.
type EnvelopeCodec struct {
	secret []byte
}

func NewEnvelopeCodec(secret string) (*EnvelopeCodec, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("signing secret must be at least %d chars", minSecretLen)
	}
	return &EnvelopeCodec{secret: []byte(secret)}, nil
}

func (c *EnvelopeCodec) Sign(claims EnvelopeClaims) (string, error) {
	if !claims.complete() {
		return "", ErrIncompleteClaims
	}
	headerJSON, err := json.Marshal(envelopeHeader{Version: EnvelopeVersion, Algorithm: envelopeAlgorithm})
	if err != nil {
		return "", fmt.Errorf("marshal envelope header: %w", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal envelope claims: %w", err)
	}
	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(claimsJSON)
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(c.sign(signingInput)), nil
}

// Verify checks structure and signature, in that order, and only then decodes
// the claims. Expiry is not checked here; the validation pipeline owns the
// ordering of that decision.
func (c *EnvelopeCodec) Verify(token string) (*EnvelopeClaims, error) {
	if token == "" || len(token) > maxEnvelopeLen {
		return nil, ErrMalformedEnvelope
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, ErrMalformedEnvelope
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrMalformedEnvelope
	}
	var header envelopeHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, ErrMalformedEnvelope
	}
	if header.Version != EnvelopeVersion || header.Algorithm != envelopeAlgorithm {
		return nil, ErrBadSignature
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrMalformedEnvelope
	}
	if !hmac.Equal(signature, c.sign(parts[0]+"."+parts[1])) {
		return nil, ErrBadSignature
	}

	claimsJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrMalformedEnvelope
	}
	var claims EnvelopeClaims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return nil, ErrMalformedEnvelope
	}
	if !claims.complete() {
		return nil, ErrIncompleteClaims
	}
	return &claims, nil
}

// PeekTokenID decodes the claims segment without verifying anything. The
// result is untrusted and suitable only for log/event correlation prefixes,
// never for authorization decisions.
func PeekTokenID(token string) string {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return ""
	}
	claimsJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ""
	}
	var claims EnvelopeClaims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return ""
	}
	return claims.TokenID
}

func (c *EnvelopeCodec) sign(input string) []byte {
	h := hmac.New(sha256.New, c.secret)
	h.Write([]byte(input))
	return h.Sum(nil)
}
