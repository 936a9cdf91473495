package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"digest-link-service/internal/domain"
	"digest-link-service/internal/observability"
	"digest-link-service/internal/repository"
	"digest-link-service/internal/security"
)

type IssueRequest struct {
	UserID   uint
	Purpose  domain.Purpose
	TTL      time.Duration
	MaxUsage int
	Context  security.RequestContext
}

type IssuedToken struct {
	Token     string
	TokenID   string
	ExpiresAt time.Time
	MaxUsage  int
}

type TokenIssuerInterface interface {
	Issue(ctx context.Context, req IssueRequest) (*IssuedToken, error)
}

type IssuerOptions struct {
	DefaultMaxUsage int
	MaxTTL          time.Duration
	StoreTimeout    time.Duration
	// TTLForPurpose overrides the purpose defaults; nil keeps them.
	TTLForPurpose func(domain.Purpose) time.Duration
}

type TokenIssuer struct {
	records repository.TokenRecordRepository
	codec   *security.EnvelopeCodec
	logger  *slog.Logger
	opts    IssuerOptions
	now     func() time.Time
}

func NewTokenIssuer(records repository.TokenRecordRepository, codec *security.EnvelopeCodec, logger *slog.Logger, opts IssuerOptions) *TokenIssuer {
	if opts.DefaultMaxUsage <= 0 {
		opts.DefaultMaxUsage = 10
	}
	if opts.MaxTTL <= 0 {
		opts.MaxTTL = 30 * 24 * time.Hour
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 3 * time.Second
	}
	return &TokenIssuer{
		records: records,
		codec:   codec,
		logger:  logger,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Issue persists the backing record before the envelope is signed. A store
// failure therefore yields no token string at all; there is no code path
// that hands out a token without a persisted record behind it.
func (s *TokenIssuer) Issue(ctx context.Context, req IssueRequest) (*IssuedToken, error) {
	if !req.Purpose.Valid() {
		return nil, fmt.Errorf("issue token: invalid purpose %q", req.Purpose)
	}
	if req.UserID == 0 {
		return nil, fmt.Errorf("issue token: user id is required")
	}

	ttl := req.TTL
	if ttl <= 0 {
		if s.opts.TTLForPurpose != nil {
			ttl = s.opts.TTLForPurpose(req.Purpose)
		} else {
			ttl = req.Purpose.DefaultTTL()
		}
	}
	if ttl > s.opts.MaxTTL {
		ttl = s.opts.MaxTTL
	}
	maxUsage := req.MaxUsage
	if maxUsage <= 0 {
		maxUsage = s.opts.DefaultMaxUsage
	}

	tokenID, err := security.NewTokenID()
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	now := s.now()
	expiresAt := now.Add(ttl)
	fingerprint := security.DeviceFingerprint(req.Context)
	record := &domain.TokenRecord{
		TokenID:               tokenID,
		UserID:                req.UserID,
		Purpose:               string(req.Purpose),
		DeviceFingerprintHash: fingerprint,
		ExpiresAt:             expiresAt,
		UsageCount:            0,
		MaxUsage:              maxUsage,
		Revoked:               false,
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	if err := s.records.Create(storeCtx, record); err != nil {
		return nil, fmt.Errorf("issue token: persist record: %w", err)
	}

	token, err := s.codec.Sign(security.EnvelopeClaims{
		TokenID:   tokenID,
		UserID:    req.UserID,
		DeviceFP:  fingerprint,
		Purpose:   string(req.Purpose),
		IssuedAt:  now.Unix(),
		ExpiresAt: expiresAt.Unix(),
	})
	if err != nil {
		// The record is already persisted; it simply ages out unused.
		return nil, fmt.Errorf("issue token: sign envelope: %w", err)
	}

	observability.RecordTokenIssued(ctx, string(req.Purpose))
	s.logger.InfoContext(ctx, "token issued",
		"token_id_prefix", domain.TokenIDPrefix(tokenID),
		"user_id", req.UserID,
		"purpose", string(req.Purpose),
		"expires_at", expiresAt,
		"max_usage", maxUsage,
	)
	return &IssuedToken{Token: token, TokenID: tokenID, ExpiresAt: expiresAt, MaxUsage: maxUsage}, nil
}
