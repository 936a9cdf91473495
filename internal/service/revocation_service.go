package service

import (
	"context"
	"log/slog"
	"time"

	"digest-link-service/internal/domain"
	"digest-link-service/internal/observability"
	"digest-link-service/internal/repository"
)

const (
	RevokeStatusRevoked        = "revoked"
	RevokeStatusAlreadyRevoked = "already_revoked"
)

type RevocationServiceInterface interface {
	RevokeAllForUser(ctx context.Context, userID uint, reason string) (int64, error)
	RevokeOne(ctx context.Context, tokenID, reason string) (string, error)
	HasLiveTokens(ctx context.Context, userID uint) (bool, error)
}

// RevocationService flips the monotonic revoked flag. Triggers (password
// change, abuse report) live outside this subsystem; this is the mechanism.
type RevocationService struct {
	records repository.TokenRecordRepository
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewRevocationService(records repository.TokenRecordRepository, logger *slog.Logger, timeout time.Duration) *RevocationService {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &RevocationService{
		records: records,
		logger:  logger,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RevokeAllForUser is idempotent: a repeat call matches zero rows and
// reports zero revocations.
func (s *RevocationService) RevokeAllForUser(ctx context.Context, userID uint, reason string) (int64, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	count, err := s.records.RevokeAllForUser(storeCtx, userID, reason, s.now())
	if err != nil {
		return 0, err
	}
	observability.RecordRevocation(ctx, "user_bulk", count)
	s.logger.InfoContext(ctx, "revoked all tokens for user",
		"user_id", userID,
		"reason", reason,
		"revoked_count", count,
	)
	return count, nil
}

func (s *RevocationService) RevokeOne(ctx context.Context, tokenID, reason string) (string, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	revoked, err := s.records.RevokeByTokenID(storeCtx, tokenID, reason, s.now())
	if err != nil {
		return "", err
	}
	if !revoked {
		return RevokeStatusAlreadyRevoked, nil
	}
	observability.RecordRevocation(ctx, "single", 1)
	s.logger.InfoContext(ctx, "revoked token",
		"token_id_prefix", domain.TokenIDPrefix(tokenID),
		"reason", reason,
	)
	return RevokeStatusRevoked, nil
}

func (s *RevocationService) HasLiveTokens(ctx context.Context, userID uint) (bool, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	count, err := s.records.CountLiveByUser(storeCtx, userID, s.now())
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
