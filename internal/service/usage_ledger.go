package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"digest-link-service/internal/repository"
)

type UsageLedgerInterface interface {
	Consume(ctx context.Context, tokenID string, now time.Time) error
	Remaining(ctx context.Context, tokenID string) (int, error)
}

// UsageLedger enforces the max-use policy with one conditional update per
// consume. The update is linearizable per token row, so concurrent
// validations against a near-exhausted token admit exactly one winner.
type UsageLedger struct {
	records repository.TokenRecordRepository
}

func NewUsageLedger(records repository.TokenRecordRepository) *UsageLedger {
	return &UsageLedger{records: records}
}

// Consume increments usage_count iff the record is consumable. When the
// conditional update touches zero rows, the record is re-fetched so the
// caller gets the precise denial reason instead of a generic failure.
func (l *UsageLedger) Consume(ctx context.Context, tokenID string, now time.Time) error {
	ok, err := l.records.ConsumeUse(ctx, tokenID, now)
	if err != nil {
		return NewValidationError(CodeStoreUnavailable, fmt.Errorf("consume use: %w", err))
	}
	if ok {
		return nil
	}

	record, err := l.records.FindByTokenID(ctx, tokenID)
	if err != nil {
		if errors.Is(err, repository.ErrTokenRecordNotFound) {
			return NewValidationError(CodeNotFound, err)
		}
		return NewValidationError(CodeStoreUnavailable, fmt.Errorf("refetch after rejected consume: %w", err))
	}
	switch {
	case record.Revoked:
		return NewValidationError(CodeRevoked, nil)
	case now.After(record.ExpiresAt):
		return NewValidationError(CodeExpired, nil)
	case record.UsageCount >= record.MaxUsage:
		return NewValidationError(CodeUsageExceeded, nil)
	default:
		// The record looked consumable on re-fetch yet the update matched
		// nothing; deny rather than guess.
		return NewValidationError(CodeStoreUnavailable, fmt.Errorf("consume rejected for live record %s", tokenID))
	}
}

func (l *UsageLedger) Remaining(ctx context.Context, tokenID string) (int, error) {
	record, err := l.records.FindByTokenID(ctx, tokenID)
	if err != nil {
		return 0, err
	}
	return record.Remaining(), nil
}
