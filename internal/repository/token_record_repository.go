package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"digest-link-service/internal/domain"
	"digest-link-service/internal/observability"
)

var ErrTokenRecordNotFound = errors.New("token record not found")

// TokenRecordRepository is the sole shared mutable resource of the token
// subsystem. Every mutation is a single-row or user-scoped conditional
// update; nothing here deletes rows.
type TokenRecordRepository interface {
	Create(ctx context.Context, record *domain.TokenRecord) error
	FindByTokenID(ctx context.Context, tokenID string) (*domain.TokenRecord, error)

	// ConsumeUse is the usage-ledger primitive: increment usage_count iff the
	// record is below its cap, not revoked and not expired. Returns true iff
	// exactly one row was affected.
	ConsumeUse(ctx context.Context, tokenID string, now time.Time) (bool, error)

	RevokeByTokenID(ctx context.Context, tokenID, reason string, now time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID uint, reason string, now time.Time) (int64, error)
	CountLiveByUser(ctx context.Context, userID uint, now time.Time) (int64, error)
}

type GormTokenRecordRepository struct{ db *gorm.DB }

func NewTokenRecordRepository(db *gorm.DB) TokenRecordRepository {
	return &GormTokenRecordRepository{db: db}
}

func (r *GormTokenRecordRepository) Create(ctx context.Context, record *domain.TokenRecord) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "token_record", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "token_record", "create", "success")
	return nil
}

func (r *GormTokenRecordRepository) FindByTokenID(ctx context.Context, tokenID string) (*domain.TokenRecord, error) {
	var record domain.TokenRecord
	err := r.db.WithContext(ctx).Where("token_id = ?", tokenID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "token_record", "find", "not_found")
			return nil, ErrTokenRecordNotFound
		}
		observability.RecordRepositoryOperation(ctx, "token_record", "find", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "token_record", "find", "success")
	return &record, nil
}

func (r *GormTokenRecordRepository) ConsumeUse(ctx context.Context, tokenID string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.TokenRecord{}).
		Where("token_id = ? AND usage_count < max_usage AND revoked = ? AND expires_at >= ?", tokenID, false, now).
		UpdateColumn("usage_count", gorm.Expr("usage_count + 1"))
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "token_record", "consume", "error")
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "token_record", "consume", "rejected")
		return false, nil
	}
	observability.RecordRepositoryOperation(ctx, "token_record", "consume", "success")
	return true, nil
}

func (r *GormTokenRecordRepository) RevokeByTokenID(ctx context.Context, tokenID, reason string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.TokenRecord{}).
		Where("token_id = ? AND revoked = ?", tokenID, false).
		Updates(map[string]any{"revoked": true, "revoked_at": now, "revoked_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "token_record", "revoke_one", "error")
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		// Distinguish "already revoked" from "no such token" for callers.
		var count int64
		if err := r.db.WithContext(ctx).Model(&domain.TokenRecord{}).
			Where("token_id = ?", tokenID).Count(&count).Error; err != nil {
			observability.RecordRepositoryOperation(ctx, "token_record", "revoke_one", "error")
			return false, err
		}
		if count == 0 {
			observability.RecordRepositoryOperation(ctx, "token_record", "revoke_one", "not_found")
			return false, ErrTokenRecordNotFound
		}
		observability.RecordRepositoryOperation(ctx, "token_record", "revoke_one", "already_revoked")
		return false, nil
	}
	observability.RecordRepositoryOperation(ctx, "token_record", "revoke_one", "success")
	return true, nil
}

func (r *GormTokenRecordRepository) RevokeAllForUser(ctx context.Context, userID uint, reason string, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.TokenRecord{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Updates(map[string]any{"revoked": true, "revoked_at": now, "revoked_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "token_record", "revoke_all", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "token_record", "revoke_all", "success")
	return res.RowsAffected, nil
}

func (r *GormTokenRecordRepository) CountLiveByUser(ctx context.Context, userID uint, now time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.TokenRecord{}).
		Where("user_id = ? AND revoked = ? AND usage_count < max_usage AND expires_at >= ?", userID, false, now).
		Count(&count).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "token_record", "count_live", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "token_record", "count_live", "success")
	return count, nil
}
