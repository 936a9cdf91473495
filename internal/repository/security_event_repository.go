package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"digest-link-service/internal/domain"
	"digest-link-service/internal/observability"
)

// SecurityEventRepository is append-only: events are never updated or
// deleted here, and retention outlives the token records they reference.
type SecurityEventRepository interface {
	Append(ctx context.Context, event *domain.SecurityEvent) error
	ListByWindow(ctx context.Context, from, to time.Time, limit int) ([]domain.SecurityEvent, error)
	ListByUser(ctx context.Context, userID uint, limit int) ([]domain.SecurityEvent, error)
}

const defaultEventQueryLimit = 100

type GormSecurityEventRepository struct{ db *gorm.DB }

func NewSecurityEventRepository(db *gorm.DB) SecurityEventRepository {
	return &GormSecurityEventRepository{db: db}
}

func (r *GormSecurityEventRepository) Append(ctx context.Context, event *domain.SecurityEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "security_event", "append", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "security_event", "append", "success")
	return nil
}

func (r *GormSecurityEventRepository) ListByWindow(ctx context.Context, from, to time.Time, limit int) ([]domain.SecurityEvent, error) {
	var events []domain.SecurityEvent
	err := r.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("created_at desc").Limit(clampLimit(limit)).
		Find(&events).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "security_event", "list_window", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "security_event", "list_window", "success")
	return events, nil
}

func (r *GormSecurityEventRepository) ListByUser(ctx context.Context, userID uint, limit int) ([]domain.SecurityEvent, error) {
	var events []domain.SecurityEvent
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").Limit(clampLimit(limit)).
		Find(&events).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "security_event", "list_user", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "security_event", "list_user", "success")
	return events, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultEventQueryLimit
	}
	return limit
}
