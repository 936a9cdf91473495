package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"digest-link-service/internal/domain"
)

type stubTokenRecordRepository struct {
	createFn          func(record *domain.TokenRecord) error
	findByTokenIDFn   func(tokenID string) (*domain.TokenRecord, error)
	consumeUseFn      func(tokenID string, now time.Time) (bool, error)
	revokeByTokenIDFn func(tokenID, reason string, now time.Time) (bool, error)
	revokeAllFn       func(userID uint, reason string, now time.Time) (int64, error)
	countLiveFn       func(userID uint, now time.Time) (int64, error)
}

func (s *stubTokenRecordRepository) Create(_ context.Context, record *domain.TokenRecord) error {
	if s.createFn == nil {
		return errors.New("not implemented")
	}
	return s.createFn(record)
}

func (s *stubTokenRecordRepository) FindByTokenID(_ context.Context, tokenID string) (*domain.TokenRecord, error) {
	if s.findByTokenIDFn == nil {
		return nil, errors.New("not implemented")
	}
	return s.findByTokenIDFn(tokenID)
}

func (s *stubTokenRecordRepository) ConsumeUse(_ context.Context, tokenID string, now time.Time) (bool, error) {
	if s.consumeUseFn == nil {
		return false, errors.New("not implemented")
	}
	return s.consumeUseFn(tokenID, now)
}

func (s *stubTokenRecordRepository) RevokeByTokenID(_ context.Context, tokenID, reason string, now time.Time) (bool, error) {
	if s.revokeByTokenIDFn == nil {
		return false, errors.New("not implemented")
	}
	return s.revokeByTokenIDFn(tokenID, reason, now)
}

func (s *stubTokenRecordRepository) RevokeAllForUser(_ context.Context, userID uint, reason string, now time.Time) (int64, error) {
	if s.revokeAllFn == nil {
		return 0, errors.New("not implemented")
	}
	return s.revokeAllFn(userID, reason, now)
}

func (s *stubTokenRecordRepository) CountLiveByUser(_ context.Context, userID uint, now time.Time) (int64, error) {
	if s.countLiveFn == nil {
		return 0, errors.New("not implemented")
	}
	return s.countLiveFn(userID, now)
}

type stubSecurityEventRepository struct {
	mu        sync.Mutex
	appendErr error
	appended  []domain.SecurityEvent

	listByWindowFn func(from, to time.Time, limit int) ([]domain.SecurityEvent, error)
	listByUserFn   func(userID uint, limit int) ([]domain.SecurityEvent, error)
}

func (s *stubSecurityEventRepository) Append(_ context.Context, event *domain.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.appended = append(s.appended, *event)
	return nil
}

func (s *stubSecurityEventRepository) ListByWindow(_ context.Context, from, to time.Time, limit int) ([]domain.SecurityEvent, error) {
	if s.listByWindowFn == nil {
		return nil, errors.New("not implemented")
	}
	return s.listByWindowFn(from, to, limit)
}

func (s *stubSecurityEventRepository) ListByUser(_ context.Context, userID uint, limit int) ([]domain.SecurityEvent, error) {
	if s.listByUserFn == nil {
		return nil, errors.New("not implemented")
	}
	return s.listByUserFn(userID, limit)
}

func (s *stubSecurityEventRepository) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.appended))
	for _, ev := range s.appended {
		out = append(out, ev.EventType)
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
