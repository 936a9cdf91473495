package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"digest-link-service/internal/domain"
	"digest-link-service/internal/observability"
	"digest-link-service/internal/repository"
	"digest-link-service/internal/security"
)

type SecurityEventInput struct {
	Type    domain.SecurityEventType
	TokenID string
	UserID  *uint
	Context security.RequestContext
}

type SecurityEventLogInterface interface {
	Record(ctx context.Context, input SecurityEventInput)
	ListByWindow(ctx context.Context, from, to time.Time, limit int) ([]domain.SecurityEvent, error)
	ListByUser(ctx context.Context, userID uint, limit int) ([]domain.SecurityEvent, error)
}

// SecurityEventLog is a best-effort sink: Record never returns an error and
// never takes the validation call down with it.
type SecurityEventLog struct {
	events  repository.SecurityEventRepository
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewSecurityEventLog(events repository.SecurityEventRepository, logger *slog.Logger, timeout time.Duration) *SecurityEventLog {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &SecurityEventLog{events: events, logger: logger, timeout: timeout, now: func() time.Time { return time.Now().UTC() }}
}

func (l *SecurityEventLog) Record(ctx context.Context, input SecurityEventInput) {
	event := &domain.SecurityEvent{
		ID:             uuid.NewString(),
		EventType:      string(input.Type),
		TokenIDPrefix:  domain.TokenIDPrefix(input.TokenID),
		UserID:         input.UserID,
		ContextSummary: input.Context.Summary(),
		CreatedAt:      l.now(),
	}

	// Detach from the request's cancellation so a store timeout upstream
	// cannot also suppress the audit row for it.
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()
	if err := l.events.Append(appendCtx, event); err != nil {
		l.logger.WarnContext(ctx, "security event append failed",
			"event_type", event.EventType,
			"token_id_prefix", event.TokenIDPrefix,
			"error", err.Error(),
		)
		return
	}
	observability.RecordSecurityEvent(ctx, event.EventType)
}

func (l *SecurityEventLog) ListByWindow(ctx context.Context, from, to time.Time, limit int) ([]domain.SecurityEvent, error) {
	return l.events.ListByWindow(ctx, from, to, limit)
}

func (l *SecurityEventLog) ListByUser(ctx context.Context, userID uint, limit int) ([]domain.SecurityEvent, error) {
	return l.events.ListByUser(ctx, userID, limit)
}
