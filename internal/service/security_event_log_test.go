package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"digest-link-service/internal/domain"
	"digest-link-service/internal/security"
)

func TestSecurityEventLogRecordBuildsEvent(t *testing.T) {
	events := &stubSecurityEventRepository{}
	log := NewSecurityEventLog(events, discardLogger(), time.Second)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	log.now = func() time.Time { return now }

	userID := uint(42)
	log.Record(context.Background(), SecurityEventInput{
		Type:    domain.EventDeviceMismatch,
		TokenID: "abcdefghijklmnop-full-token-id",
		UserID:  &userID,
		Context: security.RequestContext{UserAgent: "UA1", IP: "1.2.3.4"},
	})

	if len(events.appended) != 1 {
		t.Fatalf("appended %d events, want 1", len(events.appended))
	}
	ev := events.appended[0]
	if ev.ID == "" {
		t.Fatal("event id not set")
	}
	if ev.EventType != string(domain.EventDeviceMismatch) {
		t.Fatalf("event type=%q", ev.EventType)
	}
	if ev.TokenIDPrefix != "abcdefgh" {
		t.Fatalf("prefix=%q want first 8 chars only", ev.TokenIDPrefix)
	}
	if ev.UserID == nil || *ev.UserID != 42 {
		t.Fatalf("user id=%v", ev.UserID)
	}
	if !ev.CreatedAt.Equal(now) {
		t.Fatalf("created_at=%v", ev.CreatedAt)
	}
}

func TestSecurityEventLogRecordNeverFails(t *testing.T) {
	events := &stubSecurityEventRepository{appendErr: errors.New("store down")}
	log := NewSecurityEventLog(events, discardLogger(), time.Second)

	// Record has no error return; it must simply not panic and not append.
	log.Record(context.Background(), SecurityEventInput{
		Type:    domain.EventRevokedToken,
		TokenID: "tok",
	})
	if len(events.appended) != 0 {
		t.Fatalf("appended %d events despite store failure", len(events.appended))
	}
}

func TestSecurityEventLogRecordSurvivesCancelledContext(t *testing.T) {
	events := &stubSecurityEventRepository{}
	log := NewSecurityEventLog(events, discardLogger(), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	log.Record(ctx, SecurityEventInput{Type: domain.EventExpiredToken, TokenID: "tok"})

	// The append context is detached from the caller's cancellation.
	if len(events.appended) != 1 {
		t.Fatalf("appended %d events, want 1", len(events.appended))
	}
}

func TestSecurityEventLogListPassthrough(t *testing.T) {
	want := []domain.SecurityEvent{{ID: "a"}, {ID: "b"}}
	events := &stubSecurityEventRepository{
		listByWindowFn: func(time.Time, time.Time, int) ([]domain.SecurityEvent, error) { return want, nil },
		listByUserFn:   func(uint, int) ([]domain.SecurityEvent, error) { return want[:1], nil },
	}
	log := NewSecurityEventLog(events, discardLogger(), time.Second)

	got, err := log.ListByWindow(context.Background(), time.Now().Add(-time.Hour), time.Now(), 10)
	if err != nil || len(got) != 2 {
		t.Fatalf("window: got=%v err=%v", got, err)
	}
	got, err = log.ListByUser(context.Background(), 1, 10)
	if err != nil || len(got) != 1 {
		t.Fatalf("user: got=%v err=%v", got, err)
	}
}
