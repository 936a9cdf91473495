package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"digest-link-service/internal/domain"
	"digest-link-service/internal/repository"
	"digest-link-service/internal/security"
)

// flowFixture wires the issuer, validator and revocation service over real
// sqlite-backed repositories, the same shape the DI container assembles.
type flowFixture struct {
	issuer     *TokenIssuer
	validator  *TokenValidator
	revocation *RevocationService
	ledger     *UsageLedger
	records    repository.TokenRecordRepository
	eventRepo  repository.SecurityEventRepository
}

func newFlowFixture(t *testing.T) *flowFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// One pooled connection keeps concurrent writes serialized instead of
	// surfacing SQLITE_BUSY.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&domain.TokenRecord{}, &domain.SecurityEvent{}); err != nil {
		t.Fatalf("migrate db: %v", err)
	}

	codec, err := security.NewEnvelopeCodec(issuerTestSecret)
	if err != nil {
		t.Fatal(err)
	}
	records := repository.NewTokenRecordRepository(db)
	eventRepo := repository.NewSecurityEventRepository(db)
	ledger := NewUsageLedger(records)
	events := NewSecurityEventLog(eventRepo, discardLogger(), time.Second)

	return &flowFixture{
		issuer: NewTokenIssuer(records, codec, discardLogger(), IssuerOptions{
			DefaultMaxUsage: 10,
			MaxTTL:          30 * 24 * time.Hour,
		}),
		validator:  NewTokenValidator(records, ledger, events, codec, discardLogger(), time.Second),
		revocation: NewRevocationService(records, discardLogger(), time.Second),
		ledger:     ledger,
		records:    records,
		eventRepo:  eventRepo,
	}
}

func TestFlowIssueThenValidate(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()

	issued, err := f.issuer.Issue(ctx, IssueRequest{
		UserID:  42,
		Purpose: domain.PurposePreferences,
		Context: issuerTestContext(),
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	result, err := f.validator.Validate(ctx, issued.Token, domain.PurposePreferences, issuerTestContext())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.UserID != 42 || result.Remaining != 9 {
		t.Fatalf("result=%+v want user 42, remaining 9", result)
	}

	record, err := f.records.FindByTokenID(ctx, issued.TokenID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if record.UsageCount != 1 {
		t.Fatalf("usage_count=%d want 1", record.UsageCount)
	}
}

func TestFlowDeviceMismatchRecordsEvent(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()

	issued, err := f.issuer.Issue(ctx, IssueRequest{
		UserID:  5,
		Purpose: domain.PurposeUnsubscribe,
		Context: issuerTestContext(),
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	foreign := security.RequestContext{UserAgent: "other-agent", IP: "198.51.100.7"}
	_, err = f.validator.Validate(ctx, issued.Token, domain.PurposeUnsubscribe, foreign)
	expectCode(t, err, CodeDeviceMismatch)

	events, err := f.eventRepo.ListByUser(ctx, 5, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].EventType != string(domain.EventDeviceMismatch) {
		t.Fatalf("events=%v want one device_mismatch", events)
	}
	if events[0].TokenIDPrefix != domain.TokenIDPrefix(issued.TokenID) {
		t.Fatalf("event prefix %q does not match token", events[0].TokenIDPrefix)
	}

	// The failed attempt must not have burned a use.
	record, _ := f.records.FindByTokenID(ctx, issued.TokenID)
	if record.UsageCount != 0 {
		t.Fatalf("usage_count=%d after denied attempt", record.UsageCount)
	}
}

func TestFlowUsageCapDeniesEleventhCall(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()

	issued, err := f.issuer.Issue(ctx, IssueRequest{
		UserID:  9,
		Purpose: domain.PurposeFeedback,
		Context: issuerTestContext(),
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	for i := 0; i < 10; i++ {
		result, err := f.validator.Validate(ctx, issued.Token, domain.PurposeFeedback, issuerTestContext())
		if err != nil {
			t.Fatalf("validate %d: %v", i+1, err)
		}
		if want := 10 - i - 1; result.Remaining != want {
			t.Fatalf("call %d remaining=%d want %d", i+1, result.Remaining, want)
		}
	}

	_, err = f.validator.Validate(ctx, issued.Token, domain.PurposeFeedback, issuerTestContext())
	expectCode(t, err, CodeUsageExceeded)
}

func TestFlowSingleUseConcurrencyAdmitsOneWinner(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()

	issued, err := f.issuer.Issue(ctx, IssueRequest{
		UserID:   11,
		Purpose:  domain.PurposeUnsubscribe,
		MaxUsage: 1,
		Context:  issuerTestContext(),
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	const attempts = 8
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, results[slot] = f.validator.Validate(ctx, issued.Token, domain.PurposeUnsubscribe, issuerTestContext())
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		} else {
			expectCode(t, err, CodeUsageExceeded)
		}
	}
	if successes != 1 {
		t.Fatalf("%d successes, want exactly 1", successes)
	}

	record, _ := f.records.FindByTokenID(ctx, issued.TokenID)
	if record.UsageCount != 1 {
		t.Fatalf("usage_count=%d want 1", record.UsageCount)
	}
}

func TestFlowRevokeAllThenValidate(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()

	var tokens []string
	for i := 0; i < 3; i++ {
		issued, err := f.issuer.Issue(ctx, IssueRequest{
			UserID:  21,
			Purpose: domain.PurposePreferences,
			Context: issuerTestContext(),
		})
		if err != nil {
			t.Fatalf("issue %d: %v", i, err)
		}
		tokens = append(tokens, issued.Token)
	}

	count, err := f.revocation.RevokeAllForUser(ctx, 21, "password_change")
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if count != 3 {
		t.Fatalf("revoked %d, want 3", count)
	}

	for _, token := range tokens {
		_, err := f.validator.Validate(ctx, token, domain.PurposePreferences, issuerTestContext())
		expectCode(t, err, CodeRevoked)
	}

	// Repeat bulk revocation is a no-op.
	count, err = f.revocation.RevokeAllForUser(ctx, 21, "password_change")
	if err != nil || count != 0 {
		t.Fatalf("repeat revoke count=%d err=%v want 0", count, err)
	}

	live, err := f.revocation.HasLiveTokens(ctx, 21)
	if err != nil || live {
		t.Fatalf("live=%v err=%v want no live tokens", live, err)
	}
}

func TestFlowWrongPurposeDenied(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()

	issued, err := f.issuer.Issue(ctx, IssueRequest{
		UserID:  30,
		Purpose: domain.PurposeUnsubscribe,
		Context: issuerTestContext(),
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	_, err = f.validator.Validate(ctx, issued.Token, domain.PurposePreferences, issuerTestContext())
	expectCode(t, err, CodeWrongPurpose)

	// The denial happens before the commit stage, so no use was burned and
	// the correct purpose still works.
	result, err := f.validator.Validate(ctx, issued.Token, domain.PurposeUnsubscribe, issuerTestContext())
	if err != nil {
		t.Fatalf("validate correct purpose: %v", err)
	}
	if result.Remaining != 9 {
		t.Fatalf("remaining=%d want 9", result.Remaining)
	}
}

func TestFlowRemainingMatchesLedger(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()

	issued, err := f.issuer.Issue(ctx, IssueRequest{
		UserID:  33,
		Purpose: domain.PurposeFeedback,
		Context: issuerTestContext(),
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	for i := 0; i < 4; i++ {
		if _, err := f.validator.Validate(ctx, issued.Token, domain.PurposeFeedback, issuerTestContext()); err != nil {
			t.Fatalf("validate %d: %v", i, err)
		}
	}
	remaining, err := f.ledger.Remaining(ctx, issued.TokenID)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != 6 {
		t.Fatalf("remaining=%d want 6", remaining)
	}
}
