package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"digest-link-service/internal/domain"
	"digest-link-service/internal/observability"
	"digest-link-service/internal/repository"
	"digest-link-service/internal/security"
)

type ValidationResult struct {
	UserID    uint
	TokenID   string
	Purpose   domain.Purpose
	Remaining int
}

type TokenValidatorInterface interface {
	Validate(ctx context.Context, token string, expected domain.Purpose, reqCtx security.RequestContext) (*ValidationResult, error)
}

// TokenValidator runs the ordered validation pipeline. Checks short-circuit
// on the first failure; the cheap pure-CPU checks (structure, signature,
// expiry) run before any store access, and every store access is bounded by
// the configured timeout and fails closed.
type TokenValidator struct {
	records      repository.TokenRecordRepository
	ledger       *UsageLedger
	events       *SecurityEventLog
	codec        *security.EnvelopeCodec
	logger       *slog.Logger
	storeTimeout time.Duration
	now          func() time.Time
}

func NewTokenValidator(
	records repository.TokenRecordRepository,
	ledger *UsageLedger,
	events *SecurityEventLog,
	codec *security.EnvelopeCodec,
	logger *slog.Logger,
	storeTimeout time.Duration,
) *TokenValidator {
	if storeTimeout <= 0 {
		storeTimeout = 3 * time.Second
	}
	return &TokenValidator{
		records:      records,
		ledger:       ledger,
		events:       events,
		codec:        codec,
		logger:       logger,
		storeTimeout: storeTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (v *TokenValidator) Validate(ctx context.Context, token string, expected domain.Purpose, reqCtx security.RequestContext) (*ValidationResult, error) {
	result, err := v.validate(ctx, token, expected, reqCtx)
	code := "SUCCESS"
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			code = string(verr.Code)
		} else {
			code = string(CodeStoreUnavailable)
		}
	}
	observability.RecordValidationOutcome(ctx, string(expected), code)
	return result, err
}

func (v *TokenValidator) validate(ctx context.Context, token string, expected domain.Purpose, reqCtx security.RequestContext) (*ValidationResult, error) {
	now := v.now()

	// Structural decode, signature, claim completeness. No store access yet.
	claims, err := v.codec.Verify(token)
	if err != nil {
		switch {
		case errors.Is(err, security.ErrBadSignature):
			v.events.Record(ctx, SecurityEventInput{
				Type:    domain.EventInvalidSignature,
				TokenID: security.PeekTokenID(token),
				Context: reqCtx,
			})
			return nil, NewValidationError(CodeInvalidSignature, err)
		default:
			return nil, NewValidationError(CodeMalformed, err)
		}
	}
	userID := claims.UserID

	// Expiration from the verified claims, before touching the store.
	if now.After(claims.Expiry()) {
		v.events.Record(ctx, SecurityEventInput{
			Type:    domain.EventExpiredToken,
			TokenID: claims.TokenID,
			UserID:  &userID,
			Context: reqCtx,
		})
		return nil, NewValidationError(CodeExpired, nil)
	}

	record, err := v.lookupRecord(ctx, claims.TokenID)
	if err != nil {
		return nil, err
	}

	if record.Revoked {
		v.events.Record(ctx, SecurityEventInput{
			Type:    domain.EventRevokedToken,
			TokenID: claims.TokenID,
			UserID:  &userID,
			Context: reqCtx,
		})
		return nil, NewValidationError(CodeRevoked, nil)
	}

	if record.UsageCount >= record.MaxUsage {
		v.events.Record(ctx, SecurityEventInput{
			Type:    domain.EventUsageExceeded,
			TokenID: claims.TokenID,
			UserID:  &userID,
			Context: reqCtx,
		})
		return nil, NewValidationError(CodeUsageExceeded, nil)
	}

	// Device binding is compared against the stored record value, not the
	// claim, so a forged claim can never relax it.
	if security.DeviceFingerprint(reqCtx) != record.DeviceFingerprintHash {
		v.events.Record(ctx, SecurityEventInput{
			Type:    domain.EventDeviceMismatch,
			TokenID: claims.TokenID,
			UserID:  &userID,
			Context: reqCtx,
		})
		return nil, NewValidationError(CodeDeviceMismatch, nil)
	}

	if claims.Purpose != string(expected) {
		return nil, NewValidationError(CodeWrongPurpose,
			fmt.Errorf("token purpose %q, expected %q", claims.Purpose, expected))
	}

	// Commit: the atomic conditional increment decides. A concurrent
	// validation may have consumed the last use between the checks above and
	// here; the ledger surfaces the precise reason.
	commitCtx, cancel := context.WithTimeout(ctx, v.storeTimeout)
	defer cancel()
	if err := v.ledger.Consume(commitCtx, claims.TokenID, now); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			switch verr.Code {
			case CodeRevoked:
				v.events.Record(ctx, SecurityEventInput{Type: domain.EventRevokedToken, TokenID: claims.TokenID, UserID: &userID, Context: reqCtx})
			case CodeExpired:
				v.events.Record(ctx, SecurityEventInput{Type: domain.EventExpiredToken, TokenID: claims.TokenID, UserID: &userID, Context: reqCtx})
			case CodeUsageExceeded:
				v.events.Record(ctx, SecurityEventInput{Type: domain.EventUsageExceeded, TokenID: claims.TokenID, UserID: &userID, Context: reqCtx})
			}
			return nil, verr
		}
		return nil, NewValidationError(CodeStoreUnavailable, err)
	}

	remaining := record.MaxUsage - record.UsageCount - 1
	if remaining < 0 {
		remaining = 0
	}
	v.logger.DebugContext(ctx, "token validated",
		"token_id_prefix", domain.TokenIDPrefix(claims.TokenID),
		"user_id", userID,
		"purpose", claims.Purpose,
		"remaining", remaining,
	)
	return &ValidationResult{
		UserID:    userID,
		TokenID:   claims.TokenID,
		Purpose:   expected,
		Remaining: remaining,
	}, nil
}

func (v *TokenValidator) lookupRecord(ctx context.Context, tokenID string) (*domain.TokenRecord, error) {
	storeCtx, cancel := context.WithTimeout(ctx, v.storeTimeout)
	defer cancel()
	record, err := v.records.FindByTokenID(storeCtx, tokenID)
	if err != nil {
		if errors.Is(err, repository.ErrTokenRecordNotFound) {
			return nil, NewValidationError(CodeNotFound, err)
		}
		// Timeout or store failure: fail closed, never open.
		return nil, NewValidationError(CodeStoreUnavailable, err)
	}
	return record, nil
}
