package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"digest-link-service/internal/domain"
	"digest-link-service/internal/http/response"
	"digest-link-service/internal/repository"
	"digest-link-service/internal/security"
	"digest-link-service/internal/service"
)

type TokenHandler struct {
	issuer     service.TokenIssuerInterface
	validator  service.TokenValidatorInterface
	ledger     service.UsageLedgerInterface
	revocation service.RevocationServiceInterface
	events     service.SecurityEventLogInterface
}

func NewTokenHandler(
	issuer service.TokenIssuerInterface,
	validator service.TokenValidatorInterface,
	ledger service.UsageLedgerInterface,
	revocation service.RevocationServiceInterface,
	events service.SecurityEventLogInterface,
) *TokenHandler {
	return &TokenHandler{
		issuer:     issuer,
		validator:  validator,
		ledger:     ledger,
		revocation: revocation,
		events:     events,
	}
}

type issueTokenRequest struct {
	UserID     uint   `json:"user_id"`
	Purpose    string `json:"purpose"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty"`
	MaxUsage   int    `json:"max_usage,omitempty"`
}

// Issue serves the email-composition collaborator. The raw token appears in
// this response and nowhere else.
func (h *TokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	purpose, err := domain.ParsePurpose(req.Purpose)
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "unknown purpose", nil)
		return
	}
	if req.UserID == 0 {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "user_id is required", nil)
		return
	}

	issued, err := h.issuer.Issue(r.Context(), service.IssueRequest{
		UserID:   req.UserID,
		Purpose:  purpose,
		TTL:      time.Duration(req.TTLSeconds) * time.Second,
		MaxUsage: req.MaxUsage,
		Context:  requestContextFrom(r),
	})
	if err != nil {
		response.Error(w, r, http.StatusServiceUnavailable, "LINK_TEMPORARILY_UNAVAILABLE", "token could not be issued", nil)
		return
	}
	response.JSON(w, r, http.StatusCreated, map[string]any{
		"token":      issued.Token,
		"token_id":   issued.TokenID,
		"expires_at": issued.ExpiresAt,
		"max_usage":  issued.MaxUsage,
	})
}

func (h *TokenHandler) ValidatePreferences(w http.ResponseWriter, r *http.Request) {
	h.validateLink(w, r, domain.PurposePreferences)
}

func (h *TokenHandler) ValidateUnsubscribe(w http.ResponseWriter, r *http.Request) {
	h.validateLink(w, r, domain.PurposeUnsubscribe)
}

func (h *TokenHandler) ValidateFeedback(w http.ResponseWriter, r *http.Request) {
	h.validateLink(w, r, domain.PurposeFeedback)
}

func (h *TokenHandler) validateLink(w http.ResponseWriter, r *http.Request, purpose domain.Purpose) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		response.ValidationFailure(w, r, service.CodeMalformed)
		return
	}

	result, err := h.validator.Validate(r.Context(), token, purpose, requestContextFrom(r))
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			response.ValidationFailure(w, r, verr.Code)
			return
		}
		response.ValidationFailure(w, r, service.CodeStoreUnavailable)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"user_id":        result.UserID,
		"purpose":        string(result.Purpose),
		"remaining_uses": result.Remaining,
	})
}

func (h *TokenHandler) Remaining(w http.ResponseWriter, r *http.Request) {
	tokenID := chi.URLParam(r, "token_id")
	remaining, err := h.ledger.Remaining(r.Context(), tokenID)
	if err != nil {
		if errors.Is(err, repository.ErrTokenRecordNotFound) {
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "token not found", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to read usage", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"token_id":       tokenID,
		"remaining_uses": remaining,
	})
}

func (h *TokenHandler) RevokeUserTokens(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	reason := revokeReason(r)

	count, err := h.revocation.RevokeAllForUser(r.Context(), userID, reason)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to revoke tokens", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"user_id":       userID,
		"revoked_count": count,
	})
}

func (h *TokenHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	tokenID := chi.URLParam(r, "token_id")
	reason := revokeReason(r)

	status, err := h.revocation.RevokeOne(r.Context(), tokenID, reason)
	if err != nil {
		if errors.Is(err, repository.ErrTokenRecordNotFound) {
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "token not found", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to revoke token", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"token_id": tokenID,
		"status":   status,
	})
}

func (h *TokenHandler) LiveTokens(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	live, err := h.revocation.HasLiveTokens(r.Context(), userID)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to count live tokens", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"user_id":         userID,
		"has_live_tokens": live,
	})
}

// SecurityEvents answers window or per-user queries for operator tooling.
// Events only ever carry the 8-char token prefix, so this surface cannot
// leak a usable link.
func (h *TokenHandler) SecurityEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid limit", nil)
			return
		}
		limit = v
	}

	if raw := q.Get("user_id"); raw != "" {
		id64, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid user_id", nil)
			return
		}
		events, err := h.events.ListByUser(r.Context(), uint(id64), limit)
		if err != nil {
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to list events", nil)
			return
		}
		response.JSON(w, r, http.StatusOK, events)
		return
	}

	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid from timestamp", nil)
			return
		}
		from = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid to timestamp", nil)
			return
		}
		to = t
	}

	events, err := h.events.ListByWindow(r.Context(), from, to, limit)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to list events", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, events)
}

func userIDParam(w http.ResponseWriter, r *http.Request) (uint, bool) {
	raw := chi.URLParam(r, "user_id")
	id64, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id64 == 0 {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid user id", nil)
		return 0, false
	}
	return uint(id64), true
}

func revokeReason(r *http.Request) string {
	var body struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if strings.TrimSpace(body.Reason) == "" {
		return "operator_request"
	}
	return strings.TrimSpace(body.Reason)
}

func requestContextFrom(r *http.Request) security.RequestContext {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		ip = host
	}
	return security.RequestContext{
		UserAgent: r.UserAgent(),
		IP:        ip,
	}
}
