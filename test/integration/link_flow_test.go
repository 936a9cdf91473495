package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"digest-link-service/internal/database"
	"digest-link-service/internal/http/handler"
	"digest-link-service/internal/http/middleware"
	"digest-link-service/internal/http/router"
	"digest-link-service/internal/repository"
	"digest-link-service/internal/security"
	"digest-link-service/internal/service"
)

const testSecret = "integration-secret-0123456789abcdef"

type stack struct {
	handler http.Handler
}

func newStack(t *testing.T, rpm int) *stack {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	m := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	codec, err := security.NewEnvelopeCodec(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	records := repository.NewTokenRecordRepository(db)
	eventRepo := repository.NewSecurityEventRepository(db)
	ledger := service.NewUsageLedger(records)
	events := service.NewSecurityEventLog(eventRepo, log, time.Second)
	issuer := service.NewTokenIssuer(records, codec, log, service.IssuerOptions{DefaultMaxUsage: 10})
	validator := service.NewTokenValidator(records, ledger, events, codec, log, time.Second)
	revocation := service.NewRevocationService(records, log, time.Second)

	h := router.New(router.Dependencies{
		TokenHandler:     handler.NewTokenHandler(issuer, validator, ledger, revocation, events),
		HealthHandler:    handler.NewHealthHandler(db, redisClient),
		LinkLimiter:      middleware.NewRedisFixedWindowLimiter(redisClient, "it_rl"),
		LinkRateLimitRPM: rpm,
	})
	return &stack{handler: h}
}

func (s *stack) do(t *testing.T, method, target, body, remoteAddr string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("User-Agent", "integration-agent/1.0")
	if remoteAddr == "" {
		remoteAddr = "203.0.113.10:44444"
	}
	req.RemoteAddr = remoteAddr
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)

	var decoded map[string]any
	if rr.Body.Len() > 0 {
		_ = json.Unmarshal(rr.Body.Bytes(), &decoded)
	}
	return rr, decoded
}

func issueToken(t *testing.T, s *stack, userID int, purpose string) (token, tokenID string) {
	t.Helper()
	rr, body := s.do(t, http.MethodPost, "/internal/tokens",
		fmt.Sprintf(`{"user_id":%d,"purpose":%q}`, userID, purpose), "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("issue: status=%d body=%s", rr.Code, rr.Body.String())
	}
	data := body["data"].(map[string]any)
	return data["token"].(string), data["token_id"].(string)
}

func TestLinkFlowEndToEnd(t *testing.T) {
	s := newStack(t, 1000)

	token, tokenID := issueToken(t, s, 42, "preferences")

	rr, body := s.do(t, http.MethodGet, "/l/preferences?token="+token, "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("validate: status=%d body=%s", rr.Code, rr.Body.String())
	}
	data := body["data"].(map[string]any)
	if data["user_id"] != float64(42) || data["remaining_uses"] != float64(9) {
		t.Fatalf("unexpected data: %+v", data)
	}

	rr, body = s.do(t, http.MethodGet, "/internal/tokens/"+tokenID+"/remaining", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("remaining: status=%d", rr.Code)
	}
	if body["data"].(map[string]any)["remaining_uses"] != float64(9) {
		t.Fatalf("remaining mismatch: %+v", body)
	}
}

func TestLinkFlowWrongPurposeAndForgedToken(t *testing.T) {
	s := newStack(t, 1000)

	token, _ := issueToken(t, s, 7, "unsubscribe")

	rr, body := s.do(t, http.MethodGet, "/l/preferences?token="+token, "", "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("wrong purpose: status=%d", rr.Code)
	}
	if code := body["error"].(map[string]any)["code"]; code != "LINK_WRONG_PURPOSE" {
		t.Fatalf("unexpected code: %v", code)
	}

	// A token signed with a different secret answers exactly like garbage.
	otherCodec, _ := security.NewEnvelopeCodec("other-secret-0123456789abcdefghij")
	forged, err := otherCodec.Sign(security.EnvelopeClaims{
		TokenID: "forged-token-id", UserID: 7, DeviceFP: "fp", Purpose: "unsubscribe",
		IssuedAt: time.Now().Unix(), ExpiresAt: time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatal(err)
	}
	rrForged, bodyForged := s.do(t, http.MethodGet, "/l/unsubscribe?token="+forged, "", "")
	rrGarbage, bodyGarbage := s.do(t, http.MethodGet, "/l/unsubscribe?token=garbage", "", "")
	if rrForged.Code != http.StatusUnauthorized || rrGarbage.Code != http.StatusUnauthorized {
		t.Fatalf("probe statuses: forged=%d garbage=%d", rrForged.Code, rrGarbage.Code)
	}
	codeForged := bodyForged["error"].(map[string]any)["code"]
	codeGarbage := bodyGarbage["error"].(map[string]any)["code"]
	if codeForged != "LINK_INVALID" || codeGarbage != "LINK_INVALID" {
		t.Fatalf("probe codes differ: forged=%v garbage=%v", codeForged, codeGarbage)
	}
}

func TestLinkFlowRevocationWins(t *testing.T) {
	s := newStack(t, 1000)

	token, _ := issueToken(t, s, 9, "feedback")

	rr, body := s.do(t, http.MethodPost, "/internal/users/9/revoke-tokens", `{"reason":"abuse_report"}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("revoke: status=%d", rr.Code)
	}
	if body["data"].(map[string]any)["revoked_count"] != float64(1) {
		t.Fatalf("revoked_count mismatch: %+v", body)
	}

	rr, body = s.do(t, http.MethodPost, "/l/feedback?token="+token, "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("revoked validate: status=%d", rr.Code)
	}
	if code := body["error"].(map[string]any)["code"]; code != "LINK_REVOKED" {
		t.Fatalf("unexpected code: %v", code)
	}

	rr, _ = s.do(t, http.MethodGet, "/internal/security-events?user_id=9", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("events: status=%d", rr.Code)
	}
}

func TestLinkFlowRateLimitPerToken(t *testing.T) {
	s := newStack(t, 2)

	token, _ := issueToken(t, s, 11, "preferences")

	for i := 0; i < 2; i++ {
		rr, _ := s.do(t, http.MethodGet, "/l/preferences?token="+token, "", "")
		if rr.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d should not be limited", i+1)
		}
	}
	rr, body := s.do(t, http.MethodGet, "/l/preferences?token="+token, "", "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d want 429", rr.Code)
	}
	if code := body["error"].(map[string]any)["code"]; code != "RATE_LIMITED" {
		t.Fatalf("unexpected code: %v", code)
	}

	// Another token from another client keeps its own budget.
	otherToken, _ := issueToken(t, s, 12, "preferences")
	rr, _ = s.do(t, http.MethodGet, "/l/preferences?token="+otherToken, "", "198.51.100.9:2000")
	if rr.Code == http.StatusTooManyRequests {
		t.Fatal("unrelated token must not share the exhausted bucket")
	}
}
