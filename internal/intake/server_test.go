package intake

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"signal-gate-go/gateway"
	"signal-gate-go/internal/portfolio"
	"signal-gate-go/internal/risk"
	"signal-gate-go/internal/validator"
)

const testKey = "secret-key"

func newTestServer(t *testing.T, rateLimit int) (*Server, *portfolio.Store) {
	t.Helper()
	store := portfolio.New(100000, portfolio.Limits{
		MaxPositions:             3,
		MaxDailyLossPercent:      0.03,
		MaxTradesPerDay:          5,
		MaxSectorExposurePercent: 0.95,
	}, time.Second, nil)
	v := validator.New(
		risk.NewCalculator(nil, 0.30),
		store,
		&gateway.DryRunClient{},
		validator.Config{MinRiskReward: 2.5, MaxRetries: 1, RetryBackoff: time.Millisecond},
		nil,
	)
	return NewServer(Config{APIKey: testKey, RateLimit: rateLimit}, v, store, nil), store
}

func postWebhook(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rr.Body.String())
	}
	return env
}

func TestWebhookApprovedBuy(t *testing.T) {
	srv, store := newTestServer(t, 0)

	rr := postWebhook(t, srv, `{
		"symbol": "reliance", "action": "BUY", "price": 2500,
		"stop_loss": 2470, "target": 2575,
		"conviction": "MEDIUM", "api_key": "secret-key"
	}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	env := decodeEnvelope(t, rr)
	if !env.Success || !env.Approved {
		t.Fatalf("expected approval, got %+v", env)
	}
	if env.TradeDetails == nil || env.TradeDetails.PositionSize != 12 {
		t.Fatalf("trade details: %+v", env.TradeDetails)
	}
	if store.Snapshot().ActivePositions != 1 {
		t.Fatalf("position not committed")
	}
}

func TestWebhookRejectionIsHTTP200(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	// R:R 2.0，业务拒绝而非错误
	rr := postWebhook(t, srv, `{
		"symbol": "RELIANCE", "action": "BUY", "price": 2500,
		"stop_loss": 2470, "target": 2560, "api_key": "secret-key"
	}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("rejection must be 200, got %d", rr.Code)
	}
	env := decodeEnvelope(t, rr)
	if !env.Success || env.Approved {
		t.Fatalf("expected rejection, got %+v", env)
	}
	if env.TradeDetails != nil {
		t.Fatalf("rejection must not carry trade details")
	}
	if !strings.Contains(env.Reason, "Risk-reward ratio") {
		t.Fatalf("reason %q", env.Reason)
	}
}

func TestWebhookInvalidAPIKey(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	for _, key := range []string{`"wrong"`, `""`} {
		rr := postWebhook(t, srv, `{"symbol": "X", "action": "BUY", "price": 10, "stop_loss": 9, "api_key": `+key+`}`)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("key %s: status %d", key, rr.Code)
		}
		env := decodeEnvelope(t, rr)
		if env.Success || env.Reason != "Invalid API key" {
			t.Fatalf("key %s: %+v", key, env)
		}
	}
}

func TestWebhookMalformedJSON(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	rr := postWebhook(t, srv, `{not json`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rr.Code)
	}
}

func TestWebhookFieldErrorsAre400(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	cases := []string{
		`{"action": "BUY", "price": 2500, "stop_loss": 2470, "api_key": "secret-key"}`,           // missing symbol
		`{"symbol": "X", "action": "HOLD", "price": 10, "stop_loss": 9, "api_key": "secret-key"}`, // unknown action
		`{"symbol": "X", "action": "BUY", "price": 10, "api_key": "secret-key"}`,                  // entry without stop
	}
	for _, body := range cases {
		rr := postWebhook(t, srv, body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status %d (%s)", body, rr.Code, rr.Body.String())
		}
	}
}

// 价位一致性违例是结构阶段的业务拒绝：HTTP 200，approved=false。
// 4xx 只留给格式损坏、字段缺失与认证失败。
func TestWebhookLevelViolationIsBusinessRejection(t *testing.T) {
	cases := []string{
		`{"symbol": "X", "action": "BUY", "price": 100, "stop_loss": 110, "api_key": "secret-key"}`,                 // BUY stop above entry
		`{"symbol": "X", "action": "BUY", "price": 100, "stop_loss": 90, "target": 95, "api_key": "secret-key"}`,    // BUY target below entry
		`{"symbol": "X", "action": "SELL", "price": 100, "stop_loss": 90, "api_key": "secret-key"}`,                 // SELL stop below entry
		`{"symbol": "X", "action": "SELL", "price": 100, "stop_loss": 110, "target": 105, "api_key": "secret-key"}`, // SELL target above entry
	}
	for _, body := range cases {
		srv, store := newTestServer(t, 0)
		rr := postWebhook(t, srv, body)
		if rr.Code != http.StatusOK {
			t.Fatalf("body %s: status %d (%s)", body, rr.Code, rr.Body.String())
		}
		env := decodeEnvelope(t, rr)
		if !env.Success || env.Approved {
			t.Fatalf("body %s: want success=true approved=false, got %+v", body, env)
		}
		if env.Reason == "" {
			t.Fatalf("body %s: rejection must carry a reason", body)
		}
		if store.HasPosition("X") {
			t.Fatalf("body %s: rejected signal must not open a position", body)
		}
	}
}

func TestWebhookRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, 2)

	body := `{"symbol": "X", "action": "CLOSE", "price": 10, "api_key": "secret-key"}`
	for i := 0; i < 2; i++ {
		if rr := postWebhook(t, srv, body); rr.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, rr.Code)
		}
	}
	rr := postWebhook(t, srv, body)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	env := decodeEnvelope(t, rr)
	if env.Reason != "Rate limit exceeded" {
		t.Fatalf("reason %q", env.Reason)
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status %d", rr.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" || body["service"] != "signal-gate" {
		t.Fatalf("body %v", body)
	}
}

func TestStatusEndpointReflectsPortfolio(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	postWebhook(t, srv, `{
		"symbol": "TCS", "action": "BUY", "price": 3500,
		"stop_loss": 3462.5, "conviction": "MEDIUM", "api_key": "secret-key"
	}`)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var snap portfolio.Summary
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.ActivePositions != 1 || snap.TradesToday != 1 {
		t.Fatalf("snapshot %+v", snap)
	}
	if !snap.CanTradeMore {
		t.Fatalf("expected can_trade_more")
	}
}
