package signal

import (
	"errors"
	"testing"
	"time"
)

var now = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func TestParseCompleteBuy(t *testing.T) {
	raw := []byte(`{
		"symbol": "reliance", "exchange": "nse", "action": "buy",
		"price": 2500, "stop_loss": 2470, "target": 2575,
		"conviction": "high", "sector": "energy",
		"timeframe": "15m", "strategy": "breakout",
		"api_key": "k1"
	}`)

	sig, apiKey, err := Parse(raw, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if apiKey != "k1" {
		t.Fatalf("api key %q", apiKey)
	}
	if sig.Symbol != "RELIANCE" || sig.Exchange != "NSE" {
		t.Fatalf("symbol normalization: %+v", sig)
	}
	if sig.Action != ActionBuy || sig.Conviction != ConvictionHigh {
		t.Fatalf("enums: %+v", sig)
	}
	if sig.StopLoss != 2470 || sig.Target != 2575 {
		t.Fatalf("levels: %+v", sig)
	}
	if !sig.HasTarget() {
		t.Fatalf("target present")
	}
}

func TestParseConvictionDefaultsToMedium(t *testing.T) {
	raw := []byte(`{"symbol": "X", "action": "BUY", "price": 10, "stop_loss": 9, "api_key": "k"}`)
	sig, _, err := Parse(raw, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Conviction != ConvictionMedium {
		t.Fatalf("conviction %v, want MEDIUM", sig.Conviction)
	}
}

func TestParseUnknownValuesRejected(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"unknown action", `{"symbol": "X", "action": "HOLD", "price": 10, "stop_loss": 9, "api_key": "k"}`},
		{"unknown conviction", `{"symbol": "X", "action": "BUY", "price": 10, "stop_loss": 9, "conviction": "YOLO", "api_key": "k"}`},
		{"missing symbol", `{"action": "BUY", "price": 10, "stop_loss": 9, "api_key": "k"}`},
		{"negative stop", `{"symbol": "X", "action": "BUY", "price": 10, "stop_loss": -1, "api_key": "k"}`},
		{"garbage json", `{nope`},
	}
	for _, tc := range cases {
		if _, _, err := Parse([]byte(tc.raw), now); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestParseReturnsAPIKeyOnFieldError(t *testing.T) {
	// 字段错误时仍需返回 api_key，入口要先认证再报 400
	raw := []byte(`{"action": "BUY", "price": 10, "api_key": "k9"}`)
	_, apiKey, err := Parse(raw, now)
	if err == nil {
		t.Fatalf("expected error")
	}
	if apiKey != "k9" {
		t.Fatalf("api key %q", apiKey)
	}
}

func TestValidateStructureBuyInvariants(t *testing.T) {
	base := TradingSignal{Symbol: "X", Action: ActionBuy, Price: 100, StopLoss: 95, Target: 110}
	if err := base.ValidateStructure(); err != nil {
		t.Fatalf("valid buy rejected: %v", err)
	}

	bad := base
	bad.StopLoss = 105 // stop above entry
	if err := bad.ValidateStructure(); !errors.Is(err, ErrInvalidLevels) {
		t.Fatalf("stop above entry: %v", err)
	}

	bad = base
	bad.Target = 90 // target below entry
	if err := bad.ValidateStructure(); !errors.Is(err, ErrInvalidLevels) {
		t.Fatalf("target below entry: %v", err)
	}

	bad = base
	bad.StopLoss = 0
	if err := bad.ValidateStructure(); !errors.Is(err, ErrMissingStop) {
		t.Fatalf("entry without stop: %v", err)
	}

	// target 可选
	noTarget := base
	noTarget.Target = 0
	if err := noTarget.ValidateStructure(); err != nil {
		t.Fatalf("buy without target rejected: %v", err)
	}
}

func TestValidateStructureSellInvariants(t *testing.T) {
	base := TradingSignal{Symbol: "X", Action: ActionSell, Price: 100, StopLoss: 105, Target: 90}
	if err := base.ValidateStructure(); err != nil {
		t.Fatalf("valid sell rejected: %v", err)
	}

	bad := base
	bad.StopLoss = 95 // stop below entry
	if err := bad.ValidateStructure(); !errors.Is(err, ErrInvalidLevels) {
		t.Fatalf("sell stop below entry: %v", err)
	}

	bad = base
	bad.Target = 110 // target above entry
	if err := bad.ValidateStructure(); !errors.Is(err, ErrInvalidLevels) {
		t.Fatalf("sell target above entry: %v", err)
	}
}

func TestExitsSkipLevelChecks(t *testing.T) {
	for _, action := range []Action{ActionClose, ActionCloseAll} {
		sig := TradingSignal{Symbol: "X", Action: action, Price: 100}
		if err := sig.ValidateStructure(); err != nil {
			t.Fatalf("%s: %v", action, err)
		}
		if !sig.Action.IsExit() {
			t.Fatalf("%s must be an exit", action)
		}
	}
}

func TestParseTimestampFallsBackToReceiveTime(t *testing.T) {
	raw := []byte(`{"symbol": "X", "action": "CLOSE", "price": 10, "api_key": "k"}`)
	sig, _, err := Parse(raw, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sig.Timestamp.Equal(now) {
		t.Fatalf("timestamp %v, want receive time %v", sig.Timestamp, now)
	}

	raw = []byte(`{"symbol": "X", "action": "CLOSE", "price": 10, "timestamp": "2026-03-09T15:04:05Z", "api_key": "k"}`)
	sig, _, err = Parse(raw, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Timestamp.Day() != 9 {
		t.Fatalf("payload timestamp ignored: %v", sig.Timestamp)
	}
}

func TestParseActionTable(t *testing.T) {
	cases := map[string]Action{
		"BUY":       ActionBuy,
		"sell":      ActionSell,
		" close ":   ActionClose,
		"close_all": ActionCloseAll,
	}
	for in, want := range cases {
		got, err := ParseAction(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if got != want {
			t.Fatalf("%q: got %v", in, got)
		}
	}
	if _, err := ParseAction("EXIT"); err == nil {
		t.Fatalf("unknown action must error")
	}
}

func TestParseConvictionTable(t *testing.T) {
	cases := map[string]Conviction{
		"below_low":  ConvictionBelowLow,
		"LOW":        ConvictionLow,
		"":           ConvictionMedium,
		"Medium":     ConvictionMedium,
		"HIGH":       ConvictionHigh,
		"above_high": ConvictionAboveHigh,
		"highest":    ConvictionHighest,
	}
	for in, want := range cases {
		got, err := ParseConviction(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if got != want {
			t.Fatalf("%q: got %v, want %v", in, got, want)
		}
	}
}
