package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gold-analysis-engine/config"
	"gold-analysis-engine/internal/marketdata"
	"gold-analysis-engine/internal/pipeline"
)

type stubSource struct {
	candles []marketdata.Candle
}

func (s *stubSource) Candles(ctx context.Context, symbol, interval string, count int) ([]marketdata.Candle, error) {
	return s.candles, nil
}

func (s *stubSource) Spot(ctx context.Context, symbol string) (*marketdata.SpotPrice, error) {
	price := s.candles[len(s.candles)-1].Close
	return &marketdata.SpotPrice{Symbol: symbol, Price: price, Timestamp: time.Now()}, nil
}

func (s *stubSource) IsSynthetic() bool { return true }

func upSeries(count int) []marketdata.Candle {
	candles := make([]marketdata.Candle, count)
	base := time.Now().Add(-time.Duration(count) * 15 * time.Minute)
	price := 2600.0
	for i := range candles {
		open := price
		close := price + 0.5
		candles[i] = marketdata.Candle{
			OpenTime: base.Add(time.Duration(i) * 15 * time.Minute),
			Open:     open,
			High:     math.Max(open, close) + 0.8,
			Low:      math.Min(open, close) - 0.8,
			Close:    close,
			Volume:   1200,
		}
		price = close
	}
	return candles
}

func newTestServer(t *testing.T, tokens *TokenManager) *Server {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.MarketDataConfig.CandleCount = 250
	cfg.PipelineConfig.DebounceDelay = 0
	cfg.PipelineConfig.MinInterval = time.Millisecond
	cfg.PipelineConfig.FastMinInterval = time.Millisecond
	cfg.AnalysisConfig.AutoRefresh = false

	orch, err := pipeline.NewOrchestrator(cfg, &stubSource{candles: upSeries(250)}, nil)
	if err != nil {
		t.Fatalf("orchestrator construction failed: %v", err)
	}
	t.Cleanup(orch.Stop)

	return NewServer(cfg, orch, nil, nil, tokens)
}

func doRequest(s *Server, method, path string, header http.Header) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	if header != nil {
		req.Header = header
	}
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	w := doRequest(s, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestAnalysisEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	w := doRequest(s, http.MethodGet, "/api/v1/analysis", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var body struct {
		Success bool                   `json:"success"`
		Data    map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if !body.Success {
		t.Error("success should be true")
	}
	if body.Data["run_id"] == "" {
		t.Error("run_id should be populated")
	}
	if body.Data["scalp"] == nil || body.Data["swing"] == nil {
		t.Error("both horizons should be present")
	}
}

func TestIndicatorsBeforeFirstRun(t *testing.T) {
	s := newTestServer(t, nil)

	w := doRequest(s, http.MethodGet, "/api/v1/indicators", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestZonesAfterRun(t *testing.T) {
	s := newTestServer(t, nil)

	if w := doRequest(s, http.MethodGet, "/api/v1/analysis", nil); w.Code != http.StatusOK {
		t.Fatalf("warm-up run failed: %d", w.Code)
	}

	w := doRequest(s, http.MethodGet, "/api/v1/zones", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestHistoryDisabled(t *testing.T) {
	s := newTestServer(t, nil)

	w := doRequest(s, http.MethodGet, "/api/v1/history", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestRefreshRequiresToken(t *testing.T) {
	tokens := NewTokenManager("test-secret", "gold-analysis", time.Hour)
	s := newTestServer(t, tokens)

	w := doRequest(s, http.MethodPost, "/api/v1/analysis/refresh", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated refresh: status = %d, want 401", w.Code)
	}

	token, err := tokens.GenerateToken("ops")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	w = doRequest(s, http.MethodPost, "/api/v1/analysis/refresh", header)
	if w.Code != http.StatusOK {
		t.Errorf("authenticated refresh: status = %d, want 200: %s", w.Code, w.Body.String())
	}
}

func TestRefreshOpenWithoutAuth(t *testing.T) {
	s := newTestServer(t, nil)

	w := doRequest(s, http.MethodPost, "/api/v1/analysis/refresh", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
}
