package pipeline

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gold-analysis-engine/config"
	"gold-analysis-engine/internal/events"
	"gold-analysis-engine/internal/indicator"
	"gold-analysis-engine/internal/marketdata"
)

// fakeSource is a controllable MarketSource for orchestrator tests
type fakeSource struct {
	calls     int64
	delay     time.Duration
	candles   []marketdata.Candle
	err       error
	synthetic bool
}

func (f *fakeSource) Candles(ctx context.Context, symbol, interval string, count int) ([]marketdata.Candle, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.candles, nil
}

func (f *fakeSource) Spot(ctx context.Context, symbol string) (*marketdata.SpotPrice, error) {
	price := 2650.0
	if len(f.candles) > 0 {
		price = f.candles[len(f.candles)-1].Close
	}
	return &marketdata.SpotPrice{Symbol: symbol, Price: price, Timestamp: time.Now()}, nil
}

func (f *fakeSource) IsSynthetic() bool { return f.synthetic }

func (f *fakeSource) callCount() int64 { return atomic.LoadInt64(&f.calls) }

// trendCandles builds an uptrending series long enough for indicators
func trendCandles(count int) []marketdata.Candle {
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

// testConfig builds a config with short windows suited to tests
func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.MarketDataConfig.CandleCount = 250
	cfg.PipelineConfig.DebounceDelay = 0
	cfg.PipelineConfig.MinInterval = 50 * time.Millisecond
	cfg.PipelineConfig.FastMinInterval = 20 * time.Millisecond
	cfg.PipelineConfig.Timeout = 2 * time.Second
	cfg.PipelineConfig.Workers = 1
	cfg.AnalysisConfig.StalenessWindow = time.Minute
	cfg.AnalysisConfig.FastPathWindow = 10 * time.Second
	cfg.AnalysisConfig.AutoRefresh = false
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, src MarketSource, bus *events.EventBus) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(cfg, src, bus)
	if err != nil {
		t.Fatalf("orchestrator construction failed: %v", err)
	}
	t.Cleanup(o.Stop)
	return o
}

// TestRequestAnalysisHappyPath verifies a full run produces a complete
// state with both horizons populated
func TestRequestAnalysisHappyPath(t *testing.T) {
	src := &fakeSource{candles: trendCandles(250)}
	o := newTestOrchestrator(t, testConfig(), src, nil)

	state, err := o.RequestAnalysis(context.Background(), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if state.RunID == "" {
		t.Error("missing run ID")
	}
	if state.Err != "" {
		t.Errorf("unexpected error state: %s", state.Err)
	}
	if state.IsLoading {
		t.Error("completed state still marked loading")
	}
	if state.Indicators == nil {
		t.Fatal("missing indicators")
	}
	if state.Scalp == nil || state.Swing == nil {
		t.Fatal("missing recommendations")
	}
	if state.Scalp.Horizon != "scalp" || state.Swing.Horizon != "swing" {
		t.Errorf("horizons mislabelled: %s / %s", state.Scalp.Horizon, state.Swing.Horizon)
	}
	if len(state.Stages) == 0 {
		t.Error("missing stage report")
	}
	if state.LastUpdate.IsZero() {
		t.Error("missing update timestamp")
	}
}

// TestStalenessCacheShortCircuit verifies a fresh result is served
// from cache without re-running the pipeline
func TestStalenessCacheShortCircuit(t *testing.T) {
	src := &fakeSource{candles: trendCandles(250)}
	o := newTestOrchestrator(t, testConfig(), src, nil)
	ctx := context.Background()

	first, err := o.RequestAnalysis(ctx, Options{})
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	second, err := o.RequestAnalysis(ctx, Options{})
	if err != nil {
		t.Fatalf("cached request failed: %v", err)
	}

	if src.callCount() != 1 {
		t.Errorf("expected 1 pipeline execution, source saw %d fetches", src.callCount())
	}
	if second.RunID != first.RunID {
		t.Errorf("cached state should carry the original run ID")
	}
}

// TestSnapshotIsolation verifies callers cannot mutate orchestrator
// state through returned copies
func TestSnapshotIsolation(t *testing.T) {
	src := &fakeSource{candles: trendCandles(250)}
	o := newTestOrchestrator(t, testConfig(), src, nil)

	state, err := o.RequestAnalysis(context.Background(), Options{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	state.Indicators.RSI = -999
	state.Scalp.Direction = "TAMPERED"

	fresh := o.Snapshot()
	if fresh.Indicators.RSI == -999 {
		t.Error("indicator mutation leaked into orchestrator state")
	}
	if fresh.Scalp.Direction == "TAMPERED" {
		t.Error("recommendation mutation leaked into orchestrator state")
	}
}

// TestDebounceCoalescing verifies a burst of requests produces exactly
// one pipeline execution
func TestDebounceCoalescing(t *testing.T) {
	cfg := testConfig()
	cfg.PipelineConfig.DebounceDelay = 60 * time.Millisecond
	cfg.PipelineConfig.MinInterval = 0
	cfg.AnalysisConfig.StalenessWindow = 0 // disable the cache path

	src := &fakeSource{candles: trendCandles(250)}
	o := newTestOrchestrator(t, cfg, src, nil)

	// Warm up so the burst below is not the first load
	if _, err := o.RequestAnalysis(context.Background(), Options{}); err != nil {
		t.Fatalf("warm-up run failed: %v", err)
	}

	const burst = 4
	var superseded int64
	var wg sync.WaitGroup
	wg.Add(burst)
	for i := 0; i < burst; i++ {
		go func(i int) {
			defer wg.Done()
			time.Sleep(time.Duration(i) * 10 * time.Millisecond)
			_, err := o.RequestAnalysis(context.Background(), Options{})
			if errors.Is(err, ErrSuperseded) {
				atomic.AddInt64(&superseded, 1)
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if src.callCount() != 2 {
		t.Errorf("expected warm-up plus 1 execution from the burst, got %d", src.callCount())
	}
	if got := atomic.LoadInt64(&superseded); got != burst-1 {
		t.Errorf("expected %d superseded requests, got %d", burst-1, got)
	}
}

// TestDebounceSkippedWhenForcedOrFirst verifies forced requests and
// the first load never wait out the debounce window
func TestDebounceSkippedWhenForcedOrFirst(t *testing.T) {
	cfg := testConfig()
	cfg.PipelineConfig.DebounceDelay = 2 * time.Second

	src := &fakeSource{candles: trendCandles(250)}
	o := newTestOrchestrator(t, cfg, src, nil)
	ctx := context.Background()

	start := time.Now()
	if _, err := o.RequestAnalysis(ctx, Options{}); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= cfg.PipelineConfig.DebounceDelay {
		t.Errorf("first load waited out the debounce window: %s", elapsed)
	}

	start = time.Now()
	if _, err := o.RequestAnalysis(ctx, Options{Force: true}); err != nil {
		t.Fatalf("forced run failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= cfg.PipelineConfig.DebounceDelay {
		t.Errorf("forced request waited out the debounce window: %s", elapsed)
	}
	if src.callCount() != 2 {
		t.Errorf("expected 2 executions, got %d", src.callCount())
	}
}

// TestSingleFlight verifies a concurrent request is rejected with
// ErrLocked while a run is in progress
func TestSingleFlight(t *testing.T) {
	src := &fakeSource{candles: trendCandles(250), delay: 200 * time.Millisecond}
	o := newTestOrchestrator(t, testConfig(), src, nil)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := o.RequestAnalysis(ctx, Options{})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond) // let the first run take the lock
	_, err := o.RequestAnalysis(ctx, Options{})
	if !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if src.callCount() != 1 {
		t.Errorf("expected 1 fetch, got %d", src.callCount())
	}
}

// TestRateLimited verifies the min-interval gate rejects an early
// re-run but hands back the previous snapshot
func TestRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.AnalysisConfig.StalenessWindow = 0 // disable the cache path
	cfg.PipelineConfig.MinInterval = 10 * time.Second

	src := &fakeSource{candles: trendCandles(250)}
	o := newTestOrchestrator(t, cfg, src, nil)
	ctx := context.Background()

	first, err := o.RequestAnalysis(ctx, Options{})
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	snap, err := o.RequestAnalysis(ctx, Options{})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if snap == nil || snap.RunID != first.RunID {
		t.Error("rate-limited request should return the previous snapshot")
	}
	if src.callCount() != 1 {
		t.Errorf("rate-limited request still executed: %d fetches", src.callCount())
	}
}

// TestForceBypassesGates verifies Force skips the cache and rate limit
func TestForceBypassesGates(t *testing.T) {
	cfg := testConfig()
	cfg.PipelineConfig.MinInterval = 10 * time.Second

	src := &fakeSource{candles: trendCandles(250)}
	o := newTestOrchestrator(t, cfg, src, nil)
	ctx := context.Background()

	first, err := o.RequestAnalysis(ctx, Options{})
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	forced, err := o.RequestAnalysis(ctx, Options{Force: true})
	if err != nil {
		t.Fatalf("forced run failed: %v", err)
	}
	if forced.RunID == first.RunID {
		t.Error("forced run returned the cached state")
	}
	if src.callCount() != 2 {
		t.Errorf("expected 2 fetches, got %d", src.callCount())
	}
}

// TestPipelineTimeout verifies a stalled fetch trips the deadline with
// the timeout-specific error
func TestPipelineTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.PipelineConfig.Timeout = 80 * time.Millisecond

	src := &fakeSource{candles: trendCandles(250), delay: time.Second}
	o := newTestOrchestrator(t, cfg, src, nil)

	state, err := o.RequestAnalysis(context.Background(), Options{})
	if !errors.Is(err, ErrPipelineTimeout) {
		t.Fatalf("expected ErrPipelineTimeout, got %v", err)
	}
	if state == nil || !strings.Contains(state.Err, "timed out") {
		t.Errorf("error state should carry the timeout message, got %q", state.Err)
	}
}

// TestInsufficientHistory verifies a short series fails the indicator
// stage into an error state without crashing
func TestInsufficientHistory(t *testing.T) {
	src := &fakeSource{candles: trendCandles(50)}
	o := newTestOrchestrator(t, testConfig(), src, nil)

	state, err := o.RequestAnalysis(context.Background(), Options{})
	if !errors.Is(err, indicator.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
	if state == nil || !strings.Contains(state.Err, "indicators") {
		t.Errorf("error state should name the failed stage, got %q", state.Err)
	}
}

// TestFailureRetainsLastGoodState verifies a failed run records its
// error without discarding the previous successful analysis
func TestFailureRetainsLastGoodState(t *testing.T) {
	src := &fakeSource{candles: trendCandles(250)}
	o := newTestOrchestrator(t, testConfig(), src, nil)
	ctx := context.Background()

	good, err := o.RequestAnalysis(ctx, Options{})
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	src.err = errors.New("provider outage")
	state, err := o.RequestAnalysis(ctx, Options{Force: true})
	if err == nil {
		t.Fatal("expected the forced run to fail")
	}
	if state == nil || state.Err == "" {
		t.Fatal("returned state should record the failure")
	}

	snap := o.Snapshot()
	if snap.Scalp == nil || snap.Swing == nil || snap.Indicators == nil {
		t.Fatal("failure discarded the last good analysis payload")
	}
	if snap.RunID != good.RunID {
		t.Errorf("retained state should keep run ID %s, got %s", good.RunID, snap.RunID)
	}
	if snap.Err == "" {
		t.Error("retained state should carry the failure message")
	}
}

// TestEventBusPublish verifies completed runs reach bus subscribers
func TestEventBusPublish(t *testing.T) {
	bus := events.NewEventBus(4)
	defer bus.Close()
	sub := bus.Subscribe()

	src := &fakeSource{candles: trendCandles(250)}
	o := newTestOrchestrator(t, testConfig(), src, bus)

	state, err := o.RequestAnalysis(context.Background(), Options{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	select {
	case ev := <-sub:
		if ev.Type != events.EventAnalysisCompleted {
			t.Errorf("expected completion event, got %s", ev.Type)
		}
		if ev.RunID != state.RunID {
			t.Errorf("event run ID %s does not match state %s", ev.RunID, state.RunID)
		}
		if _, ok := ev.Payload.(*AnalysisState); !ok {
			t.Errorf("payload is not an AnalysisState: %T", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

// TestExecutionLock exercises the keyed try-lock directly
func TestExecutionLock(t *testing.T) {
	lock := NewExecutionLock()

	if !lock.TryAcquire("a") {
		t.Fatal("fresh key should acquire")
	}
	if lock.TryAcquire("a") {
		t.Error("held key should reject")
	}
	if !lock.TryAcquire("b") {
		t.Error("independent key should acquire")
	}

	lock.Release("a")
	if !lock.TryAcquire("a") {
		t.Error("released key should acquire again")
	}
}
