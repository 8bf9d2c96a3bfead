package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"gold-analysis-engine/config"
	"gold-analysis-engine/internal/events"
	"gold-analysis-engine/internal/indicator"
	"gold-analysis-engine/internal/logging"
	"gold-analysis-engine/internal/marketdata"
	"gold-analysis-engine/internal/signal"
	"gold-analysis-engine/internal/zones"
)

// Concurrency rejections. These are expected outcomes under load, not
// faults: callers get the current snapshot alongside the sentinel and
// the orchestrator logs them at DEBUG.
var (
	ErrLocked      = errors.New("analysis already running")
	ErrRateLimited = errors.New("analysis requested too soon after the last run")
	ErrSuperseded  = errors.New("request superseded by a newer one in the debounce window")

	// ErrPipelineTimeout marks a run that exceeded the pipeline deadline
	ErrPipelineTimeout = errors.New("analysis pipeline timed out")
)

// MarketSource is the slice of the market data layer the orchestrator
// needs. *marketdata.Source satisfies it.
type MarketSource interface {
	Candles(ctx context.Context, symbol, interval string, count int) ([]marketdata.Candle, error)
	Spot(ctx context.Context, symbol string) (*marketdata.SpotPrice, error)
	IsSynthetic() bool
}

// AnalysisState is the complete outcome of one pipeline run. The
// orchestrator owns the authoritative copy; every accessor returns a
// deep copy so callers can never mutate shared state.
type AnalysisState struct {
	RunID           string                 `json:"run_id"`
	Symbol          string                 `json:"symbol"`
	Interval        string                 `json:"interval"`
	SpotPrice       float64                `json:"spot_price"`
	Scalp           *signal.Recommendation `json:"scalp"`
	Swing           *signal.Recommendation `json:"swing"`
	Indicators      *indicator.Set         `json:"indicators"`
	SupportZones    []zones.Level          `json:"support_zones"`
	ResistanceZones []zones.Level          `json:"resistance_zones"`
	Synthetic       bool                   `json:"synthetic"`
	IsLoading       bool                   `json:"is_loading"`
	LastUpdate      time.Time              `json:"last_update"`
	Err             string                 `json:"error,omitempty"`
	Elapsed         time.Duration          `json:"elapsed"`
	Stages          []StageReport          `json:"stages,omitempty"`
}

func (s *AnalysisState) copy() *AnalysisState {
	if s == nil {
		return nil
	}
	out := *s
	if s.Scalp != nil {
		scalp := *s.Scalp
		scalp.Confirmations = append([]signal.Confirmation(nil), s.Scalp.Confirmations...)
		out.Scalp = &scalp
	}
	if s.Swing != nil {
		swing := *s.Swing
		swing.Confirmations = append([]signal.Confirmation(nil), s.Swing.Confirmations...)
		out.Swing = &swing
	}
	if s.Indicators != nil {
		ind := *s.Indicators
		out.Indicators = &ind
	}
	out.SupportZones = append([]zones.Level(nil), s.SupportZones...)
	out.ResistanceZones = append([]zones.Level(nil), s.ResistanceZones...)
	out.Stages = append([]StageReport(nil), s.Stages...)
	return &out
}

// Options controls one analysis request
type Options struct {
	// Force bypasses the staleness cache and the min-interval gate
	Force bool
	// Fast uses the short staleness window and min interval
	Fast bool
}

// ExecutionLock is a keyed try-lock guarding pipeline execution. At
// most one run per logical key is in flight at any time.
type ExecutionLock struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewExecutionLock() *ExecutionLock {
	return &ExecutionLock{held: make(map[string]bool)}
}

// TryAcquire takes the lock for key without blocking
func (l *ExecutionLock) TryAcquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false
	}
	l.held[key] = true
	return true
}

// Release frees the lock for key
func (l *ExecutionLock) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}

// debouncer coalesces request bursts: every call restarts the window
// and only the last caller of a burst proceeds.
type debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	gen   uint64
}

// wait sleeps out the debounce window. It reports false when a newer
// call arrived while waiting or the context expired.
func (d *debouncer) wait(ctx context.Context) (bool, error) {
	if d.delay <= 0 {
		return true, nil
	}

	d.mu.Lock()
	d.gen++
	mine := d.gen
	d.mu.Unlock()

	timer := time.NewTimer(d.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
	}

	d.mu.Lock()
	latest := d.gen == mine
	d.mu.Unlock()
	return latest, nil
}

// Orchestrator drives the candles → indicators → zones → signals
// pipeline under the concurrency contract: staleness cache, debounce,
// single-flight execution lock, min-interval rate limit, deadline.
type Orchestrator struct {
	source  MarketSource
	workers *WorkerPool
	bus     *events.EventBus // optional
	lock    *ExecutionLock
	deb     *debouncer
	log     *logging.Logger

	symbol      string
	interval    string
	candleCount int

	// policy is resolved once at construction; each run takes a value
	// copy so mid-run config changes can never skew a running analysis
	policy zones.Policy

	stalenessWindow time.Duration
	fastPathWindow  time.Duration
	minInterval     time.Duration
	fastMinInterval time.Duration
	timeout         time.Duration
	refreshInterval time.Duration
	autoRefresh     bool

	mu           sync.RWMutex
	state        *AnalysisState
	lastRun      time.Time
	currentRunID string

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewOrchestrator wires the pipeline from configuration
func NewOrchestrator(cfg *config.Config, source MarketSource, bus *events.EventBus) (*Orchestrator, error) {
	policy, err := zones.PolicyFor(cfg.AnalysisConfig.Strictness)
	if err != nil {
		return nil, fmt.Errorf("resolving zone policy: %w", err)
	}

	return &Orchestrator{
		source:          source,
		workers:         NewWorkerPool(cfg.PipelineConfig.Workers, signal.NewEngine()),
		bus:             bus,
		lock:            NewExecutionLock(),
		deb:             &debouncer{delay: cfg.PipelineConfig.DebounceDelay},
		log:             logging.WithComponent("pipeline"),
		symbol:          cfg.MarketDataConfig.Symbol,
		interval:        cfg.MarketDataConfig.Interval,
		candleCount:     cfg.MarketDataConfig.CandleCount,
		policy:          policy,
		stalenessWindow: cfg.AnalysisConfig.StalenessWindow,
		fastPathWindow:  cfg.AnalysisConfig.FastPathWindow,
		minInterval:     cfg.PipelineConfig.MinInterval,
		fastMinInterval: cfg.PipelineConfig.FastMinInterval,
		timeout:         cfg.PipelineConfig.Timeout,
		refreshInterval: cfg.AnalysisConfig.RefreshInterval,
		autoRefresh:     cfg.AnalysisConfig.AutoRefresh,
		stopCh:          make(chan struct{}),
	}, nil
}

// lockKey identifies the single-flight scope
func (o *Orchestrator) lockKey() string {
	return o.symbol + ":" + o.interval
}

// firstLoad reports whether no run has produced a state yet
func (o *Orchestrator) firstLoad() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state == nil
}

// Snapshot returns a copy of the latest state, nil before the first run
func (o *Orchestrator) Snapshot() *AnalysisState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.copy()
}

// freshState returns the cached state while it is inside the staleness
// window, nil otherwise
func (o *Orchestrator) freshState(fast bool) *AnalysisState {
	window := o.stalenessWindow
	if fast {
		window = o.fastPathWindow
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.state == nil || o.state.Err != "" || o.state.IsLoading {
		return nil
	}
	if time.Since(o.state.LastUpdate) > window {
		return nil
	}
	return o.state.copy()
}

// RequestAnalysis runs the full request contract in order: staleness
// cache, debounce, execution lock, rate limit, then the staged
// pipeline under the run deadline. Rejected requests return the
// current snapshot alongside the sentinel error.
func (o *Orchestrator) RequestAnalysis(ctx context.Context, opts Options) (*AnalysisState, error) {
	// (1) Fresh cache short-circuits everything
	if !opts.Force {
		if cached := o.freshState(opts.Fast); cached != nil {
			o.log.Debug("serving cached analysis", "age", time.Since(cached.LastUpdate).String())
			return cached, nil
		}
	}

	// (2) Debounce: only the last call of a burst executes. Forced
	// requests and the first load go straight through.
	if !opts.Force && !o.firstLoad() {
		latest, err := o.deb.wait(ctx)
		if err != nil {
			return nil, err
		}
		if !latest {
			o.log.Debug("request superseded during debounce window")
			return o.Snapshot(), ErrSuperseded
		}
	}

	// (3) Single-flight execution lock
	key := o.lockKey()
	if !o.lock.TryAcquire(key) {
		o.log.Debug("analysis already in flight", "key", key)
		return o.Snapshot(), ErrLocked
	}
	defer o.lock.Release(key)

	// (4) Minimum interval between real runs, waived for forced
	// requests and the first load
	if !opts.Force {
		minGap := o.minInterval
		if opts.Fast {
			minGap = o.fastMinInterval
		}
		o.mu.RLock()
		last := o.lastRun
		o.mu.RUnlock()
		if !last.IsZero() && time.Since(last) < minGap {
			o.log.Debug("rate limited", "since_last", time.Since(last).String(), "min", minGap.String())
			return o.Snapshot(), ErrRateLimited
		}
	}

	// (5) Execute under the pipeline deadline
	return o.execute(ctx)
}

// execute runs the staged pipeline. The deadline context propagates
// into every stage; a timed-out run's late results are additionally
// discarded by the run-ID check in commit.
func (o *Orchestrator) execute(ctx context.Context) (*AnalysisState, error) {
	runID := uuid.New().String()
	started := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	runCtx, runLog := logging.WithRunContext(runCtx, runID)

	o.mu.Lock()
	o.currentRunID = runID
	if o.state == nil {
		o.state = &AnalysisState{Symbol: o.symbol, Interval: o.interval}
	}
	o.state.IsLoading = true
	o.mu.Unlock()

	runLog.Info("analysis run started", "symbol", o.symbol, "interval", o.interval)

	perf := NewMonitor()
	policy := o.policy // immutable per-run snapshot

	perf.StartStage("fetch", 4*time.Second)
	candles, err := o.source.Candles(runCtx, o.symbol, o.interval, o.candleCount)
	if err != nil {
		perf.EndStage("fetch")
		return o.fail(runID, "fetch", started, perf, err)
	}
	spot, err := o.source.Spot(runCtx, o.symbol)
	perf.EndStage("fetch")
	if err != nil {
		return o.fail(runID, "fetch", started, perf, err)
	}
	if o.bus != nil {
		o.bus.PublishPriceUpdate(o.symbol, spot.Price)
	}
	logging.StageLogger(runCtx, "fetch").Debug("series fetched",
		"candles", len(candles), "spot", spot.Price)

	perf.StartStage("indicators", time.Second)
	ind, err := indicator.Compute(candles)
	perf.EndStage("indicators")
	if err != nil {
		return o.fail(runID, "indicators", started, perf, err)
	}

	perf.StartStage("zones", time.Second)
	zoneResult, err := zones.Detect(candles, ind, policy)
	perf.EndStage("zones")
	if err != nil {
		return o.fail(runID, "zones", started, perf, err)
	}
	logging.StageLogger(runCtx, "zones").Debug("levels detected",
		"supports", len(zoneResult.Supports), "resistances", len(zoneResult.Resistances))

	perf.StartStage("signals", 2*time.Second)
	pair, err := o.workers.Submit(runCtx, spot.Price, ind, zoneResult)
	perf.EndStage("signals")
	if err != nil {
		return o.fail(runID, "signals", started, perf, err)
	}

	state := &AnalysisState{
		RunID:           runID,
		Symbol:          o.symbol,
		Interval:        o.interval,
		SpotPrice:       spot.Price,
		Scalp:           pair.Scalp,
		Swing:           pair.Swing,
		Indicators:      ind,
		SupportZones:    zoneResult.Supports,
		ResistanceZones: zoneResult.Resistances,
		Synthetic:       o.source.IsSynthetic(),
		LastUpdate:      time.Now(),
		Elapsed:         time.Since(started),
		Stages:          perf.Report(),
	}

	if !o.commit(runID, state) {
		runLog.Warn("discarding late result from superseded run")
		return o.Snapshot(), ErrSuperseded
	}

	runLog.WithDuration(state.Elapsed).Info("analysis run completed",
		"scalp", string(pair.Scalp.Direction),
		"swing", string(pair.Swing.Direction),
		"synthetic", state.Synthetic)

	if o.bus != nil {
		o.bus.PublishAnalysisCompleted(runID, state.copy())
	}
	return state.copy(), nil
}

// commit installs the new state if this run is still the current one
func (o *Orchestrator) commit(runID string, state *AnalysisState) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.currentRunID != runID {
		return false
	}
	o.state = state
	o.lastRun = state.LastUpdate
	return true
}

// fail records a run failure. Deadline errors get the timeout-specific
// message. The last successful analysis payload stays cached: the
// failure is recorded alongside it, never in place of it.
func (o *Orchestrator) fail(runID, stage string, started time.Time, perf *Monitor, cause error) (*AnalysisState, error) {
	err := cause
	if errors.Is(cause, context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s in stage %s", ErrPipelineTimeout, o.timeout, stage)
	} else {
		err = fmt.Errorf("stage %s failed: %w", stage, cause)
	}

	o.mu.Lock()
	var state *AnalysisState
	if o.state != nil && o.state.Scalp != nil {
		// the retained copy keeps the good run's ID, payload and
		// timestamp; only the error and timing fields change
		state = o.state.copy()
	} else {
		state = &AnalysisState{
			RunID:      runID,
			Symbol:     o.symbol,
			Interval:   o.interval,
			LastUpdate: time.Now(),
		}
	}
	state.Err = err.Error()
	state.IsLoading = false
	state.Elapsed = time.Since(started)
	state.Stages = perf.Report()
	if o.currentRunID == runID {
		o.state = state
	}
	o.mu.Unlock()

	o.log.WithRunID(runID).WithError(err).Error("analysis run failed", "stage", stage)

	if o.bus != nil {
		o.bus.PublishAnalysisFailed(runID, stage, err)
	}
	return state.copy(), err
}

// Performance returns the stage report of the most recent run
func (o *Orchestrator) Performance() []StageReport {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.state == nil {
		return nil
	}
	return append([]StageReport(nil), o.state.Stages...)
}

// StartAutoRefresh launches the periodic re-analysis loop when enabled
func (o *Orchestrator) StartAutoRefresh(ctx context.Context) {
	if !o.autoRefresh || o.refreshInterval <= 0 {
		return
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		ticker := time.NewTicker(o.refreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-o.stopCh:
				return
			case <-ticker.C:
				// Goes through the full request contract; staleness
				// and rate limiting apply as usual
				if _, err := o.RequestAnalysis(ctx, Options{}); err != nil &&
					!errors.Is(err, ErrRateLimited) && !errors.Is(err, ErrLocked) && !errors.Is(err, ErrSuperseded) {
					o.log.WithError(err).Warn("auto-refresh analysis failed")
				}
			}
		}
	}()
}

// Stop halts auto-refresh and the worker pool
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		close(o.stopCh)
	})
	o.wg.Wait()
	o.workers.Close()
}
