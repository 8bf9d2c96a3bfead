package pipeline

import (
	"sync"
	"time"

	"gold-analysis-engine/internal/logging"
)

// StageReport is one stage's timing against its budget
type StageReport struct {
	Name       string        `json:"name"`
	Budget     time.Duration `json:"budget"`
	Elapsed    time.Duration `json:"elapsed"`
	OverBudget bool          `json:"over_budget"`
}

type stageRecord struct {
	name    string
	budget  time.Duration
	started time.Time
	elapsed time.Duration
	done    bool
}

// Monitor tracks per-stage wall time for one pipeline run. It only
// observes and logs; it never influences control flow.
type Monitor struct {
	mu     sync.Mutex
	order  []string
	stages map[string]*stageRecord
	log    *logging.Logger
}

func NewMonitor() *Monitor {
	return &Monitor{
		stages: make(map[string]*stageRecord),
		log:    logging.WithComponent("perf"),
	}
}

// StartStage begins timing a named stage with an advisory budget
func (m *Monitor) StartStage(name string, budget time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.stages[name]; !exists {
		m.order = append(m.order, name)
	}
	m.stages[name] = &stageRecord{
		name:    name,
		budget:  budget,
		started: time.Now(),
	}
}

// EndStage stops timing a stage and returns its elapsed time
func (m *Monitor) EndStage(name string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.stages[name]
	if !ok || rec.done {
		return 0
	}
	rec.elapsed = time.Since(rec.started)
	rec.done = true

	if rec.budget > 0 && rec.elapsed > rec.budget {
		m.log.Warn("stage over budget",
			"stage", name, "elapsed", rec.elapsed.String(), "budget", rec.budget.String())
	}
	return rec.elapsed
}

// Report returns all stages in start order
func (m *Monitor) Report() []StageReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]StageReport, 0, len(m.order))
	for _, name := range m.order {
		rec := m.stages[name]
		elapsed := rec.elapsed
		if !rec.done {
			elapsed = time.Since(rec.started)
		}
		out = append(out, StageReport{
			Name:       rec.name,
			Budget:     rec.budget,
			Elapsed:    elapsed,
			OverBudget: rec.budget > 0 && elapsed > rec.budget,
		})
	}
	return out
}

// Total sums elapsed time across completed stages
func (m *Monitor) Total() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total time.Duration
	for _, rec := range m.stages {
		if rec.done {
			total += rec.elapsed
		}
	}
	return total
}
