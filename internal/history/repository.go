package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gold-analysis-engine/internal/pipeline"
	"gold-analysis-engine/internal/signal"
)

// RecommendationRecord is one persisted recommendation row
type RecommendationRecord struct {
	ID          uuid.UUID `json:"id"`
	RunID       uuid.UUID `json:"run_id"`
	Symbol      string    `json:"symbol"`
	Horizon     string    `json:"horizon"`
	Direction   string    `json:"direction"`
	EntryPrice  float64   `json:"entry_price"`
	StopLoss    float64   `json:"stop_loss"`
	TakeProfit  float64   `json:"take_profit"`
	TakeProfit2 float64   `json:"take_profit_2"`
	Confidence  int       `json:"confidence"`
	RiskReward  float64   `json:"risk_reward"`
	Reasoning   string    `json:"reasoning"`
	Synthetic   bool      `json:"synthetic"`
	CreatedAt   time.Time `json:"created_at"`
}

// Repository persists completed analysis states. History failures are
// logged and swallowed by callers; they never fail the pipeline.
type Repository struct {
	db        *DB
	retention int
	logger    zerolog.Logger
}

// NewRepository creates a repository keeping at most retention rows
// per symbol
func NewRepository(db *DB, retention int, logger zerolog.Logger) *Repository {
	if retention < 1 {
		retention = 500
	}
	return &Repository{
		db:        db,
		retention: retention,
		logger:    logger.With().Str("component", "HistoryRepository").Logger(),
	}
}

// SaveAnalysis persists both horizons of a completed state and prunes
// rows beyond the retention limit
func (r *Repository) SaveAnalysis(ctx context.Context, state *pipeline.AnalysisState) error {
	if state == nil || state.Err != "" {
		return nil
	}

	runID, err := uuid.Parse(state.RunID)
	if err != nil {
		return fmt.Errorf("invalid run ID %q: %w", state.RunID, err)
	}

	for _, rec := range []*signal.Recommendation{state.Scalp, state.Swing} {
		if rec == nil {
			continue
		}
		if err := r.insert(ctx, runID, state.Symbol, state.Synthetic, rec); err != nil {
			r.logger.Error().Err(err).
				Str("run_id", state.RunID).
				Str("horizon", string(rec.Horizon)).
				Msg("failed to persist recommendation")
			return err
		}
	}

	if err := r.prune(ctx, state.Symbol); err != nil {
		r.logger.Warn().Err(err).Str("symbol", state.Symbol).Msg("history prune failed")
	}

	r.logger.Debug().
		Str("run_id", state.RunID).
		Str("symbol", state.Symbol).
		Msg("analysis persisted")
	return nil
}

func (r *Repository) insert(ctx context.Context, runID uuid.UUID, symbol string, synthetic bool, rec *signal.Recommendation) error {
	query := `
		INSERT INTO gold_recommendations
			(id, run_id, symbol, horizon, direction, entry_price, stop_loss,
			 take_profit, take_profit_2, confidence, risk_reward, reasoning,
			 synthetic, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.db.Pool.Exec(ctx, query,
		uuid.New(), runID, symbol,
		string(rec.Horizon), string(rec.Direction),
		rec.EntryPrice, rec.StopLoss, rec.TakeProfit, rec.TakeProfit2,
		rec.Confidence, rec.RiskReward, rec.Reasoning,
		synthetic, rec.GeneratedAt.UTC(),
	)
	return err
}

// prune deletes the oldest rows for symbol beyond the retention limit
func (r *Repository) prune(ctx context.Context, symbol string) error {
	query := `
		DELETE FROM gold_recommendations
		WHERE symbol = $1 AND id NOT IN (
			SELECT id FROM gold_recommendations
			WHERE symbol = $1
			ORDER BY created_at DESC
			LIMIT $2
		)`
	_, err := r.db.Pool.Exec(ctx, query, symbol, r.retention)
	return err
}

// RecentRecommendations returns the newest rows for a symbol
func (r *Repository) RecentRecommendations(ctx context.Context, symbol string, limit int) ([]RecommendationRecord, error) {
	if limit < 1 || limit > r.retention {
		limit = 50
	}

	query := `
		SELECT id, run_id, symbol, horizon, direction, entry_price, stop_loss,
		       take_profit, take_profit_2, confidence, risk_reward,
		       COALESCE(reasoning, ''), synthetic, created_at
		FROM gold_recommendations
		WHERE symbol = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recommendations: %w", err)
	}
	defer rows.Close()

	var records []RecommendationRecord
	for rows.Next() {
		var rec RecommendationRecord
		if err := rows.Scan(
			&rec.ID, &rec.RunID, &rec.Symbol, &rec.Horizon, &rec.Direction,
			&rec.EntryPrice, &rec.StopLoss, &rec.TakeProfit, &rec.TakeProfit2,
			&rec.Confidence, &rec.RiskReward, &rec.Reasoning,
			&rec.Synthetic, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning recommendation row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
