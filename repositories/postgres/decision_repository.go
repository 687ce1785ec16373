package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/garvis/router/models"
	"github.com/garvis/router/repositories"
	"go.uber.org/zap"
)

const insertDecisionQuery = `
	INSERT INTO route_decisions (
		id, request_id, ts, source, rule, alias, real_model, endpoint_id,
		prompt_chars, est_tokens, outcome, latency_ms, status_code, error_kind, error_message
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
	)
`

// DecisionRepository implements repositories.DecisionRepository
type DecisionRepository struct {
	db     *DB
	tm     repositories.TransactionManager
	logger *zap.Logger
}

// NewDecisionRepository creates a new decision repository
func NewDecisionRepository(db *DB, tm repositories.TransactionManager, logger *zap.Logger) *DecisionRepository {
	return &DecisionRepository{db: db, tm: tm, logger: logger}
}

// Insert stores one decision record
func (r *DecisionRepository) Insert(ctx context.Context, d *models.RouteDecision) error {
	_, err := GetExecutor(ctx, r.db).ExecContext(ctx, insertDecisionQuery,
		d.ID,
		d.RequestID,
		d.Timestamp,
		d.Source,
		d.Rule,
		d.Alias,
		d.RealModel,
		d.EndpointID,
		d.PromptChars,
		d.EstTokens,
		d.Outcome,
		d.LatencyMs,
		d.StatusCode,
		d.ErrorKind,
		d.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert route decision: %w", err)
	}

	r.logger.Debug("route decision inserted", zap.String("id", d.ID.String()), zap.String("outcome", string(d.Outcome)))
	return nil
}

// InsertBatch stores decisions in a single transaction
func (r *DecisionRepository) InsertBatch(ctx context.Context, decisions []*models.RouteDecision) error {
	switch len(decisions) {
	case 0:
		return nil
	case 1:
		return r.Insert(ctx, decisions[0])
	}

	return r.tm.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		for _, d := range decisions {
			if err := r.Insert(txCtx, d); err != nil {
				return err
			}
		}
		return nil
	})
}

// CountByOutcome returns decision counts per outcome since the given time
func (r *DecisionRepository) CountByOutcome(ctx context.Context, since time.Time) (map[models.DecisionOutcome]int64, error) {
	query := `
		SELECT outcome, COUNT(*)
		FROM route_decisions
		WHERE ts >= $1
		GROUP BY outcome
	`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count route decisions: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.DecisionOutcome]int64)
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan decision count: %w", err)
		}
		counts[models.DecisionOutcome(outcome)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate decision counts: %w", err)
	}

	return counts, nil
}
