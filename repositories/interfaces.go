package repositories

import (
	"context"
	"time"

	"github.com/garvis/router/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// DecisionRepository persists routing decision records. Records are append-only.
type DecisionRepository interface {
	// Insert stores a single decision
	Insert(ctx context.Context, decision *models.RouteDecision) error

	// InsertBatch stores decisions atomically, in order
	InsertBatch(ctx context.Context, decisions []*models.RouteDecision) error

	// CountByOutcome returns decision counts per outcome since the given time
	CountByOutcome(ctx context.Context, since time.Time) (map[models.DecisionOutcome]int64, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Decisions    DecisionRepository
	Transactions TransactionManager
}
