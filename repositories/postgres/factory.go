package postgres

import (
	"github.com/garvis/router/config"
	"github.com/garvis/router/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory creates and manages all repositories
type RepositoryFactory struct {
	db     *DB
	logger *zap.Logger
}

// NewRepositoryFactory connects to the configured database.
func NewRepositoryFactory(cfg *config.DatabaseConfig, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &RepositoryFactory{db: db, logger: logger}, nil
}

// NewRepositories creates all repository instances
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	tm := NewTransactionManager(f.db, f.logger)
	return &repositories.Repositories{
		Decisions:    NewDecisionRepository(f.db, tm, f.logger),
		Transactions: tm,
	}
}

// DB returns the underlying connection pool
func (f *RepositoryFactory) DB() *DB {
	return f.db
}

// Close closes the database connection
func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}
