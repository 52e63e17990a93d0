package store

import (
	"errors"
	"fmt"
	"time"

	"bookshop-service/internal/util"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Sentinel errors returned across the store boundary. Callers map these to
// user-facing outcomes; nothing else leaks past the package.
var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderNotPending   = errors.New("order is not pending")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrDuplicateCode     = errors.New("discount code already exists")
	ErrInvalidPercent    = errors.New("discount percent must be between 1 and 100")
	ErrReviewExists      = errors.New("order already has a review")
	ErrTxNotFound        = errors.New("payment transaction not found")
)

type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, logger: util.GetLogger()}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}
