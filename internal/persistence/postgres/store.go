// Package postgres implements domain.Store on PostgreSQL. One sync runs in
// one transaction; savepoints isolate the writes of individual items.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"example.com/devicesync/internal/domain"
)

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Store provides Postgres-backed persistence for synced records.
type Store struct {
	db DB
}

// NewStore constructs a Store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// WithinTx implements domain.Store. The user id is exposed to row-level
// security policies through app.user_id.
func (s *Store) WithinTx(ctx context.Context, userID string, fn func(context.Context, domain.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT set_config('app.user_id', $1, true)", userID); err != nil {
		return err
	}
	if err = fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SleepEntriesInRange reads stored sleep entries with their stages.
func (s *Store) SleepEntriesInRange(ctx context.Context, userID string, r domain.DateRange) ([]domain.SleepEntry, error) {
	var entries []domain.SleepEntry
	err := s.WithinTx(ctx, userID, func(ctx context.Context, tx domain.Tx) error {
		var err error
		entries, err = tx.SleepEntriesInRange(ctx, userID, r)
		return err
	})
	return entries, err
}

// Profile reads the demographic profile of a user.
func (s *Store) Profile(ctx context.Context, userID string) (domain.Profile, error) {
	var profile domain.Profile
	err := s.WithinTx(ctx, userID, func(ctx context.Context, tx domain.Tx) error {
		var err error
		profile, err = tx.Profile(ctx, userID)
		return err
	})
	return profile, err
}

// classify maps constraint violations onto the domain's sentinel errors.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", domain.ErrReferenceMissing, pgErr.ConstraintName)
		}
	}
	return err
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

var _ domain.Store = (*Store)(nil)
