package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fairyhunter13/social-inbox/internal/domain"
)

// Store bundles the transactional repositories over one Querier. The
// top-level store runs against the pool; WithinTx hands fn a store bound to
// a single transaction.
type Store struct {
	q    Querier
	pool PgxPool
	inTx bool
}

// NewStore constructs the pool-backed store.
func NewStore(pool PgxPool) *Store { return &Store{q: pool, pool: pool} }

// Mentions returns the mention repository bound to this store's querier.
func (s *Store) Mentions() domain.MentionRepository { return &MentionRepo{q: s.q} }

// Tasks returns the task repository bound to this store's querier.
func (s *Store) Tasks() domain.TaskRepository { return &TaskRepo{q: s.q} }

// Audits returns the audit repository bound to this store's querier.
func (s *Store) Audits() domain.AuditRepository { return &AuditRepo{q: s.q} }

// WithinTx runs fn against tx-bound repositories, committing iff fn returns
// nil. Nested calls reuse the enclosing transaction.
func (s *Store) WithinTx(ctx domain.Context, fn func(ctx domain.Context, st domain.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=store.within_tx: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(ctx, &Store{q: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=store.within_tx: commit: %w", err)
	}
	return nil
}

func isNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }

// mapError translates pgx errors to domain sentinels.
func mapError(op string, err error) error {
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("op=%s: %w", op, domain.ErrNotFound)
	case errors.As(err, &pgErr) && pgErr.Code == "23505":
		return fmt.Errorf("op=%s: %w", op, domain.ErrConflict)
	default:
		return fmt.Errorf("op=%s: %w", op, err)
	}
}
