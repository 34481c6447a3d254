package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/social-inbox/internal/domain"
)

// BreakerRepo persists one row per circuit name. Upsert is called off the
// request path, so a write failure is logged by the caller, never propagated
// to the upstream call it describes.
type BreakerRepo struct {
	q Querier
}

// NewBreakerRepo constructs a pool-backed breaker state repository.
func NewBreakerRepo(q Querier) *BreakerRepo { return &BreakerRepo{q: q} }

func (r *BreakerRepo) Load(ctx domain.Context, name string) (domain.BreakerSnapshot, bool, error) {
	ctx, span := otel.Tracer("repo.postgres").Start(ctx, "breaker.load")
	defer span.End()

	var raw []byte
	err := r.q.QueryRow(ctx, `SELECT state_data FROM circuit_breaker_states WHERE circuit_name = $1`, name).
		Scan(&raw)
	if err != nil {
		mapped := mapError("breaker.load", err)
		if isNotFound(mapped) {
			return domain.BreakerSnapshot{}, false, nil
		}
		return domain.BreakerSnapshot{}, false, mapped
	}
	var snap domain.BreakerSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.BreakerSnapshot{}, false, fmt.Errorf("op=breaker.load: unmarshal state: %w", err)
	}
	return snap, true, nil
}

func (r *BreakerRepo) Upsert(ctx domain.Context, name string, snap domain.BreakerSnapshot) error {
	ctx, span := otel.Tracer("repo.postgres").Start(ctx, "breaker.upsert")
	defer span.End()

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("op=breaker.upsert: marshal state: %w", err)
	}
	_, err = r.q.Exec(ctx, `
		INSERT INTO circuit_breaker_states (circuit_name, state_data, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (circuit_name) DO UPDATE SET state_data = EXCLUDED.state_data, updated_at = EXCLUDED.updated_at`,
		name, raw, time.Now().UTC())
	if err != nil {
		return mapError("breaker.upsert", err)
	}
	return nil
}

func (r *BreakerRepo) List(ctx domain.Context) ([]domain.CircuitBreakerRow, error) {
	ctx, span := otel.Tracer("repo.postgres").Start(ctx, "breaker.list")
	defer span.End()

	rows, err := r.q.Query(ctx, `SELECT circuit_name, state_data FROM circuit_breaker_states ORDER BY circuit_name`)
	if err != nil {
		return nil, mapError("breaker.list", err)
	}
	defer rows.Close()

	var out []domain.CircuitBreakerRow
	for rows.Next() {
		var row domain.CircuitBreakerRow
		var raw []byte
		if err := rows.Scan(&row.CircuitName, &raw); err != nil {
			return nil, mapError("breaker.list", err)
		}
		if err := json.Unmarshal(raw, &row.StateData); err != nil {
			return nil, fmt.Errorf("op=breaker.list: unmarshal state: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("breaker.list", err)
	}
	return out, nil
}
