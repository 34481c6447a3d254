package postgres

import (
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/social-inbox/internal/domain"
)

// AuditRepo is append-only; there is deliberately no update or delete.
type AuditRepo struct {
	q Querier
}

// NewAuditRepo constructs a pool-backed audit repository.
func NewAuditRepo(q Querier) *AuditRepo { return &AuditRepo{q: q} }

func (r *AuditRepo) Insert(ctx domain.Context, a domain.Audit) (int64, error) {
	ctx, span := otel.Tracer("repo.postgres").Start(ctx, "audits.insert")
	defer span.End()

	var id int64
	err := r.q.QueryRow(ctx, `
		INSERT INTO audits (event, data, created_by, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		RETURNING id`,
		a.Event, []byte(a.Data), a.CreatedBy, time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, mapError("audits.insert", err)
	}
	return id, nil
}
