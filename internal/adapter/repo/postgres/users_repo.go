package postgres

import (
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/social-inbox/internal/domain"
)

// UserRepo resolves operator accounts.
type UserRepo struct {
	q Querier
}

// NewUserRepo constructs a pool-backed user repository.
func NewUserRepo(q Querier) *UserRepo { return &UserRepo{q: q} }

func (r *UserRepo) GetByEmail(ctx domain.Context, email string) (domain.User, error) {
	ctx, span := otel.Tracer("repo.postgres").Start(ctx, "users.get_by_email")
	defer span.End()

	var u domain.User
	err := r.q.QueryRow(ctx, `SELECT id, email FROM users WHERE email = $1`, email).
		Scan(&u.ID, &u.Email)
	if err != nil {
		return domain.User{}, mapError("users.get_by_email", err)
	}
	return u, nil
}

func (r *UserRepo) Create(ctx domain.Context, u domain.User) (int64, error) {
	ctx, span := otel.Tracer("repo.postgres").Start(ctx, "users.create")
	defer span.End()

	var id int64
	err := r.q.QueryRow(ctx, `
		INSERT INTO users (email, created_at) VALUES ($1, $2) RETURNING id`,
		u.Email, time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, mapError("users.create", err)
	}
	return id, nil
}
