package domain

import "time"

// Repositories (ports)

// MentionRepository persists mentions. UpsertBatch must be idempotent on
// SocialMediaPlatformRef and bind every value as a parameter.
type MentionRepository interface {
	Create(ctx Context, m Mention) (int64, error)
	Get(ctx Context, id int64) (Mention, error)
	List(ctx Context) ([]Mention, error) // created_at DESC
	Update(ctx Context, m Mention) error
	UpsertBatch(ctx Context, ms []Mention) (int64, error)
}

// TaskRepository is the outbox. Insert returns ErrConflict when a reply task
// violates the partial unique indexes on (code, mentionId[, content]).
type TaskRepository interface {
	Insert(ctx Context, t Task) (int64, error)
	Get(ctx Context, id int64) (Task, error)
	Update(ctx Context, t Task) error
	Finish(ctx Context, id int64, data TaskData, finishedAt time.Time) error
	// DeleteStaleReplies removes unfinished REPLY_MENTION tasks for the
	// mention whose startedAt is older than cutoff.
	DeleteStaleReplies(ctx Context, mentionID int64, cutoff time.Time) (int64, error)
	// ListUnfinished returns tasks of the given code with finishedAt NULL
	// and startedAt >= since.
	ListUnfinished(ctx Context, code TaskCode, since time.Time) ([]Task, error)
	// RecentFetchedPostIDs returns the post ids referenced by any
	// FETCH_COMMENTS task created at or after since.
	RecentFetchedPostIDs(ctx Context, since time.Time) (map[string]struct{}, error)
}

// AuditRepository is append-only.
type AuditRepository interface {
	Insert(ctx Context, a Audit) (int64, error)
}

// UserRepository resolves operator accounts.
type UserRepository interface {
	GetByEmail(ctx Context, email string) (User, error)
	Create(ctx Context, u User) (int64, error)
}

// BreakerStateRepository persists circuit state, one row per circuit name,
// upserted on every transition.
type BreakerStateRepository interface {
	Load(ctx Context, name string) (BreakerSnapshot, bool, error)
	Upsert(ctx Context, name string, snap BreakerSnapshot) error
	List(ctx Context) ([]CircuitBreakerRow, error)
}

// Store bundles the transactional repositories. WithinTx runs fn against
// tx-bound repositories and commits iff fn returns nil.
type Store interface {
	Mentions() MentionRepository
	Tasks() TaskRepository
	Audits() AuditRepository
	WithinTx(ctx Context, fn func(ctx Context, s Store) error) error
}
