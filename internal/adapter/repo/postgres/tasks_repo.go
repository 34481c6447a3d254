package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/social-inbox/internal/domain"
)

// TaskRepo is the transactional outbox. The partial unique indexes on
// (code, data->>'mentionId'[, data->>'content']) surface as ErrConflict from
// Insert, which is how a second reply for the same mention is refused.
type TaskRepo struct {
	q Querier
}

// NewTaskRepo constructs a pool-backed task repository.
func NewTaskRepo(q Querier) *TaskRepo { return &TaskRepo{q: q} }

const taskColumns = `id, code, data, started_at, finished_at, COALESCE(created_by, ''), created_at, updated_at`

func (r *TaskRepo) Insert(ctx domain.Context, t domain.Task) (int64, error) {
	ctx, span := otel.Tracer("repo.postgres").Start(ctx, "tasks.insert")
	defer span.End()

	data, err := json.Marshal(t.Data)
	if err != nil {
		return 0, fmt.Errorf("op=tasks.insert: marshal data: %w", err)
	}
	now := time.Now().UTC()
	var id int64
	err = r.q.QueryRow(ctx, `
		INSERT INTO tasks (code, data, started_at, finished_at, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $6)
		RETURNING id`,
		string(t.Code), data, t.StartedAt, t.FinishedAt, t.CreatedBy, now,
	).Scan(&id)
	if err != nil {
		return 0, mapError("tasks.insert", err)
	}
	return id, nil
}

func (r *TaskRepo) Get(ctx domain.Context, id int64) (domain.Task, error) {
	ctx, span := otel.Tracer("repo.postgres").Start(ctx, "tasks.get")
	defer span.End()

	row := r.q.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		return domain.Task{}, mapError("tasks.get", err)
	}
	return t, nil
}

func (r *TaskRepo) Update(ctx domain.Context, t domain.Task) error {
	ctx, span := otel.Tracer("repo.postgres").Start(ctx, "tasks.update")
	defer span.End()

	data, err := json.Marshal(t.Data)
	if err != nil {
		return fmt.Errorf("op=tasks.update: marshal data: %w", err)
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE tasks SET data = $2, started_at = $3, finished_at = $4, updated_at = $5
		WHERE id = $1`,
		t.ID, data, t.StartedAt, t.FinishedAt, time.Now().UTC())
	if err != nil {
		return mapError("tasks.update", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=tasks.update: id=%d: %w", t.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *TaskRepo) Finish(ctx domain.Context, id int64, data domain.TaskData, finishedAt time.Time) error {
	ctx, span := otel.Tracer("repo.postgres").Start(ctx, "tasks.finish")
	defer span.End()

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("op=tasks.finish: marshal data: %w", err)
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE tasks SET data = $2, finished_at = $3, updated_at = $3
		WHERE id = $1`,
		id, payload, finishedAt.UTC())
	if err != nil {
		return mapError("tasks.finish", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=tasks.finish: id=%d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *TaskRepo) DeleteStaleReplies(ctx domain.Context, mentionID int64, cutoff time.Time) (int64, error) {
	ctx, span := otel.Tracer("repo.postgres").Start(ctx, "tasks.delete_stale_replies")
	defer span.End()

	tag, err := r.q.Exec(ctx, `
		DELETE FROM tasks
		WHERE code = $1
		  AND finished_at IS NULL
		  AND started_at < $2
		  AND (data->>'mentionId')::bigint = $3`,
		string(domain.TaskReplyMention), cutoff.UTC(), mentionID)
	if err != nil {
		return 0, mapError("tasks.delete_stale_replies", err)
	}
	return tag.RowsAffected(), nil
}

func (r *TaskRepo) ListUnfinished(ctx domain.Context, code domain.TaskCode, since time.Time) ([]domain.Task, error) {
	ctx, span := otel.Tracer("repo.postgres").Start(ctx, "tasks.list_unfinished")
	defer span.End()

	rows, err := r.q.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE code = $1 AND finished_at IS NULL AND started_at >= $2
		ORDER BY started_at ASC, id ASC`,
		string(code), since.UTC())
	if err != nil {
		return nil, mapError("tasks.list_unfinished", err)
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, mapError("tasks.list_unfinished", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("tasks.list_unfinished", err)
	}
	return out, nil
}

// RecentFetchedPostIDs collects every post id a FETCH_COMMENTS task touched
// since the given instant, whether the task is still running (data.posts) or
// finished (data.postIds).
func (r *TaskRepo) RecentFetchedPostIDs(ctx domain.Context, since time.Time) (map[string]struct{}, error) {
	ctx, span := otel.Tracer("repo.postgres").Start(ctx, "tasks.recent_fetched_post_ids")
	defer span.End()

	rows, err := r.q.Query(ctx, `
		SELECT data FROM tasks
		WHERE code = $1 AND created_at >= $2`,
		string(domain.TaskFetchComments), since.UTC())
	if err != nil {
		return nil, mapError("tasks.recent_fetched_post_ids", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, mapError("tasks.recent_fetched_post_ids", err)
		}
		var data domain.TaskData
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("op=tasks.recent_fetched_post_ids: unmarshal data: %w", err)
		}
		for _, p := range data.Posts {
			ids[p.ID] = struct{}{}
		}
		for _, id := range data.PostIDs {
			ids[id] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("tasks.recent_fetched_post_ids", err)
	}
	return ids, nil
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var code string
	var data []byte
	err := row.Scan(&t.ID, &code, &data, &t.StartedAt, &t.FinishedAt, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.Task{}, err
	}
	t.Code = domain.TaskCode(code)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &t.Data); err != nil {
			return domain.Task{}, fmt.Errorf("unmarshal data: %w", err)
		}
	}
	return t, nil
}
