package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/social-inbox/internal/domain"
)

// MentionRepo persists mentions.
type MentionRepo struct {
	q Querier
}

// NewMentionRepo constructs a pool-backed mention repository.
func NewMentionRepo(q Querier) *MentionRepo { return &MentionRepo{q: q} }

const mentionColumns = `id, content, social_media_platform_ref, social_media_api_post_ref,
	platform, type, COALESCE(state, ''), COALESCE(disposition, ''), user_id, mention_id, data, created_at, updated_at`

func (r *MentionRepo) Create(ctx domain.Context, m domain.Mention) (int64, error) {
	ctx, span := otel.Tracer("repo.postgres").Start(ctx, "mentions.create")
	defer span.End()

	data, err := json.Marshal(m.Data)
	if err != nil {
		return 0, fmt.Errorf("op=mentions.create: marshal data: %w", err)
	}
	now := time.Now().UTC()
	var id int64
	err = r.q.QueryRow(ctx, `
		INSERT INTO mentions (content, social_media_platform_ref, social_media_api_post_ref,
			platform, type, state, disposition, user_id, mention_id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, $11, $11)
		RETURNING id`,
		m.Content, m.SocialMediaPlatformRef, m.SocialMediaAPIPostRef,
		m.Platform, string(m.Type), string(m.State), m.Disposition, m.UserID, m.MentionID, data, now,
	).Scan(&id)
	if err != nil {
		return 0, mapError("mentions.create", err)
	}
	return id, nil
}

func (r *MentionRepo) Get(ctx domain.Context, id int64) (domain.Mention, error) {
	ctx, span := otel.Tracer("repo.postgres").Start(ctx, "mentions.get")
	defer span.End()

	row := r.q.QueryRow(ctx, `SELECT `+mentionColumns+` FROM mentions WHERE id = $1`, id)
	m, err := scanMention(row)
	if err != nil {
		return domain.Mention{}, mapError("mentions.get", err)
	}
	return m, nil
}

func (r *MentionRepo) List(ctx domain.Context) ([]domain.Mention, error) {
	ctx, span := otel.Tracer("repo.postgres").Start(ctx, "mentions.list")
	defer span.End()

	rows, err := r.q.Query(ctx, `SELECT `+mentionColumns+` FROM mentions ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, mapError("mentions.list", err)
	}
	defer rows.Close()

	var out []domain.Mention
	for rows.Next() {
		m, err := scanMention(rows)
		if err != nil {
			return nil, mapError("mentions.list", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("mentions.list", err)
	}
	return out, nil
}

func (r *MentionRepo) Update(ctx domain.Context, m domain.Mention) error {
	ctx, span := otel.Tracer("repo.postgres").Start(ctx, "mentions.update")
	defer span.End()

	data, err := json.Marshal(m.Data)
	if err != nil {
		return fmt.Errorf("op=mentions.update: marshal data: %w", err)
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE mentions
		SET state = NULLIF($2, ''), disposition = NULLIF($3, ''), user_id = $4, data = $5, updated_at = $6
		WHERE id = $1`,
		m.ID, string(m.State), m.Disposition, m.UserID, data, time.Now().UTC())
	if err != nil {
		return mapError("mentions.update", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=mentions.update: id=%d: %w", m.ID, domain.ErrNotFound)
	}
	return nil
}

// UpsertBatch inserts the mentions whose social_media_platform_ref is not yet
// present and reports how many rows landed. One statement, fully
// parameterized; racing workers fall back to the unique index, which the
// anti-join keeps from firing in the common path.
func (r *MentionRepo) UpsertBatch(ctx domain.Context, ms []domain.Mention) (int64, error) {
	ctx, span := otel.Tracer("repo.postgres").Start(ctx, "mentions.upsert_batch")
	defer span.End()

	if len(ms) == 0 {
		return 0, nil
	}
	contents := make([]string, len(ms))
	refs := make([]string, len(ms))
	postRefs := make([]string, len(ms))
	platforms := make([]string, len(ms))
	types := make([]string, len(ms))
	datas := make([][]byte, len(ms))
	for i, m := range ms {
		data, err := json.Marshal(m.Data)
		if err != nil {
			return 0, fmt.Errorf("op=mentions.upsert_batch: marshal data: %w", err)
		}
		contents[i] = m.Content
		refs[i] = m.SocialMediaPlatformRef
		postRefs[i] = m.SocialMediaAPIPostRef
		platforms[i] = m.Platform
		types[i] = string(m.Type)
		datas[i] = data
	}
	tag, err := r.q.Exec(ctx, `
		INSERT INTO mentions (content, social_media_platform_ref, social_media_api_post_ref,
			platform, type, data, created_at, updated_at)
		SELECT c.content, c.ref, c.post_ref, c.platform, c.type, c.data, $7, $7
		FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::text[], $6::jsonb[])
			AS c(content, ref, post_ref, platform, type, data)
		WHERE NOT EXISTS (
			SELECT 1 FROM mentions m WHERE m.social_media_platform_ref = c.ref
		)
		ON CONFLICT (social_media_platform_ref) DO NOTHING`,
		contents, refs, postRefs, platforms, types, datas, time.Now().UTC())
	if err != nil {
		return 0, mapError("mentions.upsert_batch", err)
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMention(row rowScanner) (domain.Mention, error) {
	var m domain.Mention
	var typ, state string
	var data []byte
	err := row.Scan(&m.ID, &m.Content, &m.SocialMediaPlatformRef, &m.SocialMediaAPIPostRef,
		&m.Platform, &typ, &state, &m.Disposition, &m.UserID, &m.MentionID, &data, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return domain.Mention{}, err
	}
	m.Type = domain.MentionType(typ)
	m.State = domain.MentionState(state)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &m.Data); err != nil {
			return domain.Mention{}, fmt.Errorf("unmarshal data: %w", err)
		}
	}
	return m, nil
}
