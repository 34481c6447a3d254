package usecase

import (
	"fmt"
	"sync"
	"time"

	"github.com/fairyhunter13/social-inbox/internal/domain"
)

// memStore is an in-memory domain.Store with the same uniqueness semantics
// as the SQL schema: unique platform refs on mentions, and the partial
// unique constraint on reply tasks per mention.
type memStore struct {
	mu       sync.Mutex
	mentions map[int64]domain.Mention
	tasks    map[int64]domain.Task
	audits   []domain.Audit
	nextID   int64
	now      func() time.Time
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		mentions: make(map[int64]domain.Mention),
		tasks:    make(map[int64]domain.Task),
		now:      now,
	}
}

func (s *memStore) id() int64 { s.nextID++; return s.nextID }

func (s *memStore) Mentions() domain.MentionRepository { return (*memMentions)(s) }
func (s *memStore) Tasks() domain.TaskRepository       { return (*memTasks)(s) }
func (s *memStore) Audits() domain.AuditRepository     { return (*memAudits)(s) }

func (s *memStore) WithinTx(ctx domain.Context, fn func(ctx domain.Context, st domain.Store) error) error {
	return fn(ctx, s)
}

type memMentions memStore

func (r *memMentions) Create(_ domain.Context, m domain.Mention) (int64, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.mentions {
		if existing.SocialMediaPlatformRef == m.SocialMediaPlatformRef {
			return 0, fmt.Errorf("op=mem.mentions.create: %w", domain.ErrConflict)
		}
	}
	m.ID = s.id()
	m.CreatedAt = s.now()
	m.UpdatedAt = m.CreatedAt
	s.mentions[m.ID] = m
	return m.ID, nil
}

func (r *memMentions) Get(_ domain.Context, id int64) (domain.Mention, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mentions[id]
	if !ok {
		return domain.Mention{}, fmt.Errorf("op=mem.mentions.get: %w", domain.ErrNotFound)
	}
	return m, nil
}

func (r *memMentions) List(_ domain.Context) ([]domain.Mention, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Mention, 0, len(s.mentions))
	for _, m := range s.mentions {
		out = append(out, m)
	}
	// Newest first; ties broken by id like the SQL ordering.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			a, b := out[i], out[j]
			if b.CreatedAt.After(a.CreatedAt) || (b.CreatedAt.Equal(a.CreatedAt) && b.ID > a.ID) {
				out[i], out[j] = b, a
			}
		}
	}
	return out, nil
}

func (r *memMentions) Update(_ domain.Context, m domain.Mention) error {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mentions[m.ID]; !ok {
		return fmt.Errorf("op=mem.mentions.update: %w", domain.ErrNotFound)
	}
	m.UpdatedAt = s.now()
	s.mentions[m.ID] = m
	return nil
}

func (r *memMentions) UpsertBatch(_ domain.Context, ms []domain.Mention) (int64, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := make(map[string]struct{}, len(s.mentions))
	for _, existing := range s.mentions {
		refs[existing.SocialMediaPlatformRef] = struct{}{}
	}
	var inserted int64
	for _, m := range ms {
		if _, ok := refs[m.SocialMediaPlatformRef]; ok {
			continue
		}
		refs[m.SocialMediaPlatformRef] = struct{}{}
		m.ID = s.id()
		m.CreatedAt = s.now()
		m.UpdatedAt = m.CreatedAt
		s.mentions[m.ID] = m
		inserted++
	}
	return inserted, nil
}

type memTasks memStore

func (r *memTasks) Insert(_ domain.Context, t domain.Task) (int64, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Code == domain.TaskReplyMention {
		for _, existing := range s.tasks {
			if existing.Code == domain.TaskReplyMention && existing.Data.MentionID == t.Data.MentionID {
				return 0, fmt.Errorf("op=mem.tasks.insert: %w", domain.ErrConflict)
			}
		}
	}
	t.ID = s.id()
	t.CreatedAt = s.now()
	t.UpdatedAt = t.CreatedAt
	s.tasks[t.ID] = t
	return t.ID, nil
}

func (r *memTasks) Get(_ domain.Context, id int64) (domain.Task, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("op=mem.tasks.get: %w", domain.ErrNotFound)
	}
	return t, nil
}

func (r *memTasks) Update(_ domain.Context, t domain.Task) error {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return fmt.Errorf("op=mem.tasks.update: %w", domain.ErrNotFound)
	}
	t.UpdatedAt = s.now()
	s.tasks[t.ID] = t
	return nil
}

func (r *memTasks) Finish(_ domain.Context, id int64, data domain.TaskData, finishedAt time.Time) error {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("op=mem.tasks.finish: %w", domain.ErrNotFound)
	}
	t.Data = data
	t.FinishedAt = &finishedAt
	t.UpdatedAt = s.now()
	s.tasks[id] = t
	return nil
}

func (r *memTasks) DeleteStaleReplies(_ domain.Context, mentionID int64, cutoff time.Time) (int64, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, t := range s.tasks {
		if t.Code == domain.TaskReplyMention && t.FinishedAt == nil &&
			t.Data.MentionID == mentionID && t.StartedAt != nil && t.StartedAt.Before(cutoff) {
			delete(s.tasks, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *memTasks) ListUnfinished(_ domain.Context, code domain.TaskCode, since time.Time) ([]domain.Task, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Task
	for _, t := range s.tasks {
		if t.Code == code && t.FinishedAt == nil && t.StartedAt != nil && !t.StartedAt.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memTasks) RecentFetchedPostIDs(_ domain.Context, since time.Time) (map[string]struct{}, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]struct{})
	for _, t := range s.tasks {
		if t.Code != domain.TaskFetchComments || t.CreatedAt.Before(since) {
			continue
		}
		for _, p := range t.Data.Posts {
			ids[p.ID] = struct{}{}
		}
		for _, id := range t.Data.PostIDs {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

type memAudits memStore

func (r *memAudits) Insert(_ domain.Context, a domain.Audit) (int64, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.id()
	a.CreatedAt = s.now()
	s.audits = append(s.audits, a)
	return a.ID, nil
}

// tasksByCode snapshots the tasks of one code for assertions.
func (s *memStore) tasksByCode(code domain.TaskCode) []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Task
	for _, t := range s.tasks {
		if t.Code == code {
			out = append(out, t)
		}
	}
	return out
}
