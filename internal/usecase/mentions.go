package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/fairyhunter13/social-inbox/internal/domain"
)

// ListMeta describes the freshness of a listMentions result.
type ListMeta struct {
	IsSyncing bool     `json:"isSyncing"`
	Errors    []string `json:"errors,omitempty"`
}

// ListMentions starts a fetch-and-reconcile in the background, races it
// against wait, then returns every mention newest-first. When the sync
// outruns wait the caller gets fresh data; otherwise the last known snapshot
// and IsSyncing=true. The background sync always runs to completion.
func (e *Engine) ListMentions(ctx domain.Context, wait time.Duration, actor domain.Actor) ([]domain.Mention, ListMeta, error) {
	if wait <= 0 {
		wait = e.cfg.ListMentionsWait
	}

	// Detached so the sync survives the HTTP request ending.
	bgCtx := context.WithoutCancel(ctx)
	done := make(chan error, 1)
	go func() {
		e.RecoverTasks(bgCtx, actor)
		done <- e.FetchAndReconcile(bgCtx, actor)
	}()

	timer := make(chan struct{})
	go func() {
		defer close(timer)
		_ = e.clock.Sleep(bgCtx, wait)
	}()

	meta := ListMeta{}
	select {
	case err := <-done:
		if err != nil {
			meta.Errors = append(meta.Errors, err.Error())
		}
	case <-timer:
		meta.IsSyncing = true
	}

	mentions, err := e.store.Mentions().List(ctx)
	if err != nil {
		return nil, ListMeta{}, opErr("list_mentions", err)
	}
	return mentions, meta, nil
}

// UpdateMention applies an operator patch. Assigning a user moves the mention
// to ASSIGNMENT and writes an audit entry; clearing a previous assignment
// clears the state. The patch and its audit commit atomically.
func (e *Engine) UpdateMention(ctx domain.Context, id int64, patch domain.MentionPatch, actor domain.Actor) (domain.Mention, error) {
	if id <= 0 {
		return domain.Mention{}, opErr("update_mention", domain.ErrInvalidArgument)
	}
	var out domain.Mention
	err := e.store.WithinTx(ctx, func(ctx domain.Context, st domain.Store) error {
		m, err := st.Mentions().Get(ctx, id)
		if err != nil {
			return err
		}
		if patch.UserID != nil {
			if *patch.UserID != nil {
				m.UserID = *patch.UserID
				m.State = domain.StateAssignment
				excerpt, _ := json.Marshal(map[string]any{"mentionId": m.ID, "userId": **patch.UserID})
				if _, err := st.Audits().Insert(ctx, domain.Audit{
					Event:     domain.AuditAssignment,
					Data:      excerpt,
					CreatedBy: actor.Email,
				}); err != nil {
					return err
				}
			} else if m.UserID != nil {
				m.UserID = nil
				m.State = domain.StateNone
			}
		}
		if patch.Disposition != nil {
			m.Disposition = *patch.Disposition
		}
		if err := st.Mentions().Update(ctx, m); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Mention{}, opErr("update_mention", domain.ErrNotFound)
		}
		return domain.Mention{}, opErr("update_mention", err)
	}
	return out, nil
}

// ReplyOutcome reports what replying to a mention did.
type ReplyOutcome struct {
	// Ignored is true when a duplicate reply was refused and recorded as
	// REPLY_MENTION_IGNORED.
	Ignored bool
	TaskID  int64
}

const maxReplyContentLen = 10000

// ReplyToMention validates the request and dispatches to the adapter for the
// mention's type.
func (e *Engine) ReplyToMention(ctx domain.Context, mentionID int64, content string, actor domain.Actor) (ReplyOutcome, error) {
	switch {
	case mentionID <= 0:
		return ReplyOutcome{}, opErr("reply_to_mention", fmt.Errorf("mentionId must be positive: %w", domain.ErrInvalidArgument))
	case content == "":
		return ReplyOutcome{}, opErr("reply_to_mention", fmt.Errorf("content must not be empty: %w", domain.ErrInvalidArgument))
	case utf8.RuneCountInString(content) > maxReplyContentLen:
		return ReplyOutcome{}, opErr("reply_to_mention", fmt.Errorf("content exceeds %d characters: %w", maxReplyContentLen, domain.ErrInvalidArgument))
	case actor.ID <= 0 || actor.Email == "":
		return ReplyOutcome{}, opErr("reply_to_mention", fmt.Errorf("actor required: %w", domain.ErrInvalidArgument))
	}

	m, err := e.store.Mentions().Get(ctx, mentionID)
	if err != nil {
		return ReplyOutcome{}, opErr("reply_to_mention", err)
	}
	adapter, ok := e.adapters[m.Type]
	if !ok {
		return ReplyOutcome{}, opErr("reply_to_mention", fmt.Errorf("no reply adapter for type %q: %w", m.Type, domain.ErrInvalidArgument))
	}
	return adapter.Reply(ctx, m, content, actor)
}
