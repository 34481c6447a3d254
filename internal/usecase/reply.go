package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/social-inbox/internal/adapter/observability"
	"github.com/fairyhunter13/social-inbox/internal/domain"
)

// replyAdapter carries out a reply for one mention type.
type replyAdapter interface {
	Reply(ctx domain.Context, m domain.Mention, content string, actor domain.Actor) (ReplyOutcome, error)
}

// commentReplyAdapter handles COMMENT and REPLY mentions via the aggregator
// comment endpoint.
type commentReplyAdapter struct{ e *Engine }

func (a commentReplyAdapter) Reply(ctx domain.Context, m domain.Mention, content string, actor domain.Actor) (ReplyOutcome, error) {
	return a.e.enqueueAndProcessReply(ctx, m, content, actor)
}

// messageReplyAdapter handles MESSAGE mentions. The aggregator answers
// messages through the same reply endpoint keyed by the platform ref, so the
// outbox flow is shared; the type split keeps the dispatch seam the upstream
// will need once messages grow their own endpoint.
type messageReplyAdapter struct{ e *Engine }

func (a messageReplyAdapter) Reply(ctx domain.Context, m domain.Mention, content string, actor domain.Actor) (ReplyOutcome, error) {
	return a.e.enqueueAndProcessReply(ctx, m, content, actor)
}

// enqueueAndProcessReply runs the transactional outbox step and, when a new
// task landed, processes it synchronously so the operator sees an immediate
// best-effort result.
func (e *Engine) enqueueAndProcessReply(ctx domain.Context, m domain.Mention, content string, actor domain.Actor) (ReplyOutcome, error) {
	now := e.now()
	var task domain.Task
	err := e.store.WithinTx(ctx, func(ctx domain.Context, st domain.Store) error {
		cutoff := now.Add(-e.cfg.ReplyInterval)
		if _, err := st.Tasks().DeleteStaleReplies(ctx, m.ID, cutoff); err != nil {
			return err
		}
		t := domain.Task{
			Code:      domain.TaskReplyMention,
			Data:      domain.TaskData{MentionID: m.ID, Content: content},
			StartedAt: &now,
			CreatedBy: actor.Email,
		}
		id, err := st.Tasks().Insert(ctx, t)
		if err != nil {
			return err
		}
		t.ID = id

		excerpt, _ := json.Marshal(map[string]any{"mentionId": m.ID, "taskId": id})
		if _, err := st.Audits().Insert(ctx, domain.Audit{
			Event:     domain.AuditReplyAttempt,
			Data:      excerpt,
			CreatedBy: actor.Email,
		}); err != nil {
			return err
		}

		m.State = domain.StateReplyAttempt
		if err := st.Mentions().Update(ctx, m); err != nil {
			return err
		}
		task = t
		return nil
	})
	if errors.Is(err, domain.ErrConflict) {
		// A reply for this mention already exists (or identical content was
		// re-submitted). Record the refusal and stop; 409 stays reserved.
		id, ierr := e.store.Tasks().Insert(ctx, domain.Task{
			Code:       domain.TaskReplyMentionIgnored,
			Data:       domain.TaskData{MentionID: m.ID, Content: content, IsIgnored: true},
			StartedAt:  &now,
			FinishedAt: &now,
			CreatedBy:  actor.Email,
		})
		if ierr != nil && !errors.Is(ierr, domain.ErrConflict) {
			return ReplyOutcome{}, opErr("reply_to_mention", ierr)
		}
		slog.Info("duplicate reply ignored",
			slog.Int64("mention_id", m.ID), slog.Int64("ignored_task_id", id))
		observability.RecordTaskProcessed(domain.TaskReplyMentionIgnored, "ignored")
		return ReplyOutcome{Ignored: true, TaskID: id}, nil
	}
	if err != nil {
		return ReplyOutcome{}, opErr("reply_to_mention", err)
	}

	if err := e.ProcessReplyTask(ctx, task, actor); err != nil {
		return ReplyOutcome{TaskID: task.ID}, err
	}
	return ReplyOutcome{TaskID: task.ID}, nil
}

// ProcessReplyTask drives one REPLY_MENTION task to the upstream. The reply
// HTTP call runs inside the store transaction so the mention update and the
// child insert commit atomically with the acknowledgement of the upstream
// call; a retry after a partial failure can duplicate the reply, which is the
// accepted trade-off.
func (e *Engine) ProcessReplyTask(ctx domain.Context, task domain.Task, actor domain.Actor) error {
	if task.Data.IsIgnored {
		return nil
	}
	m, err := e.store.Mentions().Get(ctx, task.Data.MentionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			warnVanished("process_reply_task", task.Data.MentionID)
			return nil
		}
		return opErr("process_reply_task", err)
	}

	var callErr error
	providerFailed := false
	err = e.store.WithinTx(ctx, func(ctx domain.Context, st domain.Store) error {
		result, rerr := e.social.ReplyToComment(ctx, m, task.Data.Content, actor)
		if rerr != nil {
			// Commit PROVIDER_ERROR and the recorded failure; the recovery
			// loop retries within the reply window.
			callErr = rerr
			m.State = domain.StateProviderError
			if err := st.Mentions().Update(ctx, m); err != nil {
				return err
			}
			task.Data.Errors = append(task.Data.Errors, rerr.Error())
			return st.Tasks().Update(ctx, task)
		}

		task.Data.Result = result.Raw
		if !result.ReplySucceeded() {
			providerFailed = true
			m.State = domain.StateProviderError
			if err := st.Mentions().Update(ctx, m); err != nil {
				return err
			}
			// finishedAt stays NULL so recovery retries it.
			return st.Tasks().Update(ctx, task)
		}

		childContent := result.Content
		if childContent == "" {
			childContent = task.Data.Content
		}
		child := domain.Mention{
			Content:                childContent,
			SocialMediaPlatformRef: result.CommentRef,
			SocialMediaAPIPostRef:  m.SocialMediaAPIPostRef,
			Platform:               m.Platform,
			Type:                   domain.MentionReply,
			MentionID:              &m.ID,
			Data: domain.MentionData{
				SocialMediaPayload: result.Raw,
				TaskID:             &task.ID,
			},
		}
		if _, err := st.Mentions().Create(ctx, child); err != nil {
			return err
		}
		m.State = domain.StateReplied
		if err := st.Mentions().Update(ctx, m); err != nil {
			return err
		}
		return st.Tasks().Finish(ctx, task.ID, task.Data, e.now())
	})
	if err != nil {
		observability.RecordTaskProcessed(domain.TaskReplyMention, "error")
		return opErr("process_reply_task", err)
	}
	if callErr != nil {
		observability.RecordTaskProcessed(domain.TaskReplyMention, "provider_error")
		return opErr("process_reply_task", fmt.Errorf("%w: %w", domain.ErrUpstream, callErr))
	}
	if providerFailed {
		observability.RecordTaskProcessed(domain.TaskReplyMention, "provider_error")
		return nil
	}
	observability.RecordTaskProcessed(domain.TaskReplyMention, "ok")
	return nil
}
