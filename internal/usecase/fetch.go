package usecase

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/fairyhunter13/social-inbox/internal/adapter/observability"
	"github.com/fairyhunter13/social-inbox/internal/domain"
	"github.com/fairyhunter13/social-inbox/pkg/batch"
)

// FetchAndReconcile pulls recent posts from the aggregator, drops the ones a
// FETCH_COMMENTS task already covered inside the fetch window, and processes
// the remainder under a fresh task. Concurrent callers and restarted
// processes converge on the window filter instead of re-fetching.
func (e *Engine) FetchAndReconcile(ctx domain.Context, actor domain.Actor) error {
	posts, err := e.social.ListRecentPosts(ctx, actor)
	if err != nil {
		return opErr("fetch_and_reconcile", err)
	}
	if len(posts) == 0 {
		return nil
	}

	since := e.now().Add(-e.cfg.FetchInterval)
	seen, err := e.store.Tasks().RecentFetchedPostIDs(ctx, since)
	if err != nil {
		return opErr("fetch_and_reconcile", err)
	}
	fresh := make([]domain.Post, 0, len(posts))
	for _, p := range posts {
		if _, ok := seen[p.ID]; !ok {
			fresh = append(fresh, p)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	now := e.now()
	task := domain.Task{
		Code:      domain.TaskFetchComments,
		Data:      domain.TaskData{Posts: fresh},
		StartedAt: &now,
		CreatedBy: actor.Email,
	}
	id, err := e.store.Tasks().Insert(ctx, task)
	if err != nil {
		return opErr("fetch_and_reconcile", err)
	}
	task.ID = id
	return e.ProcessFetchTask(ctx, task, actor)
}

// ProcessFetchTask reconciles the comments of every post in the task. Posts
// are fetched in parallel under the fan-out limit; each post's batch is
// upserted on its own, so one failing post costs only its own comments. The
// task is always finished, failures recorded in data.errors, so the recovery
// loop does not spin on poisoned posts.
func (e *Engine) ProcessFetchTask(ctx domain.Context, task domain.Task, actor domain.Actor) error {
	var failures []string
	batches, err := batch.Process(ctx, task.Data.Posts, batch.Options{
		Limit: e.cfg.FanOutLimit,
		Clock: e.clock,
		OnError: func(i int, err error) {
			post := task.Data.Posts[i]
			failures = append(failures, post.ID+": "+err.Error())
			slog.Warn("post reconcile failed",
				slog.String("post_id", post.ID), slog.Any("error", err))
		},
	}, func(ctx domain.Context, post domain.Post) ([]domain.Comment, error) {
		comments, err := e.social.ListComments(ctx, post, actor)
		if err != nil {
			return nil, err
		}
		if len(comments) == 0 {
			return nil, nil
		}
		if _, err := e.store.Mentions().UpsertBatch(ctx, mentionsFromComments(comments)); err != nil {
			return nil, err
		}
		return comments, nil
	})
	if err != nil {
		observability.RecordTaskProcessed(domain.TaskFetchComments, "error")
		return opErr("process_fetch_task", err)
	}

	data := task.Data
	data.PostIDs = make([]string, len(task.Data.Posts))
	for i, p := range task.Data.Posts {
		data.PostIDs[i] = p.ID
	}
	data.Posts = nil
	data.Comments = nil
	for _, b := range batches {
		data.Comments = append(data.Comments, b...)
	}
	data.Errors = append(data.Errors, failures...)

	if err := e.store.Tasks().Finish(ctx, task.ID, data, e.now()); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.Warn("fetch task vanished before finish", slog.Int64("task_id", task.ID))
			return nil
		}
		observability.RecordTaskProcessed(domain.TaskFetchComments, "error")
		return opErr("process_fetch_task", err)
	}
	observability.RecordTaskProcessed(domain.TaskFetchComments, "ok")
	return nil
}

// mentionsFromComments normalizes a comment batch into mention rows keyed by
// the platform comment id.
func mentionsFromComments(comments []domain.Comment) []domain.Mention {
	out := make([]domain.Mention, 0, len(comments))
	for _, c := range comments {
		payload, _ := json.Marshal(c)
		out = append(out, domain.Mention{
			Content:                c.Comment,
			SocialMediaPlatformRef: c.CommentID,
			SocialMediaAPIPostRef:  c.APIPostID,
			Platform:               c.Platform,
			Type:                   domain.MentionComment,
			Data:                   domain.MentionData{SocialMediaPayload: payload},
		})
	}
	return out
}
