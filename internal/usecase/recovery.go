package usecase

import (
	"log/slog"
	"time"

	"github.com/fairyhunter13/social-inbox/internal/domain"
	"github.com/fairyhunter13/social-inbox/pkg/batch"
)

// RecoverTasks re-drives unfinished tasks of both codes within their windows.
// Failures are logged per task and never abort the sweep.
func (e *Engine) RecoverTasks(ctx domain.Context, actor domain.Actor) {
	e.recover(ctx, domain.TaskReplyMention, e.cfg.ReplyInterval, actor, e.ProcessReplyTask)
	e.recover(ctx, domain.TaskFetchComments, e.cfg.FetchInterval, actor, e.ProcessFetchTask)
}

func (e *Engine) recover(ctx domain.Context, code domain.TaskCode, window time.Duration, actor domain.Actor, process func(domain.Context, domain.Task, domain.Actor) error) {
	since := e.now().Add(-window)
	tasks, err := e.store.Tasks().ListUnfinished(ctx, code, since)
	if err != nil {
		slog.Error("recovery sweep failed",
			slog.String("code", string(code)), slog.Any("error", err))
		return
	}
	if len(tasks) == 0 {
		return
	}
	slog.Info("recovering unfinished tasks",
		slog.String("code", string(code)), slog.Int("count", len(tasks)))

	_, _ = batch.Process(ctx, tasks, batch.Options{
		Limit: e.cfg.FanOutLimit,
		Clock: e.clock,
		OnError: func(i int, err error) {
			slog.Warn("task recovery failed",
				slog.String("code", string(code)),
				slog.Int64("task_id", tasks[i].ID),
				slog.Any("error", err))
		},
	}, func(ctx domain.Context, t domain.Task) (struct{}, error) {
		return struct{}{}, process(ctx, t, actor)
	})
}

// RunRecoveryLoop sweeps at startup and then on every tick until ctx ends.
// listMentions additionally activates a sweep on demand.
func (e *Engine) RunRecoveryLoop(ctx domain.Context, interval time.Duration) {
	if interval <= 0 {
		interval = e.cfg.ReplyInterval
	}
	e.RecoverTasks(ctx, SystemActor)
	for {
		if err := e.clock.Sleep(ctx, interval); err != nil {
			return
		}
		e.RecoverTasks(ctx, SystemActor)
	}
}
