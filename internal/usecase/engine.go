// Package usecase implements the outbox and mention engine: the operator
// operations, the reply and fetch pipelines, and the recovery loops that
// re-drive unfinished tasks after a crash.
package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/social-inbox/internal/domain"
	"github.com/fairyhunter13/social-inbox/pkg/clockx"
)

// EngineConfig tunes the mention engine.
type EngineConfig struct {
	// ListMentionsWait bounds how long listMentions waits for a fresh sync
	// before returning the last known snapshot.
	ListMentionsWait time.Duration
	// ReplyInterval is the recovery window for REPLY_MENTION tasks; an
	// unfinished reply older than this is abandoned.
	ReplyInterval time.Duration
	// FetchInterval is the recovery and dedup window for FETCH_COMMENTS.
	FetchInterval time.Duration
	// FanOutLimit bounds parallel post processing.
	FanOutLimit int
}

// DefaultEngineConfig returns the production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ListMentionsWait: 2 * time.Second,
		ReplyInterval:    5 * time.Minute,
		FetchInterval:    10 * time.Minute,
		FanOutLimit:      10,
	}
}

// Engine coordinates mentions, the task outbox, and the upstream gateway.
type Engine struct {
	store  domain.Store
	social domain.SocialGateway
	clock  clockx.Clock
	cfg    EngineConfig

	adapters map[domain.MentionType]replyAdapter
}

// NewEngine wires the engine and registers the per-type reply adapters.
func NewEngine(store domain.Store, social domain.SocialGateway, clock clockx.Clock, cfg EngineConfig) *Engine {
	if clock == nil {
		clock = clockx.System{}
	}
	def := DefaultEngineConfig()
	if cfg.ListMentionsWait <= 0 {
		cfg.ListMentionsWait = def.ListMentionsWait
	}
	if cfg.ReplyInterval <= 0 {
		cfg.ReplyInterval = def.ReplyInterval
	}
	if cfg.FetchInterval <= 0 {
		cfg.FetchInterval = def.FetchInterval
	}
	if cfg.FanOutLimit <= 0 {
		cfg.FanOutLimit = def.FanOutLimit
	}
	e := &Engine{store: store, social: social, clock: clock, cfg: cfg}
	e.adapters = map[domain.MentionType]replyAdapter{
		domain.MentionComment: commentReplyAdapter{e},
		domain.MentionReply:   commentReplyAdapter{e},
		domain.MentionMessage: messageReplyAdapter{e},
	}
	return e
}

// SystemActor is the identity background loops act under.
var SystemActor = domain.Actor{ID: 0, Email: "system"}

func (e *Engine) now() time.Time { return e.clock.Now().UTC() }

func opErr(op string, err error) error { return fmt.Errorf("op=usecase.%s: %w", op, err) }

func warnVanished(op string, mentionID int64) {
	slog.Warn("mention vanished, skipping task",
		slog.String("op", op), slog.Int64("mention_id", mentionID))
}
