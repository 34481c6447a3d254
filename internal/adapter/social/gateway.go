package social

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/fairyhunter13/social-inbox/internal/domain"
	"github.com/fairyhunter13/social-inbox/internal/resilience"
	"github.com/fairyhunter13/social-inbox/pkg/clockx"
)

// Gateway composes retry, breaker, and the HTTP client per platform: the
// retry loop sits outside and the breaker inside, so the breaker counts one
// failure per underlying attempt and the retry gives up the moment the
// circuit opens.
type Gateway struct {
	client          *Client
	breakers        *resilience.Registry
	breakerRepo     domain.BreakerStateRepository
	retryCfg        resilience.RetryConfig
	clock           clockx.Clock
	platforms       []string
	historyLastDays int
}

// NewGateway constructs a Gateway for the configured platforms.
func NewGateway(client *Client, breakers *resilience.Registry, breakerRepo domain.BreakerStateRepository, retryCfg resilience.RetryConfig, clock clockx.Clock, platforms []string, historyLastDays int) *Gateway {
	if clock == nil {
		clock = clockx.System{}
	}
	if historyLastDays <= 0 {
		historyLastDays = 7
	}
	return &Gateway{
		client:          client,
		breakers:        breakers,
		breakerRepo:     breakerRepo,
		retryCfg:        retryCfg,
		clock:           clock,
		platforms:       platforms,
		historyLastDays: historyLastDays,
	}
}

// call runs fn as retry(breaker(fn)) under the circuit for key.
func (g *Gateway) call(ctx domain.Context, key string, fn func(ctx domain.Context) error) error {
	b := g.breakers.Get(ctx, key)
	r := resilience.NewRetryer(g.retryCfg, g.clock, b, nil)
	return r.Do(ctx, func(ctx domain.Context) error {
		return b.Execute(ctx, fn)
	})
}

type historyResponse struct {
	History []domain.Post `json:"history"`
}

// ListRecentPosts fetches recent post history for every configured platform.
// A failing platform is logged and skipped; the call only fails when no
// platform responded.
func (g *Gateway) ListRecentPosts(ctx domain.Context, actor domain.Actor) ([]domain.Post, error) {
	if len(g.platforms) == 0 {
		return nil, nil
	}
	var posts []domain.Post
	var lastErr error
	failures := 0
	for _, platform := range g.platforms {
		q := url.Values{}
		q.Set("lastDays", strconv.Itoa(g.historyLastDays))
		q.Set("platform", platform)

		var res historyResponse
		err := g.call(ctx, platform, func(ctx domain.Context) error {
			payload, err := g.client.Do(ctx, http.MethodGet, "/history", "list_recent_posts", q, nil)
			if err != nil {
				return err
			}
			return decode(payload, &res)
		})
		if err != nil {
			failures++
			lastErr = err
			slog.Warn("platform history fetch failed",
				slog.String("platform", platform),
				slog.Int64("actor_id", actor.ID),
				slog.Any("error", err))
			continue
		}
		posts = append(posts, res.History...)
	}
	if failures == len(g.platforms) {
		return nil, fmt.Errorf("op=social.list_recent_posts: all platforms failed: %w", lastErr)
	}
	return posts, nil
}

// ListComments fetches the comments of one post, filters platform quirks,
// and tags each comment with the post id it was listed under.
func (g *Gateway) ListComments(ctx domain.Context, post domain.Post, actor domain.Actor) ([]domain.Comment, error) {
	var byPlatform map[string][]domain.Comment
	err := g.call(ctx, resilience.DefaultCircuit, func(ctx domain.Context) error {
		payload, err := g.client.Do(ctx, http.MethodGet, "/comments/"+url.PathEscape(post.ID), "list_comments", nil, nil)
		if err != nil {
			return err
		}
		byPlatform = nil
		return decode(payload, &byPlatform)
	})
	if err != nil {
		return nil, err
	}

	platforms := make([]string, 0, len(byPlatform))
	for p := range byPlatform {
		platforms = append(platforms, p)
	}
	sort.Strings(platforms)

	var out []domain.Comment
	for _, platform := range platforms {
		for _, c := range filterPlatformComments(platform, post, byPlatform[platform]) {
			if c.Platform == "" {
				c.Platform = platform
			}
			c.APIPostID = post.ID
			out = append(out, c)
		}
	}
	return out, nil
}

type replyRequest struct {
	Comment          string   `json:"comment"`
	Platforms        []string `json:"platforms"`
	SearchPlatformID bool     `json:"searchPlatformId"`
}

type replyResponse struct {
	Success bool `json:"success"`
}

type platformReply struct {
	Comment   string `json:"comment"`
	CommentID string `json:"commentId"`
}

// ReplyToComment posts a reply to the mention's source comment. The caller
// owns persisting the resulting child mention.
func (g *Gateway) ReplyToComment(ctx domain.Context, m domain.Mention, content string, actor domain.Actor) (domain.ReplyResult, error) {
	body := replyRequest{Comment: content, Platforms: []string{m.Platform}, SearchPlatformID: true}

	var payload []byte
	err := g.call(ctx, m.Platform, func(ctx domain.Context) error {
		var derr error
		payload, derr = g.client.Do(ctx, http.MethodPost, "/comments/"+url.PathEscape(m.SocialMediaPlatformRef)+"/reply", "reply_to_comment", nil, body)
		return derr
	})
	if err != nil {
		return domain.ReplyResult{}, err
	}

	var envelope replyResponse
	if err := decode(payload, &envelope); err != nil {
		return domain.ReplyResult{}, err
	}
	result := domain.ReplyResult{Status: "error", Raw: payload}
	if envelope.Success {
		result.Status = "success"
	}

	// The platform-specific echo rides alongside the success flag.
	var fields map[string]json.RawMessage
	if err := decode(payload, &fields); err == nil {
		if raw, ok := fields[m.Platform]; ok {
			var pr platformReply
			if err := json.Unmarshal(raw, &pr); err == nil {
				result.Content = pr.Comment
				result.CommentRef = pr.CommentID
			}
		}
	}
	return result, nil
}

// HealthSnapshot aggregates every persisted circuit row. Healthy iff all
// circuits are CLOSED.
func (g *Gateway) HealthSnapshot(ctx domain.Context) (domain.HealthSnapshot, error) {
	rows, err := g.breakerRepo.List(ctx)
	if err != nil {
		return domain.HealthSnapshot{}, fmt.Errorf("op=social.health_snapshot: %w", err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CircuitName < rows[j].CircuitName })

	snap := domain.HealthSnapshot{Status: "healthy", Circuits: make([]domain.CircuitHealth, 0, len(rows))}
	for _, row := range rows {
		healthy := row.StateData.State == domain.BreakerClosed
		if !healthy {
			snap.Status = "degraded"
		}
		snap.Circuits = append(snap.Circuits, domain.CircuitHealth{
			Platform: row.CircuitName,
			Healthy:  healthy,
			State:    row.StateData.State,
		})
	}
	return snap, nil
}

// filterPlatformComments isolates platform quirks from the mention table.
// Twitter returns threaded replies in the same listing; only comments with
// no referenced tweets, or ones referencing this post's own platform ids,
// count as top-level comments.
func filterPlatformComments(platform string, post domain.Post, comments []domain.Comment) []domain.Comment {
	if platform != "twitter" {
		return comments
	}
	own := make(map[string]struct{}, len(post.PostIDs))
	for _, id := range post.PostIDs {
		own[id] = struct{}{}
	}
	out := comments[:0]
	for _, c := range comments {
		if len(c.ReferencedTweets) == 0 {
			out = append(out, c)
			continue
		}
		for _, ref := range c.ReferencedTweets {
			if _, ok := own[ref]; ok {
				out = append(out, c)
				break
			}
		}
	}
	return out
}
