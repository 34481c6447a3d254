package domain

import (
	"encoding/json"
	"time"
)

// Post is an upstream post reference returned by /history.
type Post struct {
	ID      string   `json:"id"`
	PostIDs []string `json:"postIds"`
}

// Comment is a single upstream comment as returned by /comments/{postId}.
// APIPostID is filled by the gateway with the id of the post it was listed
// under.
type Comment struct {
	CommentID        string   `json:"commentId"`
	Comment          string   `json:"comment"`
	Platform         string   `json:"platform"`
	ReferencedTweets []string `json:"referencedTweets,omitempty"`
	APIPostID        string   `json:"apiPostId,omitempty"`
}

// ReplyResult is the outcome of posting a reply upstream. Raw preserves the
// provider response verbatim for the task audit trail.
type ReplyResult struct {
	Status     string
	Content    string
	CommentRef string
	Raw        json.RawMessage
}

// ReplySucceeded reports whether the provider acknowledged the reply.
func (r ReplyResult) ReplySucceeded() bool { return r.Status == "success" }

// BreakerState is a circuit breaker state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// BreakerSnapshot is the persisted state_data of a circuit.
type BreakerSnapshot struct {
	State           BreakerState `json:"state"`
	Failures        int          `json:"failures"`
	LastFailureTime *time.Time   `json:"lastFailureTime,omitempty"`
	NextAttemptTime *time.Time   `json:"nextAttemptTime,omitempty"`
	Timestamp       time.Time    `json:"timestamp"`
}

// CircuitBreakerRow is one persisted circuit, keyed by platform name.
type CircuitBreakerRow struct {
	CircuitName string
	StateData   BreakerSnapshot
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CircuitHealth is the per-platform entry in the health snapshot.
type CircuitHealth struct {
	Platform string       `json:"platform"`
	Healthy  bool         `json:"healthy"`
	State    BreakerState `json:"state"`
}

// HealthSnapshot aggregates all circuits; Status is "healthy" iff every
// circuit is CLOSED, "degraded" otherwise.
type HealthSnapshot struct {
	Status   string          `json:"status"`
	Circuits []CircuitHealth `json:"circuits"`
}

// SocialGateway is the platform-aware composition of retry, breaker, and the
// upstream HTTP client.
type SocialGateway interface {
	ListRecentPosts(ctx Context, actor Actor) ([]Post, error)
	ListComments(ctx Context, post Post, actor Actor) ([]Comment, error)
	ReplyToComment(ctx Context, m Mention, content string, actor Actor) (ReplyResult, error)
	HealthSnapshot(ctx Context) (HealthSnapshot, error)
}
