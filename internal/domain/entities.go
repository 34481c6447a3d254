package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrCircuitOpen     = errors.New("circuit open")
	ErrUpstream        = errors.New("upstream failure")
	ErrInternal        = errors.New("internal error")
)

// Upstream call failure kinds. The HTTP gateway classifies every failed
// aggregator call into exactly one of these.
var (
	ErrNetwork   = errors.New("network error")
	ErrServer    = errors.New("server error")
	ErrThrottled = errors.New("throttled")
	ErrClient    = errors.New("client error")
	ErrDecode    = errors.New("decode error")
)

// MentionType discriminates the normalized mention records.
type MentionType string

const (
	MentionComment MentionType = "COMMENT"
	MentionMessage MentionType = "MESSAGE"
	MentionReply   MentionType = "REPLY"
)

// MentionState tracks operator and reply-pipeline progress. The empty string
// maps to NULL in the store.
type MentionState string

const (
	StateNone          MentionState = ""
	StateAssignment    MentionState = "ASSIGNMENT"
	StateReplyAttempt  MentionState = "REPLY_ATTEMPT"
	StateReplied       MentionState = "REPLIED"
	StateProviderError MentionState = "PROVIDER_ERROR"
)

// TaskCode enumerates outbox task kinds.
type TaskCode string

const (
	TaskFetchComments       TaskCode = "FETCH_COMMENTS"
	TaskFetchMessages       TaskCode = "FETCH_MESSAGES"
	TaskReplyMention        TaskCode = "REPLY_MENTION"
	TaskReplyMentionIgnored TaskCode = "REPLY_MENTION_IGNORED"
)

// Audit events.
const (
	AuditAssignment   = "ASSIGNMENT"
	AuditReplyAttempt = "REPLY_ATTEMPT"
)

// Mention is a normalized comment, message, or reply captured from the
// upstream aggregator. SocialMediaPlatformRef is globally unique and acts as
// the ingestion idempotency key.
type Mention struct {
	ID                     int64
	Content                string
	SocialMediaPlatformRef string
	SocialMediaAPIPostRef  string
	Platform               string
	Type                   MentionType
	State                  MentionState
	Disposition            string
	UserID                 *int64
	MentionID              *int64 // parent mention for replies
	Data                   MentionData
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// MentionData is the opaque JSON column on a mention.
type MentionData struct {
	SocialMediaPayload json.RawMessage `json:"socialMediaPayload,omitempty"`
	TaskID             *int64          `json:"taskId,omitempty"`
}

// MentionPatch is the operator-updatable subset of a mention. Nil pointers
// mean "leave unchanged"; a non-nil UserID pointing at nil clears assignment.
type MentionPatch struct {
	UserID      **int64
	Disposition *string
}

// Task is a transactional outbox record. FinishedAt == nil means in flight
// or abandoned; the recovery sweepers re-drive those within their windows.
type Task struct {
	ID         int64
	Code       TaskCode
	Data       TaskData
	StartedAt  *time.Time
	FinishedAt *time.Time
	CreatedBy  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TaskData is the JSON payload of a task. Reply tasks carry MentionID and
// Content (both covered by partial unique indexes); fetch tasks carry Posts
// while running and PostIDs+Comments once finished.
type TaskData struct {
	MentionID int64           `json:"mentionId,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsIgnored bool            `json:"isIgnored,omitempty"`
	Posts     []Post          `json:"posts,omitempty"`
	PostIDs   []string        `json:"postIds,omitempty"`
	Comments  []Comment       `json:"comments,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Errors    []string        `json:"errors,omitempty"`
}

// Audit is an append-only trail entry. Rows are never updated or deleted.
type Audit struct {
	ID        int64
	Event     string
	Data      json.RawMessage
	CreatedBy string
	CreatedAt time.Time
}

// User is an operator account.
type User struct {
	ID    int64
	Email string
}

// Actor is the authenticated user on whose behalf an operation runs.
type Actor struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// Context is an alias so the domain stays decoupled from transport packages.
type Context = context.Context
