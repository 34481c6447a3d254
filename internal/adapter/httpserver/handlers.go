package httpserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/social-inbox/internal/domain"
	"github.com/fairyhunter13/social-inbox/internal/usecase"
)

// MentionEngine is the slice of the usecase engine the handlers dispatch to.
type MentionEngine interface {
	ListMentions(ctx domain.Context, wait time.Duration, actor domain.Actor) ([]domain.Mention, usecase.ListMeta, error)
	UpdateMention(ctx domain.Context, id int64, patch domain.MentionPatch, actor domain.Actor) (domain.Mention, error)
	ReplyToMention(ctx domain.Context, mentionID int64, content string, actor domain.Actor) (usecase.ReplyOutcome, error)
}

// Server wires the HTTP handlers to the mention engine.
type Server struct {
	engine   MentionEngine
	social   domain.SocialGateway
	users    domain.UserRepository
	auth     *TokenIssuer
	validate *validator.Validate
}

// NewServer constructs the handler set.
func NewServer(engine MentionEngine, social domain.SocialGateway, users domain.UserRepository, auth *TokenIssuer) *Server {
	return &Server{
		engine:   engine,
		social:   social,
		users:    users,
		auth:     auth,
		validate: validator.New(),
	}
}

// Auth exposes the token issuer for route wiring.
func (s *Server) Auth() *TokenIssuer { return s.auth }

type mentionResponse struct {
	ID                     int64           `json:"id"`
	Content                string          `json:"content"`
	SocialMediaPlatformRef string          `json:"socialMediaPlatformRef"`
	SocialMediaAPIPostRef  string          `json:"socialMediaAPIPostRef,omitempty"`
	Platform               string          `json:"platform"`
	Type                   string          `json:"type"`
	State                  *string         `json:"state"`
	Disposition            string          `json:"disposition,omitempty"`
	UserID                 *int64          `json:"userId"`
	MentionID              *int64          `json:"mentionId"`
	Data                   json.RawMessage `json:"data,omitempty"`
	CreatedAt              time.Time       `json:"createdAt"`
	UpdatedAt              time.Time       `json:"updatedAt"`
}

func toMentionResponse(m domain.Mention) mentionResponse {
	out := mentionResponse{
		ID:                     m.ID,
		Content:                m.Content,
		SocialMediaPlatformRef: m.SocialMediaPlatformRef,
		SocialMediaAPIPostRef:  m.SocialMediaAPIPostRef,
		Platform:               m.Platform,
		Type:                   string(m.Type),
		Disposition:            m.Disposition,
		UserID:                 m.UserID,
		MentionID:              m.MentionID,
		CreatedAt:              m.CreatedAt,
		UpdatedAt:              m.UpdatedAt,
	}
	if m.State != domain.StateNone {
		state := string(m.State)
		out.State = &state
	}
	if data, err := json.Marshal(m.Data); err == nil {
		out.Data = data
	}
	return out
}

// ListMentions handles GET /v1/mentions.
func (s *Server) ListMentions(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, r, domain.ErrUnauthorized, nil)
		return
	}
	var wait time.Duration
	if raw := r.URL.Query().Get("waitMs"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms < 0 {
			writeError(w, r, fmt.Errorf("waitMs must be a non-negative integer: %w", domain.ErrInvalidArgument), nil)
			return
		}
		wait = time.Duration(ms) * time.Millisecond
	}

	mentions, meta, err := s.engine.ListMentions(r.Context(), wait, actor)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	result := make([]mentionResponse, 0, len(mentions))
	for _, m := range mentions {
		result = append(result, toMentionResponse(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result, "meta": meta})
}

type updateMentionRequest struct {
	// UserID distinguishes absent, null, and a value; null clears assignment.
	UserID      json.RawMessage `json:"userId"`
	Disposition *string         `json:"disposition"`
}

// UpdateMention handles PUT /v1/mentions/{id}.
func (s *Server) UpdateMention(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, r, domain.ErrUnauthorized, nil)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, fmt.Errorf("id must be a positive integer: %w", domain.ErrInvalidArgument), nil)
		return
	}
	var req updateMentionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("malformed body: %w", domain.ErrInvalidArgument), nil)
		return
	}

	var patch domain.MentionPatch
	if len(req.UserID) > 0 {
		if string(req.UserID) == "null" {
			var cleared *int64
			patch.UserID = &cleared
		} else {
			var userID int64
			if err := json.Unmarshal(req.UserID, &userID); err != nil || userID <= 0 {
				writeError(w, r, fmt.Errorf("userId must be a positive integer or null: %w", domain.ErrInvalidArgument), nil)
				return
			}
			uid := &userID
			patch.UserID = &uid
		}
	}
	patch.Disposition = req.Disposition

	m, err := s.engine.UpdateMention(r.Context(), id, patch, actor)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, toMentionResponse(m))
}

type replyRequest struct {
	Content string `json:"content" validate:"required,max=10000"`
}

// ReplyToMention handles POST /v1/mentions/{id}/reply.
func (s *Server) ReplyToMention(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, r, domain.ErrUnauthorized, nil)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, fmt.Errorf("id must be a positive integer: %w", domain.ErrInvalidArgument), nil)
		return
	}
	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("malformed body: %w", domain.ErrInvalidArgument), nil)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, fmt.Errorf("content must be a non-empty string of at most 10000 characters: %w", domain.ErrInvalidArgument), nil)
		return
	}

	outcome, err := s.engine.ReplyToMention(r.Context(), id, req.Content, actor)
	if err != nil {
		LoggerFrom(r).Warn("reply failed", slog.Int64("mention_id", id), slog.Any("error", err))
		writeError(w, r, err, nil)
		return
	}
	status := http.StatusAccepted
	if outcome.Ignored {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"taskId": outcome.TaskID, "ignored": outcome.Ignored})
}

type loginRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// Login handles POST /v1/users/login: resolves the operator account and
// issues a bearer token.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("malformed body: %w", domain.ErrInvalidArgument), nil)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, fmt.Errorf("a valid email is required: %w", domain.ErrInvalidArgument), nil)
		return
	}
	user, err := s.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	token, err := s.auth.Issue(domain.Actor{ID: user.ID, Email: user.Email})
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": map[string]any{"id": user.ID, "email": user.Email}})
}

// Status handles GET /v1/status.
func (s *Server) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Health handles GET /v1/status/health: 200 when every circuit is CLOSED,
// 503 otherwise.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	snap, err := s.social.HealthSnapshot(r.Context())
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	status := http.StatusOK
	if snap.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snap)
}
