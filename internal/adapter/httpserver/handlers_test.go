package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/social-inbox/internal/domain"
	"github.com/fairyhunter13/social-inbox/internal/usecase"
)

type fakeEngine struct {
	mentions    []domain.Mention
	meta        usecase.ListMeta
	listErr     error
	updated     domain.Mention
	updateErr   error
	lastPatch   domain.MentionPatch
	outcome     usecase.ReplyOutcome
	replyErr    error
	lastContent string
}

func (f *fakeEngine) ListMentions(_ domain.Context, _ time.Duration, _ domain.Actor) ([]domain.Mention, usecase.ListMeta, error) {
	return f.mentions, f.meta, f.listErr
}

func (f *fakeEngine) UpdateMention(_ domain.Context, _ int64, patch domain.MentionPatch, _ domain.Actor) (domain.Mention, error) {
	f.lastPatch = patch
	return f.updated, f.updateErr
}

func (f *fakeEngine) ReplyToMention(_ domain.Context, _ int64, content string, _ domain.Actor) (usecase.ReplyOutcome, error) {
	f.lastContent = content
	return f.outcome, f.replyErr
}

type fakeSocial struct {
	snap domain.HealthSnapshot
	err  error
}

func (f *fakeSocial) ListRecentPosts(domain.Context, domain.Actor) ([]domain.Post, error) {
	return nil, nil
}
func (f *fakeSocial) ListComments(domain.Context, domain.Post, domain.Actor) ([]domain.Comment, error) {
	return nil, nil
}
func (f *fakeSocial) ReplyToComment(domain.Context, domain.Mention, string, domain.Actor) (domain.ReplyResult, error) {
	return domain.ReplyResult{}, nil
}
func (f *fakeSocial) HealthSnapshot(domain.Context) (domain.HealthSnapshot, error) {
	return f.snap, f.err
}

type fakeUsers struct {
	users map[string]domain.User
}

func (f *fakeUsers) GetByEmail(_ domain.Context, email string) (domain.User, error) {
	u, ok := f.users[email]
	if !ok {
		return domain.User{}, fmt.Errorf("op=fake.users: %w", domain.ErrNotFound)
	}
	return u, nil
}

func (f *fakeUsers) Create(_ domain.Context, u domain.User) (int64, error) {
	f.users[u.Email] = u
	return u.ID, nil
}

func newTestServer(engine *fakeEngine, social *fakeSocial) (*Server, http.Handler) {
	auth := NewTokenIssuer("test-secret", time.Hour)
	users := &fakeUsers{users: map[string]domain.User{"op@example.com": {ID: 1, Email: "op@example.com"}}}
	srv := NewServer(engine, social, users, auth)

	r := chi.NewRouter()
	r.Group(func(ar chi.Router) {
		ar.Use(auth.RequireAuth)
		ar.Get("/v1/mentions", srv.ListMentions)
		ar.Put("/v1/mentions/{id}", srv.UpdateMention)
		ar.Post("/v1/mentions/{id}/reply", srv.ReplyToMention)
	})
	r.Post("/v1/users/login", srv.Login)
	r.Get("/v1/status", srv.Status)
	r.Get("/v1/status/health", srv.Health)
	return srv, r
}

func bearer(t *testing.T, srv *Server) string {
	t.Helper()
	token, err := srv.Auth().Issue(domain.Actor{ID: 1, Email: "op@example.com"})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + token
}

func errCode(t *testing.T, body *httptest.ResponseRecorder) string {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(body.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, body.Body.String())
	}
	return env.Error.Code
}

func TestRequireAuth_MissingToken(t *testing.T) {
	_, h := newTestServer(&fakeEngine{}, &fakeSocial{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/mentions", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if errCode(t, rec) != "UNAUTHORIZED" {
		t.Fatalf("code = %q, want UNAUTHORIZED", errCode(t, rec))
	}
}

func TestRequireAuth_GarbageToken(t *testing.T) {
	_, h := newTestServer(&fakeEngine{}, &fakeSocial{})
	req := httptest.NewRequest(http.MethodGet, "/v1/mentions", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestListMentions_OK(t *testing.T) {
	engine := &fakeEngine{
		mentions: []domain.Mention{{ID: 7, Content: "hi", SocialMediaPlatformRef: "r1", Platform: "bluesky", Type: domain.MentionComment}},
		meta:     usecase.ListMeta{IsSyncing: true},
	}
	srv, h := newTestServer(engine, &fakeSocial{})
	req := httptest.NewRequest(http.MethodGet, "/v1/mentions?waitMs=100", nil)
	req.Header.Set("Authorization", bearer(t, srv))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Result []mentionResponse `json:"result"`
		Meta   usecase.ListMeta  `json:"meta"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Result) != 1 || body.Result[0].ID != 7 {
		t.Fatalf("result = %+v, want the mention", body.Result)
	}
	if !body.Meta.IsSyncing {
		t.Fatal("meta.isSyncing must pass through")
	}
}

func TestListMentions_BadWaitMs(t *testing.T) {
	srv, h := newTestServer(&fakeEngine{}, &fakeSocial{})
	req := httptest.NewRequest(http.MethodGet, "/v1/mentions?waitMs=-5", nil)
	req.Header.Set("Authorization", bearer(t, srv))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUpdateMention_NullUserIDClearsAssignment(t *testing.T) {
	engine := &fakeEngine{updated: domain.Mention{ID: 3}}
	srv, h := newTestServer(engine, &fakeSocial{})
	req := httptest.NewRequest(http.MethodPut, "/v1/mentions/3", strings.NewReader(`{"userId":null}`))
	req.Header.Set("Authorization", bearer(t, srv))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if engine.lastPatch.UserID == nil || *engine.lastPatch.UserID != nil {
		t.Fatalf("patch = %+v, want explicit null userId", engine.lastPatch)
	}
}

func TestUpdateMention_AssignUser(t *testing.T) {
	engine := &fakeEngine{updated: domain.Mention{ID: 3, State: domain.StateAssignment}}
	srv, h := newTestServer(engine, &fakeSocial{})
	req := httptest.NewRequest(http.MethodPut, "/v1/mentions/3", strings.NewReader(`{"userId":42}`))
	req.Header.Set("Authorization", bearer(t, srv))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if engine.lastPatch.UserID == nil || *engine.lastPatch.UserID == nil || **engine.lastPatch.UserID != 42 {
		t.Fatalf("patch = %+v, want userId 42", engine.lastPatch)
	}
}

func TestUpdateMention_BadID(t *testing.T) {
	srv, h := newTestServer(&fakeEngine{}, &fakeSocial{})
	req := httptest.NewRequest(http.MethodPut, "/v1/mentions/abc", strings.NewReader(`{}`))
	req.Header.Set("Authorization", bearer(t, srv))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestReplyToMention_EmptyContent(t *testing.T) {
	srv, h := newTestServer(&fakeEngine{}, &fakeSocial{})
	req := httptest.NewRequest(http.MethodPost, "/v1/mentions/3/reply", strings.NewReader(`{"content":""}`))
	req.Header.Set("Authorization", bearer(t, srv))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if errCode(t, rec) != "INVALID_ARGUMENT" {
		t.Fatalf("code = %q, want INVALID_ARGUMENT", errCode(t, rec))
	}
}

func TestReplyToMention_AcceptedAndIgnored(t *testing.T) {
	engine := &fakeEngine{outcome: usecase.ReplyOutcome{TaskID: 11}}
	srv, h := newTestServer(engine, &fakeSocial{})

	req := httptest.NewRequest(http.MethodPost, "/v1/mentions/3/reply", strings.NewReader(`{"content":"thanks"}`))
	req.Header.Set("Authorization", bearer(t, srv))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	engine.outcome = usecase.ReplyOutcome{Ignored: true, TaskID: 12}
	req = httptest.NewRequest(http.MethodPost, "/v1/mentions/3/reply", strings.NewReader(`{"content":"thanks"}`))
	req.Header.Set("Authorization", bearer(t, srv))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for the ignored duplicate", rec.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["ignored"] != true {
		t.Fatalf("body = %v, want ignored=true", body)
	}
}

func TestReplyToMention_UpstreamFailure(t *testing.T) {
	engine := &fakeEngine{replyErr: fmt.Errorf("op=test: %w", domain.ErrUpstream)}
	srv, h := newTestServer(engine, &fakeSocial{})
	req := httptest.NewRequest(http.MethodPost, "/v1/mentions/3/reply", strings.NewReader(`{"content":"thanks"}`))
	req.Header.Set("Authorization", bearer(t, srv))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if errCode(t, rec) != "UPSTREAM" {
		t.Fatalf("code = %q, want UPSTREAM", errCode(t, rec))
	}
}

func TestLogin_IssuesVerifiableToken(t *testing.T) {
	srv, h := newTestServer(&fakeEngine{}, &fakeSocial{})
	req := httptest.NewRequest(http.MethodPost, "/v1/users/login", strings.NewReader(`{"email":"op@example.com"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Token == "" {
		t.Fatalf("body = %s, want a token", rec.Body.String())
	}
	actor, err := srv.Auth().Verify(body.Token)
	if err != nil || actor.ID != 1 || actor.Email != "op@example.com" {
		t.Fatalf("actor = %+v err = %v, want the logged-in operator", actor, err)
	}
}

func TestLogin_UnknownUser(t *testing.T) {
	_, h := newTestServer(&fakeEngine{}, &fakeSocial{})
	req := httptest.NewRequest(http.MethodPost, "/v1/users/login", strings.NewReader(`{"email":"nobody@example.com"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHealth_DegradedIs503(t *testing.T) {
	social := &fakeSocial{snap: domain.HealthSnapshot{
		Status: "degraded",
		Circuits: []domain.CircuitHealth{
			{Platform: "twitter", Healthy: false, State: domain.BreakerOpen},
			{Platform: "bluesky", Healthy: true, State: domain.BreakerClosed},
		},
	}}
	_, h := newTestServer(&fakeEngine{}, social)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var snap domain.HealthSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Status != "degraded" || len(snap.Circuits) != 2 {
		t.Fatalf("snapshot = %+v, want the per-circuit detail", snap)
	}
}

func TestHealth_HealthyIs200(t *testing.T) {
	social := &fakeSocial{snap: domain.HealthSnapshot{Status: "healthy"}}
	_, h := newTestServer(&fakeEngine{}, social)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	_, h := newTestServer(&fakeEngine{}, &fakeSocial{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
