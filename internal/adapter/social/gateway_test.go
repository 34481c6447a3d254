package social

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/fairyhunter13/social-inbox/internal/domain"
	"github.com/fairyhunter13/social-inbox/internal/resilience"
	"github.com/fairyhunter13/social-inbox/pkg/clockx"
)

type memBreakerRepo struct {
	mu   sync.Mutex
	rows map[string]domain.BreakerSnapshot
}

func newMemBreakerRepo() *memBreakerRepo {
	return &memBreakerRepo{rows: make(map[string]domain.BreakerSnapshot)}
}

func (m *memBreakerRepo) Load(_ domain.Context, name string) (domain.BreakerSnapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.rows[name]
	return snap, ok, nil
}

func (m *memBreakerRepo) Upsert(_ domain.Context, name string, snap domain.BreakerSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[name] = snap
	return nil
}

func (m *memBreakerRepo) List(_ domain.Context) ([]domain.CircuitBreakerRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CircuitBreakerRow, 0, len(m.rows))
	for name, snap := range m.rows {
		out = append(out, domain.CircuitBreakerRow{CircuitName: name, StateData: snap})
	}
	return out, nil
}

func testGateway(t *testing.T, srvURL string, platforms []string) (*Gateway, *memBreakerRepo) {
	t.Helper()
	repo := newMemBreakerRepo()
	clk := clockx.System{}
	reg := resilience.NewRegistry(resilience.BreakerConfig{MaxFailures: 5, ResetTimeout: time.Second}, repo, clk, nil)
	retryCfg := resilience.RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Factor: 2}
	client := NewClient(srvURL, "key", time.Second)
	return NewGateway(client, reg, repo, retryCfg, clk, platforms, 7), repo
}

func TestGateway_ListRecentPosts_SkipsFailingPlatform(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("platform") {
		case "twitter":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"history": []map[string]any{{"id": "p1", "postIds": []string{"t1"}}},
			})
		}
	}))
	defer srv.Close()

	g, _ := testGateway(t, srv.URL, []string{"twitter", "bluesky"})
	posts, err := g.ListRecentPosts(context.Background(), domain.Actor{ID: 1, Email: "op@example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(posts) != 1 || posts[0].ID != "p1" {
		t.Fatalf("posts = %+v, want the bluesky post only", posts)
	}
}

func TestGateway_ListRecentPosts_AllPlatformsFailing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g, _ := testGateway(t, srv.URL, []string{"twitter", "bluesky"})
	if _, err := g.ListRecentPosts(context.Background(), domain.Actor{ID: 1}); err == nil {
		t.Fatal("expected error when every platform fails")
	}
}

func TestGateway_ListRecentPosts_NoPlatforms(t *testing.T) {
	g, _ := testGateway(t, "http://unused", nil)
	posts, err := g.ListRecentPosts(context.Background(), domain.Actor{ID: 1})
	if err != nil || posts != nil {
		t.Fatalf("posts=%v err=%v, want empty and nil", posts, err)
	}
}

func TestGateway_ListComments_TwitterThreadFilterAndTagging(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"twitter": []map[string]any{
				{"commentId": "c1", "comment": "top level", "platform": "twitter"},
				{"commentId": "c2", "comment": "reply to own post", "platform": "twitter", "referencedTweets": []string{"tw-9"}},
				{"commentId": "c3", "comment": "threaded reply", "platform": "twitter", "referencedTweets": []string{"other"}},
			},
			"bluesky": []map[string]any{
				{"commentId": "b1", "comment": "bsky comment", "platform": "bluesky"},
			},
		})
	}))
	defer srv.Close()

	g, _ := testGateway(t, srv.URL, []string{"twitter", "bluesky"})
	post := domain.Post{ID: "p42", PostIDs: []string{"tw-9"}}
	comments, err := g.ListComments(context.Background(), post, domain.Actor{ID: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := map[string]bool{}
	for _, c := range comments {
		got[c.CommentID] = true
		if c.APIPostID != "p42" {
			t.Fatalf("comment %s apiPostId = %q, want p42", c.CommentID, c.APIPostID)
		}
	}
	if !got["c1"] || !got["c2"] || !got["b1"] {
		t.Fatalf("comments = %v, want c1, c2 and b1 retained", got)
	}
	if got["c3"] {
		t.Fatal("threaded reply c3 should be filtered out")
	}
}

func TestGateway_ReplyToComment_ParsesProviderEcho(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["searchPlatformId"] != true {
			t.Errorf("searchPlatformId = %v, want true", req["searchPlatformId"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"bluesky": map[string]any{"comment": "hello back", "commentId": "r-77"},
		})
	}))
	defer srv.Close()

	g, _ := testGateway(t, srv.URL, []string{"bluesky"})
	m := domain.Mention{SocialMediaPlatformRef: "ref-1", Platform: "bluesky", Type: domain.MentionComment}
	res, err := g.ReplyToComment(context.Background(), m, "hello back", domain.Actor{ID: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.ReplySucceeded() {
		t.Fatalf("status = %q, want success", res.Status)
	}
	if res.CommentRef != "r-77" || res.Content != "hello back" {
		t.Fatalf("result = %+v, want provider echo parsed", res)
	}
}

func TestGateway_ReplyToComment_ProviderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false})
	}))
	defer srv.Close()

	g, _ := testGateway(t, srv.URL, []string{"bluesky"})
	res, err := g.ReplyToComment(context.Background(), domain.Mention{SocialMediaPlatformRef: "r", Platform: "bluesky"}, "x", domain.Actor{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ReplySucceeded() {
		t.Fatal("expected provider failure status")
	}
}

func TestGateway_HealthSnapshot_Aggregates(t *testing.T) {
	g, repo := testGateway(t, "http://unused", []string{"twitter", "facebook"})
	_ = repo.Upsert(context.Background(), "twitter", domain.BreakerSnapshot{State: domain.BreakerOpen})
	_ = repo.Upsert(context.Background(), "facebook", domain.BreakerSnapshot{State: domain.BreakerClosed})

	snap, err := g.HealthSnapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != "degraded" {
		t.Fatalf("status = %q, want degraded", snap.Status)
	}
	if len(snap.Circuits) != 2 {
		t.Fatalf("circuits = %d, want 2", len(snap.Circuits))
	}
	// Sorted by name: facebook first.
	if snap.Circuits[0].Platform != "facebook" || !snap.Circuits[0].Healthy {
		t.Fatalf("circuits[0] = %+v, want healthy facebook", snap.Circuits[0])
	}
	if snap.Circuits[1].Platform != "twitter" || snap.Circuits[1].Healthy {
		t.Fatalf("circuits[1] = %+v, want unhealthy twitter", snap.Circuits[1])
	}
}

func TestGateway_HealthSnapshot_AllClosed(t *testing.T) {
	g, repo := testGateway(t, "http://unused", []string{"twitter"})
	_ = repo.Upsert(context.Background(), "twitter", domain.BreakerSnapshot{State: domain.BreakerClosed})
	snap, err := g.HealthSnapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != "healthy" {
		t.Fatalf("status = %q, want healthy", snap.Status)
	}
}
