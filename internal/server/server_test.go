package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"postdesk/internal/command"
	"postdesk/internal/credentials"
	"postdesk/internal/domain"
	"postdesk/internal/transport"
)

const testSecret = "test-secret"

type testServer struct {
	URL   string
	Store *Store
	clock *clock
	close func()
}

func (s *testServer) Close() { s.close() }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	store := NewStore()
	store.AddUser(domain.ActorProfile{UserID: "lead", IsTeamLeader: true, Team: domain.Team{ID: "t1", Name: "Alpha"}})
	store.AddUser(domain.ActorProfile{UserID: "member", Team: domain.Team{ID: "t1", Name: "Alpha"}})
	clk := &clock{now: time.Now()}
	handler, err := New(Config{Store: store, Auth: AuthConfig{JWTSecret: testSecret, AccessTTL: time.Minute, Now: clk.Now}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:   "http://" + ln.Addr().String(),
		Store: store,
		clock: clk,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	reader := bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

// session logs userID in and returns a command client backed by a
// refreshing transport.
func session(t *testing.T, srv *testServer, userID string) (*command.Client, *credentials.Store, *transport.Transport) {
	t.Helper()
	ctx := context.Background()
	pair, err := command.New(srv.URL, nil).Login(ctx, userID)
	if err != nil {
		t.Fatalf("login %s: %v", userID, err)
	}
	store := credentials.NewStore(credentials.Credentials{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
	tr := transport.New(srv.URL, store)
	return command.New(srv.URL, tr), store, tr
}

func TestLeaderCreatesAndEdits(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	client, store, _ := session(t, srv, "lead")

	profile, err := client.FetchProfile(ctx, "lead")
	if err != nil || !profile.IsTeamLeader || profile.Team.ID != "t1" {
		t.Fatalf("profile %+v: %v", profile, err)
	}

	created := client.CreatePost(ctx, domain.Post{Title: "Launch", URL: "https://example.com/launch"}, store.Current())
	if !created.OK() {
		t.Fatalf("create: %+v", created)
	}
	if created.Payload.ID == "" || created.Payload.TeamName != "Alpha" || created.Message != "post created" {
		t.Fatalf("unexpected receipt %+v message %q", created.Payload, created.Message)
	}

	edited := client.EditPost(ctx, created.Payload.ID, domain.Post{Title: "Launch v2", URL: "https://example.com/v2"}, store.Current())
	if !edited.OK() || edited.Message != "post updated" || edited.Payload.Title != "Launch v2" {
		t.Fatalf("edit: %+v", edited)
	}

	list := command.New(srv.URL, nil).ListPosts(ctx)
	if !list.OK() || len(list.Payload) != 1 || list.Payload[0].Title != "Launch v2" {
		t.Fatalf("list: %+v", list)
	}
}

func TestMemberIsForbidden(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client, store, _ := session(t, srv, "member")

	out := client.CreatePost(context.Background(), domain.Post{Title: "T", URL: "http://x.example"}, store.Current())
	if out.Kind != command.TransportFailure || out.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 transport failure, got %+v", out)
	}
	if len(srv.Store.Posts()) != 0 {
		t.Fatalf("forbidden create stored a post")
	}
}

func TestInvalidLinkIsRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client, store, _ := session(t, srv, "lead")

	out := client.CreatePost(context.Background(), domain.Post{Title: "T", URL: "ftp://x.example"}, store.Current())
	if out.Kind != command.RejectedByServer {
		t.Fatalf("expected rejection, got %+v", out)
	}
	if !strings.Contains(out.Message, "invalid link") {
		t.Fatalf("message %q", out.Message)
	}
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	pair, err := command.New(srv.URL, nil).Login(context.Background(), "lead")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	res, data := doJSON(t, http.MethodPost, srv.URL+"/api/posts/createPost", map[string]any{"title": 7}, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
	})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Message == "" {
		t.Fatalf("error envelope %s: %v", data, err)
	}
}

func TestVoteToggles(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	lead, leadStore, _ := session(t, srv, "lead")
	post := lead.CreatePost(ctx, domain.Post{Title: "T", URL: "http://x.example"}, leadStore.Current())
	if !post.OK() {
		t.Fatalf("create: %+v", post)
	}

	member, memberStore, _ := session(t, srv, "member")
	first := member.VotePost(ctx, post.Payload.ID, "member", memberStore.Current())
	if !first.OK() || first.Payload.Result != "counted" || first.Payload.Likes != 1 {
		t.Fatalf("first vote %+v", first)
	}
	second := member.VotePost(ctx, post.Payload.ID, "member", memberStore.Current())
	if !second.OK() || second.Payload.Result != "removed" || second.Payload.Likes != 0 {
		t.Fatalf("second vote %+v", second)
	}

	impersonate := member.VotePost(ctx, post.Payload.ID, "lead", memberStore.Current())
	if impersonate.Kind != command.TransportFailure || impersonate.StatusCode != http.StatusForbidden {
		t.Fatalf("impersonated vote %+v", impersonate)
	}
	missing := member.VotePost(ctx, "nope", "member", memberStore.Current())
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing post vote %+v", missing)
	}
}

func TestExpiredAccessTokenIsRefreshed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	client, store, tr := session(t, srv, "lead")
	var refreshed int
	tr.OnRefresh = func(context.Context, credentials.Credentials) { refreshed++ }
	before := store.Current()

	srv.clock.Advance(2 * time.Minute)
	out := client.CreatePost(ctx, domain.Post{Title: "T", URL: "http://x.example"}, store.Current())
	if !out.OK() {
		t.Fatalf("create after expiry: %+v", out)
	}
	after := store.Current()
	if after.AccessToken == before.AccessToken || after.RefreshToken == before.RefreshToken {
		t.Fatalf("credentials not rotated")
	}
	if refreshed != 1 {
		t.Fatalf("refresh hook calls %d", refreshed)
	}

	// Refresh tokens are single use.
	res, _ := doJSON(t, http.MethodPost, srv.URL+"/api/auth/refresh", nil, map[string]string{
		transport.HeaderRefreshToken: before.RefreshToken,
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("reused refresh token accepted: %d", res.StatusCode)
	}
}

func TestConcurrentExpiredCommandsShareRefresh(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	client, store, tr := session(t, srv, "lead")
	var refreshed atomic.Int32
	tr.OnRefresh = func(context.Context, credentials.Credentials) { refreshed.Add(1) }
	stale := store.Current()

	srv.clock.Advance(2 * time.Minute)
	const n = 4
	outs := make([]command.Outcome[domain.PostReceipt], n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i] = client.CreatePost(ctx, domain.Post{Title: fmt.Sprintf("T%d", i), URL: "http://x.example"}, stale)
		}(i)
	}
	wg.Wait()
	for i, out := range outs {
		if !out.OK() {
			t.Fatalf("command %d: %s %s", i, out.Kind, out.Message)
		}
	}
	if got := len(srv.Store.Posts()); got != n {
		t.Fatalf("stored posts %d", got)
	}
	if refreshed.Load() < 1 {
		t.Fatalf("no refresh happened")
	}
	if store.Current().AccessToken == stale.AccessToken {
		t.Fatalf("store still holds the expired token")
	}
}

func TestUnauthenticatedMutationIsRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, _ := doJSON(t, http.MethodPost, srv.URL+"/api/posts/createPost", domain.Post{Title: "T", URL: "http://x.example"}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d", res.StatusCode)
	}
	res, _ = doJSON(t, http.MethodGet, srv.URL+"/api/posts/all", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("public list status %d", res.StatusCode)
	}
}

func TestNewRequiresSecret(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without jwt secret")
	}
}
