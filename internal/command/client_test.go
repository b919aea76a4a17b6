package command_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"postdesk/internal/command"
	"postdesk/internal/credentials"
	"postdesk/internal/domain"
)

var fullCreds = credentials.Credentials{AccessToken: "access", RefreshToken: "refresh"}

type fakeBackend struct {
	status int
	body   string
	calls  atomic.Int32

	mu   sync.Mutex
	last *http.Request
	sent []byte
}

func (fb *fakeBackend) request() (*http.Request, []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.last, fb.sent
}

func newFakeBackend(t *testing.T, status int, body string) (*fakeBackend, *command.Client) {
	t.Helper()
	fb := &fakeBackend{status: status, body: body}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fb.calls.Add(1)
		sent, _ := io.ReadAll(r.Body)
		fb.mu.Lock()
		fb.last = r.Clone(context.Background())
		fb.sent = sent
		fb.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(fb.status)
		io.WriteString(w, fb.body)
	}))
	t.Cleanup(srv.Close)
	return fb, command.New(srv.URL, srv.Client())
}

func TestClassificationIsTotal(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   command.Kind
	}{
		{http.StatusOK, `{"id":"1","title":"T","url":"http://x","message":"ok"}`, command.Success},
		{http.StatusBadRequest, `{"message":"bad link"}`, command.RejectedByServer},
		{http.StatusBadRequest, ``, command.RejectedByServer},
		{http.StatusUnauthorized, `{"message":"expired"}`, command.TransportFailure},
		{http.StatusForbidden, `{"message":"team leader role required"}`, command.TransportFailure},
		{http.StatusInternalServerError, `oops`, command.TransportFailure},
		{http.StatusTeapot, ``, command.TransportFailure},
	}
	ctx := context.Background()
	for _, tc := range cases {
		_, client := newFakeBackend(t, tc.status, tc.body)
		draft := domain.Post{Title: "T", URL: "http://x"}

		outcomes := map[string]command.Kind{
			"create": client.CreatePost(ctx, draft, fullCreds).Kind,
			"edit":   client.EditPost(ctx, "1", draft, fullCreds).Kind,
			"vote":   client.VotePost(ctx, "1", "u1", fullCreds).Kind,
		}
		for op, got := range outcomes {
			if got != tc.want {
				t.Fatalf("%s status %d: got %s want %s", op, tc.status, got, tc.want)
			}
		}
	}
}

func TestRejectedCarriesMessage(t *testing.T) {
	_, client := newFakeBackend(t, http.StatusBadRequest, `{"message":"bad link"}`)
	out := client.CreatePost(context.Background(), domain.Post{Title: "T", URL: "http://x"}, fullCreds)
	if out.Kind != command.RejectedByServer || out.Message != "bad link" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.Err == nil {
		t.Fatalf("expected error on rejected outcome")
	}

	_, empty := newFakeBackend(t, http.StatusBadRequest, ``)
	out = empty.EditPost(context.Background(), "1", domain.Post{Title: "T", URL: "http://x"}, fullCreds)
	if out.Message == "" {
		t.Fatalf("400 without body must still carry a message")
	}
}

func TestCreatePostSendsEnvelope(t *testing.T) {
	fb, client := newFakeBackend(t, http.StatusOK, `{"id":"1","title":"T","url":"http://x","message":"ok"}`)
	draft := domain.Post{Title: "T", URL: "http://x", TeamID: "t1", TeamName: "Alpha"}
	out := client.CreatePost(context.Background(), draft, fullCreds)
	if !out.OK() {
		t.Fatalf("create: %+v", out)
	}
	if out.Payload.ID != "1" || out.Message != "ok" {
		t.Fatalf("unexpected payload %+v message %q", out.Payload, out.Message)
	}
	last, sent := fb.request()
	if last.Method != http.MethodPost || last.URL.Path != "/api/posts/createPost" {
		t.Fatalf("unexpected request %s %s", last.Method, last.URL.Path)
	}
	if got := last.Header.Get("Authorization"); got != "Bearer access" {
		t.Fatalf("authorization header %q", got)
	}
	if got := last.Header.Get("X-Refresh-Token"); got != "refresh" {
		t.Fatalf("refresh header %q", got)
	}
	if got := last.Header.Get("Content-Type"); got != "application/json" {
		t.Fatalf("content type %q", got)
	}
	var decoded domain.Post
	if err := json.Unmarshal(sent, &decoded); err != nil {
		t.Fatalf("decode sent body: %v", err)
	}
	if decoded != draft {
		t.Fatalf("sent %+v want %+v", decoded, draft)
	}
}

func TestCreatePostWithoutAccessTokenStillAttempted(t *testing.T) {
	fb, client := newFakeBackend(t, http.StatusUnauthorized, `{"message":"authentication required"}`)
	out := client.CreatePost(context.Background(), domain.Post{Title: "T", URL: "http://x"}, credentials.Credentials{RefreshToken: "refresh"})
	if fb.calls.Load() != 1 {
		t.Fatalf("expected the request to be sent, calls=%d", fb.calls.Load())
	}
	if out.Kind != command.TransportFailure {
		t.Fatalf("got %s", out.Kind)
	}
}

func TestMissingCredentialsFailFast(t *testing.T) {
	fb, client := newFakeBackend(t, http.StatusOK, `{}`)
	ctx := context.Background()
	draft := domain.Post{Title: "T", URL: "http://x"}

	checks := []struct {
		name string
		kind command.Kind
	}{
		{"create without tokens", client.CreatePost(ctx, draft, credentials.Credentials{}).Kind},
		{"edit without refresh", client.EditPost(ctx, "1", draft, credentials.Credentials{AccessToken: "a"}).Kind},
		{"vote without user", client.VotePost(ctx, "p1", "", fullCreds).Kind},
		{"vote without access", client.VotePost(ctx, "p1", "u1", credentials.Credentials{RefreshToken: "r"}).Kind},
		{"vote without refresh", client.VotePost(ctx, "p1", "u1", credentials.Credentials{AccessToken: "a"}).Kind},
	}
	for _, c := range checks {
		if c.kind != command.AuthenticationRequired {
			t.Fatalf("%s: got %s", c.name, c.kind)
		}
	}
	if n := fb.calls.Load(); n != 0 {
		t.Fatalf("expected zero network calls, got %d", n)
	}
}

func TestVotePost(t *testing.T) {
	fb, client := newFakeBackend(t, http.StatusOK, `{"result":"counted"}`)
	out := client.VotePost(context.Background(), "p1", "u1", fullCreds)
	if !out.OK() || out.Payload.Result != "counted" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	last, sent := fb.request()
	if last.URL.Path != "/api/posts/vote/p1" {
		t.Fatalf("path %s", last.URL.Path)
	}
	var body domain.VoteRequest
	if err := json.Unmarshal(sent, &body); err != nil || body.UserID != "u1" {
		t.Fatalf("vote body %s: %v", sent, err)
	}
}

func TestListPostsIsUnauthenticatedAndRepeatable(t *testing.T) {
	fb, client := newFakeBackend(t, http.StatusOK, `[{"id":"1","title":"T","url":"http://x","likes":2}]`)
	ctx := context.Background()
	first := client.ListPosts(ctx)
	second := client.ListPosts(ctx)
	if !first.OK() || !second.OK() {
		t.Fatalf("list failed: %+v %+v", first, second)
	}
	if !reflect.DeepEqual(first.Payload, second.Payload) {
		t.Fatalf("list not idempotent: %+v vs %+v", first.Payload, second.Payload)
	}
	last, _ := fb.request()
	if last.Header.Get("Authorization") != "" || last.Header.Get("X-Refresh-Token") != "" {
		t.Fatalf("list must not carry credentials")
	}
}

func TestListPostsNon2xxIsTransportFailure(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusBadGateway} {
		_, client := newFakeBackend(t, status, `{"message":"nope"}`)
		if got := client.ListPosts(context.Background()).Kind; got != command.TransportFailure {
			t.Fatalf("status %d: got %s", status, got)
		}
	}
}

func TestFetchProfile(t *testing.T) {
	fb, client := newFakeBackend(t, http.StatusOK, `{"isTeamLeader":true,"team":{"_id":"t1","teamName":"Alpha"}}`)
	p, err := client.FetchProfile(context.Background(), "u1")
	if err != nil {
		t.Fatalf("fetch profile: %v", err)
	}
	if !p.IsTeamLeader || p.Team.ID != "t1" || p.Team.Name != "Alpha" || p.UserID != "u1" {
		t.Fatalf("unexpected profile %+v", p)
	}
	last, _ := fb.request()
	if last.URL.Path != "/api/participant/users/u1" {
		t.Fatalf("path %s", last.URL.Path)
	}
}

func TestNetworkErrorIsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	client := command.New(url, nil)
	out := client.CreatePost(context.Background(), domain.Post{Title: "T", URL: "http://x"}, fullCreds)
	if out.Kind != command.TransportFailure || out.Err == nil {
		t.Fatalf("unexpected outcome %+v", out)
	}
}
