// Package transport attaches credentials to outgoing requests and performs a
// single silent refresh-and-retry when the backend answers 401.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"postdesk/internal/credentials"
	"postdesk/internal/domain"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderRefreshToken  = "X-Refresh-Token"

	DefaultRefreshPath = "/api/auth/refresh"
)

// Doer is satisfied by *http.Client and *Transport.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CredentialStore is the slot the transport reads and, after a refresh, writes.
type CredentialStore interface {
	Current() credentials.Credentials
	Replace(credentials.Credentials)
}

// Transport is an authenticated HTTP client.
type Transport struct {
	BaseURL     string
	RefreshPath string
	Store       CredentialStore
	HTTPClient  *http.Client
	Timeout     time.Duration
	Logger      *slog.Logger
	// OnRefresh is called with the new pair after a successful refresh.
	OnRefresh func(context.Context, credentials.Credentials)

	refreshes singleflight.Group
}

// New creates a transport with sane defaults.
func New(baseURL string, store CredentialStore) *Transport {
	return &Transport{
		BaseURL:     baseURL,
		RefreshPath: DefaultRefreshPath,
		Store:       store,
		Timeout:     10 * time.Second,
	}
}

// RefreshError is returned when the refresh endpoint rejects the refresh token.
type RefreshError struct {
	StatusCode int
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed: status=%d", e.StatusCode)
}

// Do sends req with credentials attached. On a 401 it refreshes the token pair
// once and retries once; the final response is returned as is. If the refresh
// fails, the original 401 response is returned.
func (t *Transport) Do(req *http.Request) (*http.Response, error) {
	creds := t.current()
	first := req
	if req.Header.Get(HeaderAuthorization) == "" && creds.AccessToken != "" {
		first = req.Clone(req.Context())
		first.Header.Set(HeaderAuthorization, "Bearer "+creds.AccessToken)
	}
	if first.Header.Get(HeaderRefreshToken) == "" && creds.RefreshToken != "" {
		if first == req {
			first = req.Clone(req.Context())
		}
		first.Header.Set(HeaderRefreshToken, creds.RefreshToken)
	}
	resp, err := t.client().Do(first)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	sentAccess := bearer(first.Header.Get(HeaderAuthorization))
	refreshToken := first.Header.Get(HeaderRefreshToken)
	if refreshToken == "" {
		refreshToken = creds.RefreshToken
	}
	retry, err := rewind(req)
	if err != nil {
		t.logger().Debug("request body not replayable; skipping refresh", "url", req.URL.String())
		return resp, nil
	}
	fresh, ok := t.freshCredentials(req.Context(), sentAccess, refreshToken)
	if !ok {
		return resp, nil
	}
	drain(resp)
	retry.Header.Set(HeaderAuthorization, "Bearer "+fresh.AccessToken)
	retry.Header.Set(HeaderRefreshToken, fresh.RefreshToken)
	return t.client().Do(retry)
}

// freshCredentials returns a pair newer than sentAccess. A pair already
// rotated into the store by a concurrent request is reused; otherwise one
// refresh per refresh token is in flight at a time.
func (t *Transport) freshCredentials(ctx context.Context, sentAccess, refreshToken string) (credentials.Credentials, bool) {
	if c, ok := t.rotated(sentAccess); ok {
		return c, true
	}
	if refreshToken == "" {
		return credentials.Credentials{}, false
	}
	v, err, shared := t.refreshes.Do(refreshToken, func() (any, error) {
		return t.Refresh(ctx, refreshToken)
	})
	if err == nil {
		if shared {
			t.logger().Debug("joined in-flight token refresh")
		}
		return v.(credentials.Credentials), true
	}
	t.logger().Debug("token refresh failed", "error", err)
	// The token may have been spent by a refresh that finished just before ours.
	return t.rotated(sentAccess)
}

func (t *Transport) rotated(sentAccess string) (credentials.Credentials, bool) {
	cur := t.current()
	if cur.AccessToken == "" || cur.AccessToken == sentAccess {
		return credentials.Credentials{}, false
	}
	return cur, true
}

// Refresh exchanges refreshToken for a new token pair and stores it.
func (t *Transport) Refresh(ctx context.Context, refreshToken string) (credentials.Credentials, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return credentials.Credentials{}, errors.New("refresh token required")
	}
	path := t.RefreshPath
	if path == "" {
		path = DefaultRefreshPath
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.base()+"/"+strings.TrimLeft(path, "/"), http.NoBody)
	if err != nil {
		return credentials.Credentials{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderRefreshToken, refreshToken)
	resp, err := t.client().Do(req)
	if err != nil {
		return credentials.Credentials{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return credentials.Credentials{}, &RefreshError{StatusCode: resp.StatusCode}
	}
	var pair domain.TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return credentials.Credentials{}, fmt.Errorf("decode refresh response: %w", err)
	}
	if pair.AccessToken == "" {
		return credentials.Credentials{}, errors.New("refresh response missing access token")
	}
	fresh := credentials.Credentials{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = refreshToken
	}
	if t.Store != nil {
		t.Store.Replace(fresh)
	}
	if t.OnRefresh != nil {
		t.OnRefresh(ctx, fresh)
	}
	t.logger().Debug("access token refreshed")
	return fresh, nil
}

func (t *Transport) current() credentials.Credentials {
	if t.Store == nil {
		return credentials.Credentials{}
	}
	return t.Store.Current()
}

func (t *Transport) client() *http.Client {
	if t.HTTPClient == nil {
		t.HTTPClient = &http.Client{Timeout: t.Timeout}
	}
	return t.HTTPClient
}

func (t *Transport) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

func (t *Transport) base() string {
	return strings.TrimRight(t.BaseURL, "/")
}

// rewind returns a copy of req whose body can be sent again.
func rewind(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return retry, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	retry.Body = body
	return retry, nil
}

func bearer(authz string) string {
	token, ok := strings.CutPrefix(strings.TrimSpace(authz), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// NewJSONRequest builds a request whose body can be replayed by Do.
func NewJSONRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}
