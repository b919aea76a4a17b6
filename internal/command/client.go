// Package command exposes the typed post commands and classifies every
// response into an Outcome.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"postdesk/internal/credentials"
	"postdesk/internal/domain"
	"postdesk/internal/transport"
)

const (
	pathCreatePost = "api/posts/createPost"
	pathPost       = "api/posts/%s"
	pathListPosts  = "api/posts/all"
	pathVote       = "api/posts/vote/%s"
	pathProfile    = "api/participant/users/%s"
	pathLogin      = "api/auth/login"

	defaultRejectedMessage = "request rejected by server"
)

// Client issues post commands against the backend.
type Client struct {
	BaseURL string
	// Auth carries mutating and profile requests; it is expected to refresh
	// tokens on 401 (see transport.Transport).
	Auth transport.Doer
	// Public carries unauthenticated reads.
	Public  transport.Doer
	Timeout time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string, auth transport.Doer) *Client {
	return &Client{
		BaseURL: baseURL,
		Auth:    auth,
		Timeout: 10 * time.Second,
	}
}

// CreatePost issues a create request. It fails fast only when both tokens are
// absent; a missing access token alone is left to the server to reject.
func (c *Client) CreatePost(ctx context.Context, draft domain.Post, creds credentials.Credentials) Outcome[domain.PostReceipt] {
	if creds.Empty() {
		return authRequired[domain.PostReceipt]()
	}
	req, err := c.authedRequest(ctx, http.MethodPost, pathCreatePost, draft, creds)
	if err != nil {
		return failed[domain.PostReceipt](0, err)
	}
	return send[domain.PostReceipt](c.authDoer(), req)
}

// EditPost creates or replaces the post identified by id. Both tokens must be
// present.
func (c *Client) EditPost(ctx context.Context, id string, draft domain.Post, creds credentials.Credentials) Outcome[domain.PostReceipt] {
	if !creds.Complete() {
		return authRequired[domain.PostReceipt]()
	}
	if strings.TrimSpace(id) == "" {
		return failed[domain.PostReceipt](0, errors.New("post id required"))
	}
	req, err := c.authedRequest(ctx, http.MethodPut, fmt.Sprintf(pathPost, url.PathEscape(id)), draft, creds)
	if err != nil {
		return failed[domain.PostReceipt](0, err)
	}
	return send[domain.PostReceipt](c.authDoer(), req)
}

// ListPosts reads every post without credentials.
func (c *Client) ListPosts(ctx context.Context) Outcome[[]domain.Post] {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(pathListPosts), http.NoBody)
	if err != nil {
		return failed[[]domain.Post](0, err)
	}
	out := send[[]domain.Post](c.publicDoer(), req)
	if out.Kind == RejectedByServer {
		// Reads have no validation failures; 400 is just another failed status.
		return failed[[]domain.Post](out.StatusCode, &StatusError{StatusCode: out.StatusCode, Message: out.Message})
	}
	return out
}

// VotePost casts userID's vote on postID. Both tokens and the user id are
// required; otherwise no request is sent.
func (c *Client) VotePost(ctx context.Context, postID, userID string, creds credentials.Credentials) Outcome[domain.VoteResult] {
	if !creds.Complete() || strings.TrimSpace(userID) == "" {
		return authRequired[domain.VoteResult]()
	}
	if strings.TrimSpace(postID) == "" {
		return failed[domain.VoteResult](0, errors.New("post id required"))
	}
	body := domain.VoteRequest{UserID: userID}
	req, err := c.authedRequest(ctx, http.MethodPost, fmt.Sprintf(pathVote, url.PathEscape(postID)), body, creds)
	if err != nil {
		return failed[domain.VoteResult](0, err)
	}
	return send[domain.VoteResult](c.authDoer(), req)
}

// FetchProfile returns the acting user's team and leader flag.
func (c *Client) FetchProfile(ctx context.Context, userID string) (domain.ActorProfile, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.ActorProfile{}, errors.New("user id required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(fmt.Sprintf(pathProfile, url.PathEscape(userID))), http.NoBody)
	if err != nil {
		return domain.ActorProfile{}, err
	}
	out := send[domain.ActorProfile](c.authDoer(), req)
	if !out.OK() {
		return domain.ActorProfile{}, out.Err
	}
	profile := out.Payload
	if profile.UserID == "" {
		profile.UserID = userID
	}
	return profile, nil
}

// Login asks the backend's development login endpoint for a token pair.
func (c *Client) Login(ctx context.Context, userID string) (domain.TokenPair, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.TokenPair{}, errors.New("user id required")
	}
	req, err := transport.NewJSONRequest(ctx, http.MethodPost, c.endpoint(pathLogin), map[string]string{"userId": userID})
	if err != nil {
		return domain.TokenPair{}, err
	}
	out := send[domain.TokenPair](c.publicDoer(), req)
	if !out.OK() {
		return domain.TokenPair{}, out.Err
	}
	return out.Payload, nil
}

func (c *Client) authedRequest(ctx context.Context, method, path string, body any, creds credentials.Credentials) (*http.Request, error) {
	req, err := transport.NewJSONRequest(ctx, method, c.endpoint(path), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(transport.HeaderAuthorization, "Bearer "+creds.AccessToken)
	req.Header.Set(transport.HeaderRefreshToken, creds.RefreshToken)
	return req, nil
}

// send performs req and maps the response onto exactly one Outcome kind.
func send[T any](doer transport.Doer, req *http.Request) Outcome[T] {
	resp, err := doer.Do(req)
	if err != nil {
		return failed[T](0, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return failed[T](resp.StatusCode, fmt.Errorf("read response: %w", err))
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var payload T
		if len(bytes.TrimSpace(data)) > 0 {
			if err := json.Unmarshal(data, &payload); err != nil {
				return failed[T](resp.StatusCode, fmt.Errorf("decode response: %w", err))
			}
		}
		return succeeded(resp.StatusCode, payload, messageOf(data))
	case resp.StatusCode == http.StatusBadRequest:
		msg := messageOf(data)
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		if msg == "" {
			msg = defaultRejectedMessage
		}
		return rejected[T](resp.StatusCode, msg)
	default:
		return failed[T](resp.StatusCode, &StatusError{
			StatusCode: resp.StatusCode,
			Message:    messageOf(data),
			Body:       strings.TrimSpace(string(data)),
		})
	}
}

// messageOf extracts a top-level "message" string, tolerating non-object bodies.
func messageOf(data []byte) string {
	var envelope struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return ""
	}
	return strings.TrimSpace(envelope.Message)
}

func (c *Client) authDoer() transport.Doer {
	if c.Auth != nil {
		return c.Auth
	}
	return c.publicDoer()
}

func (c *Client) publicDoer() transport.Doer {
	if c.Public == nil {
		c.Public = &http.Client{Timeout: c.Timeout}
	}
	return c.Public
}

func (c *Client) endpoint(p string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(p, "/")
}
