// Package server is a development backend for the posts API. It implements
// the network contract the command client expects and is used by
// `postdesk serve` and the integration tests.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"postdesk/internal/domain"
)

// Config for the HTTP API handler.
type Config struct {
	Store    *Store
	BasePath string
	Auth     AuthConfig
}

// apiError is the error envelope: {"message": "..."}.
type apiError struct {
	status  int
	Message string `json:"message" example:"invalid link: scheme must be http or https"`
}

func (e apiError) GetStatus() int { return e.status }
func (e apiError) Error() string  { return e.Message }

func newAPIError(status int, message string) huma.StatusError {
	return apiError{status: status, Message: message}
}

// New returns an HTTP handler exposing the posts API.
func New(cfg Config) (http.Handler, error) {
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.Store == nil {
		cfg.Store = NewStore()
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, errorMessage(msg, errs))
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Request schema failures are reported like any other bad input.
			status = http.StatusBadRequest
		}
		return newAPIError(status, errorMessage(msg, errs))
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Postdesk API", "0.1.0")
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerAuth(group, cfg.Store, cfg.Auth)
	registerProfiles(group, cfg.Store)
	registerPosts(group, cfg.Store)
	registerVotes(group, cfg.Store)
	return router, nil
}

func errorMessage(msg string, errs []error) string {
	if len(errs) == 0 {
		return msg
	}
	parts := make([]string, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			parts = append(parts, err.Error())
		}
	}
	if len(parts) == 0 {
		return msg
	}
	return msg + ": " + strings.Join(parts, "; ")
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type tokenOutput struct {
	Body domain.TokenPair `json:"body"`
}

func registerAuth(api huma.API, store *Store, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "DEV ONLY: mint tokens for a user id",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body struct {
			UserID string `json:"userId"`
		} `json:"body"`
	}) (*tokenOutput, error) {
		userID := strings.TrimSpace(input.Body.UserID)
		if userID == "" {
			return nil, newAPIError(http.StatusBadRequest, "userId is required")
		}
		pair, err := issueTokens(authCfg, store, userID)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, err.Error())
		}
		return &tokenOutput{Body: pair}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "refresh",
		Method:      http.MethodPost,
		Path:        "/auth/refresh",
		Summary:     "Exchange a refresh token for a new token pair",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		RefreshToken string `header:"X-Refresh-Token"`
	}) (*tokenOutput, error) {
		userID, ok := store.ConsumeRefreshToken(strings.TrimSpace(input.RefreshToken))
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "invalid refresh token")
		}
		pair, err := issueTokens(authCfg, store, userID)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, err.Error())
		}
		authCfg.logger().Debug("refreshed tokens", "user_id", userID)
		return &tokenOutput{Body: pair}, nil
	})
}

func registerProfiles(api huma.API, store *Store) {
	huma.Register(api, huma.Operation{
		OperationID: "get-profile",
		Method:      http.MethodGet,
		Path:        "/participant/users/{userId}",
		Summary:     "Participant profile",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"userId"`
	}) (*struct {
		Body domain.ActorProfile `json:"body"`
	}, error) {
		return &struct {
			Body domain.ActorProfile `json:"body"`
		}{Body: store.Profile(input.UserID)}, nil
	})
}

type receiptOutput struct {
	Body domain.PostReceipt `json:"body"`
}

func registerPosts(api huma.API, store *Store) {
	huma.Register(api, huma.Operation{
		OperationID: "list-posts",
		Method:      http.MethodGet,
		Path:        "/posts/all",
		Summary:     "List posts",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Post `json:"body"`
	}, error) {
		return &struct {
			Body []domain.Post `json:"body"`
		}{Body: store.Posts()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-post",
		Method:      http.MethodPost,
		Path:        "/posts/createPost",
		Summary:     "Create a post (team leaders only)",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body domain.Post `json:"body"`
	}) (*receiptOutput, error) {
		leader, err := requireLeader(ctx, store)
		if err != nil {
			return nil, err
		}
		post, err := normalizePost(input.Body, leader)
		if err != nil {
			return nil, err
		}
		post.ID = uuid.NewString()
		stored := store.PutPost(post)
		return &receiptOutput{Body: domain.PostReceipt{Post: stored, Message: "post created"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-post",
		Method:      http.MethodPut,
		Path:        "/posts/{postId}",
		Summary:     "Create or replace a post (team leaders only)",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		PostID string      `path:"postId"`
		Body   domain.Post `json:"body"`
	}) (*receiptOutput, error) {
		leader, err := requireLeader(ctx, store)
		if err != nil {
			return nil, err
		}
		post, err := normalizePost(input.Body, leader)
		if err != nil {
			return nil, err
		}
		post.ID = input.PostID
		msg := "post updated"
		if _, err := store.Post(input.PostID); errors.Is(err, ErrNotFound) {
			msg = "post created"
		}
		stored := store.PutPost(post)
		return &receiptOutput{Body: domain.PostReceipt{Post: stored, Message: msg}}, nil
	})
}

func registerVotes(api huma.API, store *Store) {
	huma.Register(api, huma.Operation{
		OperationID: "vote-post",
		Method:      http.MethodPost,
		Path:        "/posts/vote/{postId}",
		Summary:     "Toggle the caller's vote on a post",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PostID string             `path:"postId"`
		Body   domain.VoteRequest `json:"body"`
	}) (*struct {
		Body domain.VoteResult `json:"body"`
	}, error) {
		principal, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "authentication required")
		}
		if input.Body.UserID != principal.UserID {
			return nil, newAPIError(http.StatusForbidden, "cannot vote on behalf of another user")
		}
		counted, post, err := store.ToggleVote(input.PostID, principal.UserID)
		if errors.Is(err, ErrNotFound) {
			return nil, newAPIError(http.StatusNotFound, fmt.Sprintf("post %s not found", input.PostID))
		}
		result := "removed"
		if counted {
			result = "counted"
		}
		return &struct {
			Body domain.VoteResult `json:"body"`
		}{Body: domain.VoteResult{Result: result, Likes: post.Likes}}, nil
	})
}

func requireLeader(ctx context.Context, store *Store) (domain.ActorProfile, error) {
	principal, ok := principalFromContext(ctx)
	if !ok {
		return domain.ActorProfile{}, newAPIError(http.StatusUnauthorized, "authentication required")
	}
	profile := store.Profile(principal.UserID)
	if !profile.IsTeamLeader {
		return domain.ActorProfile{}, newAPIError(http.StatusForbidden, "team leader role required")
	}
	return profile, nil
}

// normalizePost validates the draft and stamps the leader's team on it.
func normalizePost(p domain.Post, leader domain.ActorProfile) (domain.Post, error) {
	p.Title = strings.TrimSpace(p.Title)
	p.URL = strings.TrimSpace(p.URL)
	if p.Title == "" {
		return domain.Post{}, newAPIError(http.StatusBadRequest, "title is required")
	}
	if err := validateLink(p.URL); err != nil {
		return domain.Post{}, newAPIError(http.StatusBadRequest, err.Error())
	}
	p.TeamID = leader.Team.ID
	p.TeamName = leader.Team.Name
	return p, nil
}

func validateLink(raw string) error {
	if raw == "" {
		return errors.New("invalid link: url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid link: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("invalid link: scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("invalid link: host is required")
	}
	return nil
}
