package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"postdesk/internal/command"
	"postdesk/internal/config"
	"postdesk/internal/credentials"
	"postdesk/internal/db"
	"postdesk/internal/domain"
	"postdesk/internal/events"
	"postdesk/internal/migrate"
	"postdesk/internal/notify"
	"postdesk/internal/repo"
	"postdesk/internal/transport"
	"postdesk/internal/workflow"
)

type Options struct {
	Workspace string
	// BaseURL and Timeout override the config file when set.
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
	// Notifier receives notifications in addition to the journal.
	Notifier notify.Notifier
}

// Session wires the credential slot, transport, command client and
// notification sinks for one process.
type Session struct {
	DB        *sql.DB
	Repo      repo.Repo
	Config    *config.Config
	Store     *credentials.Store
	Transport *transport.Transport
	Client    *command.Client
	Notifier  notify.Notifier
	Logger    *slog.Logger
}

// Open loads config and persisted credentials from the workspace. Credentials
// are read once here; afterwards the store is the only source of truth.
func Open(ctx context.Context, opts Options) (*Session, error) {
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = NewLogger(cfg.Log.Level)
	}
	if opts.BaseURL != "" {
		cfg.API.BaseURL = opts.BaseURL
	}
	if opts.Timeout > 0 {
		cfg.API.Timeout = opts.Timeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	r := repo.Repo{DB: conn}
	creds, err := r.LoadCredentials(ctx)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		conn.Close()
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	store := credentials.NewStore(creds)

	t := transport.New(cfg.API.BaseURL, store)
	t.RefreshPath = cfg.API.RefreshPath
	if cfg.API.Timeout > 0 {
		t.Timeout = cfg.API.Timeout
	}
	t.Logger = logger
	t.OnRefresh = func(ctx context.Context, fresh credentials.Credentials) {
		if err := r.SaveCredentials(ctx, fresh); err != nil {
			logger.Warn("persist refreshed credentials", "error", err)
		}
	}
	client := command.New(cfg.API.BaseURL, t)
	if cfg.API.Timeout > 0 {
		client.Timeout = cfg.API.Timeout
	}

	sinks := notify.Multi{opts.Notifier}
	if cfg.Notifications.Journal {
		sinks = append(sinks, notify.Journal{Writer: events.Writer{DB: conn}, Source: "cli", Logger: logger})
	}
	return &Session{
		DB:        conn,
		Repo:      r,
		Config:    cfg,
		Store:     store,
		Transport: t,
		Client:    client,
		Notifier:  sinks,
		Logger:    logger,
	}, nil
}

func (s *Session) Close() error {
	return s.DB.Close()
}

// Login replaces the credential slot and persists the pair.
func (s *Session) Login(ctx context.Context, pair domain.TokenPair) error {
	creds := credentials.Credentials{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}
	if creds.Empty() {
		return errors.New("access or refresh token required")
	}
	if err := s.Repo.SaveCredentials(ctx, creds); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	s.Store.Replace(creds)
	return nil
}

func (s *Session) Logout(ctx context.Context) error {
	if err := s.Repo.ClearCredentials(ctx); err != nil {
		return err
	}
	s.Store.Replace(credentials.Credentials{})
	return nil
}

// ActorID prefers an explicit id, then the access token's subject.
func (s *Session) ActorID(override string) (string, error) {
	if id := strings.TrimSpace(override); id != "" {
		return id, nil
	}
	sub, err := s.Store.Current().Subject()
	if err != nil {
		return "", fmt.Errorf("acting user unknown; log in or pass --user-id: %w", err)
	}
	return sub, nil
}

// CurrentPost returns the stored values of post id for an edit dialog.
func (s *Session) CurrentPost(ctx context.Context, id string) (domain.Post, error) {
	out := s.Client.ListPosts(ctx)
	if !out.OK() {
		return domain.Post{ID: id}, fmt.Errorf("could not load post %s: %s", id, out.Message)
	}
	for _, p := range out.Payload {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Post{ID: id}, fmt.Errorf("post %s not found", id)
}

// NewLogger returns a text logger on stderr at the named level.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// NewWorkflow builds a dialog workflow bound to this session.
func (s *Session) NewWorkflow(kind workflow.Kind, postID string, draft domain.Post, onUpdate workflow.UpdateFunc) *workflow.Workflow {
	return workflow.New(workflow.Config{
		Kind:        kind,
		PostID:      postID,
		Draft:       draft,
		Commands:    s.Client,
		Profiles:    s.Client,
		Credentials: s.Store,
		Notifier:    s.Notifier,
		OnUpdate:    onUpdate,
		Logger:      s.Logger,
	})
}
