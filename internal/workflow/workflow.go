// Package workflow coordinates one create or edit dialog: profile load,
// authorization, input, submission and outcome reporting.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"postdesk/internal/command"
	"postdesk/internal/credentials"
	"postdesk/internal/domain"
	"postdesk/internal/gate"
	"postdesk/internal/notify"
)

type Kind int

const (
	Create Kind = iota
	Edit
)

func (k Kind) String() string {
	if k == Edit {
		return "edit"
	}
	return "create"
}

type State int

const (
	Idle State = iota
	ProfileLoading
	Ready
	Submitting
)

func (s State) String() string {
	switch s {
	case ProfileLoading:
		return "profile_loading"
	case Ready:
		return "ready"
	case Submitting:
		return "submitting"
	default:
		return "idle"
	}
}

// Result reports what a Submit call did.
type Result int

const (
	// Ignored: another submit is in flight.
	Ignored Result = iota
	// Stale: the workflow was closed, or superseded while the command ran.
	Stale
	Invalid
	PermissionDenied
	Succeeded
	Rejected
	Failed
	LoginRequired
)

func (r Result) String() string {
	return [...]string{"ignored", "stale", "invalid", "permission_denied", "succeeded", "rejected", "failed", "login_required"}[r]
}

type Commands interface {
	CreatePost(ctx context.Context, draft domain.Post, creds credentials.Credentials) command.Outcome[domain.PostReceipt]
	EditPost(ctx context.Context, id string, draft domain.Post, creds credentials.Credentials) command.Outcome[domain.PostReceipt]
}

type ProfileFetcher interface {
	FetchProfile(ctx context.Context, userID string) (domain.ActorProfile, error)
}

// UpdateFunc receives the submitted title and url after a successful submit.
type UpdateFunc func(title, url string)

type Config struct {
	Kind Kind
	// PostID identifies the post being edited.
	PostID      string
	Draft       domain.Post
	Commands    Commands
	Profiles    ProfileFetcher
	Credentials credentials.Source
	Notifier    notify.Notifier
	OnUpdate    UpdateFunc
	Logger      *slog.Logger
}

// Workflow is safe for concurrent use. Callbacks and notifications are
// delivered without holding its lock.
type Workflow struct {
	cfg  Config
	gate gate.Gate

	mu      sync.Mutex
	state   State
	draft   domain.Post
	profile domain.ActorProfile
	gen     uint64
	closed  bool
	// pendingActor is applied once the in-flight submit resolves.
	pendingActor string
}

func New(cfg Config) *Workflow {
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Log{Logger: cfg.Logger}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Workflow{cfg: cfg, draft: cfg.Draft}
}

// ActorKnown loads userID's profile and settles the gate. A newer call or
// Close discards the result of an older one silently. While a submit is in
// flight the actor is recorded and loaded after the command resolves.
func (w *Workflow) ActorKnown(ctx context.Context, userID string) gate.State {
	userID = strings.TrimSpace(userID)
	w.mu.Lock()
	if w.closed || userID == "" {
		w.mu.Unlock()
		return gate.Unknown
	}
	if w.state == Submitting {
		w.pendingActor = userID
		st := w.gate.State()
		w.mu.Unlock()
		w.cfg.Logger.Debug("deferring actor change until submit resolves", "user_id", userID)
		return st
	}
	w.gen++
	gen := w.gen
	w.gate.Reset()
	w.state = ProfileLoading
	w.mu.Unlock()

	profile, err := w.cfg.Profiles.FetchProfile(ctx, userID)

	w.mu.Lock()
	if w.closed || gen != w.gen {
		w.mu.Unlock()
		w.cfg.Logger.Debug("discarding stale profile", "user_id", userID)
		return gate.Unknown
	}
	w.state = Ready
	if err != nil {
		w.gate.Revoke()
		w.mu.Unlock()
		w.cfg.Notifier.Notify(notify.LevelError, fmt.Sprintf("could not load profile: %v", err))
		return gate.Denied
	}
	w.profile = profile
	w.draft.TeamID = profile.Team.ID
	w.draft.TeamName = profile.Team.Name
	st := w.gate.Resolve(profile)
	w.mu.Unlock()
	return st
}

// Submit sends the draft if the gate allows it and the draft is valid.
func (w *Workflow) Submit(ctx context.Context) Result {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return Stale
	}
	if w.state == Submitting {
		w.mu.Unlock()
		return Ignored
	}
	if w.state != Ready || !w.gate.Allowed() {
		msg := w.denyMessage()
		w.mu.Unlock()
		w.cfg.Notifier.Notify(notify.LevelError, msg)
		return PermissionDenied
	}
	draft := w.draft
	if err := validate(draft); err != "" {
		w.mu.Unlock()
		w.cfg.Notifier.Notify(notify.LevelError, err)
		return Invalid
	}
	w.state = Submitting
	gen := w.gen
	w.mu.Unlock()

	creds := credentials.Credentials{}
	if w.cfg.Credentials != nil {
		creds = w.cfg.Credentials.Current()
	}
	var out command.Outcome[domain.PostReceipt]
	if w.cfg.Kind == Edit {
		out = w.cfg.Commands.EditPost(ctx, w.cfg.PostID, draft, creds)
	} else {
		out = w.cfg.Commands.CreatePost(ctx, draft, creds)
	}

	w.mu.Lock()
	if w.closed || gen != w.gen {
		w.pendingActor = ""
		w.mu.Unlock()
		w.cfg.Logger.Debug("discarding stale submit", "kind", w.cfg.Kind.String(), "outcome", out.Kind.String())
		return Stale
	}
	pending := w.pendingActor
	w.pendingActor = ""
	var res Result
	switch out.Kind {
	case command.Success:
		w.state = Idle
		w.closed = true
		w.mu.Unlock()
		if w.cfg.OnUpdate != nil {
			w.cfg.OnUpdate(draft.Title, draft.URL)
		}
		w.cfg.Notifier.Notify(notify.LevelSuccess, successMessage(w.cfg.Kind, out))
		return Succeeded
	case command.AuthenticationRequired:
		w.state = Ready
		w.gate.Revoke()
		w.mu.Unlock()
		w.cfg.Notifier.Notify(notify.LevelError, "login required: sign in again and retry")
		res = LoginRequired
	case command.RejectedByServer:
		w.state = Ready
		w.mu.Unlock()
		w.cfg.Notifier.Notify(notify.LevelError, out.Message)
		res = Rejected
	default:
		w.state = Ready
		w.mu.Unlock()
		w.cfg.Notifier.Notify(notify.LevelError, fmt.Sprintf("could not %s post: %s", w.cfg.Kind, out.Message))
		res = Failed
	}
	if pending != "" {
		w.ActorKnown(ctx, pending)
	}
	return res
}

// Close discards the workflow. Pending fetches and submits resolve silently.
func (w *Workflow) Close() {
	w.mu.Lock()
	w.closed = true
	w.gen++
	w.state = Idle
	w.mu.Unlock()
}

func (w *Workflow) SetTitle(title string) { w.edit(func(p *domain.Post) { p.Title = title }) }

func (w *Workflow) SetURL(url string) { w.edit(func(p *domain.Post) { p.URL = url }) }

func (w *Workflow) SetCategory(category string) {
	w.edit(func(p *domain.Post) { p.Category = category })
}

func (w *Workflow) edit(fn func(*domain.Post)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		fn(&w.draft)
	}
}

func (w *Workflow) Draft() domain.Post {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.draft
}

func (w *Workflow) Profile() domain.ActorProfile {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.profile
}

func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Workflow) Gate() gate.State { return w.gate.State() }

func (w *Workflow) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// denyMessage must be called with mu held.
func (w *Workflow) denyMessage() string {
	if w.state != Ready || w.gate.State() == gate.Unknown {
		return "permission denied: team leader check has not completed"
	}
	return fmt.Sprintf("permission denied: only team leaders can %s posts", w.cfg.Kind)
}

func validate(p domain.Post) string {
	switch {
	case strings.TrimSpace(p.Title) == "":
		return "title is required"
	case strings.TrimSpace(p.URL) == "":
		return "url is required"
	}
	return ""
}

func successMessage(k Kind, out command.Outcome[domain.PostReceipt]) string {
	if out.Message != "" {
		return out.Message
	}
	if k == Edit {
		return "post updated"
	}
	return "post created"
}
