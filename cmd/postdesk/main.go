package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"postdesk/internal/app"
	"postdesk/internal/config"
	"postdesk/internal/db"
	"postdesk/internal/domain"
	"postdesk/internal/notify"
	"postdesk/internal/server"
	"postdesk/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "postdesk",
	Short: "Postdesk CLI",
	Long: `Postdesk creates, edits, lists and votes on team posts.
- Login stores an access token and a refresh token in the workspace; expired access tokens are refreshed once, silently.
- Only team leaders may create or edit posts; the leader check runs before anything is sent.
- Every failed command prints exactly one notification and is recorded in the journal (postdesk notifications tail).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("POSTDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("base-url", "", "API base URL (overrides postdesk.yml)")
	rootCmd.PersistentFlags().Duration("timeout", 0, "request timeout (overrides postdesk.yml)")
	rootCmd.PersistentFlags().String("user-id", "", "acting user id (defaults to the access token subject)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	for _, name := range []string{"workspace", "json", "base-url", "timeout", "user-id", "verbose"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(postsCmd())
	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Manage postdesk.yml"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default postdesk.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cfgCmd.AddCommand(initCmd)
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				return printJSON(struct {
					Database string         `json:"database"`
					Config   *config.Config `json:"config"`
				}{Database: db.Path(viper.GetString("workspace")), Config: s.Config})
			})
		},
	})
	return cfgCmd
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "DEV ONLY: obtain tokens from the backend's login endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := viper.GetString("user-id")
			if userID == "" {
				return fmt.Errorf("--user-id required")
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				pair, err := s.Client.Login(ctx, userID)
				if err != nil {
					return err
				}
				if err := s.Login(ctx, pair); err != nil {
					return err
				}
				fmt.Println("logged in as", userID)
				return nil
			})
		},
	}
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget stored tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				return s.Logout(ctx)
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	tok := &cobra.Command{Use: "token", Short: "Manage stored tokens"}
	var access, refresh string
	set := &cobra.Command{
		Use:   "set",
		Short: "Store an access/refresh token pair obtained elsewhere",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				return s.Login(ctx, domain.TokenPair{AccessToken: access, RefreshToken: refresh})
			})
		},
	}
	set.Flags().StringVar(&access, "access", "", "access token")
	set.Flags().StringVar(&refresh, "refresh", "", "refresh token")
	tok.AddCommand(set)
	return tok
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the acting user and whether they lead a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				userID, err := s.ActorID(viper.GetString("user-id"))
				if err != nil {
					return err
				}
				profile, err := s.Client.FetchProfile(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(profile)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"User", "Team leader", "Team ID", "Team"})
				tw.AppendRow(table.Row{profile.UserID, profile.IsTeamLeader, profile.Team.ID, profile.Team.Name})
				tw.Render()
				return nil
			})
		},
	}
}

func postsCmd() *cobra.Command {
	posts := &cobra.Command{Use: "posts", Short: "List, create, edit and vote on posts"}
	posts.AddCommand(postsListCmd())
	posts.AddCommand(postsCreateCmd())
	posts.AddCommand(postsEditCmd())
	posts.AddCommand(postsVoteCmd())
	return posts
}

func postsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List posts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				out := s.Client.ListPosts(ctx)
				if !out.OK() {
					s.Notifier.Notify(notify.LevelError, fmt.Sprintf("could not list posts: %s", out.Message))
					return out.Err
				}
				if viper.GetBool("json") {
					return printJSON(out.Payload)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "URL", "Category", "Likes", "Team"})
				for _, p := range out.Payload {
					tw.AppendRow(table.Row{p.ID, p.Title, p.URL, p.Category, p.Likes, p.TeamName})
				}
				tw.Render()
				return nil
			})
		},
	}
}

type postFlags struct {
	title, url, category string
}

func (f *postFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.title, "title", "", "post title")
	cmd.Flags().StringVar(&f.url, "url", "", "post link")
	cmd.Flags().StringVar(&f.category, "category", "", "post category")
}

func postsCreateCmd() *cobra.Command {
	var f postFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a post (team leaders only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				return runDialog(ctx, s, workflow.Create, "", domain.Post{}, f)
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func postsEditCmd() *cobra.Command {
	var f postFlags
	cmd := &cobra.Command{
		Use:   "edit <post-id>",
		Short: "Edit a post (team leaders only); unset flags keep current values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				current, err := s.CurrentPost(ctx, args[0])
				if err != nil {
					s.Notifier.Notify(notify.LevelInfo, fmt.Sprintf("%v; unset fields start empty", err))
				}
				return runDialog(ctx, s, workflow.Edit, args[0], current, f)
			})
		},
	}
	f.bind(cmd)
	return cmd
}

// runDialog drives one workflow the way a dialog would: actor known, fields
// filled in, submit, close.
func runDialog(ctx context.Context, s *app.Session, kind workflow.Kind, postID string, draft domain.Post, f postFlags) error {
	userID, err := s.ActorID(viper.GetString("user-id"))
	if err != nil {
		return err
	}
	saved := false
	wf := s.NewWorkflow(kind, postID, draft, func(title, url string) { saved = true })
	defer wf.Close()
	wf.ActorKnown(ctx, userID)
	if f.title != "" {
		wf.SetTitle(f.title)
	}
	if f.url != "" {
		wf.SetURL(f.url)
	}
	if f.category != "" {
		wf.SetCategory(f.category)
	}
	res := wf.Submit(ctx)
	if res != workflow.Succeeded {
		return fmt.Errorf("post not saved (%s)", res)
	}
	if viper.GetBool("json") && saved {
		post := wf.Draft()
		post.ID = postID
		return printJSON(post)
	}
	return nil
}

func postsVoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vote <post-id>",
		Short: "Toggle your vote on a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				// A missing user id is reported as a login problem by the command itself.
				userID, _ := s.ActorID(viper.GetString("user-id"))
				out := workflow.Vote(ctx, s.Client, s.Notifier, args[0], userID, s.Store.Current())
				if !out.OK() {
					return out.Err
				}
				if viper.GetBool("json") {
					return printJSON(out.Payload)
				}
				return nil
			})
		},
	}
}

func notificationsCmd() *cobra.Command {
	n := &cobra.Command{Use: "notifications", Short: "Inspect the notification journal"}
	var limit int
	var level string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				items, err := s.Repo.ListNotifications(ctx, level, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Level", "Message"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.TS, it.Level, it.Message})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&limit, "limit", 20, "number of entries")
	tail.Flags().StringVar(&level, "level", "", "filter by level (info, error, success)")
	n.AddCommand(tail)
	return n
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var leaders []string
	var accessTTL time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "DEV ONLY: run an in-memory posts backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("POSTDESK_JWT_SECRET is required for bearer auth")
			}
			store := server.NewStore()
			for _, entry := range leaders {
				profile, err := parseLeader(entry)
				if err != nil {
					return err
				}
				store.AddUser(profile)
			}
			logger := newLogger()
			handler, err := server.New(server.Config{
				Store:    store,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret, AccessTTL: accessTTL, Logger: logger},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info("serving posts API", "addr", "http://"+addr+basePath, "leaders", len(leaders))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/api", "API base path")
	cmd.Flags().StringArrayVar(&leaders, "leader", nil, "team leader as user:teamId:teamName (repeatable)")
	cmd.Flags().DurationVar(&accessTTL, "access-ttl", 15*time.Minute, "access token lifetime")
	cmd.Flags().String("jwt-secret", "", "HS256 secret (or POSTDESK_JWT_SECRET)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func parseLeader(entry string) (domain.ActorProfile, error) {
	parts := strings.SplitN(entry, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return domain.ActorProfile{}, fmt.Errorf("invalid --leader %q; want user:teamId:teamName", entry)
	}
	return domain.ActorProfile{
		UserID:       parts[0],
		IsTeamLeader: true,
		Team:         domain.Team{ID: parts[1], Name: parts[2]},
	}, nil
}

func withSession(ctx context.Context, fn func(context.Context, *app.Session) error) error {
	s, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		BaseURL:   viper.GetString("base-url"),
		Timeout:   viper.GetDuration("timeout"),
		Logger:    verboseLogger(),
		Notifier:  notify.Func(printNotification),
	})
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func newLogger() *slog.Logger {
	if l := verboseLogger(); l != nil {
		return l
	}
	return app.NewLogger("info")
}

// verboseLogger returns nil unless --verbose is set, leaving the level to
// postdesk.yml.
func verboseLogger() *slog.Logger {
	if !viper.GetBool("verbose") {
		return nil
	}
	return app.NewLogger("debug")
}

func printNotification(level notify.Level, message string) {
	fmt.Fprintf(os.Stderr, "[%s] %s\n", level, message)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
