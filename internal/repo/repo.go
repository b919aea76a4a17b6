package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"postdesk/internal/credentials"
	"postdesk/internal/domain"
)

type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

var ErrNotFound = errors.New("not found")

func (r Repo) now() string {
	if r.Now != nil {
		return r.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

// LoadCredentials returns the persisted token pair, or ErrNotFound when the
// user never logged in.
func (r Repo) LoadCredentials(ctx context.Context) (credentials.Credentials, error) {
	var access, refresh sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT access_token, refresh_token FROM credentials WHERE id=1`).Scan(&access, &refresh)
	if err == sql.ErrNoRows {
		return credentials.Credentials{}, ErrNotFound
	}
	if err != nil {
		return credentials.Credentials{}, err
	}
	return credentials.Credentials{AccessToken: access.String, RefreshToken: refresh.String}, nil
}

// SaveCredentials replaces the persisted token pair.
func (r Repo) SaveCredentials(ctx context.Context, c credentials.Credentials) error {
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO credentials(id, access_token, refresh_token, updated_at) VALUES (1,?,?,?)
ON CONFLICT(id) DO UPDATE SET access_token=excluded.access_token, refresh_token=excluded.refresh_token, updated_at=excluded.updated_at`,
		nullable(c.AccessToken), nullable(c.RefreshToken), r.now())
	return err
}

func (r Repo) ClearCredentials(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM credentials WHERE id=1`)
	return err
}

// ListNotifications returns the most recent journal entries, newest first.
func (r Repo) ListNotifications(ctx context.Context, level string, limit int) ([]domain.Notification, error) {
	query := `SELECT id, ts, level, COALESCE(source,''), message FROM notifications`
	var args []any
	if level != "" {
		query += ` WHERE level=?`
		args = append(args, level)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.TS, &n.Level, &n.Source, &n.Message); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
