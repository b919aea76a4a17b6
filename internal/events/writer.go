package events

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Writer appends notifications to the local journal.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, level, source, message string) error {
	if w.DB == nil {
		return errors.New("journal database not configured")
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	_, err := w.DB.ExecContext(ctx, `INSERT INTO notifications(ts,level,source,message) VALUES (?,?,?,?)`,
		ts, level, nullable(source), message)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
