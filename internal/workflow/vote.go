package workflow

import (
	"context"
	"fmt"

	"postdesk/internal/command"
	"postdesk/internal/credentials"
	"postdesk/internal/domain"
	"postdesk/internal/notify"
)

type Voter interface {
	VotePost(ctx context.Context, postID, userID string, creds credentials.Credentials) command.Outcome[domain.VoteResult]
}

// Vote casts a vote outside any dialog and reports the outcome through n.
// Voting is open to every signed-in user, so no gate applies.
func Vote(ctx context.Context, v Voter, n notify.Notifier, postID, userID string, creds credentials.Credentials) command.Outcome[domain.VoteResult] {
	out := v.VotePost(ctx, postID, userID, creds)
	if n == nil {
		n = notify.Log{}
	}
	switch out.Kind {
	case command.Success:
		msg := out.Message
		if msg == "" {
			msg = out.Payload.Result
		}
		if msg == "" {
			msg = "vote recorded"
		}
		n.Notify(notify.LevelSuccess, msg)
	case command.AuthenticationRequired:
		n.Notify(notify.LevelError, "login required: sign in again and retry")
	case command.RejectedByServer:
		n.Notify(notify.LevelError, out.Message)
	default:
		n.Notify(notify.LevelError, fmt.Sprintf("could not vote: %s", out.Message))
	}
	return out
}
