package audit

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

// Kinds that SlackNotifier forwards. Everything else is ignored.
var alertKinds = map[string]bool{
	"session.logged_out":      true,
	"session.connect_failed":  true,
	"session.reconnect_limit": true,
	"session.creds_failed":    true,
}

type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts session alerts to a Slack channel.
type SlackNotifier struct {
	api       slackPoster
	channelID string
}

// NewSlackNotifier builds a notifier. apiBase overrides the Slack API URL
// when non-empty.
func NewSlackNotifier(token, channelID, apiBase string) *SlackNotifier {
	opts := []slack.Option{slack.OptionHTTPClient(&http.Client{Timeout: 15 * time.Second})}
	if base := strings.TrimSpace(apiBase); base != "" {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, slack.OptionAPIURL(base))
	}
	return &SlackNotifier{api: slack.New(token, opts...), channelID: channelID}
}

func (n *SlackNotifier) Write(ctx context.Context, e Entry) error {
	if !alertKinds[e.Kind] {
		return nil
	}
	text := fmt.Sprintf(":warning: wagate tenant `%s`: %s", e.TenantID, e.Kind)
	if e.Error != "" {
		text += " (" + e.Error + ")"
	}
	if _, _, err := n.api.PostMessageContext(ctx, n.channelID, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}
