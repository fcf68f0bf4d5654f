//go:build slack

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/slack-go/slack"

	"genrelay/internal/domain"
	"genrelay/internal/infra/config"
)

const slackLinked = true

type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts events to a Slack channel as a message with one
// attachment holding the provider trail.
type SlackNotifier struct {
	api     slackPoster
	channel string
}

func newSlack(cfg config.SlackNotifyConfig, opts ...slack.Option) (domain.Notifier, error) {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil, fmt.Errorf("%w: slack notifier needs token and channel", domain.ErrConfiguration)
	}
	return &SlackNotifier{api: slack.New(cfg.Token, opts...), channel: cfg.Channel}, nil
}

func (n *SlackNotifier) Notify(ctx context.Context, ev domain.DispatchEvent) error {
	color := "warning"
	if ev.Type == domain.EventDispatchExhausted {
		color = "danger"
	}
	att := slack.Attachment{
		Color:  color,
		Text:   Body(ev),
		Footer: string(ev.Type),
		Ts:     slackTimestamp(ev),
	}
	if ev.Reason != "" {
		att.Fields = append(att.Fields, slack.AttachmentField{Title: "Reason", Value: truncate(ev.Reason, 300)})
	}
	_, _, err := n.api.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(Title(ev), false),
		slack.MsgOptionAttachments(att),
	)
	if err != nil {
		return domain.WrapOp("slack.Notify", err)
	}
	return nil
}

func slackTimestamp(ev domain.DispatchEvent) json.Number {
	if ev.Timestamp.IsZero() {
		return ""
	}
	return json.Number(strconv.FormatInt(ev.Timestamp.Unix(), 10))
}
