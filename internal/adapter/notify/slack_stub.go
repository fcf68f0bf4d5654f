//go:build !slack

package notify

import (
	"fmt"

	"genrelay/internal/domain"
	"genrelay/internal/infra/config"
)

const slackLinked = false

func newSlack(config.SlackNotifyConfig) (domain.Notifier, error) {
	return nil, fmt.Errorf("%w: slack notifier requires a build with -tags slack", domain.ErrUnavailable)
}
