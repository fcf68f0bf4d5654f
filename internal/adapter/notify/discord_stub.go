//go:build !discord

package notify

import (
	"fmt"

	"genrelay/internal/domain"
	"genrelay/internal/infra/config"
)

const discordLinked = false

func newDiscord(config.DiscordNotifyConfig) (domain.Notifier, error) {
	return nil, fmt.Errorf("%w: discord notifier requires a build with -tags discord", domain.ErrUnavailable)
}
