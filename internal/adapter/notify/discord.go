//go:build discord

package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"genrelay/internal/domain"
	"genrelay/internal/infra/config"
)

const discordLinked = true

const (
	discordColorWarn  = 0xF2C744
	discordColorError = 0xE5484D
)

type discordSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier posts events to a Discord channel as embeds. It uses the
// REST API only; no gateway connection is opened.
type DiscordNotifier struct {
	session   discordSender
	channelID string
}

func newDiscord(cfg config.DiscordNotifyConfig) (domain.Notifier, error) {
	if cfg.Token == "" || cfg.ChannelID == "" {
		return nil, fmt.Errorf("%w: discord notifier needs token and channel_id", domain.ErrConfiguration)
	}
	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("%w: discord: %v", domain.ErrConfiguration, err)
	}
	return &DiscordNotifier{session: dg, channelID: cfg.ChannelID}, nil
}

func (n *DiscordNotifier) Notify(ctx context.Context, ev domain.DispatchEvent) error {
	_, err := n.session.ChannelMessageSendEmbed(n.channelID, discordEmbed(ev), discordgo.WithContext(ctx))
	if err != nil {
		return domain.WrapOp("discord.Notify", err)
	}
	return nil
}

func discordEmbed(ev domain.DispatchEvent) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       truncate(Title(ev), 250),
		Description: truncate(Body(ev), 4000),
		Color:       discordColorWarn,
	}
	if ev.Type == domain.EventDispatchExhausted {
		embed.Color = discordColorError
	}
	if !ev.Timestamp.IsZero() {
		embed.Timestamp = ev.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	if ev.Reason != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Reason", Value: truncate(ev.Reason, 1000)})
	}
	return embed
}
