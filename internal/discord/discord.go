// Package discord adapts the verification flow to Discord. It renders
// notices and forms as embeds and modals, delivers notices over DMs and
// grants roles to verified members.
package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/knadh/verifybot/pkg/models"
	"github.com/zerodha/logf"
)

// Conf is the Discord configuration.
type Conf struct {
	Token string `koanf:"token" validate:"required"`

	// Prefix for text commands in addition to mentioning the bot.
	Prefix string `koanf:"prefix"`

	// IDs of users allowed to post the verification panel.
	SetupUsers []string `koanf:"setup_users"`

	CheckDMs       string `koanf:"check_dms"`
	GetCodeLabel   string `koanf:"get_code_label" validate:"max=80"`
	GetCodeEmoji   string `koanf:"get_code_emoji"`
	EnterCodeLabel string `koanf:"enter_code_label" validate:"max=80"`
	EnterCodeEmoji string `koanf:"enter_code_emoji"`
}

// Bot wraps a Discord session.
type Bot struct {
	cfg  Conf
	sess *discordgo.Session
	lo   logf.Logger
}

// New returns a Bot. The gateway connection isn't opened until Open().
func New(cfg Conf, lo logf.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord token is empty")
	}

	sess, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("error creating discord session: %v", err)
	}
	sess.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

	b := &Bot{cfg: cfg, sess: sess, lo: lo}
	sess.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		lo.Info("logged in to discord", "user", r.User.Username, "id", r.User.ID, "guilds", len(r.Guilds))
	})

	return b, nil
}

// Session returns the underlying session for registering handlers.
func (b *Bot) Session() *discordgo.Session {
	return b.sess
}

// Conf returns the bot's config.
func (b *Bot) Conf() Conf {
	return b.cfg
}

// Open connects to the gateway.
func (b *Bot) Open() error {
	return b.sess.Open()
}

// Close disconnects from the gateway.
func (b *Bot) Close() error {
	return b.sess.Close()
}

// Grant adds the given roles to the requester in its guild. It stops at
// the first role that can't be added.
func (b *Bot) Grant(ctx context.Context, r models.Requester, roles []string, reason string) error {
	opts := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if reason != "" {
		opts = append(opts, discordgo.WithAuditLogReason(reason))
	}

	for _, role := range roles {
		if err := b.sess.GuildMemberRoleAdd(r.GuildID, r.UserID, role, opts...); err != nil {
			return fmt.Errorf("error adding role %s: %v", role, err)
		}
		b.lo.Debug("granted role", "user_id", r.UserID, "guild_id", r.GuildID, "role", role)
	}

	return nil
}

// SendDM sends a notice to a user over direct message.
func (b *Bot) SendDM(userID string, n models.Notice) error {
	ch, err := b.sess.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("error opening DM channel: %v", err)
	}

	if _, err := b.sess.ChannelMessageSendEmbed(ch.ID, Embed(n)); err != nil {
		return fmt.Errorf("error sending DM: %v", err)
	}
	return nil
}

// SendPanel posts the verification panel to a channel.
func (b *Bot) SendPanel(channelID string, n models.Notice) error {
	_, err := b.sess.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{Embed(n)},
		Components: PanelComponents(b.cfg),
	})
	return err
}

// Requester returns the user behind an interaction and the guild it
// came from. The guild name is looked up in the state cache first.
func (b *Bot) Requester(i *discordgo.Interaction) models.Requester {
	r := models.Requester{GuildID: i.GuildID}

	if u := interactionUser(i); u != nil {
		r.UserID = u.ID
		r.Name = u.Username
	}

	if i.GuildID != "" {
		g, err := b.sess.State.Guild(i.GuildID)
		if err != nil {
			g, err = b.sess.Guild(i.GuildID)
		}
		if err == nil {
			r.GuildName = g.Name
		} else {
			b.lo.Warn("error looking up guild", "error", err, "guild_id", i.GuildID)
		}
	}

	return r
}

func interactionUser(i *discordgo.Interaction) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}
