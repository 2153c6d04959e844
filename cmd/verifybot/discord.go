package main

import (
	"context"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/knadh/verifybot/internal/discord"
	"github.com/knadh/verifybot/internal/verify"
	"github.com/knadh/verifybot/pkg/models"
)

const cmdSetup = "verifysetup"

// handleInteraction handles the panel buttons and the forms they open.
func (app *App) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionMessageComponent:
		var (
			id     string
			title  string
			fields []models.FormField
		)
		switch i.MessageComponentData().CustomID {
		case discord.ButtonGetCode:
			id = discord.ModalIdentity
			title, fields = app.ctrl.IdentityForm()
		case discord.ButtonEnterCode:
			id = discord.ModalCode
			title, fields = app.ctrl.CodeForm()
		default:
			return
		}

		if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseModal,
			Data: discord.Modal(id, title, fields),
		}); err != nil {
			app.lo.Error("error opening form", "error", err, "form", id)
		}

	case discordgo.InteractionModalSubmit:
		data := i.ModalSubmitData()
		switch data.CustomID {
		case discord.ModalIdentity:
			app.handleIdentitySubmit(s, i, discord.ModalValues(data))
		case discord.ModalCode:
			app.handleCodeSubmit(s, i, discord.ModalValues(data))
		}
	}
}

// handleIdentitySubmit starts a verification with the submitted identity.
// Everything else on the form is saved as extra data.
func (app *App) handleIdentitySubmit(s *discordgo.Session, i *discordgo.InteractionCreate, vals map[string]string) {
	identity := vals[verify.IdentityFieldID]
	delete(vals, verify.IdentityFieldID)

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: app.bot.Conf().CheckDMs,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}); err != nil {
		app.lo.Error("error responding to interaction", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), app.constants.RequestTimeout)
	defer cancel()

	req := app.bot.Requester(i.Interaction)
	n, err := app.ctrl.RequestCode(ctx, req, identity, vals)
	if err != nil {
		app.lo.Debug("code request failed", "error", err, "user_id", req.UserID)
	}

	app.sendDM(req.UserID, n)
}

// handleCodeSubmit completes a verification with the submitted code.
func (app *App) handleCodeSubmit(s *discordgo.Session, i *discordgo.InteractionCreate, vals map[string]string) {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		app.lo.Error("error responding to interaction", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), app.constants.RequestTimeout)
	defer cancel()

	req := app.bot.Requester(i.Interaction)
	n, err := app.ctrl.SubmitCode(ctx, req, vals[verify.CodeFieldID])
	if err != nil {
		app.lo.Debug("code submission failed", "error", err, "user_id", req.UserID)
	}

	app.sendDM(req.UserID, n)
}

// handleMessage posts the verification panel on the setup command.
func (app *App) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || s.State.User == nil {
		return
	}

	if !isCommand(m.Content, cmdSetup, app.bot.Conf().Prefix, s.State.User.ID) {
		return
	}

	if m.GuildID == "" {
		if _, err := s.ChannelMessageSendEmbed(m.ChannelID, discord.Embed(app.ctrl.NonGuildNotice())); err != nil {
			app.lo.Error("error sending message", "error", err)
		}
		return
	}

	if !slices.Contains(app.bot.Conf().SetupUsers, m.Author.ID) {
		app.lo.Debug("ignoring setup command from unauthorised user", "user_id", m.Author.ID, "guild_id", m.GuildID)
		return
	}

	if err := app.bot.SendPanel(m.ChannelID, app.ctrl.PanelNotice()); err != nil {
		app.lo.Error("error sending verification panel", "error", err, "channel_id", m.ChannelID)
		return
	}
	app.lo.Info("posted verification panel", "guild_id", m.GuildID, "channel_id", m.ChannelID)
}

func (app *App) sendDM(userID string, n models.Notice) {
	if err := app.bot.SendDM(userID, n); err != nil {
		app.lo.Error("error sending DM", "error", err, "user_id", userID)
	}
}

// isCommand tells if a message invokes cmd, either with the prefix or by
// mentioning the bot.
func isCommand(content, cmd, prefix, botID string) bool {
	content = strings.TrimSpace(content)

	prefixes := []string{"<@" + botID + ">", "<@!" + botID + ">"}
	if prefix != "" {
		prefixes = append(prefixes, prefix)
	}

	for _, p := range prefixes {
		rest, ok := strings.CutPrefix(content, p)
		if !ok {
			continue
		}

		f := strings.Fields(rest)
		if len(f) > 0 && f[0] == cmd {
			return true
		}
	}
	return false
}
