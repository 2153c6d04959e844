package discord

import (
	"github.com/bwmarrin/discordgo"
	"github.com/knadh/verifybot/pkg/models"
)

// Custom IDs of the panel buttons and the modals they open. They're stable
// so that panels posted before a restart keep working.
const (
	ButtonGetCode   = "verify_view:initial"
	ButtonEnterCode = "verify_view:finish"

	ModalIdentity = "verify_modal:identity"
	ModalCode     = "verify_modal:code"
)

// Embed converts a notice to an embed.
func Embed(n models.Notice) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: n.Description,
		Color:       n.Colour,
	}
}

// PanelComponents returns the two buttons on the verification panel.
func PanelComponents(cfg Conf) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				button(ButtonGetCode, cfg.GetCodeLabel, cfg.GetCodeEmoji),
				button(ButtonEnterCode, cfg.EnterCodeLabel, cfg.EnterCodeEmoji),
			},
		},
	}
}

func button(id, label, emoji string) discordgo.Button {
	b := discordgo.Button{
		CustomID: id,
		Label:    label,
		Style:    discordgo.SecondaryButton,
	}
	if emoji != "" {
		b.Emoji = &discordgo.ComponentEmoji{Name: emoji}
	}
	return b
}

// Modal returns the response data of a modal form with one text input
// per field, each on its own row.
func Modal(customID, title string, fields []models.FormField) *discordgo.InteractionResponseData {
	rows := make([]discordgo.MessageComponent, 0, len(fields))
	for _, f := range fields {
		style := discordgo.TextInputShort
		if f.Multiline {
			style = discordgo.TextInputParagraph
		}

		rows = append(rows, discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.TextInput{
					CustomID:    f.ID,
					Label:       f.Label,
					Style:       style,
					Placeholder: f.Placeholder,
					Required:    f.Required,
					MinLength:   f.MinLength,
					MaxLength:   f.MaxLength,
				},
			},
		})
	}

	return &discordgo.InteractionResponseData{
		CustomID:   customID,
		Title:      title,
		Components: rows,
	}
}

// ModalValues flattens a modal submission into a map of input IDs to
// their values.
func ModalValues(data discordgo.ModalSubmitInteractionData) map[string]string {
	out := make(map[string]string)
	for _, c := range data.Components {
		row, ok := c.(*discordgo.ActionsRow)
		if !ok {
			continue
		}

		for _, rc := range row.Components {
			if in, ok := rc.(*discordgo.TextInput); ok {
				out[in.CustomID] = in.Value
			}
		}
	}
	return out
}
