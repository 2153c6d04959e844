package verify

import (
	"time"

	"github.com/knadh/verifybot/pkg/models"
)

// Config is the verification flow's configuration.
type Config struct {
	OTPCharPool string        `koanf:"otp_char_pool" validate:"required"`
	OTPLength   int           `koanf:"otp_length" validate:"gt=0"`
	OTPTTL      time.Duration `koanf:"otp_ttl" validate:"gte=0"`

	// Maximum incorrect submissions against an OTP before it's locked.
	// 0 allows unlimited attempts until the OTP expires.
	MaxAttempts int `koanf:"max_attempts" validate:"gte=0"`

	IdentityLabel       string `koanf:"identity_label" validate:"required,max=45"`
	IdentityPlaceholder string `koanf:"identity_placeholder" validate:"max=100"`
	IdentityMinLen      int    `koanf:"identity_min_length" validate:"gte=1"`
	IdentityMaxLen      int    `koanf:"identity_max_length" validate:"gtefield=IdentityMinLen"`

	// Extra questions asked alongside the identity.
	Prompts []models.FormField `koanf:"prompts" validate:"max=4,dive"`

	// Role IDs granted on successful verification and the audit log
	// reason template ({{ .Identity }}).
	GrantRoles  []string `koanf:"grant_roles"`
	GrantReason string   `koanf:"grant_reason" validate:"max=512"`

	Colour int `koanf:"colour" validate:"gte=0,lte=16777215"`

	Mail     MailConfig `koanf:"mail"`
	Messages Messages   `koanf:"messages"`
}

// MailConfig contains the OTP e-mail templates. Address, Subject, Text
// and HTML get Identity, Code, Username, UserID, ServerName and Expiry.
type MailConfig struct {
	FromName  string `koanf:"from_name"`
	FromEmail string `koanf:"from_email" validate:"required"`
	Address   string `koanf:"address" validate:"required"`
	Subject   string `koanf:"subject" validate:"required"`
	Text      string `koanf:"text"`
	HTML      string `koanf:"html"`
}

// Messages are the titles and bodies of notices shown to users.
// SentContent gets Email and Timestamp (unix seconds of the next mail
// flush) and InvalidIdentityContent gets Min and Max.
type Messages struct {
	PanelTitle   string `koanf:"panel_title"`
	PanelContent string `koanf:"panel_content"`

	IdentityFormTitle string `koanf:"identity_form_title" validate:"required,max=45"`
	CodeFormTitle     string `koanf:"code_form_title" validate:"required,max=45"`
	CodeFormLabel     string `koanf:"code_form_label" validate:"required,max=45"`

	SentTitle   string `koanf:"sent_title"`
	SentContent string `koanf:"sent_content"`

	SuccessTitle   string `koanf:"success_title"`
	SuccessContent string `koanf:"success_content"`

	InvalidCodeTitle   string `koanf:"invalid_code_title"`
	InvalidCodeContent string `koanf:"invalid_code_content"`

	InvalidIdentityTitle   string `koanf:"invalid_identity_title"`
	InvalidIdentityContent string `koanf:"invalid_identity_content"`

	ErrorTitle      string `koanf:"error_title"`
	ErrorContent    string `koanf:"error_content"`
	NonGuildContent string `koanf:"non_guild_content"`
}

// DefaultConfig returns the default configuration. Values loaded from
// config files are merged over it.
func DefaultConfig() Config {
	return Config{
		OTPCharPool: "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789",
		OTPLength:   12,
		OTPTTL:      30 * time.Minute,

		IdentityLabel:       "Enter your zID (including the z)",
		IdentityPlaceholder: "zXXXXXXX",
		IdentityMinLen:      8,
		IdentityMaxLen:      8,

		Prompts: []models.FormField{
			{
				ID:          "fave_distro",
				Label:       "What's your favourite linux distro/s?",
				Placeholder: "Arch",
				Required:    true,
				Multiline:   true,
			},
		},

		GrantReason: "Granted to this member through verification as {{ .Identity }}",
		Colour:      0xF5BE04,

		Mail: MailConfig{
			FromName:  "Verification bot",
			FromEmail: "verify@localhost",
			Address:   "{{ .Identity }}@ad.unsw.edu.au",
			Subject:   "Verification code for {{ .Username }}",
			Text: "Hey there, {{ .Username }}\n\n" +
				"To verify yourself as {{ .Identity }} in {{ .ServerName }} please use this code:\n\n" +
				"{{ .Code }}\n",
			HTML: `<!doctype html>
<html>
	<body>
		<h3>Hey there, {{ .Username }}</h3>
		<p>To verify yourself as {{ .Identity }} in {{ .ServerName }} please use this code:</p>
		<h4>{{ .Code }}</h4>
	</body>
</html>`,
		},

		Messages: Messages{
			PanelTitle:   "Verification",
			PanelContent: "Verify yourself to enter this server",

			IdentityFormTitle: "Enter some information about yourself",
			CodeFormTitle:     "Verify yourself",
			CodeFormLabel:     "Enter your verification code",

			SentTitle: "Check your mailbox",
			SentContent: "We've sent a code to `{{ .Email }}`. " +
				"The mail will be sent <t:{{ .Timestamp }}:R>, so please be patient. " +
				"Requesting a new code invalidates the previously requested code.",

			SuccessTitle:   "Verification Successful",
			SuccessContent: "You have successfully verified yourself for this server",

			InvalidCodeTitle:   "Invalid Code",
			InvalidCodeContent: "Your verification code is invalid! please try again.",

			InvalidIdentityTitle:   "Invalid ID",
			InvalidIdentityContent: "Your ID should be between {{ .Min }} and {{ .Max }} characters long.",

			ErrorTitle:      "Error",
			ErrorContent:    "Something went wrong. Please try again later.",
			NonGuildContent: "Please only run the setup verification command in guilds",
		},
	}
}
