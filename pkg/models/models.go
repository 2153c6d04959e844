package models

import (
	"time"
)

// OTP is a one-time password and its absolute expiry. It is never
// modified after it's generated.
type OTP struct {
	Password string    `json:"password"`
	Expiry   time.Time `json:"expiry"`
}

// Expired tells if the OTP has expired at the given time. An OTP is
// still valid at the exact instant of its expiry.
func (o OTP) Expired(now time.Time) bool {
	return now.After(o.Expiry)
}

// PendingVerification is an outstanding OTP challenge for a user,
// created when the user submits the identity they claim.
type PendingVerification struct {
	OTP      OTP               `json:"otp"`
	Identity string            `json:"identity"`
	Extra    map[string]string `json:"extra"`

	// Attempts is the number of incorrect submissions against the OTP.
	// It's only tracked when an attempt limit is configured.
	Attempts int `json:"attempts"`
}

// Requester is the chat platform user driving a verification flow and
// the server (guild) it originates from.
type Requester struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	GuildID   string `json:"guild_id"`
	GuildName string `json:"guild_name"`
}

// Record is the persisted proof of a successful verification.
// Records are append-only. Re-verification appends another record.
type Record struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	Identity    string            `json:"identity"`
	DisplayName string            `json:"display_name"`
	VerifiedAt  time.Time         `json:"verified_at"`
	Extra       map[string]string `json:"extra"`
}

// Notice is a titled, coloured message shown to a user.
type Notice struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Colour      int    `json:"colour"`
}

// FormField is a labelled text input on a form shown to a user.
type FormField struct {
	ID          string `koanf:"id" json:"id" validate:"required"`
	Label       string `koanf:"label" json:"label" validate:"required,max=45"`
	Placeholder string `koanf:"placeholder" json:"placeholder" validate:"max=100"`
	Required    bool   `koanf:"required" json:"required"`
	Multiline   bool   `koanf:"multiline" json:"multiline"`
	MinLength   int    `koanf:"min_length" json:"min_length" validate:"gte=0"`
	MaxLength   int    `koanf:"max_length" json:"max_length" validate:"gte=0"`
}
