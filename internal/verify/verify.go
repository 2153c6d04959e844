// Package verify implements the two step e-mail verification flow.
//
// A user first submits the identity they claim (eg: a student ID). A
// one-time password is generated, held in the cache against the user and
// mailed to the address derived from the identity. The user then submits
// the code back. If it matches an unexpired OTP, a verification record is
// saved, the configured roles are granted and the OTP is discarded.
package verify

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"maps"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/smtppool"
	"github.com/knadh/verifybot/internal/cache"
	"github.com/knadh/verifybot/internal/otp"
	"github.com/knadh/verifybot/pkg/models"
	"github.com/oklog/ulid/v2"
	"github.com/zerodha/logf"
)

const (
	// IdentityFieldID is the ID of the identity field on the identity form.
	IdentityFieldID = "identity"

	// CodeFieldID is the ID of the code field on the code form.
	CodeFieldID = "code"
)

var (
	// ErrInvalidIdentity is returned when the claimed identity's length
	// is out of bounds.
	ErrInvalidIdentity = errors.New("invalid identity format")

	// ErrInvalidCode is returned when there's no pending verification for
	// a user, or it has expired, or the code doesn't match. The three
	// cases are deliberately indistinguishable.
	ErrInvalidCode = errors.New("invalid or expired code")

	// ErrGrantFailed is returned when roles couldn't be granted after a
	// successful verification. The record has already been saved.
	ErrGrantFailed = errors.New("error granting roles")
)

// Mailer queues messages for asynchronous delivery.
type Mailer interface {
	Enqueue(smtppool.Email) error
	NextFlush() time.Time
}

// Appender persists verification records.
type Appender interface {
	Append(ctx context.Context, r models.Record) error
}

// Granter grants roles to a user on the platform.
type Granter interface {
	Grant(ctx context.Context, r models.Requester, roles []string, reason string) error
}

// Deps are the Controller's collaborators.
type Deps struct {
	Cache   *cache.Cache
	Mailer  Mailer
	Store   Appender
	Granter Granter
	Log     logf.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Controller drives the verification flow.
type Controller struct {
	cfg  Config
	tpls *templates

	cache   *cache.Cache
	mailer  Mailer
	store   Appender
	granter Granter
	lo      logf.Logger
	now     func() time.Time
}

type mailData struct {
	Identity   string
	Code       string
	Username   string
	UserID     string
	ServerName string
	Expiry     time.Time
}

// New validates the config, compiles its templates and returns a
// Controller. Any error here means the flow can't run.
func New(cfg Config, d Deps) (*Controller, error) {
	if err := otp.Validate(cfg.OTPCharPool, cfg.OTPLength, cfg.OTPTTL); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", otp.ErrInvalidConfig, err)
	}
	for _, p := range cfg.Prompts {
		if p.ID == IdentityFieldID {
			return nil, fmt.Errorf("%w: prompt ID '%s' is reserved", otp.ErrInvalidConfig, p.ID)
		}
	}

	tpls, err := compileTemplates(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", otp.ErrInvalidConfig, err)
	}

	if d.Cache == nil || d.Mailer == nil || d.Store == nil || d.Granter == nil {
		return nil, errors.New("cache, mailer, store and granter are required")
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	return &Controller{
		cfg:     cfg,
		tpls:    tpls,
		cache:   d.Cache,
		mailer:  d.Mailer,
		store:   d.Store,
		granter: d.Granter,
		lo:      d.Log,
		now:     d.Now,
	}, nil
}

// RequestCode starts (or restarts) a verification. It generates an OTP,
// replaces any pending verification of the user with it and queues the
// OTP e-mail to the address derived from the identity.
func (c *Controller) RequestCode(ctx context.Context, req models.Requester, identity string, extra map[string]string) (models.Notice, error) {
	identity = strings.TrimSpace(identity)
	if n := utf8.RuneCountInString(identity); n < c.cfg.IdentityMinLen || n > c.cfg.IdentityMaxLen {
		return c.invalidIdentityNotice(), ErrInvalidIdentity
	}

	o, err := otp.Generate(c.cfg.OTPCharPool, c.cfg.OTPLength, c.cfg.OTPTTL, c.now())
	if err != nil {
		c.lo.Error("error generating OTP", "error", err)
		return c.errorNotice(), err
	}

	c.cache.Put(req.UserID, models.PendingVerification{
		OTP:      o,
		Identity: identity,
		Extra:    maps.Clone(extra),
	})

	msg, err := c.makeMail(req, identity, o)
	if err != nil {
		c.lo.Error("error compiling mail", "error", err, "user_id", req.UserID)
		return c.errorNotice(), err
	}

	// The pending entry stays even if the mail can't be queued. A new
	// request replaces it.
	if err := c.mailer.Enqueue(msg); err != nil {
		c.lo.Error("error queueing mail", "error", err, "user_id", req.UserID)
		return c.errorNotice(), err
	}

	c.lo.Info("verification code requested", "user_id", req.UserID, "identity", identity, "guild_id", req.GuildID)

	desc, err := execTxt(c.tpls.sentContent, struct {
		Email     string
		Timestamp int64
	}{msg.To[0], c.mailer.NextFlush().Unix()})
	if err != nil {
		c.lo.Error("error compiling notice", "error", err)
	}

	return c.notice(c.cfg.Messages.SentTitle, desc), nil
}

// SubmitCode checks a code against the user's pending verification. On a
// match, the verification is recorded, roles are granted and the pending
// verification is discarded.
func (c *Controller) SubmitCode(ctx context.Context, req models.Requester, code string) (models.Notice, error) {
	p, ok := c.cache.Get(req.UserID)
	if !ok {
		return c.invalidCode(req, "no pending verification")
	}

	// Expired entries are left in the cache until they're replaced.
	if p.OTP.Expired(c.now()) {
		return c.invalidCode(req, "expired code")
	}

	if c.cfg.MaxAttempts > 0 && p.Attempts >= c.cfg.MaxAttempts {
		return c.invalidCode(req, "too many attempts")
	}

	if subtle.ConstantTimeCompare([]byte(code), []byte(p.OTP.Password)) != 1 {
		if c.cfg.MaxAttempts > 0 {
			c.cache.IncrAttempts(req.UserID)
		}
		return c.invalidCode(req, "incorrect code")
	}

	// Take the entry out so that the OTP can't be used twice, including
	// by a concurrent submission.
	p, ok = c.cache.Claim(req.UserID, p.OTP)
	if !ok {
		return c.invalidCode(req, "code already used or replaced")
	}

	now := c.now()
	rec := models.Record{
		ID:          ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		UserID:      req.UserID,
		Identity:    p.Identity,
		DisplayName: req.Name,
		VerifiedAt:  now,
		Extra:       p.Extra,
	}
	if err := c.store.Append(ctx, rec); err != nil {
		c.lo.Error("error saving verification record", "error", err, "user_id", req.UserID)

		// Let the user retry with the same code.
		c.cache.Restore(req.UserID, p)
		return c.errorNotice(), fmt.Errorf("error saving verification record: %w", err)
	}

	if len(c.cfg.GrantRoles) > 0 {
		reason, err := execTxt(c.tpls.grantReason, mailData{Identity: p.Identity})
		if err != nil {
			c.lo.Error("error compiling grant reason", "error", err)
		}

		if err := c.granter.Grant(ctx, req, c.cfg.GrantRoles, reason); err != nil {
			c.lo.Error("error granting roles", "error", err, "user_id", req.UserID, "guild_id", req.GuildID)
			return c.errorNotice(), fmt.Errorf("%w: %v", ErrGrantFailed, err)
		}
	} else {
		c.lo.Warn("no roles configured to grant", "user_id", req.UserID)
	}

	c.lo.Info("user verified", "user_id", req.UserID, "identity", p.Identity, "record_id", rec.ID)
	return c.notice(c.cfg.Messages.SuccessTitle, c.cfg.Messages.SuccessContent), nil
}

// IdentityForm returns the title and fields of the form that collects
// the claimed identity and the extra prompts.
func (c *Controller) IdentityForm() (string, []models.FormField) {
	fields := make([]models.FormField, 0, len(c.cfg.Prompts)+1)
	fields = append(fields, models.FormField{
		ID:          IdentityFieldID,
		Label:       c.cfg.IdentityLabel,
		Placeholder: c.cfg.IdentityPlaceholder,
		Required:    true,
		MinLength:   c.cfg.IdentityMinLen,
		MaxLength:   c.cfg.IdentityMaxLen,
	})
	fields = append(fields, c.cfg.Prompts...)

	return c.cfg.Messages.IdentityFormTitle, fields
}

// CodeForm returns the title and fields of the form that collects the
// OTP.
func (c *Controller) CodeForm() (string, []models.FormField) {
	return c.cfg.Messages.CodeFormTitle, []models.FormField{{
		ID:        CodeFieldID,
		Label:     c.cfg.Messages.CodeFormLabel,
		Required:  true,
		Multiline: true,
	}}
}

// PanelNotice returns the notice that introduces the verification flow.
func (c *Controller) PanelNotice() models.Notice {
	return c.notice(c.cfg.Messages.PanelTitle, c.cfg.Messages.PanelContent)
}

// NonGuildNotice returns the notice for setup attempts outside a server.
func (c *Controller) NonGuildNotice() models.Notice {
	return c.notice(c.cfg.Messages.ErrorTitle, c.cfg.Messages.NonGuildContent)
}

func (c *Controller) invalidCode(req models.Requester, reason string) (models.Notice, error) {
	c.lo.Debug("verification failed", "user_id", req.UserID, "reason", reason)
	return c.notice(c.cfg.Messages.InvalidCodeTitle, c.cfg.Messages.InvalidCodeContent), ErrInvalidCode
}

func (c *Controller) invalidIdentityNotice() models.Notice {
	desc, err := execTxt(c.tpls.invalidIdentity, struct{ Min, Max int }{c.cfg.IdentityMinLen, c.cfg.IdentityMaxLen})
	if err != nil {
		c.lo.Error("error compiling notice", "error", err)
	}
	return c.notice(c.cfg.Messages.InvalidIdentityTitle, desc)
}

func (c *Controller) errorNotice() models.Notice {
	return c.notice(c.cfg.Messages.ErrorTitle, c.cfg.Messages.ErrorContent)
}

func (c *Controller) notice(title, desc string) models.Notice {
	return models.Notice{
		Title:       title,
		Description: desc,
		Colour:      c.cfg.Colour,
	}
}

// makeMail compiles the OTP e-mail for a user.
func (c *Controller) makeMail(req models.Requester, identity string, o models.OTP) (smtppool.Email, error) {
	data := mailData{
		Identity:   identity,
		Code:       o.Password,
		Username:   req.Name,
		UserID:     req.UserID,
		ServerName: req.GuildName,
		Expiry:     o.Expiry,
	}

	to, err := execTxt(c.tpls.address, data)
	if err != nil {
		return smtppool.Email{}, err
	}
	subj, err := execTxt(c.tpls.subject, data)
	if err != nil {
		return smtppool.Email{}, err
	}

	out := smtppool.Email{
		From:    (&mail.Address{Name: c.cfg.Mail.FromName, Address: c.cfg.Mail.FromEmail}).String(),
		To:      []string{strings.TrimSpace(to)},
		Subject: subj,
	}

	if c.tpls.text != nil {
		b, err := execTxt(c.tpls.text, data)
		if err != nil {
			return smtppool.Email{}, err
		}
		out.Text = []byte(b)
	}
	if c.tpls.html != nil {
		b, err := execHTML(c.tpls.html, data)
		if err != nil {
			return smtppool.Email{}, err
		}
		out.HTML = []byte(b)
	}

	return out, nil
}
