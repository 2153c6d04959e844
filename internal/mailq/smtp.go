package mailq

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"time"

	"github.com/knadh/smtppool"
)

// Conf represents an SMTP server's credentials.
type Conf struct {
	Host         string        `koanf:"host" validate:"required"`
	Port         int           `koanf:"port" validate:"required,gt=0"`
	AuthProtocol string        `koanf:"auth_protocol" validate:"omitempty,oneof=login cram plain none"`
	Username     string        `koanf:"username"`
	Password     string        `koanf:"password"`
	Timeout      time.Duration `koanf:"timeout"`
	MaxConns     int           `koanf:"max_conns"`

	// none, STARTTLS or TLS.
	TLSType       string `koanf:"tls_type" validate:"omitempty,oneof=none STARTTLS TLS"`
	TLSSkipVerify bool   `koanf:"tls_skip_verify"`
}

// NewPool creates an SMTP connection pool that messages are
// flushed through.
func NewPool(cfg Conf) (*smtppool.Pool, error) {
	if cfg.MaxConns < 1 {
		cfg.MaxConns = 1
	}
	if cfg.Timeout < time.Second {
		cfg.Timeout = time.Second * 10
	}

	var auth smtp.Auth
	switch cfg.AuthProtocol {
	case "login":
		auth = &smtppool.LoginAuth{Username: cfg.Username, Password: cfg.Password}
	case "cram":
		auth = smtp.CRAMMD5Auth(cfg.Username, cfg.Password)
	case "plain":
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	case "", "none":
	default:
		return nil, fmt.Errorf("unknown SMTP auth type '%s'", cfg.AuthProtocol)
	}

	opt := smtppool.Opt{
		Host:            cfg.Host,
		Port:            cfg.Port,
		MaxConns:        cfg.MaxConns,
		IdleTimeout:     time.Second * 10,
		PoolWaitTimeout: cfg.Timeout,
		Auth:            auth,
	}

	if cfg.TLSType != "none" {
		opt.TLSConfig = &tls.Config{}
		if cfg.TLSSkipVerify {
			opt.TLSConfig.InsecureSkipVerify = cfg.TLSSkipVerify
		} else {
			opt.TLSConfig.ServerName = cfg.Host
		}

		// SSL/TLS, not STARTTLS.
		if cfg.TLSType == "TLS" {
			opt.SSL = true
		}
	}

	return smtppool.New(opt)
}
