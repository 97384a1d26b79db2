package mail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// TransportConfig configures the SMTP handle. When OAuth is set the
// handle authenticates with XOAUTH2 using a refreshed access token.
type TransportConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	OAuth    *oauth2.Config
	// RefreshToken is exchanged for access tokens through OAuth.
	RefreshToken string
	// TTL bounds how long cached credentials are reused; keep it below
	// the access token lifetime.
	TTL time.Duration
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Transporter is the process-wide SMTP handle. Credentials are cached
// for TTL and dropped on an authentication failure.
type Transporter struct {
	cfg    TransportConfig
	logger *zap.SugaredLogger
	send   sendFunc
	now    func() time.Time
	tokens oauth2.TokenSource

	// newTokens rebuilds tokens from the refresh token; the oauth2 source
	// keeps serving a cached access token until it expires.
	newTokens func() oauth2.TokenSource

	mu      sync.Mutex
	auth    smtp.Auth
	expires time.Time
}

func NewTransporter(cfg TransportConfig, logger *zap.SugaredLogger) *Transporter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 45 * time.Minute
	}
	t := &Transporter{cfg: cfg, logger: logger, send: smtp.SendMail, now: time.Now}
	if cfg.OAuth != nil {
		t.newTokens = func() oauth2.TokenSource {
			return cfg.OAuth.TokenSource(context.Background(), &oauth2.Token{RefreshToken: cfg.RefreshToken})
		}
		t.tokens = t.newTokens()
	}
	return t
}

func (t *Transporter) addr() string {
	return net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
}

// credentials returns the cached auth, refreshing it when stale.
func (t *Transporter) credentials() (smtp.Auth, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.auth != nil && t.now().Before(t.expires) {
		return t.auth, nil
	}
	switch {
	case t.tokens != nil:
		tok, err := t.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("smtp oauth token: %w", err)
		}
		t.auth = &xoauth2{user: t.cfg.Username, token: tok.AccessToken}
		t.expires = t.now().Add(t.cfg.TTL)
		if !tok.Expiry.IsZero() && tok.Expiry.Before(t.expires) {
			t.expires = tok.Expiry
		}
	case t.cfg.Username != "":
		t.auth = smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
		t.expires = t.now().Add(t.cfg.TTL)
	default:
		return nil, nil
	}
	return t.auth, nil
}

// Invalidate drops cached credentials. With OAuth the next send
// exchanges the refresh token again.
func (t *Transporter) Invalidate() {
	t.mu.Lock()
	t.auth = nil
	t.expires = time.Time{}
	if t.newTokens != nil {
		t.tokens = t.newTokens()
	}
	t.mu.Unlock()
}

func (t *Transporter) Send(_ context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return Permanent(err)
	}
	auth, err := t.credentials()
	if err != nil {
		return err
	}
	body, err := m.Bytes(t.cfg.From, t.now())
	if err != nil {
		return Permanent(err)
	}
	if err := t.send(t.addr(), auth, t.cfg.From, m.To, body); err != nil {
		if IsAuthFailure(err) {
			t.logger.Warnw("smtp authentication rejected; dropping cached credentials", "host", t.cfg.Host)
			t.Invalidate()
		}
		return fmt.Errorf("smtp send: %w", err)
	}
	t.logger.Debugw("email sent", "tag", m.Tag, "to", len(m.To))
	return nil
}

// IsAuthFailure reports an SMTP 535 reply.
func IsAuthFailure(err error) bool {
	return smtpCode(err) == 535
}

func smtpCode(err error) int {
	var te *textproto.Error
	if errors.As(err, &te) {
		return te.Code
	}
	return 0
}

// xoauth2 implements the XOAUTH2 SASL mechanism.
type xoauth2 struct {
	user  string
	token string
}

func (a *xoauth2) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	return "XOAUTH2", []byte("user=" + a.user + "\x01auth=Bearer " + a.token + "\x01\x01"), nil
}

// Next answers the error challenge with an empty response so the server
// reports the failure.
func (a *xoauth2) Next(_ []byte, more bool) ([]byte, error) {
	if more {
		return []byte{}, nil
	}
	return nil, nil
}
