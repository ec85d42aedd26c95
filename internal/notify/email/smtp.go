// Package email renders reminder emails and delivers them over SMTP.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/emersion/go-message/mail"
)

// ErrInvalidAddress is returned for a recipient that cannot be parsed.
var ErrInvalidAddress = errors.New("invalid email address")

// SendError describes a failed delivery to one recipient.
type SendError struct {
	To string

	// Permanent is true for 5xx replies and unparseable addresses.
	Permanent bool

	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("sending email to %s: %v", e.To, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a delivery failure that will not
// recover on retry.
func IsPermanent(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.Permanent
}

// SMTPConfig holds the SMTP server settings used for sending.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	TLS      bool
}

// Archiver stores a copy of each delivered message, e.g. in a Sent folder.
type Archiver interface {
	Archive(ctx context.Context, raw []byte) error
}

// Option configures an SMTPSender.
type Option func(*SMTPSender)

// WithArchiver keeps a copy of every successfully sent message.
func WithArchiver(a Archiver) Option {
	return func(s *SMTPSender) { s.archiver = a }
}

// WithLogger sets the logger used for non-fatal archive failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *SMTPSender) { s.logger = l }
}

// SMTPSender sends HTML emails through an SMTP relay.
type SMTPSender struct {
	cfg      SMTPConfig
	from     *mail.Address
	archiver Archiver
	logger   *slog.Logger
	now      func() time.Time
}

// NewSMTPSender validates cfg and returns a sender.
func NewSMTPSender(cfg SMTPConfig, opts ...Option) (*SMTPSender, error) {
	if cfg.Host == "" || cfg.Port == "" {
		return nil, errors.New("email: SMTP host and port are required")
	}
	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("email: parsing from address %q: %w", cfg.From, err)
	}

	s := &SMTPSender{
		cfg:    cfg,
		from:   from,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Send delivers one HTML email. Deadlines and cancellation come from ctx.
func (s *SMTPSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	rcpt, err := mail.ParseAddress(to)
	if err != nil {
		return &SendError{To: to, Permanent: true, Err: fmt.Errorf("%w: %v", ErrInvalidAddress, err)}
	}

	raw, err := composeMessage(s.from, rcpt, subject, htmlBody, s.now())
	if err != nil {
		return &SendError{To: to, Permanent: true, Err: err}
	}

	if err := s.deliver(ctx, rcpt.Address, raw); err != nil {
		var tpErr *textproto.Error
		permanent := errors.As(err, &tpErr) && tpErr.Code >= 500
		return &SendError{To: to, Permanent: permanent, Err: err}
	}

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, raw); err != nil {
			s.logger.Warn("archiving sent email failed", "to", rcpt.Address, "error", err)
		}
	}
	return nil
}

// composeMessage builds an RFC 5322 message with a single HTML body.
func composeMessage(from, to *mail.Address, subject, htmlBody string, date time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", []*mail.Address{to})
	h.SetSubject(subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generating message id: %w", err)
	}
	h.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}
	if _, err := io.WriteString(w, htmlBody); err != nil {
		return nil, fmt.Errorf("writing message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing message body: %w", err)
	}
	return buf.Bytes(), nil
}

// deliver opens a connection, upgrades it to TLS when configured or
// offered, authenticates if credentials are set, and sends raw.
func (s *SMTPSender) deliver(ctx context.Context, to string, raw []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)

	conn, err := s.dial(ctx, addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	if !s.cfg.TLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
				return fmt.Errorf("SMTP STARTTLS: %w", err)
			}
		}
	}

	if s.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
			if err := client.Auth(auth); err != nil {
				return fmt.Errorf("SMTP auth: %w", err)
			}
		}
	}

	return sendMailViaSMTPClient(client, s.from.Address, to, raw)
}

func (s *SMTPSender) dial(ctx context.Context, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	if s.cfg.TLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: s.cfg.Host}}
		conn, err := tlsDialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("TLS dial to %s: %w", addr, err)
		}
		return conn, nil
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial to %s: %w", addr, err)
	}
	return conn, nil
}

// sendMailViaSMTPClient sends a message using an already-authenticated
// SMTP client.
func sendMailViaSMTPClient(client *smtp.Client, from, to string, body []byte) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}

	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("SMTP RCPT TO: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}

	if _, err := writer.Write(body); err != nil {
		return fmt.Errorf("writing email body: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing email body: %w", err)
	}

	return client.Quit()
}
