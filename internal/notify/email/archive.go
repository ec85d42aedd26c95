package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// IMAPArchiver appends sent messages to a mailbox on an IMAP server.
type IMAPArchiver struct {
	host     string
	port     string
	username string
	password string
	tls      bool
	mailbox  string
}

// NewIMAPArchiver creates an archiver that stores messages in mailbox.
// An empty mailbox defaults to "Sent".
func NewIMAPArchiver(host, port, username, password string, tls bool, mailbox string) *IMAPArchiver {
	if mailbox == "" {
		mailbox = "Sent"
	}
	return &IMAPArchiver{
		host:     host,
		port:     port,
		username: username,
		password: password,
		tls:      tls,
		mailbox:  mailbox,
	}
}

// dial opens the transport connection, with implicit TLS when configured.
// The connection is bounded by ctx's deadline.
func (a *IMAPArchiver) dial(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort(a.host, a.port)
	dialer := &net.Dialer{Timeout: 30 * time.Second}

	var (
		conn net.Conn
		err  error
	)
	if a.tls {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config:    &tls.Config{ServerName: a.host, NextProtos: []string{"imap"}},
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	return conn, nil
}

// connect opens an IMAP session over conn and logs in.
func (a *IMAPArchiver) connect(conn net.Conn) (*imapclient.Client, error) {
	var client *imapclient.Client
	if a.tls {
		client = imapclient.New(conn, nil)
	} else {
		var err error
		client, err = imapclient.NewStartTLS(conn, &imapclient.Options{
			TLSConfig: &tls.Config{ServerName: a.host},
		})
		if err != nil {
			return nil, fmt.Errorf("IMAP STARTTLS with %s: %w", a.host, err)
		}
	}

	if err := client.Login(a.username, a.password).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("IMAP authentication failed for %s: %w", a.username, err)
	}
	return client, nil
}

// Archive appends raw to the configured mailbox, flagged as seen. It
// returns once ctx ends even if the server stops responding.
func (a *IMAPArchiver) Archive(ctx context.Context, raw []byte) error {
	conn, err := a.dial(ctx)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := a.appendMessage(conn, raw); err != nil {
		conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("archiving to %s: %w", a.mailbox, ctxErr)
		}
		return err
	}
	return nil
}

func (a *IMAPArchiver) appendMessage(conn net.Conn, raw []byte) error {
	client, err := a.connect(conn)
	if err != nil {
		return err
	}

	cmd := client.Append(a.mailbox, int64(len(raw)), &imap.AppendOptions{
		Flags: []imap.Flag{imap.FlagSeen},
		Time:  time.Now(),
	})
	if _, err := cmd.Write(raw); err != nil {
		_ = cmd.Close()
		_ = client.Close()
		return fmt.Errorf("writing message to %s: %w", a.mailbox, err)
	}
	if err := cmd.Close(); err != nil {
		_ = client.Close()
		return fmt.Errorf("closing append to %s: %w", a.mailbox, err)
	}
	if _, err := cmd.Wait(); err != nil {
		_ = client.Close()
		return fmt.Errorf("appending to %s: %w", a.mailbox, err)
	}

	// LOGOUT is only sent on a live session; a closed client never
	// completes new commands.
	_ = client.Logout().Wait()
	_ = client.Close()
	return nil
}
