package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/jordan-wright/email"

	"github.com/lorantk/campaigner/internal/config"
	"github.com/lorantk/campaigner/internal/model"
)

// ErrConnection marks transport failures at the connection level (dial,
// handshake, dropped socket). The sender aborts the rest of its batch on
// these; per-recipient SMTP rejections come back as plain errors.
var ErrConnection = errors.New("smtp connection failure")

// SMTPDialer opens authenticated SMTP connections. One connection is
// dialed per delivery tick and reused for every message in it.
type SMTPDialer struct {
	cfg config.SMTPConfig
}

func NewSMTPDialer(cfg config.SMTPConfig) *SMTPDialer {
	return &SMTPDialer{cfg: cfg}
}

func (d *SMTPDialer) Dial(ctx context.Context) (*SMTPMailer, error) {
	addr := net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port))

	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnection, addr, err)
	}

	// Port 465 is implicit TLS; everything else upgrades via STARTTLS.
	if d.cfg.Port == 465 {
		conn = tls.Client(conn, &tls.Config{ServerName: d.cfg.Host})
	}

	c, err := smtp.NewClient(conn, d.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: handshake: %v", ErrConnection, err)
	}

	if d.cfg.StartTLS && d.cfg.Port != 465 {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: d.cfg.Host}); err != nil {
				c.Close()
				return nil, fmt.Errorf("%w: starttls: %v", ErrConnection, err)
			}
		}
	}

	if d.cfg.Username != "" {
		auth := smtp.PlainAuth("", d.cfg.Username, d.cfg.Password, d.cfg.Host)
		if err := c.Auth(auth); err != nil {
			c.Close()
			return nil, fmt.Errorf("%w: auth: %v", ErrConnection, err)
		}
	}

	return &SMTPMailer{
		conn:    conn,
		smtp:    c,
		from:    d.cfg.From,
		timeout: d.cfg.SendTimeout,
	}, nil
}

// SMTPMailer sends messages over a single established SMTP connection.
type SMTPMailer struct {
	conn    net.Conn
	smtp    *smtp.Client
	from    string
	timeout time.Duration
}

func (m *SMTPMailer) Send(ctx context.Context, msg model.OutboundEmail) error {
	e, err := Build(m.from, msg)
	if err != nil {
		return err
	}
	raw, err := e.Bytes()
	if err != nil {
		return fmt.Errorf("serialize message: %w", err)
	}

	deadline := time.Now().Add(m.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = m.conn.SetDeadline(deadline)
	defer m.conn.SetDeadline(time.Time{})

	if err := m.smtp.Mail(m.from); err != nil {
		return m.transactionErr(err)
	}
	if err := m.smtp.Rcpt(msg.To); err != nil {
		return m.transactionErr(err)
	}
	w, err := m.smtp.Data()
	if err != nil {
		return m.transactionErr(err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return fmt.Errorf("%w: write body: %v", ErrConnection, err)
	}
	if err := w.Close(); err != nil {
		return m.transactionErr(err)
	}
	return nil
}

func (m *SMTPMailer) Close() error {
	if err := m.smtp.Quit(); err != nil {
		return m.smtp.Close()
	}
	return nil
}

// transactionErr decides whether a failure is a per-recipient SMTP
// rejection (reset the transaction, keep the connection) or the
// connection itself going away.
func (m *SMTPMailer) transactionErr(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if rstErr := m.smtp.Reset(); rstErr != nil {
			return fmt.Errorf("%w: reset after %v: %v", ErrConnection, err, rstErr)
		}
		return err
	}
	return fmt.Errorf("%w: %v", ErrConnection, err)
}

// Build assembles the wire message. Exposed so the sender and report
// tests can assert on exactly what would go out.
func Build(from string, msg model.OutboundEmail) (*email.Email, error) {
	e := email.NewEmail()
	e.From = from
	e.To = []string{msg.To}
	e.Subject = msg.Subject
	if msg.HTML != "" {
		e.HTML = []byte(msg.HTML)
	}
	if msg.Text != "" {
		e.Text = []byte(msg.Text)
	}
	for k, v := range msg.Headers {
		e.Headers.Set(k, v)
	}
	for _, a := range msg.Attachments {
		if _, err := e.Attach(bytes.NewReader(a.Content), a.Filename, a.ContentType); err != nil {
			return nil, fmt.Errorf("attach %s: %w", a.Filename, err)
		}
	}
	return e, nil
}
