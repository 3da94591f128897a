package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// EmailConfig describes the SMTP relay and the operator list.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	StartTLS bool
	Timeout  time.Duration
}

// EmailChannel sends plain text mail through an SMTP relay.
type EmailChannel struct {
	cfg EmailConfig
}

// NewEmailChannel validates cfg.
func NewEmailChannel(cfg EmailConfig) (*EmailChannel, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("email channel: empty smtp host")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		return nil, errors.New("email channel: empty sender")
	}
	if len(cfg.To) == 0 {
		return nil, errors.New("email channel: no recipients")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &EmailChannel{cfg: cfg}, nil
}

// Send delivers one message to every recipient.
func (c *EmailChannel) Send(ctx context.Context, subject, body string) error {
	if c == nil {
		return errors.New("email channel: nil channel")
	}
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	dialer := &net.Dialer{Timeout: c.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("email channel: connect %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, c.cfg.Host)
	if err != nil {
		return fmt.Errorf("email channel: smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if c.cfg.StartTLS {
		if err := client.StartTLS(&tls.Config{ServerName: c.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("email channel: starttls: %w", err)
		}
	}
	if c.cfg.Username != "" && c.cfg.Password != "" {
		if err := client.Auth(smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)); err != nil {
			return fmt.Errorf("email channel: auth: %w", err)
		}
	}
	if err := client.Mail(c.cfg.From); err != nil {
		return fmt.Errorf("email channel: sender: %w", err)
	}
	for _, rcpt := range c.cfg.To {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("email channel: recipient %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("email channel: data: %w", err)
	}
	if _, err := w.Write([]byte(c.buildMessage(subject, body))); err != nil {
		_ = w.Close()
		return fmt.Errorf("email channel: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("email channel: close data: %w", err)
	}
	return client.Quit()
}

func (c *EmailChannel) buildMessage(subject, body string) string {
	var msg strings.Builder
	msg.WriteString("From: " + c.cfg.From + "\r\n")
	msg.WriteString("To: " + strings.Join(c.cfg.To, ",") + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	msg.WriteString("\r\n")
	return msg.String()
}

// String names the channel in logs.
func (c *EmailChannel) String() string { return "email" }
