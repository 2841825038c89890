// Package email provides email delivery via SMTP.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/heraldhq/herald/internal/domain"
	"github.com/heraldhq/herald/internal/notifications"
)

// Config holds global SMTP fallback settings. Per-tenant credentials
// override every field.
type Config struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// Sender implements email delivery via SMTP with STARTTLS. Each send
// opens its own connection; tenant credentials select the server.
type Sender struct {
	config Config
}

// NewSender creates a new email sender.
// Returns an error if the global fallback is enabled but incomplete.
func NewSender(config Config) (*Sender, error) {
	if config.Enabled {
		if config.Host == "" {
			return nil, errors.New("email sender: SMTP host is required when enabled")
		}
		if config.From == "" {
			return nil, errors.New("email sender: from address is required when enabled")
		}
	}

	if config.Port == 0 {
		config.Port = 587
	}

	slog.Info("email sender configured",
		"enabled", config.Enabled,
		"smtp_host", config.Host,
		"smtp_port", config.Port,
	)

	return &Sender{config: config}, nil
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypeEmail
}

// Send delivers one email over SMTP. credentials carry the tenant's
// smtp_host, smtp_port, username, password, from_email and from_name;
// absent keys fall back to the global configuration.
func (s *Sender) Send(ctx context.Context, credentials map[string]string, rendered *notifications.Rendered, recipient string) (string, error) {
	host := firstNonEmpty(credentials["smtp_host"], s.config.Host)
	if host == "" {
		return "", notifications.NewPermanentSendError(domain.FailureReasonAuth, "",
			errors.New("no smtp host configured"))
	}

	port := s.config.Port
	if p, err := strconv.Atoi(credentials["smtp_port"]); err == nil && p > 0 {
		port = p
	}

	username := firstNonEmpty(credentials["username"], s.config.Username)
	password := firstNonEmpty(credentials["password"], s.config.Password)

	from := firstNonEmpty(credentials["from_email"], rendered.FromAddr, s.config.From, username)
	if from == "" {
		return "", notifications.NewPermanentSendError(domain.FailureReasonAuth, "",
			errors.New("no from address configured"))
	}
	fromName := firstNonEmpty(credentials["from_name"], rendered.FromName, s.config.FromName)

	msg, err := buildMessage(formatAddress(fromName, from), recipient, rendered)
	if err != nil {
		return "", notifications.NewPermanentSendError(domain.FailureReasonContent, "", err)
	}

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	if err := s.sendWithSTARTTLS(ctx, addr, host, auth, from, recipient, msg); err != nil {
		return "", classify(err)
	}

	return fmt.Sprintf("accepted by %s", addr), nil
}

// buildMessage constructs a multipart/alternative message carrying the
// plaintext body and the branded HTML body.
func buildMessage(from, to string, rendered *notifications.Rendered) ([]byte, error) {
	var body bytes.Buffer
	alt := multipart.NewWriter(&body)

	plain, err := alt.CreatePart(textproto.MIMEHeader{
		"Content-Type": {`text/plain; charset="utf-8"`},
	})
	if err != nil {
		return nil, fmt.Errorf("create text part: %w", err)
	}
	if _, err := plain.Write([]byte(rendered.Body)); err != nil {
		return nil, fmt.Errorf("write text part: %w", err)
	}

	if rendered.HTMLBody != "" {
		html, err := alt.CreatePart(textproto.MIMEHeader{
			"Content-Type": {`text/html; charset="utf-8"`},
		})
		if err != nil {
			return nil, fmt.Errorf("create html part: %w", err)
		}
		if _, err := html.Write([]byte(rendered.HTMLBody)); err != nil {
			return nil, fmt.Errorf("write html part: %w", err)
		}
	}

	if err := alt.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", rendered.Subject)))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q\r\n", alt.Boundary()))
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())

	return []byte(msg.String()), nil
}

// sendWithSTARTTLS sends a message using STARTTLS (port 587).
func (s *Sender) sendWithSTARTTLS(ctx context.Context, addr, host string, auth smtp.Auth, from, recipient string, msg []byte) error {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{
			ServerName: host,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(recipient); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return client.Quit()
}

// classify maps an SMTP failure to a send error. Reply codes decide:
// authentication codes are permanent AUTH_ERROR, other permanent codes
// (5xx) are non-retriable, transient codes (4xx) retriable.
func classify(err error) *notifications.SendError {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		response := fmt.Sprintf("%d %s", protoErr.Code, protoErr.Msg)
		switch {
		case isAuthCode(protoErr.Code):
			return notifications.NewSendError(domain.FailureReasonAuth, response, err)
		case protoErr.Code >= 400 && protoErr.Code < 500:
			return notifications.NewSendError(domain.FailureReasonProvider, response, err)
		case protoErr.Code >= 500:
			return notifications.NewPermanentSendError(domain.FailureReasonProvider, response, err)
		}
	}
	return notifications.AsSendError(err)
}

// isAuthCode reports whether an SMTP reply code signals an
// authentication problem.
func isAuthCode(code int) bool {
	switch code {
	case 530, 534, 535, 538:
		return true
	}
	return false
}

// formatAddress renders "Name <addr>" when a display name is present.
func formatAddress(name, addr string) string {
	if name == "" {
		return addr
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", name), addr)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
