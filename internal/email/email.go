package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"net/smtp"
	"strings"
	"time"

	"datadesk/internal/config"
)

// Delivery failure reasons.
const (
	ReasonMissingConfig  = "missing-config"
	ReasonNoRecipients   = "no-recipients"
	ReasonTimeout        = "timeout"
	ReasonTransportError = "transport-error"
)

// Result is the outcome of a single send. Send never returns an error; a
// failed delivery is described here instead.
type Result struct {
	Delivered bool   `json:"delivered"`
	Reason    string `json:"reason,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Retryable reports whether another attempt could succeed.
func (r Result) Retryable() bool {
	return !r.Delivered && (r.Reason == ReasonTransportError || r.Reason == ReasonTimeout)
}

func failed(reason string, err error) Result {
	r := Result{Reason: reason}
	if err != nil {
		r.Detail = err.Error()
	}
	return r
}

// Sender delivers a message to a list of recipients.
type Sender interface {
	Send(ctx context.Context, to []string, subject, htmlBody, textBody string) Result
}

// Service handles sending email over SMTP.
type Service struct {
	cfg     *config.Config
	enabled bool
}

// NewService creates a new email service.
func NewService(cfg *config.Config) *Service {
	s := &Service{
		cfg:     cfg,
		enabled: cfg.IsEmailEnabled(),
	}

	if s.enabled {
		log.Printf("Email notifications enabled (SMTP: %s:%d)", cfg.SMTPHost, cfg.SMTPPort)
	} else {
		log.Println("Email notifications disabled (SMTP not configured)")
	}

	return s
}

// IsEnabled returns true if email is enabled.
func (s *Service) IsEnabled() bool {
	return s.enabled
}

// Precheck reports the failure Send would return without contacting the
// server, or an empty string when a send can be attempted.
func (s *Service) Precheck(to []string) string {
	if !s.enabled {
		return ReasonMissingConfig
	}
	if len(to) == 0 {
		return ReasonNoRecipients
	}
	return ""
}

// Send sends an email to the specified recipients. The context deadline
// bounds the whole SMTP conversation; expiry is reported as ReasonTimeout.
func (s *Service) Send(ctx context.Context, to []string, subject, htmlBody, textBody string) Result {
	if reason := s.Precheck(to); reason != "" {
		return Result{Reason: reason}
	}

	msg := s.buildMessage(to, subject, htmlBody, textBody)
	if err := s.deliver(ctx, to, msg); err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return failed(ReasonTimeout, err)
		}
		return failed(ReasonTransportError, err)
	}
	return Result{Delivered: true}
}

// fromHeader returns the From header value.
func (s *Service) fromHeader() string {
	if s.cfg.SMTPFromName != "" {
		return fmt.Sprintf("%s <%s>", s.cfg.SMTPFromName, s.cfg.SMTPFrom)
	}
	return s.cfg.SMTPFrom
}

// buildMessage builds the MIME message. Both bodies produce a
// multipart/alternative message, a single body a plain one.
func (s *Service) buildMessage(to []string, subject, htmlBody, textBody string) string {
	var msg strings.Builder

	msg.WriteString(fmt.Sprintf("From: %s\r\n", s.fromHeader()))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(to, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	msg.WriteString("MIME-Version: 1.0\r\n")

	if htmlBody == "" || textBody == "" {
		contentType := "text/plain"
		body := textBody
		if htmlBody != "" {
			contentType = "text/html"
			body = htmlBody
		}
		msg.WriteString(fmt.Sprintf("Content-Type: %s; charset=\"UTF-8\"\r\n", contentType))
		msg.WriteString("\r\n")
		msg.WriteString(body)
		msg.WriteString("\r\n")
		return msg.String()
	}

	boundary := "DataDeskBoundary123456789"
	msg.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary))
	msg.WriteString("\r\n")

	// Plain text part
	msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(textBody)
	msg.WriteString("\r\n")

	// HTML part
	msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)
	msg.WriteString("\r\n")

	msg.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	return msg.String()
}

// deliver runs the SMTP conversation according to the TLS mode.
func (s *Service) deliver(ctx context.Context, to []string, msg string) error {
	addr := net.JoinHostPort(s.cfg.SMTPHost, fmt.Sprint(s.cfg.SMTPPort))
	tlsConfig := &tls.Config{
		ServerName: s.cfg.SMTPHost,
		MinVersion: tls.VersionTLS12,
	}

	var conn net.Conn
	var err error
	dialer := &net.Dialer{}
	if s.cfg.SMTPTLS == "tls" {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("TLS dial failed: %w", err)
		}
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("SMTP dial failed: %w", err)
		}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	// Unblock the conversation if the context is cancelled without a deadline.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, s.cfg.SMTPHost)
	if err != nil {
		return fmt.Errorf("SMTP client failed: %w", err)
	}
	defer client.Close()

	if s.cfg.SMTPTLS == "starttls" {
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("STARTTLS failed: %w", err)
		}
	}

	if s.cfg.SMTPUsername != "" && s.cfg.SMTPPassword != "" {
		auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP auth failed: %w", err)
		}
	}

	if err := client.Mail(s.cfg.SMTPFrom); err != nil {
		return fmt.Errorf("SMTP MAIL failed: %w", err)
	}

	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("SMTP RCPT failed: %w", err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA failed: %w", err)
	}

	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("SMTP write failed: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("SMTP close failed: %w", err)
	}

	return client.Quit()
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
