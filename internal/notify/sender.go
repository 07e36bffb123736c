// Package notify sends claim-related email notices. Delivery is best-effort:
// senders report failure through Result and never panic past their boundary.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Message is one outbound email
type Message struct {
	To      string
	From    string
	Subject string
	Text    string
	HTML    string // optional; defaults to Text
}

// Result reports the outcome of a send
type Result struct {
	Success bool
	Err     error
}

// Sender delivers a single message
type Sender interface {
	Send(ctx context.Context, msg Message) Result
}

type mailClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridSender delivers mail through the SendGrid v3 API
type SendGridSender struct {
	client mailClient
}

// NewSendGridSender creates a sender using the given API key
func NewSendGridSender(apiKey string) *SendGridSender {
	return &SendGridSender{client: sendgrid.NewSendClient(apiKey)}
}

// Send implements Sender
func (s *SendGridSender) Send(ctx context.Context, msg Message) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("sendgrid: panic: %v", r)}
		}
	}()

	html := msg.HTML
	if html == "" {
		html = msg.Text
	}
	email := mail.NewSingleEmail(
		mail.NewEmail("", msg.From),
		msg.Subject,
		mail.NewEmail("", msg.To),
		msg.Text,
		html,
	)

	resp, err := s.client.SendWithContext(ctx, email)
	if err != nil {
		return Result{Err: fmt.Errorf("sendgrid: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{Err: fmt.Errorf("sendgrid: unexpected status %d: %s", resp.StatusCode, truncate(resp.Body, 200))}
	}
	return Result{Success: true}
}

// LogSender logs messages instead of delivering them. Used when no provider is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a new LogSender
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send implements Sender
func (s *LogSender) Send(ctx context.Context, msg Message) Result {
	s.logger.InfoContext(ctx, "email not delivered (no provider configured)",
		slog.String("to", MaskEmail(msg.To)),
		slog.String("subject", msg.Subject),
	)
	return Result{Success: true}
}

// MaskEmail masks the local part of an address for logging (e.g. jo****@example.com)
func MaskEmail(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at <= 0 {
		return "****"
	}
	local := addr[:at]
	keep := 2
	if len(local) <= keep {
		keep = 1
	}
	return local[:keep] + strings.Repeat("*", 4) + addr[at:]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
