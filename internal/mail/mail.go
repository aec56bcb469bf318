// Package mail delivers outbound notification emails.
package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Provider names accepted by New.
const (
	ProviderLog  = "log"
	ProviderHTTP = "http"
)

var (
	// ErrMissingRecipient is returned when a message has no address.
	ErrMissingRecipient = errors.New("message has no recipient")
	// ErrUnknownProvider is returned by New for an unsupported provider.
	ErrUnknownProvider = errors.New("unknown mail provider")
)

// Message is an outbound email. Only plain text bodies are sent.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Validate checks the message has an address and a subject.
func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return ErrMissingRecipient
	}
	if strings.TrimSpace(m.Subject) == "" {
		return errors.New("message has no subject")
	}
	return nil
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Config selects and configures a Sender.
type Config struct {
	Provider string
	APIURL   string
	APIKey   string
	From     string
}

// New returns the Sender for cfg.Provider.
func New(cfg Config, logger *slog.Logger) (Sender, error) {
	switch cfg.Provider {
	case "", ProviderLog:
		return NewLogSender(logger), nil
	case ProviderHTTP:
		if cfg.APIURL == "" || cfg.From == "" {
			return nil, errors.New("http mail provider requires MAIL_API_URL and MAIL_FROM")
		}
		return NewHTTPSender(cfg.APIURL, cfg.APIKey, cfg.From), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("component", "mail.log")}
}

// Send logs the message.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "mail_sent",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.Int("body_bytes", len(msg.Body)),
	)
	return nil
}
