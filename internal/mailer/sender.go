// Package mailer renders tenant email templates and delivers them through the
// tenant's configured outbound transport.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"landflow/internal/config"
	"landflow/internal/models"

	"go.uber.org/zap"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

var ErrNoTransport = errors.New("no mail transport configured")

// Recipient is one addressee and the variables substituted into its copy.
type Recipient struct {
	Email     string
	Variables map[string]string
}

// Result is the per-recipient outcome of SendBulkEmails.
type Result struct {
	Email  string `json:"email"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Message is a fully rendered email ready for a transport.
type Message struct {
	To        string
	FromEmail string
	FromName  string
	Subject   string
	HTML      string
	Headers   map[string]string
}

// Transport delivers a single rendered message.
type Transport interface {
	Send(ctx context.Context, msg *Message) error
}

// ClientLookup loads tenant mail settings.
type ClientLookup interface {
	GetClientByID(ctx context.Context, id uint) (*models.Client, error)
}

// Settings is the effective transport configuration for one tenant.
type Settings struct {
	Transport    string
	FromEmail    string
	FromName     string
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SESRegion    string
	AWSAccessKey string
	AWSSecretKey string
}

// TransportFactory builds a transport from settings. Tests replace it.
type TransportFactory func(ctx context.Context, s Settings) (Transport, error)

type Sender struct {
	clients  ClientLookup
	defaults config.MailConfig
	renderer *Renderer
	factory  TransportFactory
	logger   *zap.Logger

	mu  sync.Mutex
	ses map[string]Transport // keyed by region+access key
}

func NewSender(clients ClientLookup, defaults config.MailConfig, logger *zap.Logger) *Sender {
	s := &Sender{
		clients:  clients,
		defaults: defaults,
		renderer: NewRenderer(),
		logger:   logger.With(zap.String("module", "mailer")),
		ses:      make(map[string]Transport),
	}
	s.factory = s.defaultFactory
	return s
}

// WithTransportFactory overrides how transports are built.
func (s *Sender) WithTransportFactory(f TransportFactory) *Sender {
	s.factory = f
	return s
}

// SendBulkEmails renders subject and body per recipient and sends each
// message through the tenant's transport. It never returns an error: every
// recipient gets a Result, failed ones carry the reason.
func (s *Sender) SendBulkEmails(ctx context.Context, recipients []Recipient, subject, htmlBody string, clientID uint) []Result {
	results := make([]Result, 0, len(recipients))

	settings, err := s.settingsFor(ctx, clientID)
	var transport Transport
	if err == nil {
		transport, err = s.factory(ctx, settings)
	}
	if err != nil {
		s.logger.Error("resolve mail transport", zap.Uint("client_id", clientID), zap.Error(err))
		for _, r := range recipients {
			results = append(results, Result{Email: r.Email, Status: StatusFailed, Error: err.Error()})
		}
		return results
	}

	for _, r := range recipients {
		results = append(results, s.sendOne(ctx, transport, settings, r, subject, htmlBody, clientID))
	}
	return results
}

func (s *Sender) sendOne(ctx context.Context, transport Transport, settings Settings, r Recipient, subject, htmlBody string, clientID uint) Result {
	if strings.TrimSpace(r.Email) == "" {
		return Result{Email: r.Email, Status: StatusFailed, Error: "recipient email is empty"}
	}

	renderedSubject, err := s.renderer.Render(subject, r.Variables)
	if err != nil {
		s.logger.Warn("subject rendered with fallback", zap.Uint("client_id", clientID), zap.Error(err))
	}
	renderedBody, err := s.renderer.Render(htmlBody, r.Variables)
	if err != nil {
		s.logger.Warn("body rendered with fallback", zap.Uint("client_id", clientID), zap.Error(err))
	}

	msg := &Message{
		To:        r.Email,
		FromEmail: settings.FromEmail,
		FromName:  settings.FromName,
		Subject:   renderedSubject,
		HTML:      renderedBody,
		Headers:   map[string]string{"X-LandFlow-Client": fmt.Sprint(clientID)},
	}
	if err := transport.Send(ctx, msg); err != nil {
		s.logger.Warn("email send failed",
			zap.Uint("client_id", clientID),
			zap.String("email", MaskAddress(r.Email)),
			zap.Error(err))
		return Result{Email: r.Email, Status: StatusFailed, Error: err.Error()}
	}

	s.logger.Debug("email sent", zap.Uint("client_id", clientID), zap.String("email", MaskAddress(r.Email)))
	return Result{Email: r.Email, Status: StatusSent}
}

// settingsFor merges tenant overrides onto the process defaults.
func (s *Sender) settingsFor(ctx context.Context, clientID uint) (Settings, error) {
	d := s.defaults
	settings := Settings{
		Transport:    d.Transport,
		FromEmail:    d.FromEmail,
		FromName:     d.FromName,
		SMTPHost:     d.SMTPHost,
		SMTPPort:     d.SMTPPort,
		SMTPUser:     d.SMTPUser,
		SMTPPassword: d.SMTPPassword,
		SESRegion:    d.AWSRegion,
		AWSAccessKey: d.AWSAccessKey,
		AWSSecretKey: d.AWSSecretKey,
	}
	if s.clients == nil {
		return settings, nil
	}

	client, err := s.clients.GetClientByID(ctx, clientID)
	if err != nil {
		return settings, fmt.Errorf("load client %d mail settings: %w", clientID, err)
	}
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&settings.Transport, client.MailTransport)
	override(&settings.FromEmail, client.FromEmail)
	override(&settings.FromName, client.FromName)
	override(&settings.SMTPHost, client.SMTPHost)
	override(&settings.SMTPUser, client.SMTPUser)
	override(&settings.SMTPPassword, client.SMTPPassword)
	override(&settings.SESRegion, client.SESRegion)
	if client.SMTPPort != 0 {
		settings.SMTPPort = client.SMTPPort
	}
	return settings, nil
}

func (s *Sender) defaultFactory(ctx context.Context, settings Settings) (Transport, error) {
	switch strings.ToLower(settings.Transport) {
	case "smtp":
		if settings.SMTPHost == "" {
			return nil, fmt.Errorf("smtp: %w", ErrNoTransport)
		}
		return NewSMTPTransport(settings), nil
	case "ses":
		key := settings.SESRegion + "/" + settings.AWSAccessKey
		s.mu.Lock()
		defer s.mu.Unlock()
		if t, ok := s.ses[key]; ok {
			return t, nil
		}
		t, err := NewSESTransport(ctx, settings)
		if err != nil {
			return nil, err
		}
		s.ses[key] = t
		return t, nil
	default:
		return nil, fmt.Errorf("transport %q: %w", settings.Transport, ErrNoTransport)
	}
}
