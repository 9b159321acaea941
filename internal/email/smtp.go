package email

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"github.com/ecortescl/ms-smtp/internal/config"
	"github.com/ecortescl/ms-smtp/internal/model"
	"github.com/ecortescl/ms-smtp/pkg/circuitbreaker"
	apperrors "github.com/ecortescl/ms-smtp/pkg/errors"
	"github.com/ecortescl/ms-smtp/pkg/logger"
)

// ErrNotConfigured is returned when no SMTP host is set.
var ErrNotConfigured = errors.New("SMTP_HOST not configured")

// ErrDeliveryUnconfirmed marks a send abandoned before the relay
// answered. The message may still be delivered.
var ErrDeliveryUnconfirmed = errors.New("smtp send timed out (delivery may still complete)")

// relayResponse is reported on success; gomail does not expose the
// server's final reply.
const relayResponse = "250 Message accepted"

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender delivers messages through a single SMTP relay.
type SMTPSender struct {
	host    string
	dialer  dialer
	timeout time.Duration
	breaker *circuitbreaker.CircuitBreaker
	log     *logger.Logger
}

var _ Sender = (*SMTPSender)(nil)

func NewSMTPSender(cfg config.SMTPConfig, log *logger.Logger) *SMTPSender {
	if log == nil {
		log = logger.Nop()
	}

	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass)
	d.SSL = cfg.UseSSL()
	d.TLSConfig = &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: !cfg.TLSRejectUnauthorized,
	}

	return newSMTPSender(cfg, d, log)
}

func newSMTPSender(cfg config.SMTPConfig, d dialer, log *logger.Logger) *SMTPSender {
	return &SMTPSender{
		host:    cfg.Host,
		dialer:  d,
		timeout: cfg.Timeout,
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "smtp",
			MaxFailures: cfg.BreakerMaxFailures,
			Timeout:     cfg.BreakerTimeout,
		}),
		log: log.WithComponent("smtp"),
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg *Message) (*model.SendResult, error) {
	if s.host == "" {
		return nil, apperrors.NewSendFailed(ErrNotConfigured)
	}
	if len(msg.Recipients()) == 0 {
		return nil, apperrors.NewBadRequest("at least one recipient is required", nil)
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.host)
	m, err := buildMessage(msg, messageID)
	if err != nil {
		return nil, apperrors.NewBadRequest("invalid attachment", err)
	}

	err = s.breaker.Execute(func() error {
		return s.deliver(ctx, m)
	})
	if err != nil {
		s.log.Error().Err(err).
			Strs("to", msg.To).
			Str("subject", msg.Subject).
			Str("breaker", s.breaker.State().String()).
			Msg("smtp send failed")
		return nil, apperrors.NewSendFailed(err)
	}

	s.log.Info().
		Str("message_id", messageID).
		Strs("to", msg.To).
		Msg("smtp send ok")

	return &model.SendResult{
		MessageID: messageID,
		Accepted:  msg.Recipients(),
		Rejected:  []string{},
		Response:  relayResponse,
	}, nil
}

// deliver waits for the relay at most until ctx is done or the configured
// timeout passes. gomail has no context support, so an abandoned dial
// finishes in the background.
func (s *SMTPSender) deliver(ctx context.Context, m *gomail.Message) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrDeliveryUnconfirmed, ctx.Err())
	}
}

func buildMessage(msg *Message, messageID string) (*gomail.Message, error) {
	m := gomail.NewMessage()
	m.SetHeader("Message-ID", messageID)
	m.SetHeader("From", msg.From)
	m.SetHeader("Subject", msg.Subject)
	if len(msg.To) > 0 {
		m.SetHeader("To", msg.To...)
	}
	if len(msg.Cc) > 0 {
		m.SetHeader("Cc", msg.Cc...)
	}
	if len(msg.Bcc) > 0 {
		m.SetHeader("Bcc", msg.Bcc...)
	}
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}

	// multipart/alternative when both bodies are present
	switch {
	case msg.Text != "" && msg.HTML != "":
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	case msg.Text != "":
		m.SetBody("text/plain", msg.Text)
	default:
		m.SetBody("text/html", msg.HTML)
	}

	for i, a := range msg.Attachments {
		data, err := decodeAttachment(a)
		if err != nil {
			return nil, fmt.Errorf("attachment %d: %w", i, err)
		}
		name := a.Filename
		if name == "" {
			name = fmt.Sprintf("attachment-%d", i+1)
		}
		contentType := a.ContentType
		if contentType == "" {
			contentType = mime.TypeByExtension(filepath.Ext(name))
		}
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		m.Attach(name,
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(data)
				return err
			}),
			gomail.SetHeader(map[string][]string{"Content-Type": {contentType}}),
		)
	}
	return m, nil
}

func decodeAttachment(a model.Attachment) ([]byte, error) {
	switch strings.ToLower(a.Encoding) {
	case "base64":
		return base64.StdEncoding.DecodeString(a.Content)
	case "hex":
		return hex.DecodeString(a.Content)
	case "", "utf8", "utf-8", "binary":
		return []byte(a.Content), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", a.Encoding)
	}
}
