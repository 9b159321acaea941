package mail

import (
	"context"
	"time"

	"github.com/ecortescl/ms-smtp/internal/email"
	"github.com/ecortescl/ms-smtp/internal/model"
	apperrors "github.com/ecortescl/ms-smtp/pkg/errors"
	"github.com/ecortescl/ms-smtp/pkg/logger"
	"github.com/ecortescl/ms-smtp/pkg/metrics"
)

// LogAppender records send attempts.
type LogAppender interface {
	Append(ctx context.Context, entry *model.EmailLog) (*model.EmailLog, error)
}

// Renderer resolves a stored template with parameters.
type Renderer interface {
	Render(ctx context.Context, id string, params map[string]interface{}) (*model.RenderedTemplate, error)
}

const (
	kindDirect   = "direct"
	kindTemplate = "template"
)

type Service struct {
	sender      email.Sender
	logs        LogAppender
	templates   Renderer
	fromDefault string
	metrics     *metrics.Metrics
	log         *logger.Logger
}

func NewService(sender email.Sender, logs LogAppender, templates Renderer, fromDefault string, m *metrics.Metrics, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		sender:      sender,
		logs:        logs,
		templates:   templates,
		fromDefault: fromDefault,
		metrics:     m,
		log:         log.WithComponent("mail"),
	}
}

// SendEmail sends one message and records the outcome in the event log.
func (s *Service) SendEmail(ctx context.Context, req model.SendRequest) (*model.SendResult, error) {
	from := firstNonEmpty(req.From, s.fromDefault)
	if from == "" {
		return nil, apperrors.NewBadRequest("missing sender: provide from or set SMTP_FROM_DEFAULT", nil)
	}
	if req.To.IsEmpty() {
		return nil, apperrors.NewBadRequest("at least one recipient (to) is required", nil)
	}

	msg := email.NewMessage(from, req.To, req.Cc, req.Bcc)
	msg.ReplyTo = req.ReplyTo
	msg.Subject = req.Subject
	msg.HTML = req.HTML
	msg.Text = req.Text
	msg.Attachments = req.Attachments

	start := time.Now()
	result, err := s.sender.Send(ctx, msg)
	s.metrics.ObserveSend(kindDirect, start, err)

	entry := &model.EmailLog{
		To:      req.To,
		From:    model.NewAddress(from),
		Subject: req.Subject,
		Meta:    model.JSONMap{},
	}
	if err != nil {
		entry.Status = model.LogStatusFailed
		entry.Error = err.Error()
		s.record(ctx, entry)
		return nil, err
	}

	entry.Status = model.LogStatusSuccess
	entry.Response = result.Response
	entry.Meta["messageId"] = result.MessageID
	entry.Meta["accepted"] = result.Accepted
	entry.Meta["rejected"] = result.Rejected
	s.record(ctx, entry)
	return result, nil
}

// SendTemplate renders a stored template, fills recipients from the
// template defaults where the request leaves them out, and sends it.
func (s *Service) SendTemplate(ctx context.Context, req model.TemplateSendRequest) (*model.SendResult, error) {
	rendered, err := s.templates.Render(ctx, req.TemplateID, req.Params)
	if err != nil {
		s.metrics.ObserveSend(kindTemplate, time.Now(), err)
		s.record(ctx, &model.EmailLog{
			Status:  model.LogStatusFailed,
			To:      req.To,
			From:    optionalAddress(req.From),
			Subject: "template:" + req.TemplateID,
			Error:   err.Error(),
			Meta:    model.JSONMap{"templateId": req.TemplateID},
		})
		return nil, err
	}

	defaults := rendered.Defaults
	from := firstNonEmpty(req.From, stringValue(defaults["from"]), s.fromDefault)
	to := pickAddresses(req.To, defaults["to"])
	cc := pickAddresses(req.Cc, defaults["cc"])
	bcc := pickAddresses(req.Bcc, defaults["bcc"])
	replyTo := firstNonEmpty(req.ReplyTo, stringValue(defaults["replyTo"]))

	if to.IsEmpty() {
		return nil, apperrors.NewBadRequest("a recipient (to) is required in the request or the template defaults", nil)
	}
	if from == "" {
		return nil, apperrors.NewBadRequest("missing sender: provide from or set SMTP_FROM_DEFAULT", nil)
	}

	msg := email.NewMessage(from, to, cc, bcc)
	msg.ReplyTo = replyTo
	msg.Subject = rendered.Subject
	msg.HTML = rendered.HTML
	msg.Attachments = req.Attachments

	start := time.Now()
	result, err := s.sender.Send(ctx, msg)
	s.metrics.ObserveSend(kindTemplate, start, err)

	entry := &model.EmailLog{
		To:      to,
		From:    model.NewAddress(from),
		Subject: rendered.Subject,
		Meta: model.JSONMap{
			"templateId":   rendered.ID,
			"templateName": rendered.Name,
		},
	}
	if err != nil {
		entry.Status = model.LogStatusFailed
		entry.Error = err.Error()
		s.record(ctx, entry)
		return nil, err
	}

	entry.Status = model.LogStatusSuccess
	entry.Response = result.Response
	entry.Meta["messageId"] = result.MessageID
	entry.Meta["accepted"] = result.Accepted
	entry.Meta["rejected"] = result.Rejected
	s.record(ctx, entry)
	return result, nil
}

// record writes the event log entry. A failure here is logged and
// dropped so it never replaces the send outcome.
func (s *Service) record(ctx context.Context, entry *model.EmailLog) {
	entry.Provider = model.DefaultProvider

	// The message is already out; a cancelled request must not lose its record.
	if _, err := s.logs.Append(context.WithoutCancel(ctx), entry); err != nil {
		if s.metrics != nil {
			s.metrics.LogAppendLost.Inc()
		}
		s.log.Warn().Err(err).
			Str("status", string(entry.Status)).
			Str("subject", entry.Subject).
			Msg("failed to record send attempt")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}

func optionalAddress(addr string) *model.AddressList {
	if addr == "" {
		return nil
	}
	return model.NewAddress(addr)
}

func pickAddresses(override *model.AddressList, fallback interface{}) *model.AddressList {
	if !override.IsEmpty() {
		return override
	}
	return model.AddressFromValue(fallback)
}
