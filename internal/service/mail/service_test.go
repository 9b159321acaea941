package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecortescl/ms-smtp/internal/email"
	"github.com/ecortescl/ms-smtp/internal/model"
	"github.com/ecortescl/ms-smtp/internal/repository/filesystem"
	templatesvc "github.com/ecortescl/ms-smtp/internal/service/template"
	apperrors "github.com/ecortescl/ms-smtp/pkg/errors"
	"github.com/ecortescl/ms-smtp/pkg/logger"
	"github.com/ecortescl/ms-smtp/pkg/metrics"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []*email.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg *email.Message) (*model.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, msg)
	return &model.SendResult{
		MessageID: "<id-1@relay>",
		Accepted:  msg.Recipients(),
		Rejected:  []string{},
		Response:  "250 OK",
	}, nil
}

type memoryLog struct {
	mu      sync.Mutex
	entries []*model.EmailLog
	err     error
}

func (m *memoryLog) Append(_ context.Context, entry *model.EmailLog) (*model.EmailLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.entries = append(m.entries, entry)
	return entry, nil
}

type fixture struct {
	svc       *Service
	sender    *fakeSender
	logs      *memoryLog
	templates *templatesvc.Service
	metrics   *metrics.Metrics
}

func newFixture(t *testing.T, fromDefault string) *fixture {
	t.Helper()
	repo, err := filesystem.NewTemplateRepository(t.TempDir(), nil, nil)
	require.NoError(t, err)

	f := &fixture{
		sender:    &fakeSender{},
		logs:      &memoryLog{},
		templates: templatesvc.NewService(repo, 0, nil, nil),
		metrics:   metrics.NewMetrics("test", prometheus.NewRegistry()),
	}
	f.svc = NewService(f.sender, f.logs, f.templates, fromDefault, f.metrics, nil)
	return f
}

func TestSendEmailSuccess(t *testing.T) {
	f := newFixture(t, "")

	res, err := f.svc.SendEmail(context.Background(), model.SendRequest{
		From:    "noreply@x.com",
		To:      model.NewAddressList("a@x.com", "b@x.com"),
		Subject: "Hi",
		HTML:    "<p>Hi</p>",
	})
	require.NoError(t, err)
	assert.Equal(t, "<id-1@relay>", res.MessageID)

	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, "noreply@x.com", f.sender.sent[0].From)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, f.sender.sent[0].To)

	require.Len(t, f.logs.entries, 1)
	rec := f.logs.entries[0]
	assert.Equal(t, model.LogStatusSuccess, rec.Status)
	assert.Equal(t, model.NewAddressList("a@x.com", "b@x.com"), rec.To)
	assert.Equal(t, "noreply@x.com", rec.From.String())
	assert.Equal(t, "250 OK", rec.Response)
	assert.Equal(t, "smtp", rec.Provider)
	assert.Equal(t, "<id-1@relay>", rec.Meta["messageId"])

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.EmailsSent.WithLabelValues(kindDirect, "success")))
}

func TestSendEmailUsesDefaultSender(t *testing.T) {
	f := newFixture(t, "default@x.com")

	_, err := f.svc.SendEmail(context.Background(), model.SendRequest{To: model.NewAddress("a@x.com"), Subject: "s", HTML: "h"})
	require.NoError(t, err)
	assert.Equal(t, "default@x.com", f.sender.sent[0].From)
}

func TestSendEmailMissingSender(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.svc.SendEmail(context.Background(), model.SendRequest{To: model.NewAddress("a@x.com")})
	assert.Equal(t, apperrors.ErrBadRequest, apperrors.CodeOf(err))
	assert.Empty(t, f.sender.sent)
	assert.Empty(t, f.logs.entries)
}

func TestSendEmailFailureIsLogged(t *testing.T) {
	f := newFixture(t, "default@x.com")
	f.sender.err = apperrors.NewSendFailed(errors.New("connection refused"))

	_, err := f.svc.SendEmail(context.Background(), model.SendRequest{To: model.NewAddress("a@x.com"), Subject: "X"})
	assert.Equal(t, apperrors.ErrSendFailed, apperrors.CodeOf(err))

	require.Len(t, f.logs.entries, 1)
	assert.Equal(t, model.LogStatusFailed, f.logs.entries[0].Status)
	assert.Contains(t, f.logs.entries[0].Error, "connection refused")
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.EmailsSent.WithLabelValues(kindDirect, "failed")))
}

func TestSendTimeoutRecordFlagsPossibleDelivery(t *testing.T) {
	f := newFixture(t, "default@x.com")
	f.sender.err = apperrors.NewSendFailed(fmt.Errorf("%w: %w", email.ErrDeliveryUnconfirmed, context.DeadlineExceeded))

	_, err := f.svc.SendEmail(context.Background(), model.SendRequest{To: model.NewAddress("a@x.com"), Subject: "X"})
	assert.ErrorIs(t, err, email.ErrDeliveryUnconfirmed)

	require.Len(t, f.logs.entries, 1)
	assert.Equal(t, model.LogStatusFailed, f.logs.entries[0].Status)
	assert.Contains(t, f.logs.entries[0].Error, "delivery may still complete")
}

func TestLogFailureDoesNotMaskOutcome(t *testing.T) {
	f := newFixture(t, "default@x.com")
	f.logs.err = apperrors.NewStorageUnavailable("append email log", errors.New("disk full"))

	var buf bytes.Buffer
	f.svc.log = logger.New(logger.Config{Output: &buf}).WithComponent("mail")

	res, err := f.svc.SendEmail(context.Background(), model.SendRequest{To: model.NewAddress("a@x.com")})
	require.NoError(t, err)
	assert.NotNil(t, res)

	f.sender.err = apperrors.NewSendFailed(errors.New("timeout"))
	_, err = f.svc.SendEmail(context.Background(), model.SendRequest{To: model.NewAddress("a@x.com")})
	assert.Equal(t, apperrors.ErrSendFailed, apperrors.CodeOf(err))

	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.LogAppendLost))
	assert.Contains(t, buf.String(), "failed to record send attempt")
}

func createWelcome(t *testing.T, f *fixture, defaults model.JSONMap) {
	t.Helper()
	_, err := f.templates.Create(context.Background(), model.TemplateInput{
		ID:       "welcome",
		Name:     "Welcome",
		Subject:  "Hi {{user}}",
		HTML:     "<p>Hi {{user}}</p>",
		Defaults: defaults,
	})
	require.NoError(t, err)
}

func TestSendTemplateMergesDefaults(t *testing.T) {
	f := newFixture(t, "fallback@x.com")
	createWelcome(t, f, model.JSONMap{
		"from":    "tpl@x.com",
		"to":      []interface{}{"d1@x.com", "d2@x.com"},
		"cc":      "cc@x.com",
		"replyTo": "reply@x.com",
	})

	res, err := f.svc.SendTemplate(context.Background(), model.TemplateSendRequest{
		TemplateID: "welcome",
		Params:     map[string]interface{}{"user": "Ann"},
		Bcc:        model.NewAddress("audit@x.com"),
	})
	require.NoError(t, err)
	assert.NotNil(t, res)

	require.Len(t, f.sender.sent, 1)
	msg := f.sender.sent[0]
	assert.Equal(t, "tpl@x.com", msg.From)
	assert.Equal(t, []string{"d1@x.com", "d2@x.com"}, msg.To)
	assert.Equal(t, []string{"cc@x.com"}, msg.Cc)
	assert.Equal(t, []string{"audit@x.com"}, msg.Bcc)
	assert.Equal(t, "reply@x.com", msg.ReplyTo)
	assert.Equal(t, "Hi Ann", msg.Subject)
	assert.Equal(t, "<p>Hi Ann</p>", msg.HTML)

	require.Len(t, f.logs.entries, 1)
	rec := f.logs.entries[0]
	assert.Equal(t, model.LogStatusSuccess, rec.Status)
	assert.Equal(t, "Hi Ann", rec.Subject)
	assert.Equal(t, "welcome", rec.Meta["templateId"])
	assert.Equal(t, "Welcome", rec.Meta["templateName"])
	assert.Equal(t, "<id-1@relay>", rec.Meta["messageId"])
}

func TestSendTemplateRequestOverridesDefaults(t *testing.T) {
	f := newFixture(t, "fallback@x.com")
	createWelcome(t, f, model.JSONMap{"to": "d@x.com"})

	_, err := f.svc.SendTemplate(context.Background(), model.TemplateSendRequest{
		TemplateID: "WELCOME",
		To:         model.NewAddress("override@x.com"),
	})
	require.NoError(t, err)

	msg := f.sender.sent[0]
	assert.Equal(t, "fallback@x.com", msg.From)
	assert.Equal(t, []string{"override@x.com"}, msg.To)
	assert.Equal(t, "Hi ", msg.Subject)
}

func TestSendTemplateRequiresRecipient(t *testing.T) {
	f := newFixture(t, "fallback@x.com")
	createWelcome(t, f, nil)

	_, err := f.svc.SendTemplate(context.Background(), model.TemplateSendRequest{TemplateID: "welcome"})
	assert.Equal(t, apperrors.ErrBadRequest, apperrors.CodeOf(err))
	assert.Empty(t, f.sender.sent)
	assert.Empty(t, f.logs.entries)
}

func TestSendTemplateMissingTemplateIsLogged(t *testing.T) {
	f := newFixture(t, "fallback@x.com")

	_, err := f.svc.SendTemplate(context.Background(), model.TemplateSendRequest{
		TemplateID: "ghost",
		To:         model.NewAddress("a@x.com"),
	})
	assert.True(t, apperrors.IsNotFound(err))
	assert.Empty(t, f.sender.sent)

	require.Len(t, f.logs.entries, 1)
	rec := f.logs.entries[0]
	assert.Equal(t, model.LogStatusFailed, rec.Status)
	assert.Equal(t, "template:ghost", rec.Subject)
	assert.Equal(t, "ghost", rec.Meta["templateId"])
	assert.NotEmpty(t, rec.Error)
}

func TestSendTemplateSendFailure(t *testing.T) {
	f := newFixture(t, "fallback@x.com")
	createWelcome(t, f, model.JSONMap{"to": "d@x.com"})
	f.sender.err = apperrors.NewSendFailed(errors.New("relay down"))

	_, err := f.svc.SendTemplate(context.Background(), model.TemplateSendRequest{
		TemplateID: "welcome",
		Params:     map[string]interface{}{"user": "Bo"},
	})
	assert.Equal(t, apperrors.ErrSendFailed, apperrors.CodeOf(err))

	require.Len(t, f.logs.entries, 1)
	rec := f.logs.entries[0]
	assert.Equal(t, model.LogStatusFailed, rec.Status)
	assert.Equal(t, "Hi Bo", rec.Subject)
	assert.Equal(t, "d@x.com", rec.To.String())
	assert.Contains(t, rec.Error, "relay down")
}
