package emaillog

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ecortescl/ms-smtp/internal/model"
	"github.com/ecortescl/ms-smtp/internal/repository"
	"github.com/ecortescl/ms-smtp/pkg/logger"
	"github.com/ecortescl/ms-smtp/pkg/metrics"
)

const storeName = "email_log"

type Service struct {
	repo    repository.EmailLogRepository
	metrics *metrics.Metrics
	log     *logger.Logger
}

func NewService(repo repository.EmailLogRepository, m *metrics.Metrics, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		repo:    repo,
		metrics: m,
		log:     log.WithComponent("email_log"),
	}
}

// Append stores one event log record and returns it with id and timestamp.
func (s *Service) Append(ctx context.Context, entry *model.EmailLog) (*model.EmailLog, error) {
	start := time.Now()
	rec, err := s.repo.Append(ctx, entry)
	s.metrics.ObserveStore(storeName, "append", start, err)
	if err != nil {
		s.log.Error().Err(err).Str("status", string(entry.Status)).Msg("failed to append email log")
		return nil, err
	}

	s.log.Debug().
		Str("id", rec.ID).
		Str("status", string(rec.Status)).
		Msg("email log appended")
	return rec, nil
}

// Query returns one page of matching records, newest first.
func (s *Service) Query(ctx context.Context, filter model.LogFilter) (*model.LogPage, error) {
	start := time.Now()
	page, err := s.repo.Query(ctx, filter)
	s.metrics.ObserveStore(storeName, "query", start, err)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to query email logs")
		return nil, err
	}
	return page, nil
}

// ParseFilter turns raw query parameters into a filter. It never fails:
// unusable values fall back to defaults or are ignored.
func ParseFilter(p model.LogQueryParams) model.LogFilter {
	f := model.LogFilter{
		To:       strings.TrimSpace(p.To),
		From:     strings.TrimSpace(p.From),
		Contains: strings.TrimSpace(p.Contains),
		Start:    parseTime(p.Start),
		End:      parseTime(p.End),
		Limit:    model.DefaultLogLimit,
	}

	for _, s := range strings.Split(p.Status, ",") {
		if s = strings.TrimSpace(s); s != "" {
			f.Statuses = append(f.Statuses, model.LogStatus(s))
		}
	}

	if n, err := strconv.Atoi(strings.TrimSpace(p.Limit)); err == nil && n > 0 {
		f.Limit = n
	}
	if f.Limit > model.MaxLogLimit {
		f.Limit = model.MaxLogLimit
	}
	if n, err := strconv.Atoi(strings.TrimSpace(p.Offset)); err == nil && n > 0 {
		f.Offset = n
	}
	return f
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseTime accepts RFC 3339 and a few shorter ISO 8601 forms. Values
// without a zone are taken as UTC.
func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
