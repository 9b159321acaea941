package template

import (
	"context"
	"sync"
	"time"

	"github.com/aymerick/raymond"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/ecortescl/ms-smtp/internal/model"
	"github.com/ecortescl/ms-smtp/internal/repository"
	apperrors "github.com/ecortescl/ms-smtp/pkg/errors"
	"github.com/ecortescl/ms-smtp/pkg/logger"
	"github.com/ecortescl/ms-smtp/pkg/metrics"
)

const storeName = "template"

type Service struct {
	repo    repository.TemplateRepository
	cache   *cache.Cache
	metrics *metrics.Metrics
	log     *logger.Logger

	// generations counts writes per id. A read only fills the cache if no
	// write happened while it was fetching.
	mu          sync.Mutex
	generations map[string]uint64
}

// NewService wraps repo. A positive cacheTTL enables a read-through cache
// in front of Get.
func NewService(repo repository.TemplateRepository, cacheTTL time.Duration, m *metrics.Metrics, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	s := &Service{
		repo:    repo,
		metrics: m,
		log:     log.WithComponent("template"),
	}
	if cacheTTL > 0 {
		s.cache = cache.New(cacheTTL, 2*cacheTTL)
		s.generations = make(map[string]uint64)
	}
	return s
}

func (s *Service) List(ctx context.Context) ([]*model.TemplateSummary, error) {
	start := time.Now()
	items, err := s.repo.List(ctx)
	s.metrics.ObserveStore(storeName, "list", start, err)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list templates")
		return nil, err
	}
	return items, nil
}

func (s *Service) Get(ctx context.Context, id string) (*model.Template, error) {
	id = model.NormalizeTemplateID(id)
	if id == "" {
		return nil, apperrors.NewNotFound("template", nil)
	}

	var gen uint64
	if s.cache != nil {
		if v, ok := s.cache.Get(id); ok {
			return cloneTemplate(v.(*model.Template)), nil
		}
		s.mu.Lock()
		gen = s.generations[id]
		s.mu.Unlock()
	}

	start := time.Now()
	tpl, err := s.repo.Get(ctx, id)
	s.metrics.ObserveStore(storeName, "get", start, err)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.mu.Lock()
		if s.generations[id] == gen {
			s.cache.SetDefault(id, cloneTemplate(tpl))
		}
		s.mu.Unlock()
	}
	return tpl, nil
}

// Create stores a new template. A missing id gets a random one; a missing
// name defaults to the id.
func (s *Service) Create(ctx context.Context, in model.TemplateInput) (*model.Template, error) {
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	id = model.NormalizeTemplateID(id)
	if id == "" {
		return nil, apperrors.NewBadRequest("template id must contain letters, digits, '_' or '-'", nil)
	}

	tpl := &model.Template{
		ID:       id,
		Name:     in.Name,
		Subject:  in.Subject,
		HTML:     in.HTML,
		Defaults: in.Defaults.Clone(),
	}
	if tpl.Name == "" {
		tpl.Name = id
	}
	if tpl.Defaults == nil {
		tpl.Defaults = model.JSONMap{}
	}

	start := time.Now()
	created, err := s.repo.Create(ctx, tpl)
	s.metrics.ObserveStore(storeName, "create", start, err)
	if err != nil {
		if !apperrors.IsConflict(err) {
			s.log.Error().Err(err).Str("template_id", id).Msg("failed to create template")
		}
		return nil, err
	}

	s.forget(id)
	s.log.Info().Str("template_id", id).Msg("template created")
	return created, nil
}

func (s *Service) Update(ctx context.Context, id string, patch model.TemplatePatch) (*model.Template, error) {
	id = model.NormalizeTemplateID(id)
	if id == "" {
		return nil, apperrors.NewNotFound("template", nil)
	}

	start := time.Now()
	updated, err := s.repo.Update(ctx, id, patch)
	s.metrics.ObserveStore(storeName, "update", start, err)
	s.forget(id)
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("template_id", id).Msg("template updated")
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	id = model.NormalizeTemplateID(id)
	if id == "" {
		return apperrors.NewNotFound("template", nil)
	}

	start := time.Now()
	err := s.repo.Delete(ctx, id)
	s.metrics.ObserveStore(storeName, "delete", start, err)
	s.forget(id)
	if err != nil {
		return err
	}

	s.log.Info().Str("template_id", id).Msg("template deleted")
	return nil
}

// Render substitutes params into the template's subject and html.
// Placeholders without a value render as empty text.
func (s *Service) Render(ctx context.Context, id string, params map[string]interface{}) (*model.RenderedTemplate, error) {
	tpl, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	subject, err := render(tpl.Subject, params)
	if err != nil {
		return nil, apperrors.NewUnprocessable("failed to render template subject", err)
	}
	html, err := render(tpl.HTML, params)
	if err != nil {
		return nil, apperrors.NewUnprocessable("failed to render template html", err)
	}

	return &model.RenderedTemplate{
		ID:       tpl.ID,
		Name:     tpl.Name,
		Subject:  subject,
		HTML:     html,
		Defaults: tpl.Defaults,
	}, nil
}

func render(source string, params map[string]interface{}) (string, error) {
	if source == "" {
		return "", nil
	}
	tpl, err := raymond.Parse(source)
	if err != nil {
		return "", err
	}
	return tpl.Exec(params)
}

func (s *Service) forget(id string) {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	s.generations[id]++
	s.cache.Delete(id)
	s.mu.Unlock()
}

func cloneTemplate(t *model.Template) *model.Template {
	c := *t
	c.Defaults = t.Defaults.Clone()
	return &c
}
