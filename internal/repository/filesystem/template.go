package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ecortescl/ms-smtp/internal/model"
	"github.com/ecortescl/ms-smtp/internal/repository"
	"github.com/ecortescl/ms-smtp/pkg/clock"
	apperrors "github.com/ecortescl/ms-smtp/pkg/errors"
	"github.com/ecortescl/ms-smtp/pkg/logger"
)

const templateExt = ".json"

// TemplateRepository stores each template as <id>.json in one directory.
type TemplateRepository struct {
	dir   string
	clock *clock.Monotonic
	log   *logger.Logger

	// mu serializes read-modify-write cycles within this process.
	mu sync.Mutex
}

var _ repository.TemplateRepository = (*TemplateRepository)(nil)

func NewTemplateRepository(dir string, clk clock.Clock, log *logger.Logger) (*TemplateRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create templates directory: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &TemplateRepository{
		dir:   dir,
		clock: clock.NewMonotonic(clk),
		log:   log.WithComponent("template_file"),
	}, nil
}

func (r *TemplateRepository) path(id string) string {
	return filepath.Join(r.dir, id+templateExt)
}

func (r *TemplateRepository) List(ctx context.Context) ([]*model.TemplateSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []*model.TemplateSummary{}, nil
		}
		return nil, apperrors.NewStorageUnavailable("list templates", err)
	}

	out := make([]*model.TemplateSummary, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, templateExt) {
			continue
		}
		tpl, err := r.read(filepath.Join(r.dir, name))
		if err != nil {
			// Deleted between ReadDir and read.
			if apperrors.IsNotFound(err) {
				continue
			}
			r.log.Warn().Err(err).Str("file", name).Msg("skipping unreadable template")
			continue
		}
		out = append(out, &model.TemplateSummary{ID: tpl.ID, Name: tpl.Name, UpdatedAt: tpl.UpdatedAt})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *TemplateRepository) Get(ctx context.Context, id string) (*model.Template, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, apperrors.NewNotFound("template", nil)
	}
	return r.read(r.path(id))
}

func (r *TemplateRepository) read(path string) (*model.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NewNotFound("template", nil)
		}
		return nil, apperrors.NewStorageUnavailable("read template", err)
	}

	var tpl model.Template
	if err := json.Unmarshal(data, &tpl); err != nil {
		return nil, apperrors.NewStorageUnavailable("decode template", err)
	}
	if tpl.Defaults == nil {
		tpl.Defaults = model.JSONMap{}
	}
	return &tpl, nil
}

func (r *TemplateRepository) Create(ctx context.Context, tpl *model.Template) (*model.Template, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tpl.ID == "" {
		return nil, apperrors.NewBadRequest("template id is empty", nil)
	}

	rec := *tpl
	rec.Defaults = tpl.Defaults.Clone()
	if rec.Defaults == nil {
		rec.Defaults = model.JSONMap{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	data, err := encodeTemplate(&rec)
	if err != nil {
		return nil, err
	}

	if err := createFile(r.path(rec.ID), data, 0o644); err != nil {
		if errors.Is(err, errExists) {
			return nil, apperrors.NewConflict(fmt.Sprintf("template %q", rec.ID), nil)
		}
		return nil, apperrors.NewStorageUnavailable("create template", err)
	}
	return &rec, nil
}

func (r *TemplateRepository) Update(ctx context.Context, id string, patch model.TemplatePatch) (*model.Template, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, apperrors.NewNotFound("template", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, err := r.read(r.path(id))
	if err != nil {
		return nil, err
	}

	patch.Apply(cur)
	cur.ID = id
	cur.UpdatedAt = r.clock.After(cur.UpdatedAt)

	data, err := encodeTemplate(cur)
	if err != nil {
		return nil, err
	}
	if err := replaceFile(r.path(id), data, 0o644); err != nil {
		return nil, apperrors.NewStorageUnavailable("update template", err)
	}
	return cur, nil
}

func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return apperrors.NewNotFound("template", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(r.path(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperrors.NewNotFound("template", nil)
		}
		return apperrors.NewStorageUnavailable("delete template", err)
	}
	return nil
}

func encodeTemplate(tpl *model.Template) ([]byte, error) {
	data, err := json.MarshalIndent(tpl, "", "  ")
	if err != nil {
		return nil, apperrors.NewBadRequest("template is not serializable", err)
	}
	return append(data, '\n'), nil
}
