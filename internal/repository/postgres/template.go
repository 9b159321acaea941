package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ecortescl/ms-smtp/internal/model"
	"github.com/ecortescl/ms-smtp/internal/repository"
	"github.com/ecortescl/ms-smtp/pkg/clock"
	apperrors "github.com/ecortescl/ms-smtp/pkg/errors"
)

type templateRepository struct {
	BaseRepository
	clock *clock.Monotonic
}

func NewTemplateRepository(base BaseRepository, clk clock.Clock) repository.TemplateRepository {
	return &templateRepository{BaseRepository: base, clock: clock.NewMonotonic(clk)}
}

const templateColumns = `id, name, subject, html, defaults, created_at, updated_at`

func (r *templateRepository) List(ctx context.Context) ([]*model.TemplateSummary, error) {
	query := `SELECT id, name, updated_at FROM email_templates ORDER BY id`

	templates := []*model.TemplateSummary{}
	if err := r.GetDB().SelectContext(ctx, &templates, query); err != nil {
		return nil, apperrors.NewStorageUnavailable("list templates", err)
	}
	for _, t := range templates {
		t.UpdatedAt = t.UpdatedAt.UTC()
	}
	return templates, nil
}

func (r *templateRepository) Get(ctx context.Context, id string) (*model.Template, error) {
	if id == "" {
		return nil, apperrors.NewNotFound("template", nil)
	}

	query := `SELECT ` + templateColumns + ` FROM email_templates WHERE id = $1`

	var tpl model.Template
	if err := r.GetDB().GetContext(ctx, &tpl, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFound("template", nil)
		}
		return nil, apperrors.NewStorageUnavailable("get template", err)
	}
	return normalizeTemplate(&tpl), nil
}

func (r *templateRepository) Create(ctx context.Context, tpl *model.Template) (*model.Template, error) {
	if tpl.ID == "" {
		return nil, apperrors.NewBadRequest("template id is empty", nil)
	}

	defaults := tpl.Defaults
	if defaults == nil {
		defaults = model.JSONMap{}
	}
	now := r.clock.Now()

	// The primary key is the uniqueness guarantee; no row back means the
	// id was already taken.
	query := `
        INSERT INTO email_templates (` + templateColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $6)
        ON CONFLICT (id) DO NOTHING
        RETURNING ` + templateColumns

	var created model.Template
	err := r.GetDB().GetContext(ctx, &created, query,
		tpl.ID,
		tpl.Name,
		tpl.Subject,
		tpl.HTML,
		defaults,
		now,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
			return nil, apperrors.NewConflict(fmt.Sprintf("template %q", tpl.ID), nil)
		}
		return nil, apperrors.NewStorageUnavailable("create template", err)
	}
	return normalizeTemplate(&created), nil
}

func (r *templateRepository) Update(ctx context.Context, id string, patch model.TemplatePatch) (*model.Template, error) {
	if id == "" {
		return nil, apperrors.NewNotFound("template", nil)
	}

	var defaults interface{}
	if patch.Defaults != nil {
		d := *patch.Defaults
		if d == nil {
			d = model.JSONMap{}
		}
		defaults = d
	}

	query := `
        UPDATE email_templates SET
            name = COALESCE($2, name),
            subject = COALESCE($3, subject),
            html = COALESCE($4, html),
            defaults = COALESCE($5, defaults),
            updated_at = GREATEST($6, updated_at + INTERVAL '1 microsecond')
        WHERE id = $1
        RETURNING ` + templateColumns

	var updated model.Template
	err := r.GetDB().GetContext(ctx, &updated, query,
		id,
		patch.Name,
		patch.Subject,
		patch.HTML,
		defaults,
		r.clock.Now(),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFound("template", nil)
		}
		return nil, apperrors.NewStorageUnavailable("update template", err)
	}
	return normalizeTemplate(&updated), nil
}

func (r *templateRepository) Delete(ctx context.Context, id string) error {
	if id == "" {
		return apperrors.NewNotFound("template", nil)
	}

	result, err := r.GetDB().ExecContext(ctx, `DELETE FROM email_templates WHERE id = $1`, id)
	if err != nil {
		return apperrors.NewStorageUnavailable("delete template", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewStorageUnavailable("delete template", err)
	}
	if affected == 0 {
		return apperrors.NewNotFound("template", nil)
	}
	return nil
}

func normalizeTemplate(t *model.Template) *model.Template {
	if t.Defaults == nil {
		t.Defaults = model.JSONMap{}
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t
}
