package repository

import (
	"context"

	"github.com/ecortescl/ms-smtp/internal/model"
)

// All repository interfaces in one file
type (
	// EmailLogRepository is an append-only store of send events.
	EmailLogRepository interface {
		// Append assigns id and timestamp and persists the record.
		Append(ctx context.Context, entry *model.EmailLog) (*model.EmailLog, error)
		Query(ctx context.Context, filter model.LogFilter) (*model.LogPage, error)
	}

	// TemplateRepository stores templates keyed by normalized id.
	TemplateRepository interface {
		List(ctx context.Context) ([]*model.TemplateSummary, error)
		Get(ctx context.Context, id string) (*model.Template, error)
		// Create fails with a Conflict error when the id is taken.
		Create(ctx context.Context, tpl *model.Template) (*model.Template, error)
		Update(ctx context.Context, id string, patch model.TemplatePatch) (*model.Template, error)
		Delete(ctx context.Context, id string) error
	}
)
