package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecortescl/ms-smtp/internal/model"
	"github.com/ecortescl/ms-smtp/pkg/clock"
	apperrors "github.com/ecortescl/ms-smtp/pkg/errors"
)

var tplColumns = []string{"id", "name", "subject", "html", "defaults", "created_at", "updated_at"}

func TestTemplateCreateReturnsRow(t *testing.T) {
	base, mock := newMockBase(t)
	repo := NewTemplateRepository(base, clock.Fixed(fixedNow))

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (id) DO NOTHING")).
		WithArgs("welcome", "Welcome", "Hi {{name}}", "<p>x</p>", "{}", fixedNow).
		WillReturnRows(sqlmock.NewRows(tplColumns).
			AddRow("welcome", "Welcome", "Hi {{name}}", "<p>x</p>", []byte(`{}`), fixedNow, fixedNow))

	tpl, err := repo.Create(context.Background(), &model.Template{
		ID:      "welcome",
		Name:    "Welcome",
		Subject: "Hi {{name}}",
		HTML:    "<p>x</p>",
	})
	require.NoError(t, err)
	assert.Equal(t, "welcome", tpl.ID)
	assert.Equal(t, model.JSONMap{}, tpl.Defaults)
	assert.True(t, tpl.CreatedAt.Equal(tpl.UpdatedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateCreateConflict(t *testing.T) {
	base, mock := newMockBase(t)
	repo := NewTemplateRepository(base, nil)

	mock.ExpectQuery("INSERT INTO email_templates").
		WillReturnRows(sqlmock.NewRows(tplColumns))

	_, err := repo.Create(context.Background(), &model.Template{ID: "welcome"})
	assert.True(t, apperrors.IsConflict(err))

	mock.ExpectQuery("INSERT INTO email_templates").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err = repo.Create(context.Background(), &model.Template{ID: "welcome"})
	assert.True(t, apperrors.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateGetNotFound(t *testing.T) {
	base, mock := newMockBase(t)
	repo := NewTemplateRepository(base, nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM email_templates WHERE id = $1")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(tplColumns))

	_, err := repo.Get(context.Background(), "ghost")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = repo.Get(context.Background(), "")
	assert.True(t, apperrors.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateUpdatePassesOnlySuppliedFields(t *testing.T) {
	base, mock := newMockBase(t)
	repo := NewTemplateRepository(base, clock.Fixed(fixedNow))
	later := fixedNow.Add(time.Second)

	mock.ExpectQuery(regexp.QuoteMeta("updated_at = GREATEST($6, updated_at + INTERVAL '1 microsecond')")).
		WithArgs("welcome", "Renamed", nil, nil, nil, fixedNow).
		WillReturnRows(sqlmock.NewRows(tplColumns).
			AddRow("welcome", "Renamed", "Hi", "<p>x</p>", nil, fixedNow, later))

	name := "Renamed"
	tpl, err := repo.Update(context.Background(), "welcome", model.TemplatePatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", tpl.Name)
	assert.Equal(t, "Hi", tpl.Subject)
	assert.NotNil(t, tpl.Defaults)
	assert.True(t, tpl.UpdatedAt.After(tpl.CreatedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateUpdateMissing(t *testing.T) {
	base, mock := newMockBase(t)
	repo := NewTemplateRepository(base, nil)

	mock.ExpectQuery("UPDATE email_templates").
		WillReturnRows(sqlmock.NewRows(tplColumns))

	defaults := model.JSONMap{"from": "a@x.com"}
	_, err := repo.Update(context.Background(), "ghost", model.TemplatePatch{Defaults: &defaults})
	assert.True(t, apperrors.IsNotFound(err))
}

func TestTemplateDelete(t *testing.T) {
	base, mock := newMockBase(t)
	repo := NewTemplateRepository(base, nil)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM email_templates WHERE id = $1")).
		WithArgs("welcome").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM email_templates").
		WithArgs("welcome").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Delete(context.Background(), "welcome"))
	assert.True(t, apperrors.IsNotFound(repo.Delete(context.Background(), "welcome")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateList(t *testing.T) {
	base, mock := newMockBase(t)
	repo := NewTemplateRepository(base, nil)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, updated_at FROM email_templates ORDER BY id")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "updated_at"}).
			AddRow("alpha", "Alpha", fixedNow).
			AddRow("beta", "Beta", fixedNow))

	list, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].ID)
	assert.Equal(t, "Beta", list[1].Name)
}
