package template

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecortescl/ms-smtp/internal/model"
	"github.com/ecortescl/ms-smtp/internal/repository"
	"github.com/ecortescl/ms-smtp/internal/repository/filesystem"
	apperrors "github.com/ecortescl/ms-smtp/pkg/errors"
)

func newTestService(t *testing.T, ttl time.Duration) (*Service, repository.TemplateRepository) {
	t.Helper()
	repo, err := filesystem.NewTemplateRepository(t.TempDir(), nil, nil)
	require.NoError(t, err)
	return NewService(repo, ttl, nil, nil), repo
}

func welcomeInput() model.TemplateInput {
	return model.TemplateInput{
		ID:       "welcome",
		Name:     "Welcome",
		Subject:  "Hi {{user}}",
		HTML:     "<p>Hi {{user}}</p>",
		Defaults: model.JSONMap{"from": "a@b.com"},
	}
}

func TestCreateAndRender(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	tpl, err := svc.Create(ctx, welcomeInput())
	require.NoError(t, err)
	assert.Equal(t, "welcome", tpl.ID)
	assert.Equal(t, "Welcome", tpl.Name)
	assert.True(t, tpl.CreatedAt.Equal(tpl.UpdatedAt))

	out, err := svc.Render(ctx, "welcome", map[string]interface{}{"user": "Ann"})
	require.NoError(t, err)
	assert.Equal(t, &model.RenderedTemplate{
		ID:       "welcome",
		Name:     "Welcome",
		Subject:  "Hi Ann",
		HTML:     "<p>Hi Ann</p>",
		Defaults: model.JSONMap{"from": "a@b.com"},
	}, out)
}

func TestCreateNormalizesAndDefaults(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	tpl, err := svc.Create(ctx, model.TemplateInput{ID: "Promo 2024!"})
	require.NoError(t, err)
	assert.Equal(t, "promo2024", tpl.ID)
	assert.Equal(t, "promo2024", tpl.Name)
	assert.Equal(t, "", tpl.Subject)
	assert.Equal(t, "", tpl.HTML)
	assert.Equal(t, model.JSONMap{}, tpl.Defaults)

	got, err := svc.Get(ctx, "PROMO2024")
	require.NoError(t, err)
	assert.Equal(t, tpl.ID, got.ID)

	_, err = svc.Create(ctx, model.TemplateInput{ID: "promo-2024"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, model.TemplateInput{ID: "promo2024"})
	assert.True(t, apperrors.IsConflict(err))
}

func TestCreateGeneratesID(t *testing.T) {
	svc, _ := newTestService(t, 0)

	tpl, err := svc.Create(context.Background(), model.TemplateInput{Name: "No id"})
	require.NoError(t, err)
	assert.Len(t, tpl.ID, 36)
	assert.Equal(t, model.NormalizeTemplateID(tpl.ID), tpl.ID)
}

func TestCreateRejectsEmptyNormalizedID(t *testing.T) {
	svc, _ := newTestService(t, 0)

	_, err := svc.Create(context.Background(), model.TemplateInput{ID: "!!!"})
	assert.Equal(t, apperrors.ErrBadRequest, apperrors.CodeOf(err))
}

func TestEmptyNormalizedIDIsNotFound(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	_, err := svc.Get(ctx, "***")
	assert.True(t, apperrors.IsNotFound(err))

	name := "x"
	_, err = svc.Update(ctx, "***", model.TemplatePatch{Name: &name})
	assert.True(t, apperrors.IsNotFound(err))

	assert.True(t, apperrors.IsNotFound(svc.Delete(ctx, "***")))
}

func TestRenderMissingTemplate(t *testing.T) {
	svc, _ := newTestService(t, 0)

	_, err := svc.Render(context.Background(), "ghost", nil)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRenderIsPermissive(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	_, err := svc.Create(ctx, model.TemplateInput{
		ID:      "greet",
		Subject: "Hello {{name}}{{missing}}",
		HTML:    "<b>{{name}}</b> {{{raw}}}",
	})
	require.NoError(t, err)

	out, err := svc.Render(ctx, "greet", map[string]interface{}{
		"name": "<Ann>",
		"raw":  "<i>x</i>",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello &lt;Ann&gt;", out.Subject)
	assert.Equal(t, "<b>&lt;Ann&gt;</b> <i>x</i>", out.HTML)

	out, err = svc.Render(ctx, "greet", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello ", out.Subject)
}

func TestRenderSyntaxError(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	_, err := svc.Create(ctx, model.TemplateInput{ID: "broken", Subject: "{{#if x}}unterminated"})
	require.NoError(t, err)

	_, err = svc.Render(ctx, "broken", nil)
	assert.Equal(t, apperrors.ErrUnprocessable, apperrors.CodeOf(err))
}

func TestCacheInvalidatedOnWrites(t *testing.T) {
	svc, _ := newTestService(t, time.Minute)
	ctx := context.Background()

	_, err := svc.Create(ctx, welcomeInput())
	require.NoError(t, err)

	first, err := svc.Get(ctx, "welcome")
	require.NoError(t, err)
	first.Name = "mutated by caller"
	first.Defaults["from"] = "mutated"

	cached, err := svc.Get(ctx, "welcome")
	require.NoError(t, err)
	assert.Equal(t, "Welcome", cached.Name)
	assert.Equal(t, "a@b.com", cached.Defaults["from"])

	name := "Renamed"
	_, err = svc.Update(ctx, "welcome", model.TemplatePatch{Name: &name})
	require.NoError(t, err)

	got, err := svc.Get(ctx, "welcome")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)

	require.NoError(t, svc.Delete(ctx, "welcome"))
	_, err = svc.Get(ctx, "welcome")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCacheServesRepeatedReads(t *testing.T) {
	svc, repo := newTestService(t, time.Minute)
	ctx := context.Background()

	_, err := svc.Create(ctx, welcomeInput())
	require.NoError(t, err)
	_, err = svc.Get(ctx, "welcome")
	require.NoError(t, err)

	// Removed behind the service's back; the cached copy still answers.
	require.NoError(t, repo.Delete(ctx, "welcome"))
	got, err := svc.Get(ctx, "welcome")
	require.NoError(t, err)
	assert.Equal(t, "welcome", got.ID)
}

// stallingRepo pauses the first Get after it has read the template, until
// release is closed.
type stallingRepo struct {
	repository.TemplateRepository
	fetched chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *stallingRepo) Get(ctx context.Context, id string) (*model.Template, error) {
	tpl, err := r.TemplateRepository.Get(ctx, id)
	r.once.Do(func() {
		close(r.fetched)
		<-r.release
	})
	return tpl, err
}

func TestCacheNotFilledByReadRacingWrite(t *testing.T) {
	for _, write := range []string{"delete", "update"} {
		t.Run(write, func(t *testing.T) {
			base, err := filesystem.NewTemplateRepository(t.TempDir(), nil, nil)
			require.NoError(t, err)
			repo := &stallingRepo{TemplateRepository: base, fetched: make(chan struct{}), release: make(chan struct{})}
			svc := NewService(repo, time.Minute, nil, nil)
			ctx := context.Background()

			_, err = svc.Create(ctx, welcomeInput())
			require.NoError(t, err)

			done := make(chan error, 1)
			go func() {
				_, err := svc.Get(ctx, "welcome")
				done <- err
			}()
			<-repo.fetched

			name := "Renamed"
			if write == "delete" {
				require.NoError(t, svc.Delete(ctx, "welcome"))
			} else {
				_, err = svc.Update(ctx, "welcome", model.TemplatePatch{Name: &name})
				require.NoError(t, err)
			}
			close(repo.release)
			require.NoError(t, <-done)

			got, err := svc.Get(ctx, "welcome")
			if write == "delete" {
				assert.True(t, apperrors.IsNotFound(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Renamed", got.Name)
		})
	}
}

func TestUpdateAdvancesTimestamp(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	created, err := svc.Create(ctx, welcomeInput())
	require.NoError(t, err)

	html := "<p>new</p>"
	updated, err := svc.Update(ctx, "Welcome", model.TemplatePatch{HTML: &html})
	require.NoError(t, err)
	assert.Equal(t, "<p>new</p>", updated.HTML)
	assert.Equal(t, "Hi {{user}}", updated.Subject)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))
	assert.True(t, created.CreatedAt.Equal(updated.CreatedAt))
}

func TestList(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	for _, id := range []string{"beta", "alpha"} {
		_, err := svc.Create(ctx, model.TemplateInput{ID: id})
		require.NoError(t, err)
	}

	items, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "alpha", items[0].ID)
	assert.Equal(t, "beta", items[1].ID)
}
