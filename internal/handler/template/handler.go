package template

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ecortescl/ms-smtp/internal/handler"
	"github.com/ecortescl/ms-smtp/internal/model"
	apperrors "github.com/ecortescl/ms-smtp/pkg/errors"
)

type Service interface {
	List(ctx context.Context) ([]*model.TemplateSummary, error)
	Get(ctx context.Context, id string) (*model.Template, error)
	Create(ctx context.Context, in model.TemplateInput) (*model.Template, error)
	Update(ctx context.Context, id string, patch model.TemplatePatch) (*model.Template, error)
	Delete(ctx context.Context, id string) error
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	templates := r.Group("/templates")
	{
		templates.GET("", h.ListTemplates)
		templates.POST("", h.CreateTemplate)
		templates.GET("/:id", h.GetTemplate)
		templates.PUT("/:id", h.UpdateTemplate)
		templates.DELETE("/:id", h.DeleteTemplate)
	}
}

type createTemplateRequest struct {
	ID       string        `json:"id" binding:"omitempty,templateid"`
	Name     string        `json:"name" binding:"required,min=1"`
	Subject  string        `json:"subject" binding:"required"`
	HTML     string        `json:"html" binding:"required"`
	Defaults model.JSONMap `json:"defaults"`
}

type updateTemplateRequest struct {
	Name     *string        `json:"name" binding:"omitnil,min=1"`
	Subject  *string        `json:"subject"`
	HTML     *string        `json:"html"`
	Defaults *model.JSONMap `json:"defaults"`
}

func (h *Handler) ListTemplates(c *gin.Context) {
	items, err := h.service.List(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) GetTemplate(c *gin.Context) {
	tpl, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

func (h *Handler) CreateTemplate(c *gin.Context) {
	var req createTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(handler.BindError(err))
		return
	}
	if err := handler.ValidateAddressDefaults(req.Defaults); err != nil {
		_ = c.Error(err)
		return
	}

	tpl, err := h.service.Create(c.Request.Context(), model.TemplateInput{
		ID:       req.ID,
		Name:     req.Name,
		Subject:  req.Subject,
		HTML:     req.HTML,
		Defaults: req.Defaults,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, tpl)
}

func (h *Handler) UpdateTemplate(c *gin.Context) {
	var req updateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(handler.BindError(err))
		return
	}

	patch := model.TemplatePatch{
		Name:     req.Name,
		Subject:  req.Subject,
		HTML:     req.HTML,
		Defaults: req.Defaults,
	}
	if patch.IsEmpty() {
		_ = c.Error(apperrors.NewBadRequest("at least one of name, subject, html or defaults is required", nil))
		return
	}

	tpl, err := h.service.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

func (h *Handler) DeleteTemplate(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
