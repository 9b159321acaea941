package emaillog

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ecortescl/ms-smtp/internal/handler"
	"github.com/ecortescl/ms-smtp/internal/model"
	emaillogService "github.com/ecortescl/ms-smtp/internal/service/emaillog"
)

type Service interface {
	Append(ctx context.Context, entry *model.EmailLog) (*model.EmailLog, error)
	Query(ctx context.Context, filter model.LogFilter) (*model.LogPage, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	logs := r.Group("/logs")
	{
		logs.GET("", h.ListLogs)
		logs.POST("", h.CreateLog)
	}
}

type createLogRequest struct {
	Status   string             `json:"status" binding:"required,oneof=success failed canceled spam queued other"`
	To       *model.AddressList `json:"to"`
	From     *model.AddressList `json:"from"`
	Subject  string             `json:"subject"`
	Provider string             `json:"provider"`
	Response string             `json:"response"`
	Error    string             `json:"error"`
	Meta     model.JSONMap      `json:"meta"`
}

func (h *Handler) ListLogs(c *gin.Context) {
	var params model.LogQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		_ = c.Error(handler.BindError(err))
		return
	}

	page, err := h.service.Query(c.Request.Context(), emaillogService.ParseFilter(params))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) CreateLog(c *gin.Context) {
	var req createLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(handler.BindError(err))
		return
	}

	entry, err := h.service.Append(c.Request.Context(), &model.EmailLog{
		Status:   model.LogStatus(req.Status),
		To:       req.To,
		From:     req.From,
		Subject:  req.Subject,
		Provider: req.Provider,
		Response: req.Response,
		Error:    req.Error,
		Meta:     req.Meta,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}
