package mail

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ecortescl/ms-smtp/internal/handler"
	"github.com/ecortescl/ms-smtp/internal/model"
)

type Service interface {
	SendEmail(ctx context.Context, req model.SendRequest) (*model.SendResult, error)
	SendTemplate(ctx context.Context, req model.TemplateSendRequest) (*model.SendResult, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/send-email", h.SendEmail)
	r.POST("/send-template", h.SendTemplate)
}

type attachmentRequest struct {
	Filename    string `json:"filename"`
	Content     string `json:"content" binding:"required"`
	ContentType string `json:"contentType"`
	Encoding    string `json:"encoding"`
}

type sendEmailRequest struct {
	From        string              `json:"from" binding:"omitempty,email"`
	To          *model.AddressList  `json:"to" binding:"required,min=1,dive,email"`
	Cc          *model.AddressList  `json:"cc" binding:"omitempty,min=1,dive,email"`
	Bcc         *model.AddressList  `json:"bcc" binding:"omitempty,min=1,dive,email"`
	ReplyTo     string              `json:"replyTo" binding:"omitempty,email"`
	Subject     string              `json:"subject" binding:"required"`
	HTML        string              `json:"html" binding:"required"`
	Text        string              `json:"text"`
	Attachments []attachmentRequest `json:"attachments" binding:"omitempty,dive"`
}

type sendTemplateRequest struct {
	TemplateID  string                 `json:"templateId" binding:"required"`
	Params      map[string]interface{} `json:"params"`
	From        string                 `json:"from" binding:"omitempty,email"`
	To          *model.AddressList     `json:"to" binding:"omitempty,min=1,dive,email"`
	Cc          *model.AddressList     `json:"cc" binding:"omitempty,min=1,dive,email"`
	Bcc         *model.AddressList     `json:"bcc" binding:"omitempty,min=1,dive,email"`
	ReplyTo     string                 `json:"replyTo" binding:"omitempty,email"`
	Attachments []attachmentRequest    `json:"attachments" binding:"omitempty,dive"`
}

func toAttachments(in []attachmentRequest) []model.Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]model.Attachment, len(in))
	for i, a := range in {
		out[i] = model.Attachment{
			Filename:    a.Filename,
			Content:     a.Content,
			ContentType: a.ContentType,
			Encoding:    a.Encoding,
		}
	}
	return out
}

func (h *Handler) SendEmail(c *gin.Context) {
	var req sendEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(handler.BindError(err))
		return
	}

	result, err := h.service.SendEmail(c.Request.Context(), model.SendRequest{
		From:        req.From,
		To:          req.To,
		Cc:          req.Cc,
		Bcc:         req.Bcc,
		ReplyTo:     req.ReplyTo,
		Subject:     req.Subject,
		HTML:        req.HTML,
		Text:        req.Text,
		Attachments: toAttachments(req.Attachments),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, handler.NewSendResponse(result))
}

func (h *Handler) SendTemplate(c *gin.Context) {
	var req sendTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(handler.BindError(err))
		return
	}
	if req.Params == nil {
		req.Params = map[string]interface{}{}
	}

	result, err := h.service.SendTemplate(c.Request.Context(), model.TemplateSendRequest{
		TemplateID:  req.TemplateID,
		Params:      req.Params,
		From:        req.From,
		To:          req.To,
		Cc:          req.Cc,
		Bcc:         req.Bcc,
		ReplyTo:     req.ReplyTo,
		Attachments: toAttachments(req.Attachments),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, handler.NewSendResponse(result))
}
