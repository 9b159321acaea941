package handler

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/ecortescl/ms-smtp/internal/model"
	apperrors "github.com/ecortescl/ms-smtp/pkg/errors"
)

const StatusQueued = "queued"

// SendResponse is the body of an accepted send.
type SendResponse struct {
	Status string            `json:"status"`
	Result *model.SendResult `json:"result"`
}

func NewSendResponse(result *model.SendResult) *SendResponse {
	return &SendResponse{
		Status: StatusQueued,
		Result: result,
	}
}

// BindError passes validator errors through so the error middleware can
// report each field. Anything else means the body could not be decoded.
func BindError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return err
	}
	return apperrors.NewBadRequest(fmt.Sprintf("invalid request body: %v", err), err)
}

var (
	addressDefaults = []string{"from", "to", "cc", "bcc", "replyTo"}
	singleDefaults  = map[string]bool{"from": true, "replyTo": true}
)

// ValidateAddressDefaults checks the address keys of template defaults.
// Other keys are free-form.
func ValidateAddressDefaults(defaults model.JSONMap) error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	for _, key := range addressDefaults {
		raw, ok := defaults[key]
		if !ok || raw == nil {
			continue
		}
		_, single := raw.(string)
		list := model.AddressFromValue(raw)
		if list.IsEmpty() || (singleDefaults[key] && !single) {
			return apperrors.NewBadRequest(fmt.Sprintf("defaults.%s must be a valid email", key), nil)
		}
		for _, addr := range list.Addresses {
			if err := v.Var(addr, "email"); err != nil {
				return apperrors.NewBadRequest(fmt.Sprintf("defaults.%s must be a valid email", key), err)
			}
		}
	}
	return nil
}
