package middleware

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/ecortescl/ms-smtp/internal/model"
)

var templateIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)

var errorMessages = map[string]string{
	"required":   "is required",
	"email":      "must be a valid email",
	"min":        "is too short",
	"max":        "is too long",
	"oneof":      "must be one of [%s]",
	"templateid": "must be 3-64 characters of letters, digits, '_' or '-'",
}

var registerOnce sync.Once

// RegisterValidators configures gin's validator engine: JSON field names
// in errors, AddressList validated as its address slice and the
// templateid tag. Safe to call more than once.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}

		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})

		v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			if a, ok := field.Interface().(model.AddressList); ok {
				return a.Addresses
			}
			return nil
		}, model.AddressList{})

		if err := v.RegisterValidation("templateid", func(fl validator.FieldLevel) bool {
			return templateIDPattern.MatchString(fl.Field().String())
		}); err != nil {
			panic(err)
		}
	})
}

// ValidationMessages renders validator errors as readable sentences.
func ValidationMessages(errs validator.ValidationErrors) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		field := strings.TrimPrefix(e.Namespace(), structName(e))
		msg, ok := errorMessages[e.Tag()]
		if !ok {
			msg = fmt.Sprintf("failed on the '%s' rule", e.Tag())
		} else if strings.Contains(msg, "%s") {
			msg = fmt.Sprintf(msg, strings.ReplaceAll(e.Param(), " ", ", "))
		}
		out = append(out, fmt.Sprintf("%q %s", field, msg))
	}
	return out
}

func structName(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[:i+1]
	}
	return ""
}
