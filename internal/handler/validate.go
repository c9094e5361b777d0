package handler

import (
	"errors"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"rollbook/internal/apperr"
	"rollbook/internal/model"
)

const (
	statusTag     = "attendance_status"
	reportTypeTag = "report_type"
)

var translator ut.Translator

// Hook custom tags and English messages into gin's validator.
func init() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	_en := en.New()
	translator, _ = ut.New(_en, _en).GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, translator)

	// Report JSON or form names instead of Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return fld.Name
	})

	_ = v.RegisterValidation(statusTag, func(fl validator.FieldLevel) bool {
		return model.Status(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation(reportTypeTag, func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || model.ReportType(s).Valid()
	})

	noop := func(ut.Translator) error { return nil }
	_ = v.RegisterTranslation(statusTag, translator, noop, func(_ ut.Translator, fe validator.FieldError) string {
		return fe.Field() + " must be one of present, absent, late, excused"
	})
	_ = v.RegisterTranslation(reportTypeTag, translator, noop, func(_ ut.Translator, fe validator.FieldError) string {
		return fe.Field() + " must be one of daily, weekly, monthly, custom"
	})
}

// bindError converts a gin binding failure into a ValidationError.
func bindError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := &apperr.ValidationError{}
		for _, fe := range verrs {
			msg := fe.Error()
			if translator != nil {
				msg = fe.Translate(translator)
			}
			out.Add(fe.Field(), msg)
		}
		return out
	}
	return apperr.Validation("malformed request body")
}
