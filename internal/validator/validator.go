package validator

import (
	"errors"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// trans is the English translator for validation errors. It stays nil
// until Setup runs, in which case messages fall back to the raw error.
var trans ut.Translator

// Setup registers JSON field names and English translations on Gin's
// validation engine. Call once during application startup.
func Setup() {
	v, ok := binding.Validator.Engine().(*govalidator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	enLocale := en.New()
	trans, _ = ut.New(enLocale, enLocale).GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, trans)
}

// Struct validates v with the engine Gin uses for request binding, so
// exam definitions loaded from storage obey the same `validate` tags.
func Struct(v interface{}) error {
	return binding.Validator.ValidateStruct(v)
}

// Fields flattens a validation error into namespace -> message, e.g.
// "parts[0].questions[1].speak_seconds". Other errors land under "detail".
func Fields(err error) map[string]string {
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if !errors.As(err, &ve) {
		fields["detail"] = err.Error()
		return fields
	}
	for _, fe := range ve {
		key := fe.Namespace()
		if i := strings.IndexByte(key, '.'); i >= 0 {
			key = key[i+1:]
		}
		fields[key] = fe.Translate(trans)
	}
	return fields
}
