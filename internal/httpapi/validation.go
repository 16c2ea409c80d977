package httpapi

import (
	"errors"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

// fieldErrors переносит ошибки валидатора в тело ответа.
type fieldErrors struct {
	fields map[string]string
}

func (e *fieldErrors) Error() string {
	parts := make([]string, 0, len(e.fields))
	for _, field := range slices.Sorted(maps.Keys(e.fields)) {
		parts = append(parts, field+": "+e.fields[field])
	}
	return strings.Join(parts, "; ")
}

// newValidator создаёт валидатор с именами полей из json-тегов.
func newValidator() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterTagNameFunc(jsonFieldName)
	return v
}

// bindJSON разбирает тело и проверяет его теги validate.
func bindJSON(c *gin.Context, v *validatorv10.Validate, out any) error {
	if err := c.ShouldBindJSON(out); err != nil {
		return domain.WrapError(domain.KindValidation, err, "invalid request body")
	}
	return validateStruct(v, out)
}

// bindQuery разбирает query-параметры по тегам form.
func bindQuery(c *gin.Context, v *validatorv10.Validate, out any) error {
	if err := c.ShouldBindQuery(out); err != nil {
		return domain.WrapError(domain.KindValidation, err, "invalid query")
	}
	return validateStruct(v, out)
}

func validateStruct(v *validatorv10.Validate, out any) error {
	err := v.Struct(out)
	if err == nil {
		return nil
	}
	var validationErrs validatorv10.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return domain.WrapError(domain.KindValidation, err, "validation failed")
	}
	fields := make(map[string]string, len(validationErrs))
	for _, fe := range validationErrs {
		fields[fieldPath(fe)] = describeTag(fe)
	}
	return domain.WrapError(domain.KindValidation, &fieldErrors{fields: fields}, "validation failed")
}

// fieldPath возвращает путь поля без имени корневой структуры: items[0].quantity.
func fieldPath(fe validatorv10.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func jsonFieldName(field reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name, _, _ := strings.Cut(field.Tag.Get(tag), ",")
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return ""
}

func describeTag(fe validatorv10.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "failed on " + fe.Tag()
	}
}
