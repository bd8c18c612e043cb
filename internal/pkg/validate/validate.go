// Package validate checks request structs before they are sent to the API.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	valid "github.com/go-playground/validator/v10"
)

var (
	once   sync.Once
	engine *valid.Validate
)

// Engine returns the shared validator. Field names in errors are the JSON
// names of the struct fields.
func Engine() *valid.Validate {
	once.Do(func() {
		engine = valid.New(valid.WithRequiredStructEnabled())
		engine.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
	})
	return engine
}

// Struct validates obj and returns a message per invalid field, or nil
func Struct(obj any) map[string]string {
	err := Engine().Struct(obj)
	if err == nil {
		return nil
	}
	var fieldErrs valid.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return map[string]string{"_": err.Error()}
	}
	out := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		if _, seen := out[fe.Field()]; !seen {
			out[fe.Field()] = message(fe)
		}
	}
	return out
}

func message(fe valid.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "alphanum":
		return "may only contain letters and numbers"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	}
	return "is invalid"
}
