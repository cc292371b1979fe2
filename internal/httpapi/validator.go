package httpapi

import (
	"reflect"

	"github.com/gin-gonic/gin/binding"

	"attendanceportal/internal/model"
)

func init() {
	binding.Validator = modelValidator{}
}

// modelValidator runs gin's bind-time checks through the shared model
// validator so request bodies fail with the same field errors the services
// return.
type modelValidator struct{}

func (modelValidator) ValidateStruct(obj any) error {
	v := reflect.ValueOf(obj)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	return model.Validate(obj)
}

func (modelValidator) Engine() any { return model.Validator() }
