package event

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		v.RegisterCustomTypeFunc(func(field reflect.Value) any {
			m, ok := field.Interface().(Money)
			if !ok || m.IsZero() {
				return nil
			}
			return m.String()
		}, Money{})

		if err := v.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
			_, err := ParseMoney(fmt.Sprint(fl.Field().Interface()))
			return err == nil
		}); err != nil {
			panic(fmt.Sprintf("failed to register amount validation: %v", err))
		}
		validate = v
	})
	return validate
}
