package api

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// newValidator builds the request validator. Field errors are reported
// under their JSON names; amounts arrive as decimal strings.
func newValidator() (*validator.Validate, error) {
	vld := validator.New(validator.WithRequiredStructEnabled())

	vld.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	if err := vld.RegisterValidation("positive_amount", func(fl validator.FieldLevel) bool {
		str := fl.Field().String()
		if str == "" {
			return true // required handles empties
		}
		d, err := decimal.NewFromString(str)
		return err == nil && d.IsPositive()
	}); err != nil {
		return nil, fmt.Errorf("register positive_amount: %w", err)
	}

	if err := vld.RegisterValidation("nonnegative_amount", func(fl validator.FieldLevel) bool {
		str := fl.Field().String()
		if str == "" {
			return true
		}
		d, err := decimal.NewFromString(str)
		return err == nil && !d.IsNegative()
	}); err != nil {
		return nil, fmt.Errorf("register nonnegative_amount: %w", err)
	}

	return vld, nil
}
