// Package validator wraps go-playground/validator behind a single shared
// instance, grounded on the teacher's per-usecase validator.New() calls
// (e.g. SetProxyUseCase) but built once at the HTTP layer instead of once
// per handler.
package validator

import "github.com/go-playground/validator/v10"

var instance = validator.New()

// Struct validates req against its `validate:"..."` tags.
func Struct(req interface{}) error {
	return instance.Struct(req)
}
