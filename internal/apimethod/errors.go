package apimethod

import (
	"errors"
	"fmt"
)

// ErrSchemaBuild is the sentinel matched by every SchemaBuildError.
var ErrSchemaBuild = errors.New("apimethod: schema build failed")

// SchemaBuildError reports a required field the caller did not supply.
type SchemaBuildError struct {
	Method string
	Path   string
}

func (e *SchemaBuildError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("apimethod: required field %q was not supplied", e.Path)
	}
	return fmt.Sprintf("apimethod: %s: required field %q was not supplied", e.Method, e.Path)
}

func (e *SchemaBuildError) Unwrap() error {
	return ErrSchemaBuild
}
