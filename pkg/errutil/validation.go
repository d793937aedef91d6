// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package errutil

import (
	"errors"
	"strings"

	"github.com/samber/oops"
)

// CodeValidationFailed marks a request rejected by input validation.
const CodeValidationFailed = "VALIDATION_FAILED"

// FieldErrors holds the ordered field errors behind a VALIDATION_FAILED
// error. It has no Unwrap so that the field codes do not shadow the outer
// code.
type FieldErrors struct {
	Errors []error
}

func (f *FieldErrors) Error() string {
	msgs := make([]string, len(f.Errors))
	for i, err := range f.Errors {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validation returns a VALIDATION_FAILED error carrying the non-nil errs in
// order, or nil when every err is nil.
func Validation(errs ...error) error {
	fields := &FieldErrors{}
	for _, err := range errs {
		if err != nil {
			fields.Errors = append(fields.Errors, err)
		}
	}
	if len(fields.Errors) == 0 {
		return nil
	}
	return oops.Code(CodeValidationFailed).
		With("fields", len(fields.Errors)).
		Wrap(fields)
}

// Fields returns the field errors of a VALIDATION_FAILED error, or nil.
func Fields(err error) []error {
	var fields *FieldErrors
	if errors.As(err, &fields) {
		return fields.Errors
	}
	return nil
}
