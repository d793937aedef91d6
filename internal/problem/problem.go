// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

// Package problem turns coded errors into RFC 7807 problem documents.
package problem

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/socialhub/identity/internal/account"
	"github.com/socialhub/identity/internal/auth"
	"github.com/socialhub/identity/internal/avatar"
	"github.com/socialhub/identity/internal/command"
	"github.com/socialhub/identity/internal/token"
	"github.com/socialhub/identity/pkg/errutil"
)

// ContentType is the media type of a problem document.
const ContentType = "application/problem+json"

// Codes produced at the HTTP boundary.
const (
	CodeRateLimited = "RATE_LIMITED"
	CodeBadRequest  = "BAD_REQUEST"
	CodeNotFound    = "NOT_FOUND"
	CodeNoMethod    = "METHOD_NOT_ALLOWED"
	CodeInternal    = "INTERNAL"
)

// TypeBase prefixes the code in a problem's type URI.
const TypeBase = "urn:socialhub:problem:"

// DependencyRetryAfter is the Retry-After hint sent with a dependency failure.
const DependencyRetryAfter = 5 * time.Second

type class struct {
	status int
	title  string
}

var classes = map[string]class{
	errutil.CodeValidationFailed:      {http.StatusBadRequest, "Validation failed"},
	CodeBadRequest:                    {http.StatusBadRequest, "Malformed request"},
	account.CodeEmailTaken:            {http.StatusConflict, "Email already registered"},
	account.CodeAccountNotFound:       {http.StatusNotFound, "Account not found"},
	account.CodeConflict:              {http.StatusConflict, "Concurrent update"},
	avatar.CodeNotFound:               {http.StatusNotFound, "Avatar not found"},
	auth.CodeInvalidCredentials:       {http.StatusUnauthorized, "Invalid credentials"},
	auth.CodeEmailNotConfirmed:        {http.StatusForbidden, "Email not confirmed"},
	auth.CodeAccountLocked:            {http.StatusLocked, "Account locked"},
	auth.CodeUnauthenticated:          {http.StatusUnauthorized, "Authentication required"},
	token.CodeTokenInvalid:            {http.StatusBadRequest, "Invalid token"},
	token.CodeInvalidTokenFormat:      {http.StatusBadRequest, "Invalid token"},
	token.CodeTokenExpired:            {http.StatusGone, "Token expired"},
	token.CodeTokenAlreadyConsumed:    {http.StatusConflict, "Token already used"},
	command.CodeEmailAlreadyConfirmed: {http.StatusConflict, "Email already confirmed"},
	errutil.CodeDependencyFailure:     {http.StatusServiceUnavailable, "Service temporarily unavailable"},
	CodeRateLimited:                   {http.StatusTooManyRequests, "Too many requests"},
	CodeNotFound:                      {http.StatusNotFound, "Not found"},
	CodeNoMethod:                      {http.StatusMethodNotAllowed, "Method not allowed"},
}

var internal = class{http.StatusInternalServerError, "Internal error"}

// FieldError is one entry of a validation problem's errors array.
type FieldError struct {
	Field  string `json:"field,omitempty"`
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// Problem is an RFC 7807 document extended with a stable code.
type Problem struct {
	Type   string       `json:"type"`
	Title  string       `json:"title"`
	Status int          `json:"status"`
	Code   string       `json:"code"`
	Detail string       `json:"detail,omitempty"`
	Errors []FieldError `json:"errors,omitempty"`

	// RetryAfter, when positive, is sent as the Retry-After header.
	RetryAfter time.Duration `json:"-"`
}

// From maps err to a problem. Errors without a known code become a 500
// whose detail hides the cause.
func From(err error) *Problem {
	code := errutil.Code(err)
	if code == "" && errors.Is(err, context.DeadlineExceeded) {
		code = errutil.CodeDependencyFailure
	}
	c, known := classes[code]
	if !known {
		if strings.HasPrefix(code, "INVALID_") {
			c, known = class{http.StatusBadRequest, "Invalid input"}, true
		} else {
			code, c = CodeInternal, internal
		}
	}

	p := &Problem{
		Type:   TypeBase + strings.ToLower(code),
		Title:  c.title,
		Status: c.status,
		Code:   code,
	}
	switch {
	case code == errutil.CodeValidationFailed:
		p.Detail = "One or more fields are invalid."
		p.Errors = fieldErrors(errutil.Fields(err))
	case c.status >= http.StatusInternalServerError:
		p.Detail = "The request could not be completed. Try again later."
	default:
		p.Detail = publicMessage(err)
	}

	switch code {
	case errutil.CodeDependencyFailure:
		p.RetryAfter = DependencyRetryAfter
	case CodeRateLimited:
		if ms, ok := contextValue(err, "cooldown_ms").(int64); ok {
			p.RetryAfter = time.Duration(ms) * time.Millisecond
		}
	case auth.CodeAccountLocked:
		if until, ok := contextValue(err, "locked_until").(time.Time); ok {
			p.RetryAfter = time.Until(until)
		}
	}
	return p
}

// Write sends p as the response.
func (p *Problem) Write(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-store")
	if p.RetryAfter > 0 {
		h.Set("Retry-After", strconv.Itoa(int(math.Ceil(p.RetryAfter.Seconds()))))
	}
	if p.Status == http.StatusUnauthorized && p.Code == auth.CodeUnauthenticated {
		h.Set("WWW-Authenticate", `Bearer realm="identity"`)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteError maps err and writes it.
func WriteError(w http.ResponseWriter, err error) {
	From(err).Write(w)
}

func fieldErrors(errs []error) []FieldError {
	out := make([]FieldError, 0, len(errs))
	for _, err := range errs {
		fe := FieldError{Code: errutil.Code(err), Detail: publicMessage(err)}
		if field, ok := contextValue(err, "field").(string); ok {
			fe.Field = field
		}
		if fe.Code == "" {
			fe.Code = errutil.CodeValidationFailed
		}
		out = append(out, fe)
	}
	return out
}

// publicMessage is only used for client errors, whose messages come from
// the coded constructors and carry no internal detail.
func publicMessage(err error) string {
	return err.Error()
}

func contextValue(err error, key string) any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()[key]
}
