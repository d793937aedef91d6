// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

// Package httpapi exposes the account operations over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/socialhub/identity/internal/account"
	"github.com/socialhub/identity/internal/auth"
	"github.com/socialhub/identity/internal/avatar"
	"github.com/socialhub/identity/internal/command"
	"github.com/socialhub/identity/internal/notify"
	"github.com/socialhub/identity/internal/problem"
)

// Commands is the set of operations the API serves. *command.Handlers
// implements it.
type Commands interface {
	Register(ctx context.Context, req command.RegisterRequest) (*command.RegisterResult, error)
	ConfirmEmail(ctx context.Context, userID, tokenValue string) error
	ResendConfirmEmail(ctx context.Context, email string) (notify.Delivery, error)
	Login(ctx context.Context, req command.LoginRequest) (*auth.Grant, error)
	ForgotPassword(ctx context.Context, req command.ForgotPasswordRequest) (notify.Delivery, error)
	ResetPassword(ctx context.Context, req command.ResetPasswordRequest) error
	RequestEmailChange(ctx context.Context, accountID ulid.ULID, newEmail string) (notify.Delivery, error)
	ConfirmEmailChange(ctx context.Context, tokenValue string) (notify.Delivery, error)
	Logout(ctx context.Context, accountID ulid.ULID) error
	GetUserStatus(ctx context.Context, userID string) (account.Status, error)
	Avatar(ctx context.Context, userID string) (avatar.Object, error)
}

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 64 << 10

// formOverhead is the room left for text fields next to an avatar upload.
const formOverhead = 64 << 10

type api struct {
	cmds            Commands
	confirmRedirect string
	avatarMaxBytes  int64
	clock           func() time.Time
	logger          *slog.Logger
}

type grantResponse struct {
	AccountID string    `json:"accountId"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func newGrantResponse(g *auth.Grant) *grantResponse {
	if g == nil {
		return nil
	}
	return &grantResponse{AccountID: g.AccountID.String(), Token: g.Token, ExpiresAt: g.ExpiresAt}
}

type registerResponse struct {
	AccountID      string          `json:"accountId"`
	Email          string          `json:"email"`
	EmailConfirmed bool            `json:"emailConfirmed"`
	Delivery       notify.Delivery `json:"delivery,omitempty"`
	Grant          *grantResponse  `json:"grant,omitempty"`
}

type deliveryResponse struct {
	Delivery notify.Delivery `json:"delivery,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type statusResponse struct {
	IsOnline   bool       `json:"isOnline"`
	LastActive *time.Time `json:"lastActive"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type changeEmailRequest struct {
	Email string `json:"email"`
}

func (a *api) register(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.avatarMaxBytes+formOverhead)
	if err := r.ParseMultipartForm(a.avatarMaxBytes + formOverhead); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		problem.WriteError(w, badRequest("malformed form body", err))
		return
	}
	req := command.RegisterRequest{
		Email:       r.FormValue("email"),
		Password:    r.FormValue("password"),
		DisplayName: r.FormValue("displayName"),
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
		if file, _, err := r.FormFile("avatar"); err == nil {
			// One byte past the limit lets the size check reject it.
			data, err := io.ReadAll(io.LimitReader(file, a.avatarMaxBytes+1))
			_ = file.Close()
			if err != nil {
				problem.WriteError(w, badRequest("unreadable avatar upload", err))
				return
			}
			req.Avatar = data
		}
	}

	res, err := a.cmds.Register(r.Context(), req)
	if err != nil {
		problem.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, registerResponse{
		AccountID:      res.AccountID.String(),
		Email:          res.Email,
		EmailConfirmed: res.EmailConfirmed,
		Delivery:       res.Delivery,
		Grant:          newGrantResponse(res.Grant),
	})
}

func (a *api) confirmEmail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := a.cmds.ConfirmEmail(r.Context(), q.Get("userId"), q.Get("token")); err != nil {
		problem.WriteError(w, err)
		return
	}
	http.Redirect(w, r, a.confirmRedirect, http.StatusFound)
}

func (a *api) resendConfirmation(w http.ResponseWriter, r *http.Request) {
	delivery, err := a.cmds.ResendConfirmEmail(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		problem.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deliveryResponse{Delivery: delivery})
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := decodeJSON(w, r, &body); err != nil {
		problem.WriteError(w, err)
		return
	}
	grant, err := a.cmds.Login(r.Context(), command.LoginRequest{Email: body.Email, Password: body.Password})
	if err != nil {
		problem.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newGrantResponse(grant))
}

// forgotPassword never reveals whether the address is registered, so the
// delivery outcome stays server side.
func (a *api) forgotPassword(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	returnURL := q.Get("returnUrl")
	if returnURL == "" {
		returnURL = r.Referer()
	}
	_, err := a.cmds.ForgotPassword(r.Context(), command.ForgotPasswordRequest{
		Email:     q.Get("email"),
		ReturnURL: returnURL,
	})
	if err != nil {
		problem.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{
		Message: "If the address belongs to an account, a reset link has been sent.",
	})
}

func (a *api) resetPassword(w http.ResponseWriter, r *http.Request) {
	var body resetPasswordRequest
	if err := decodeJSON(w, r, &body); err != nil {
		problem.WriteError(w, err)
		return
	}
	err := a.cmds.ResetPassword(r.Context(), command.ResetPasswordRequest{
		Token:       body.Token,
		NewPassword: body.NewPassword,
	})
	if err != nil {
		problem.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password has been reset."})
}

func (a *api) changeEmail(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	var body changeEmailRequest
	if err := decodeJSON(w, r, &body); err != nil {
		problem.WriteError(w, err)
		return
	}
	delivery, err := a.cmds.RequestEmailChange(r.Context(), p.AccountID, body.Email)
	if err != nil {
		problem.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deliveryResponse{Delivery: delivery})
}

func (a *api) confirmEmailChange(w http.ResponseWriter, r *http.Request) {
	if _, err := a.cmds.ConfirmEmailChange(r.Context(), r.URL.Query().Get("token")); err != nil {
		problem.WriteError(w, err)
		return
	}
	http.Redirect(w, r, a.confirmRedirect, http.StatusFound)
}

func (a *api) logout(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	if err := a.cmds.Logout(r.Context(), p.AccountID); err != nil {
		problem.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out."})
}

func (a *api) userStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.cmds.GetUserStatus(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		problem.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{IsOnline: status.IsOnline, LastActive: status.LastActive})
}

func (a *api) avatar(w http.ResponseWriter, r *http.Request) {
	obj, err := a.cmds.Avatar(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		problem.WriteError(w, err)
		return
	}
	h := w.Header()
	h.Set("Content-Type", obj.ContentType)
	h.Set("Content-Length", strconv.Itoa(len(obj.Data)))
	h.Set("Cache-Control", "public, max-age=300")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(obj.Data); err != nil {
		a.logger.DebugContext(r.Context(), "avatar write failed", "error", err)
	}
}

func (a *api) ping(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]time.Time{"time": a.clock().UTC()})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	problem.WriteError(w, oops.Code(problem.CodeNotFound).
		With("path", r.URL.Path).
		Errorf("no such endpoint"))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	problem.WriteError(w, oops.Code(problem.CodeNoMethod).
		With("method", r.Method).
		Errorf("method %s is not supported here", r.Method))
}

func badRequest(msg string, cause error) error {
	return oops.Code(problem.CodeBadRequest).Wrapf(cause, "%s", msg)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest("malformed JSON body", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
