// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package httpapi

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/socialhub/identity/internal/avatar"
	"github.com/socialhub/identity/internal/notify"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// ConfirmRedirect is where confirmation links send the browser.
	ConfirmRedirect string

	// CORSOrigins lists allowed browser origins. Empty disables CORS.
	CORSOrigins []string

	// AvatarMaxBytes bounds avatar uploads. Defaults to avatar.DefaultMaxBytes.
	AvatarMaxBytes int64

	// TrustProxy makes the client IP come from X-Forwarded-For / X-Real-IP.
	TrustProxy bool

	// Limiter throttles the authentication routes. Nil disables limiting.
	Limiter *RateLimiter

	// Requests receives per-route request counts. Optional.
	Requests RequestObserver

	Clock  func() time.Time
	Logger *slog.Logger
}

// NewRouter builds the HTTP handler for the authentication API, mounted
// under notify.APIBasePath.
func NewRouter(cfg RouterConfig, cmds Commands, sessions SessionValidator) http.Handler {
	a := &api{
		cmds:            cmds,
		confirmRedirect: cfg.ConfirmRedirect,
		avatarMaxBytes:  cfg.AvatarMaxBytes,
		clock:           cfg.Clock,
		logger:          cfg.Logger,
	}
	if a.avatarMaxBytes <= 0 {
		a.avatarMaxBytes = avatar.DefaultMaxBytes
	}
	if a.clock == nil {
		a.clock = time.Now
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if a.confirmRedirect == "" {
		a.confirmRedirect = "/"
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger(a.logger, cfg.Requests))
	r.Use(middleware.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Retry-After"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Route(notify.APIBasePath, func(api chi.Router) {
		api.Get("/ping", a.ping)
		api.Get("/user-status/{userId}", a.userStatus)
		api.Get("/avatar/{userId}", a.avatar)

		api.Group(func(g chi.Router) {
			if cfg.Limiter != nil {
				g.Use(cfg.Limiter.Middleware)
			}
			g.Post("/register", a.register)
			g.Get("/confirm-email", a.confirmEmail)
			g.Get("/resend-confirmation-email", a.resendConfirmation)
			g.Post("/login", a.login)
			g.Get("/forgot-password", a.forgotPassword)
			g.Post("/reset-password", a.resetPassword)
			g.Get("/confirm-email-change", a.confirmEmailChange)

			g.Group(func(authed chi.Router) {
				authed.Use(RequireSession(sessions))
				authed.Post("/change-email", a.changeEmail)
				authed.Post("/logout", a.logout)
			})
		})
	})
	return r
}
