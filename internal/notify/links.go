// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package notify

import (
	"net/url"
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// APIBasePath is where the authentication routes are mounted.
const APIBasePath = "/api/authentication"

// LinksConfig configures Links.
type LinksConfig struct {
	// APIURL is the public base URL of this service.
	APIURL string
	// ClientURL is the web client; reset links fall back to it.
	ClientURL string
	// ConfirmRedirectURL is where browsers land after confirming an email.
	// Defaults to ClientURL.
	ConfirmRedirectURL string
	// AllowedReturnURLs are glob patterns a caller-supplied return URL must
	// match. '*' does not cross '/', '**' does.
	AllowedReturnURLs []string
}

// Links builds the URLs embedded in emails.
type Links struct {
	api      *url.URL
	client   *url.URL
	redirect string
	allowed  []glob.Glob
}

// NewLinks validates cfg and compiles the return URL patterns.
func NewLinks(cfg LinksConfig) (*Links, error) {
	api, err := parseBase("api_url", cfg.APIURL)
	if err != nil {
		return nil, err
	}
	client, err := parseBase("client_url", cfg.ClientURL)
	if err != nil {
		return nil, err
	}
	redirect := cfg.ConfirmRedirectURL
	if redirect == "" {
		redirect = client.String()
	} else if _, err := parseBase("confirm_redirect_url", redirect); err != nil {
		return nil, err
	}

	l := &Links{api: api, client: client, redirect: redirect}
	for _, pattern := range cfg.AllowedReturnURLs {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, oops.Code("LINKS_CONFIG_INVALID").
				With("pattern", pattern).
				Wrapf(err, "invalid return url pattern")
		}
		l.allowed = append(l.allowed, g)
	}
	return l, nil
}

func parseBase(name, raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, oops.Code("LINKS_CONFIG_INVALID").
			With("setting", name).
			With("value", raw).
			Errorf("%s must be an absolute http(s) URL", name)
	}
	return u, nil
}

// ConfirmEmail is the link that confirms an account's email.
func (l *Links) ConfirmEmail(accountID, token string) string {
	return l.apiURL("/confirm-email", url.Values{"userId": {accountID}, "token": {token}})
}

// ConfirmEmailChange is the link that completes an email change.
func (l *Links) ConfirmEmailChange(token string) string {
	return l.apiURL("/confirm-email-change", url.Values{"token": {token}})
}

// PasswordReset is the client page that lets the user choose a new
// password. returnURL is used as the page when it is allowed.
func (l *Links) PasswordReset(returnURL, token string) string {
	base := l.ResolveReturnURL(returnURL)
	u, _ := url.Parse(base) //nolint:errcheck // ResolveReturnURL only returns parsed URLs
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String()
}

// ConfirmRedirect is where browsers go after a confirmation link succeeds.
func (l *Links) ConfirmRedirect() string {
	return l.redirect
}

// ResolveReturnURL returns candidate if it is an http(s) URL matching an
// allowed pattern, and the client URL otherwise.
func (l *Links) ResolveReturnURL(candidate string) string {
	if l.ReturnURLAllowed(candidate) {
		return candidate
	}
	return l.client.String()
}

// ReturnURLAllowed reports whether candidate matches an allowed pattern.
func (l *Links) ReturnURLAllowed(candidate string) bool {
	if candidate == "" || len(l.allowed) == 0 {
		return false
	}
	u, err := url.Parse(candidate)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || u.User != nil {
		return false
	}
	target := strings.ToLower(u.Scheme+"://"+u.Host) + u.EscapedPath()
	for _, g := range l.allowed {
		if g.Match(target) {
			return true
		}
	}
	return false
}

func (l *Links) apiURL(path string, q url.Values) string {
	u := *l.api
	u.Path = strings.TrimRight(u.Path, "/") + APIBasePath + path
	u.RawQuery = q.Encode()
	return u.String()
}
