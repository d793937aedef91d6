// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package notify

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	"strconv"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/samber/oops"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var subjects = map[Kind]string{
	KindConfirmEmail:  "Confirm your email address",
	KindPasswordReset: "Reset your password",
	KindEmailChange:   "Confirm your new email address",
	KindEmailChanged:  "Your email address was changed",
}

// Data fills a message template.
type Data struct {
	DisplayName string
	Link        string
	NewEmail    string
	ExpiresIn   string
}

// HumanDuration formats a token lifetime for an email body.
func HumanDuration(d time.Duration) string {
	plural := func(n int64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return strconv.FormatInt(n, 10) + " " + unit + "s"
	}
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return plural(int64(d/(24*time.Hour)), "day")
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int64(d/time.Hour), "hour")
	default:
		return plural(int64(d.Round(time.Minute)/time.Minute), "minute")
	}
}

// Composer renders messages from the embedded templates.
type Composer struct {
	text *texttemplate.Template
	html *htmltemplate.Template
}

// NewComposer parses the embedded templates.
func NewComposer() (*Composer, error) {
	text, err := texttemplate.New("text").ParseFS(templateFS, "templates/*.txt.tmpl")
	if err != nil {
		return nil, oops.Code("NOTIFY_TEMPLATE_INVALID").Wrap(err)
	}
	html, err := htmltemplate.New("html").ParseFS(templateFS, "templates/*.html.tmpl")
	if err != nil {
		return nil, oops.Code("NOTIFY_TEMPLATE_INVALID").Wrap(err)
	}
	return &Composer{text: text, html: html}, nil
}

// Compose renders kind for recipient to.
func (c *Composer) Compose(kind Kind, to string, data Data) (Message, error) {
	subject, ok := subjects[kind]
	if !ok {
		return Message{}, oops.Code("NOTIFY_KIND_UNKNOWN").With("kind", kind.String()).Errorf("unknown message kind")
	}
	if data.DisplayName == "" {
		data.DisplayName = "there"
	}

	var text, html bytes.Buffer
	if err := c.text.ExecuteTemplate(&text, string(kind)+".txt.tmpl", data); err != nil {
		return Message{}, oops.Code("NOTIFY_RENDER_FAILED").With("kind", kind.String()).Wrap(err)
	}
	if err := c.html.ExecuteTemplate(&html, string(kind)+".html.tmpl", data); err != nil {
		return Message{}, oops.Code("NOTIFY_RENDER_FAILED").With("kind", kind.String()).Wrap(err)
	}

	return Message{
		ID:        newMessageID(),
		Kind:      kind,
		To:        to,
		Subject:   subject,
		Text:      strings.TrimSpace(text.String()),
		HTML:      strings.TrimSpace(html.String()),
		CreatedAt: time.Now().UTC(),
	}, nil
}
