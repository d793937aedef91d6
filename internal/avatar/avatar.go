// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

// Package avatar stores the profile images uploaded at registration.
package avatar

import (
	"context"
	"errors"
	"net/http"

	"github.com/samber/oops"
)

// DefaultMaxBytes is the default upload limit.
const DefaultMaxBytes = 2 << 20

// Error codes.
const (
	// CodeInvalidAvatar is the field error code for a rejected upload.
	CodeInvalidAvatar = "INVALID_AVATAR"
	CodeNotFound      = "AVATAR_NOT_FOUND"
)

// ErrNotFound is returned when no avatar is stored under a key.
var ErrNotFound = errors.New("avatar not found")

var allowedTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// Object is a stored avatar.
type Object struct {
	Data        []byte
	ContentType string
}

// Store persists avatar blobs by key.
type Store interface {
	Put(ctx context.Context, key string, obj Object) error
	Get(ctx context.Context, key string) (Object, error)
	Delete(ctx context.Context, key string) error
}

// Sniff checks size and content and returns the detected content type.
// The declared type of an upload is ignored.
func Sniff(data []byte, maxBytes int) (string, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if len(data) == 0 {
		return "", invalid("avatar is empty")
	}
	if len(data) > maxBytes {
		return "", oops.Code(CodeInvalidAvatar).
			With("field", "avatar").
			With("size", len(data)).
			With("max_bytes", maxBytes).
			Errorf("avatar exceeds %d bytes", maxBytes)
	}
	ct := http.DetectContentType(data)
	if !allowedTypes[ct] {
		return "", oops.Code(CodeInvalidAvatar).
			With("field", "avatar").
			With("content_type", ct).
			Errorf("avatar must be a PNG, JPEG, GIF or WebP image")
	}
	return ct, nil
}

func invalid(msg string) error {
	return oops.Code(CodeInvalidAvatar).With("field", "avatar").Errorf("%s", msg)
}
