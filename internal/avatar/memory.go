// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package avatar

import (
	"bytes"
	"context"
	"sync"

	"github.com/samber/oops"
)

// MemoryStore keeps avatars in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]Object)}
}

// Put stores a copy of obj under key.
func (s *MemoryStore) Put(_ context.Context, key string, obj Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = Object{Data: bytes.Clone(obj.Data), ContentType: obj.ContentType}
	return nil
}

// Get returns a copy of the avatar under key.
func (s *MemoryStore) Get(_ context.Context, key string) (Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return Object{}, oops.Code(CodeNotFound).With("key", key).Wrap(ErrNotFound)
	}
	return Object{Data: bytes.Clone(obj.Data), ContentType: obj.ContentType}, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Len returns the number of stored avatars.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
