// Copyright 2022 The jobflow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package idempotent holds the insert-by-unique-key primitive shared by the
// database store and the remote api client.
package idempotent

import (
	"context"
)

// Entry describes how to look up, refresh and create the entry of a unique key.
type Entry[K, ID any] struct {
	// Find reports the id of the entry stored under key, if any.
	Find func(ctx context.Context, key K) (ID, bool, error)
	// Create stores a new entry for key and returns its id.
	Create func(ctx context.Context, key K) (ID, error)
	// Update, if set, refreshes an entry that already exists.
	Update func(ctx context.Context, id ID) error
	// IsConflict, if set, recognizes a Create that lost to a concurrent writer
	// of the same key. The entry is then looked up again.
	IsConflict func(err error) bool
}

// FindOrCreate returns the id of the entry for key, creating it when missing.
// Calling it again with the same key yields the same id.
func FindOrCreate[K, ID any](ctx context.Context, key K, e Entry[K, ID]) (ID, error) {
	id, found, err := e.Find(ctx, key)
	if err != nil {
		return id, err
	}
	if found {
		return id, refresh(ctx, id, e)
	}
	created, err := e.Create(ctx, key)
	if err == nil {
		return created, nil
	}
	if e.IsConflict == nil || !e.IsConflict(err) {
		return created, err
	}
	id, found, ferr := e.Find(ctx, key)
	if ferr != nil {
		return id, ferr
	}
	if !found {
		return id, err
	}
	return id, refresh(ctx, id, e)
}

func refresh[K, ID any](ctx context.Context, id ID, e Entry[K, ID]) error {
	if e.Update == nil {
		return nil
	}
	return e.Update(ctx, id)
}
