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

package redis

import (
	"context"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
)

// PassLock lets a single replica at a time run a periodic pass.
type PassLock struct {
	rs     *redsync.Redsync
	name   string
	expiry time.Duration
}

// NewPassLock creates a lock held at most expiry, so a crashed holder never blocks later passes.
func NewPassLock(cli *Client, name string, expiry time.Duration) *PassLock {
	return &PassLock{
		rs:     redsync.New(goredis.NewPool(cli.Client)),
		name:   name,
		expiry: expiry,
	}
}

// TryLock makes one attempt at the lock. ok is false when another replica holds it.
func (l *PassLock) TryLock(ctx context.Context) (unlock func(), ok bool, err error) {
	mutex := l.rs.NewMutex(l.name, redsync.WithExpiry(l.expiry), redsync.WithTries(1))
	if err := mutex.LockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, false, nil
	}
	return func() { _, _ = mutex.Unlock() }, true, nil
}
