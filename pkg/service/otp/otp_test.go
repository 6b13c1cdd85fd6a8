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

package otp

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"jobflow.io/jobflow/pkg/service/errs"
	"jobflow.io/jobflow/pkg/utils/kvstore"
)

type recordingSender struct {
	sent map[string]string
	err  error
}

func (r *recordingSender) Send(ctx context.Context, email, code string) error {
	if r.err != nil {
		return r.err
	}
	r.sent[email] = code
	return nil
}

func newRedisBackedService(t *testing.T, sender Sender) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cli.Close() })
	return NewService(kvstore.NewRedisStore(cli, "jobflow:"), sender, NewDefaultOptions()), mr
}

func TestService_IssueVerifyConsume(t *testing.T) {
	ctx := context.Background()
	sender := &recordingSender{sent: map[string]string{}}
	svc := NewService(kvstore.NewMemoryStore(0, 0), sender, NewDefaultOptions())

	code, err := svc.Issue(ctx, " Alice@Example.com ")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[0-9]{6}$`), code)
	assert.Equal(t, code, sender.sent["alice@example.com"])

	require.NoError(t, svc.Verify(ctx, "alice@example.com", code))
	require.NoError(t, svc.Verify(ctx, "ALICE@example.com", code+" "), "verify does not consume")

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	assert.True(t, errs.IsKind(svc.Verify(ctx, "alice@example.com", wrong), errs.KindValidation))

	require.NoError(t, svc.Consume(ctx, "alice@example.com"))
	assert.True(t, errs.IsKind(svc.Verify(ctx, "alice@example.com", code), errs.KindValidation))
}

func TestService_Expiry(t *testing.T) {
	ctx := context.Background()
	svc, mr := newRedisBackedService(t, &recordingSender{sent: map[string]string{}})

	code, err := svc.Issue(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.True(t, mr.Exists("jobflow:otp:bob@example.com"))
	require.NoError(t, svc.Verify(ctx, "bob@example.com", code))

	mr.FastForward(5*time.Minute + time.Second)
	assert.True(t, errs.IsKind(svc.Verify(ctx, "bob@example.com", code), errs.KindValidation))
}

func TestService_ReissueReplacesCode(t *testing.T) {
	ctx := context.Background()
	sender := &recordingSender{sent: map[string]string{}}
	svc, mr := newRedisBackedService(t, sender)

	_, err := svc.Issue(ctx, "carol@example.com")
	require.NoError(t, err)
	second, err := svc.Issue(ctx, "carol@example.com")
	require.NoError(t, err)

	stored, err := mr.Get("jobflow:otp:carol@example.com")
	require.NoError(t, err)
	assert.Equal(t, second, stored)
}

func TestService_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid email", func(t *testing.T) {
		svc := NewService(kvstore.NewMemoryStore(0, 0), nil, NewDefaultOptions())
		_, err := svc.Issue(ctx, "not-an-email")
		assert.True(t, errs.IsKind(err, errs.KindValidation))
		assert.True(t, errs.IsKind(svc.Verify(ctx, "", "123456"), errs.KindValidation))
	})

	t.Run("failed delivery drops the code", func(t *testing.T) {
		store := kvstore.NewMemoryStore(0, 0)
		svc := NewService(store, &recordingSender{err: errors.New("smtp down")}, NewDefaultOptions())
		_, err := svc.Issue(ctx, "dave@example.com")
		assert.EqualError(t, err, "smtp down")
		_, ok, err := store.Get(ctx, keyPrefix+"dave@example.com")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("default sender", func(t *testing.T) {
		svc := NewService(kvstore.NewMemoryStore(0, 0), nil, NewDefaultOptions())
		code, err := svc.Issue(ctx, "erin@example.com")
		require.NoError(t, err)
		assert.NoError(t, svc.Verify(ctx, "erin@example.com", code))
	})
}
