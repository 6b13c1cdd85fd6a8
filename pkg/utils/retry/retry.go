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

package retry

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// Fixed returns a backoff making at most attempts tries with a constant interval between them.
func Fixed(attempts int, interval time.Duration) wait.Backoff {
	return wait.Backoff{
		Steps:    attempts,
		Duration: interval,
		Factor:   1,
	}
}

// OnError calls fn until it succeeds, isRetry rejects its error or the backoff is exhausted.
// The last error of fn is returned on exhaustion.
func OnError(ctx context.Context, backoff wait.Backoff, isRetry func(error) bool, fn func(ctx context.Context) error) error {
	var lastErr error
	err := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		err := fn(ctx)
		switch {
		case err == nil:
			return true, nil
		case isRetry(err):
			lastErr = err
			return false, nil
		default:
			return false, err
		}
	})
	if err != nil && wait.Interrupted(err) && lastErr != nil {
		return lastErr
	}
	return err
}
