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

package workerpool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

type Result[R any] struct {
	Value R
	Err   error
}

// Map runs fn over items with at most limit calls in flight.
// Results are indexed like items, whatever the completion order.
// Items not yet started when ctx is done get ctx.Err().
func Map[T, R any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, idx int, item T) (R, error)) []Result[R] {
	if limit < 1 {
		limit = 1
	}
	results := make([]Result[R], len(items))
	sem := semaphore.NewWeighted(int64(limit))
	wg := sync.WaitGroup{}
	for i, item := range items {
		err := ctx.Err()
		if err == nil {
			err = sem.Acquire(ctx, 1)
		}
		if err != nil {
			for j := i; j < len(items); j++ {
				results[j].Err = err
			}
			break
		}
		wg.Add(1)
		go func(i int, item T) {
			defer wg.Done()
			defer sem.Release(1)
			val, err := fn(ctx, i, item)
			results[i] = Result[R]{Value: val, Err: err}
		}(i, item)
	}
	wg.Wait()
	return results
}
