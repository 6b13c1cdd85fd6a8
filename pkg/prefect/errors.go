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

package prefect

import (
	"errors"
	"fmt"
	"net/http"
)

// OrchestrationError is returned for any failed call to the prefect api,
// either a non 2xx response or a transport failure (StatusCode 0).
type OrchestrationError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	Err        error
}

func (e *OrchestrationError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("prefect %s %s: %v", e.Method, e.Path, e.Err)
	}
	return fmt.Sprintf("prefect %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, truncate(e.Body, 512))
}

func (e *OrchestrationError) Unwrap() error {
	return e.Err
}

func IsNotFound(err error) bool {
	oe := &OrchestrationError{}
	return errors.As(err, &oe) && oe.StatusCode == http.StatusNotFound
}

// IsConflict reports a write rejected because the name is already taken.
func IsConflict(err error) bool {
	oe := &OrchestrationError{}
	return errors.As(err, &oe) && oe.StatusCode == http.StatusConflict
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
