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

package routers

import (
	"crypto/subtle"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"jobflow.io/jobflow/pkg/log"
	"jobflow.io/jobflow/pkg/service/handlers"
)

const (
	HeaderAPIKey    = "X-API-KEY"
	HeaderRequestID = "X-Request-ID"
)

// RequestIDMiddleware tags each request with the caller's request id, or a new one.
// The id is echoed back and carried by the request logger.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(HeaderRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(log.RequestIDKey, rid)
		c.Header(HeaderRequestID, rid)
		ctx := log.NewContext(c.Request.Context(), log.LogrLogger.WithValues("request_id", rid))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// APIKeyMiddleware rejects requests without the configured key. An empty key lets everything through.
func APIKeyMiddleware(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}
		got := c.GetHeader(HeaderAPIKey)
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			handlers.Unauthorized(c, errors.New("invalid or missing api key"))
			c.Abort()
			return
		}
		c.Next()
	}
}
