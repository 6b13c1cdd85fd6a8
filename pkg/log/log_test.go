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

package log

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func TestGinLoggerMideare(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)

	router := gin.New()
	router.Use(func(c *gin.Context) { c.Set(RequestIDKey, "rid-1") }, NewGinLoggerMideare(zap.New(core)))
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	router.GET("/boom", func(c *gin.Context) { c.Status(http.StatusBadGateway) })

	tests := []struct {
		path  string
		level zapcore.Level
	}{
		{path: "/ok", level: zapcore.DebugLevel},
		{path: "/missing", level: zapcore.WarnLevel},
		{path: "/boom", level: zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))
			entries := logs.TakeAll()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.level, entries[0].Level)
			fields := entries[0].ContextMap()
			assert.Equal(t, tt.path, fields["path"])
			assert.Equal(t, "rid-1", fields["request_id"])
		})
	}
}

func TestGormLogger_Trace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewGormZapLogger(zap.New(core))
	l.SlowThreshold = time.Second
	l.SkipErrRecordNotFound = true
	sql := func() (string, int64) { return "SELECT 1", 3 }
	ctx := context.Background()

	l.Trace(ctx, time.Now(), sql, nil)
	l.Trace(ctx, time.Now(), sql, gorm.ErrRecordNotFound)
	l.Trace(ctx, time.Now().Add(-2*time.Second), sql, nil)
	l.Trace(ctx, time.Now(), sql, errors.New("deadlock"))

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, int64(3), entries[0].ContextMap()["rows"])
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, "slow query", entries[2].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	assert.Equal(t, "deadlock", entries[3].Message)
}

func TestSetLevel(t *testing.T) {
	defer AtomicLevel.SetLevel(AtomicLevel.Level())
	SetLevel("error")
	assert.Equal(t, zapcore.ErrorLevel, AtomicLevel.Level())
	SetLevel("")
	assert.Equal(t, zapcore.ErrorLevel, AtomicLevel.Level())
}
