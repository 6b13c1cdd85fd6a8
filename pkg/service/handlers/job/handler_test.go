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

package jobhandler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"jobflow.io/jobflow/pkg/prefect"
	"jobflow.io/jobflow/pkg/service/errs"
	"jobflow.io/jobflow/pkg/service/jobs"
	"jobflow.io/jobflow/pkg/service/models"
	"jobflow.io/jobflow/pkg/utils/database"
)

type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.NewDatabase(&database.Options{
		Driver:   database.DriverSQLite,
		Database: filepath.Join(t.TempDir(), "handler.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, models.MigrateModels(db.DB()))

	// an orchestration server failing every request
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"unavailable"}`, http.StatusServiceUnavailable)
	}))
	t.Cleanup(upstream.Close)

	popts := prefect.NewDefaultOptions()
	popts.URL = upstream.URL
	popts.Timeout = 5 * time.Second
	jopts := jobs.NewDefaultOptions()
	jopts.StreamRetries = 1
	jopts.StreamRetryInterval = time.Millisecond

	svc := jobs.NewService(db.DB(), prefect.NewClient(popts, nil), popts, jopts, nil)
	router := gin.New()
	h := &JobHandler{Service: svc}
	h.RegistRouter(router.Group("/api"))
	return router
}

func do(t *testing.T, router http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	env := envelope{}
	if w.Body.Len() > 0 && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestJobHandler_CRUD(t *testing.T) {
	router := setupRouter(t)

	w, env := do(t, router, http.MethodPost, "/api/jobs/batch", map[string]interface{}{
		"name":       "etl",
		"concurrent": 2,
		"schedule":   map[string]interface{}{"type": "interval", "value": 30, "unit": "minutes"},
		"tasks": []map[string]interface{}{
			{"name": "extract", "script_type": "python", "script_content": "print(1)"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	job := models.Job{}
	require.NoError(t, json.Unmarshal(env.Data, &job))
	assert.Equal(t, "30", job.ScheduleValue)
	require.Len(t, job.Tasks, 1)

	w, env = do(t, router, http.MethodPost, "/api/jobs/batch", map[string]interface{}{"name": "etl"})
	require.Equal(t, http.StatusConflict, w.Code)
	detail := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(env.Error, &detail))
	assert.Equal(t, errs.CodeJobNameExists, detail["code"])
	assert.Equal(t, float64(job.ID), detail["existingId"])

	w, _ = do(t, router, http.MethodPost, "/api/jobs/batch", "not an object")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = do(t, router, http.MethodPost, "/api/jobs/1/tasks", map[string]interface{}{"name": "load", "script_type": "shell"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	link := models.JobTaskLink{}
	require.NoError(t, json.Unmarshal(env.Data, &link))
	assert.Equal(t, 1, link.ExecutionOrder)

	w, env = do(t, router, http.MethodGet, "/api/jobs/1/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	links := []models.JobTaskLink{}
	require.NoError(t, json.Unmarshal(env.Data, &links))
	assert.Len(t, links, 2)

	w, _ = do(t, router, http.MethodPut, "/api/jobs/tasks/"+jsonID(link.ID), map[string]interface{}{"name": "load2", "script_type": "shell"})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = do(t, router, http.MethodDelete, "/api/jobs/tasks/"+jsonID(link.ID), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, env = do(t, router, http.MethodPut, "/api/jobs/1", map[string]interface{}{"name": "etl2", "concurrent": 1, "schedule_type": "cron", "schedule_value": "0 2 * * *"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = do(t, router, http.MethodGet, "/api/jobs", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, router, http.MethodGet, "/api/jobs/abc/tasks", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, router, http.MethodDelete, "/api/jobs/1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w, _ = do(t, router, http.MethodDelete, "/api/jobs/1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobHandler_Orchestration(t *testing.T) {
	router := setupRouter(t)
	w, _ := do(t, router, http.MethodPost, "/api/jobs/batch", map[string]interface{}{"name": "remote"})
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = do(t, router, http.MethodPost, "/api/jobs/1/trigger", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w, env := do(t, router, http.MethodGet, "/api/jobs/1/history", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"code":"NO_RUN_YET"}`, string(env.Error))

	w, _ = do(t, router, http.MethodGet, "/api/jobs/1/info", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, router, http.MethodPost, "/api/jobs/1/logs/sync", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env = do(t, router, http.MethodGet, "/api/jobs/1/logs", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(env.Data))

	w, _ = do(t, router, http.MethodGet, "/api/jobs/flow-run-status/run-1", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestJobHandler_Stream(t *testing.T) {
	router := setupRouter(t)
	w, _ := do(t, router, http.MethodPost, "/api/jobs/batch", map[string]interface{}{"name": "streamed"})
	require.Equal(t, http.StatusCreated, w.Code)

	t.Run("sse", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/jobs/1/stream", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Body.String(), "event:message")
		assert.Contains(t, w.Body.String(), `"type":"error"`)
		assert.Contains(t, w.Body.String(), "No flow run found")
	})

	t.Run("websocket", func(t *testing.T) {
		srv := httptest.NewServer(router)
		defer srv.Close()
		conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/jobs/1/stream/ws", nil)
		require.NoError(t, err)
		defer conn.Close()

		ev := jobs.StreamEvent{}
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, jobs.EventError, ev.Type)
		assert.Contains(t, ev.Message, "No flow run found")

		_, _, err = conn.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	})
}

func jsonID(id uint) string {
	raw, _ := json.Marshal(id)
	return string(raw)
}
