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

package adminhandler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"jobflow.io/jobflow/pkg/service/models"
	"jobflow.io/jobflow/pkg/service/relations"
	"jobflow.io/jobflow/pkg/utils/database"
)

func setup(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := database.NewDatabase(&database.Options{
		Driver:   database.DriverSQLite,
		Database: filepath.Join(t.TempDir(), "admin.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, models.MigrateModels(db.DB()))

	router := gin.New()
	h := &AdminHandler{Relations: relations.NewService(db.DB())}
	h.RegistRouter(router.Group("/api"))
	return router, db.DB()
}

func request(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAdminHandler_Links(t *testing.T) {
	router, db := setup(t)
	role := &models.Role{Name: "viewer"}
	require.NoError(t, db.Create(role).Error)
	menus := []models.Menu{{Name: "jobs", Path: "/jobs"}, {Name: "logs", Path: "/logs"}}
	require.NoError(t, db.Create(&menus).Error)

	w := request(router, http.MethodPut, "/api/admin/roles/1/menus", `{"ids":[2,1]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := struct {
		Data struct {
			ToAdd    []uint `json:"toAdd"`
			ToRemove []uint `json:"toRemove"`
		} `json:"data"`
	}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []uint{1, 2}, body.Data.ToAdd)
	assert.Empty(t, body.Data.ToRemove)

	w = request(router, http.MethodDelete, "/api/admin/roles/1/menus/1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = request(router, http.MethodDelete, "/api/admin/roles/1/menus/1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = request(router, http.MethodGet, "/api/admin/roles/1/menus", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"ok","data":[2]}`, w.Body.String())
}

func TestAdminHandler_Errors(t *testing.T) {
	router, db := setup(t)
	require.NoError(t, db.Create(&models.User{Username: "alice"}).Error)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
	}{
		{name: "unknown user", method: http.MethodPut, path: "/api/admin/users/9/groups", body: `{"ids":[]}`, code: http.StatusNotFound},
		{name: "unknown group", method: http.MethodPut, path: "/api/admin/users/1/groups", body: `{"ids":[7]}`, code: http.StatusBadRequest},
		{name: "bad id", method: http.MethodGet, path: "/api/admin/groups/x/roles", code: http.StatusBadRequest},
		{name: "bad body", method: http.MethodPut, path: "/api/admin/users/1/groups", body: `{"ids":"a"}`, code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := request(router, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}
