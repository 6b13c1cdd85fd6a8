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
	"context"

	"github.com/gin-gonic/gin"
	"jobflow.io/jobflow/pkg/service/handlers"
	"jobflow.io/jobflow/pkg/service/relations"
	"jobflow.io/jobflow/pkg/utils/set"
)

// linker is the part of a relations.LinkTable the handlers use.
type linker interface {
	Name() string
	Reconcile(ctx context.Context, leftID uint, desired []uint) (set.Diff[uint], error)
	Remove(ctx context.Context, leftID, rightID uint) error
	List(ctx context.Context, leftID uint) ([]uint, error)
}

type ReconcileRequest struct {
	IDs []uint `json:"ids"`
}

type AdminHandler struct {
	Relations *relations.Service
}

func (h *AdminHandler) RegistRouter(rg *gin.RouterGroup) {
	registLinks(rg, "/admin/users/:id/groups", h.Relations.UserGroups)
	registLinks(rg, "/admin/groups/:id/roles", h.Relations.GroupRoles)
	registLinks(rg, "/admin/roles/:id/menus", h.Relations.RoleMenus)
}

func registLinks(rg *gin.RouterGroup, path string, table linker) {
	rg.GET(path, listLinks(table))
	rg.PUT(path, reconcileLinks(table))
	rg.DELETE(path+"/:target_id", removeLink(table))
}

// listLinks
// @Tags         Admin
// @Summary      ids linked to a user, group or role
// @Produce      json
// @Param        id   path      int  true  "left id"
// @Success      200  {object}  handlers.ResponseStruct{Data=[]uint}  "ids"
// @Router       /api/admin/users/{id}/groups [get]
func listLinks(table linker) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := handlers.ParamUint(c, "id")
		if err != nil {
			handlers.NotOK(c, err)
			return
		}
		ids, err := table.List(c.Request.Context(), id)
		if err != nil {
			handlers.NotOK(c, err)
			return
		}
		handlers.OK(c, ids)
	}
}

// reconcileLinks
// @Tags         Admin
// @Summary      make the linked ids equal to the given ones
// @Accept       json
// @Produce      json
// @Param        id    path      int               true  "left id"
// @Param        body  body      ReconcileRequest  true  "ids"
// @Success      200   {object}  handlers.ResponseStruct{Data=set.Diff[uint]}  "applied change"
// @Router       /api/admin/users/{id}/groups [put]
func reconcileLinks(table linker) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := handlers.ParamUint(c, "id")
		if err != nil {
			handlers.NotOK(c, err)
			return
		}
		req := &ReconcileRequest{}
		if err := handlers.BindJSON(c, req); err != nil {
			handlers.NotOK(c, err)
			return
		}
		diff, err := table.Reconcile(c.Request.Context(), id, req.IDs)
		if err != nil {
			handlers.NotOK(c, err)
			return
		}
		handlers.OK(c, diff)
	}
}

// removeLink
// @Tags         Admin
// @Summary      unlink a single id
// @Param        id         path  int  true  "left id"
// @Param        target_id  path  int  true  "right id"
// @Success      204
// @Router       /api/admin/users/{id}/groups/{target_id} [delete]
func removeLink(table linker) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := handlers.ParamUint(c, "id")
		if err != nil {
			handlers.NotOK(c, err)
			return
		}
		target, err := handlers.ParamUint(c, "target_id")
		if err != nil {
			handlers.NotOK(c, err)
			return
		}
		if err := table.Remove(c.Request.Context(), id, target); err != nil {
			handlers.NotOK(c, err)
			return
		}
		handlers.NoContent(c)
	}
}
