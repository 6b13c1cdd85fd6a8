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

// Package relations maintains the many to many links between admin users,
// groups, roles and menus.
package relations

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"gorm.io/gorm"
	"jobflow.io/jobflow/pkg/log"
	"jobflow.io/jobflow/pkg/service/errs"
	"jobflow.io/jobflow/pkg/service/models"
	"jobflow.io/jobflow/pkg/utils/set"
)

// LinkTable is the association table K between rows of L and rows of R.
type LinkTable[L, R, K any] struct {
	db          *gorm.DB
	table       string
	leftColumn  string
	rightColumn string
	leftName    string
	rightName   string
	logger      logr.Logger
}

func NewLinkTable[L, R, K any](db *gorm.DB, table, leftColumn, rightColumn, leftName, rightName string) *LinkTable[L, R, K] {
	return &LinkTable[L, R, K]{
		db:          db,
		table:       table,
		leftColumn:  leftColumn,
		rightColumn: rightColumn,
		leftName:    leftName,
		rightName:   rightName,
		logger:      log.WithName("relations").WithValues("table", table),
	}
}

func (t *LinkTable[L, R, K]) Name() string {
	return t.table
}

// Reconcile makes the rows linked to leftID equal to desired in one transaction.
// Every id of desired must exist; nothing changes otherwise.
func (t *LinkTable[L, R, K]) Reconcile(ctx context.Context, leftID uint, desired []uint) (set.Diff[uint], error) {
	diff := set.Diff[uint]{}
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := t.checkLeft(tx, leftID); err != nil {
			return err
		}
		if err := t.checkRight(tx, desired); err != nil {
			return err
		}
		current, err := t.list(tx, leftID)
		if err != nil {
			return err
		}
		diff = set.Differ(desired, current)
		if len(diff.ToRemove) > 0 {
			err := tx.Model(new(K)).
				Where(t.leftColumn+" = ?", leftID).
				Where(t.rightColumn+" IN ?", diff.ToRemove).
				Delete(new(K)).Error
			if err != nil {
				return err
			}
		}
		if len(diff.ToAdd) > 0 {
			rows := make([]map[string]interface{}, len(diff.ToAdd))
			for i, id := range diff.ToAdd {
				rows[i] = map[string]interface{}{t.leftColumn: leftID, t.rightColumn: id}
			}
			if err := tx.Model(new(K)).Create(rows).Error; err != nil {
				if models.IsDuplicate(err) {
					return errs.Conflict(err, "concurrent change of "+t.table)
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		return set.Diff[uint]{}, err
	}
	t.logger.Info("links reconciled", t.leftColumn, leftID, "added", diff.ToAdd, "removed", diff.ToRemove)
	return diff, nil
}

// Remove deletes a single link.
func (t *LinkTable[L, R, K]) Remove(ctx context.Context, leftID, rightID uint) error {
	res := t.db.WithContext(ctx).
		Where(t.leftColumn+" = ? AND "+t.rightColumn+" = ?", leftID, rightID).
		Delete(new(K))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.NotFound(t.leftName+" "+t.rightName+" link", fmt.Sprintf("%d/%d", leftID, rightID))
	}
	return nil
}

// List returns the ids linked to leftID, ascending.
func (t *LinkTable[L, R, K]) List(ctx context.Context, leftID uint) ([]uint, error) {
	db := t.db.WithContext(ctx)
	if err := t.checkLeft(db, leftID); err != nil {
		return nil, err
	}
	return t.list(db, leftID)
}

func (t *LinkTable[L, R, K]) list(db *gorm.DB, leftID uint) ([]uint, error) {
	ids := []uint{}
	err := db.Model(new(K)).Where(t.leftColumn+" = ?", leftID).Order(t.rightColumn).Pluck(t.rightColumn, &ids).Error
	return ids, err
}

func (t *LinkTable[L, R, K]) checkLeft(db *gorm.DB, leftID uint) error {
	var count int64
	if err := db.Model(new(L)).Where("id = ?", leftID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return errs.NotFound(t.leftName, leftID)
	}
	return nil
}

func (t *LinkTable[L, R, K]) checkRight(db *gorm.DB, ids []uint) error {
	want := set.NewSet(ids...)
	if want.Len() == 0 {
		return nil
	}
	found := []uint{}
	if err := db.Model(new(R)).Where("id IN ?", want.Slice()).Pluck("id", &found).Error; err != nil {
		return err
	}
	if len(found) == want.Len() {
		return nil
	}
	missing := set.Differ(want.Slice(), found).ToAdd
	return errs.Validation("unknown %s ids %v", t.rightName, missing)
}

// Service holds the admin association tables.
type Service struct {
	UserGroups *LinkTable[models.User, models.Group, models.UserGroup]
	GroupRoles *LinkTable[models.Group, models.Role, models.GroupRole]
	RoleMenus  *LinkTable[models.Role, models.Menu, models.RoleMenu]
}

func NewService(db *gorm.DB) *Service {
	return &Service{
		UserGroups: NewLinkTable[models.User, models.Group, models.UserGroup](db, "user_groups", "user_id", "group_id", "user", "group"),
		GroupRoles: NewLinkTable[models.Group, models.Role, models.GroupRole](db, "group_roles", "group_id", "role_id", "group", "role"),
		RoleMenus:  NewLinkTable[models.Role, models.Menu, models.RoleMenu](db, "role_menus", "role_id", "menu_id", "role", "menu"),
	}
}
