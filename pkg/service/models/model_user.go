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

package models

import "time"

// User is an admin account. Credentials are managed elsewhere.
type User struct {
	ID        uint       `gorm:"primarykey" json:"id"`
	Username  string     `gorm:"type:varchar(50);uniqueIndex" json:"username" binding:"required"`
	Email     string     `gorm:"type:varchar(255);index" json:"email"`
	IsActive  *bool      `gorm:"default:true" json:"is_active"`
	CreatedAt *time.Time `json:"created_at"`

	Groups []*Group `gorm:"many2many:user_groups;" json:"groups,omitempty"`
}

type Group struct {
	ID          uint   `gorm:"primarykey" json:"id"`
	Name        string `gorm:"type:varchar(100);uniqueIndex" json:"name" binding:"required"`
	Description string `gorm:"type:varchar(255)" json:"description"`

	Roles []*Role `gorm:"many2many:group_roles;" json:"roles,omitempty"`
}

type Role struct {
	ID   uint   `gorm:"primarykey" json:"id"`
	Name string `gorm:"type:varchar(100);uniqueIndex" json:"name" binding:"required"`

	Menus []*Menu `gorm:"many2many:role_menus;" json:"menus,omitempty"`
}

type Menu struct {
	ID       uint   `gorm:"primarykey" json:"id"`
	Name     string `gorm:"type:varchar(100)" json:"name"`
	Path     string `gorm:"type:varchar(255)" json:"path"`
	ParentID *uint  `json:"parent_id"`
}

// UserGroup, GroupRole and RoleMenu are association rows keyed by both ids.

type UserGroup struct {
	UserID  uint `gorm:"primaryKey;autoIncrement:false"`
	GroupID uint `gorm:"primaryKey;autoIncrement:false"`
}

func (UserGroup) TableName() string { return "user_groups" }

type GroupRole struct {
	GroupID uint `gorm:"primaryKey;autoIncrement:false"`
	RoleID  uint `gorm:"primaryKey;autoIncrement:false"`
}

func (GroupRole) TableName() string { return "group_roles" }

type RoleMenu struct {
	RoleID uint `gorm:"primaryKey;autoIncrement:false"`
	MenuID uint `gorm:"primaryKey;autoIncrement:false"`
}

func (RoleMenu) TableName() string { return "role_menus" }
