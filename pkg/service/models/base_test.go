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

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/VividCortex/mysqlerr"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"jobflow.io/jobflow/pkg/utils/database"
	"jobflow.io/jobflow/pkg/utils/redis"
)

func sqliteOptions(t *testing.T) *database.Options {
	return &database.Options{Driver: database.DriverSQLite, Database: filepath.Join(t.TempDir(), "models.db")}
}

func TestMigrateDatabase_SQLite(t *testing.T) {
	ctx := context.Background()
	opts := sqliteOptions(t)
	require.NoError(t, WaitDatabaseServer(ctx, opts))
	require.NoError(t, MigrateDatabase(ctx, opts))
	// idempotent
	require.NoError(t, MigrateDatabase(ctx, opts))

	db, err := database.NewDatabase(opts)
	require.NoError(t, err)
	defer db.Close()
	for _, table := range []string{"jobs", "task_templates", "job_tasks", "job_logs", "user_groups", "group_roles", "role_menus"} {
		assert.True(t, db.DB().Migrator().HasTable(table), table)
	}
}

func TestIsDuplicate(t *testing.T) {
	ctx := context.Background()
	opts := sqliteOptions(t)
	require.NoError(t, MigrateDatabase(ctx, opts))
	db, err := database.NewDatabase(opts)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.DB().Create(&Job{Name: "nightly"}).Error)
	err = db.DB().Create(&Job{Name: "nightly"}).Error
	assert.True(t, IsDuplicate(err))

	assert.False(t, IsDuplicate(nil))
	assert.False(t, IsDuplicate(errors.New("boom")))
	assert.True(t, IsDuplicate(&mysql.MySQLError{Number: mysqlerr.ER_DUP_ENTRY}))
	assert.True(t, IsNotFound(db.DB().First(&Job{}, 42).Error))
	assert.False(t, IsNotFound(gorm.ErrInvalidData))
}

func TestFormatMysqlError(t *testing.T) {
	tests := []struct {
		number uint16
		want   string
	}{
		{number: mysqlerr.ER_DUP_ENTRY, want: "duplicate entry (code=1062)"},
		{number: mysqlerr.ER_DATA_TOO_LONG, want: "data too long (code=1406)"},
		{number: 9999, want: "database error (code=9999, message=odd)"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			err := FormatMysqlError(&mysql.MySQLError{Number: tt.number, Message: "odd"})
			assert.EqualError(t, err, tt.want)
		})
	}
}

func TestWaitRedis_Disabled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, WaitRedis(ctx, redis.NewDefaultOptions()))
}
