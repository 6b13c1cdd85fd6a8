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
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/VividCortex/mysqlerr"
	"github.com/go-logr/logr"
	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"jobflow.io/jobflow/pkg/utils/database"
	"jobflow.io/jobflow/pkg/utils/redis"
	"k8s.io/apimachinery/pkg/util/wait"
)

func createDatabaseIfNotExists(ctx context.Context, opts *database.Options) (exists bool, err error) {
	log := logr.FromContextOrDiscard(ctx)

	cfg := opts.ToDriverConfig()
	dbname := cfg.DBName
	cfg.DBName = ""

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return false, err
	}

	tmpdb := sql.OpenDB(connector)
	defer tmpdb.Close()

	count := 0
	if err := tmpdb.QueryRowContext(ctx, "SELECT count(*) FROM INFORMATION_SCHEMA.SCHEMATA WHERE SCHEMA_NAME = ?", dbname).Scan(&count); err != nil {
		return false, err
	}
	if count > 0 {
		return true, nil
	}

	sqlStr := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` DEFAULT CHARACTER SET utf8mb4 COLLATE `%s`;", dbname, cfg.Collation)
	log.Info("create database", "sql", sqlStr)
	if _, err := tmpdb.ExecContext(ctx, sqlStr); err != nil {
		return false, err
	}
	return false, nil
}

// MigrateDatabase creates the mysql database when missing and migrates all tables.
func MigrateDatabase(ctx context.Context, opts *database.Options) error {
	log := logr.FromContextOrDiscard(ctx)
	log.Info("migrate database", "driver", opts.Driver, "database", opts.Database)

	if opts.Driver == database.DriverMySQL || opts.Driver == "" {
		if _, err := createDatabaseIfNotExists(ctx, opts); err != nil {
			return err
		}
	}
	db, err := database.NewDatabase(opts)
	if err != nil {
		return err
	}
	defer db.Close()
	return MigrateModels(db.DB())
}

func MigrateModels(db *gorm.DB) error {
	return db.AutoMigrate(
		// task templates, jobs and the ordered links between them
		&TaskTemplate{}, &Job{}, &JobTaskLink{},
		// logs synced from the orchestration server
		&JobLog{},
		// admin accounts and their associations
		&User{}, &Group{}, &Role{}, &Menu{},
		&UserGroup{}, &GroupRole{}, &RoleMenu{},
	)
}

func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// IsDuplicate reports a unique constraint violation from any supported driver.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	me := &mysql.MySQLError{}
	if errors.As(err, &me) {
		return me.Number == mysqlerr.ER_DUP_ENTRY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func FormatMysqlError(me *mysql.MySQLError) error {
	switch me.Number {
	case mysqlerr.ER_DUP_ENTRY:
		return fmt.Errorf("duplicate entry (code=%v)", me.Number)
	case mysqlerr.ER_DATA_TOO_LONG:
		return fmt.Errorf("data too long (code=%v)", me.Number)
	case mysqlerr.ER_TRUNCATED_WRONG_VALUE:
		return fmt.Errorf("invalid value format (code=%v)", me.Number)
	case mysqlerr.ER_NO_REFERENCED_ROW_2:
		return fmt.Errorf("referenced row does not exist (code=%v)", me.Number)
	case mysqlerr.ER_ROW_IS_REFERENCED_2:
		return fmt.Errorf("row is still referenced (code=%v)", me.Number)
	default:
		return fmt.Errorf("database error (code=%v, message=%v)", me.Number, me.Message)
	}
}

const WaitPerid = 5 * time.Second

func WaitDatabaseServer(ctx context.Context, opts *database.Options) error {
	if opts.Driver == database.DriverSQLite {
		return nil
	}
	log := logr.FromContextOrDiscard(ctx)
	cfg := opts.ToDriverConfig()
	cfg.DBName = ""
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return err
	}
	sqldb := sql.OpenDB(connector)
	defer sqldb.Close()
	return wait.PollUntilContextCancel(ctx, WaitPerid, true, func(ctx context.Context) (done bool, err error) {
		if err := sqldb.PingContext(ctx); err != nil {
			log.Error(err, "wait database")
			return false, nil
		}
		log.Info("database server ready")
		return true, nil
	})
}

func WaitRedis(ctx context.Context, opts *redis.Options) error {
	if !opts.Enabled() {
		return nil
	}
	log := logr.FromContextOrDiscard(ctx)
	return wait.PollUntilContextCancel(ctx, WaitPerid, true, func(ctx context.Context) (done bool, err error) {
		cli, err := redis.NewClient(ctx, opts)
		if err != nil {
			log.Error(err, "wait redis")
			return false, nil
		}
		_ = cli.Close()
		log.Info("redis ready")
		return true, nil
	})
}
