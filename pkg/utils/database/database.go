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

package database

import (
	"fmt"
	"time"

	driver "github.com/go-sql-driver/mysql"
	"github.com/spf13/pflag"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"jobflow.io/jobflow/pkg/log"
	"jobflow.io/jobflow/pkg/utils"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

type Options struct {
	Driver       string        `json:"driver,omitempty" description:"database driver, mysql or sqlite"`
	Addr         string        `json:"addr,omitempty" description:"mysql host addr"`
	Username     string        `json:"username,omitempty" description:"mysql username"`
	Password     string        `json:"password,omitempty" description:"mysql password"`
	Database     string        `json:"database,omitempty" description:"database to use, a file path for sqlite"`
	MaxOpenConns int           `json:"maxOpenConns,omitempty" description:"max open connections"`
	MaxIdleTime  time.Duration `json:"maxIdleTime,omitempty" description:"max connection idle time"`
}

func NewDefaultOptions() *Options {
	return &Options{
		Driver:       DriverMySQL,
		Addr:         "jobflow-mysql:3306",
		Username:     "root",
		Password:     "",
		Database:     "jobflow",
		MaxOpenConns: 20,
		MaxIdleTime:  5 * time.Minute,
	}
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.StringVar(&o.Driver, utils.JoinFlagName(prefix, "driver"), o.Driver, "database driver, mysql or sqlite")
	fs.StringVar(&o.Addr, utils.JoinFlagName(prefix, "addr"), o.Addr, "mysql host addr")
	fs.StringVar(&o.Username, utils.JoinFlagName(prefix, "username"), o.Username, "mysql username")
	fs.StringVar(&o.Password, utils.JoinFlagName(prefix, "password"), o.Password, "mysql password")
	fs.StringVar(&o.Database, utils.JoinFlagName(prefix, "database"), o.Database, "database to use, a file path for sqlite")
	fs.IntVar(&o.MaxOpenConns, utils.JoinFlagName(prefix, "maxopenconns"), o.MaxOpenConns, "max open connections")
	fs.DurationVar(&o.MaxIdleTime, utils.JoinFlagName(prefix, "maxidletime"), o.MaxIdleTime, "max connection idle time")
}

type Database struct {
	db      *gorm.DB
	options *Options
}

func (o *Database) DB() *gorm.DB {
	return o.db
}

func (o *Database) Options() *Options {
	return o.options
}

func (o *Database) Close() error {
	sqldb, err := o.db.DB()
	if err != nil {
		return err
	}
	return sqldb.Close()
}

func NewDatabase(options *Options) (*Database, error) {
	dialector, err := options.Dialector()
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         log.NewDefaultGormZapLogger(),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	sqldb, err := db.DB()
	if err != nil {
		return nil, err
	}
	switch options.Driver {
	case DriverSQLite:
		// sqlite allows a single writer; serialize transactions on one connection.
		sqldb.SetMaxOpenConns(1)
	default:
		if options.MaxOpenConns > 0 {
			sqldb.SetMaxOpenConns(options.MaxOpenConns)
		}
		sqldb.SetConnMaxIdleTime(options.MaxIdleTime)
	}
	return &Database{db: db, options: options}, nil
}

func (opts *Options) Dialector() (gorm.Dialector, error) {
	switch opts.Driver {
	case DriverMySQL, "":
		return mysql.Open(opts.ToDsn()), nil
	case DriverSQLite:
		return sqlite.Open(opts.Database + "?_foreign_keys=on&_busy_timeout=5000"), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
}

func (opts *Options) ToDsnWithOutDB() (string, string) {
	cfg := opts.ToDriverConfig()
	dbname := cfg.DBName
	cfg.DBName = ""
	return cfg.FormatDSN(), dbname
}

func (opts *Options) ToDsn() string {
	return opts.ToDriverConfig().FormatDSN()
}

func (opts *Options) ToDriverConfig() *driver.Config {
	cfg := driver.NewConfig()
	cfg.User = opts.Username
	cfg.Passwd = opts.Password
	cfg.Net = "tcp"
	cfg.Addr = opts.Addr
	cfg.DBName = opts.Database
	cfg.ParseTime = true
	cfg.Collation = "utf8mb4_general_ci"
	cfg.Loc = time.Local
	cfg.AllowNativePasswords = true
	return cfg
}
