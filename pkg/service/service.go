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

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"jobflow.io/jobflow/pkg/log"
	"jobflow.io/jobflow/pkg/prefect"
	"jobflow.io/jobflow/pkg/service/jobs"
	"jobflow.io/jobflow/pkg/service/models"
	"jobflow.io/jobflow/pkg/service/options"
	"jobflow.io/jobflow/pkg/service/otp"
	"jobflow.io/jobflow/pkg/service/relations"
	"jobflow.io/jobflow/pkg/service/routers"
	"jobflow.io/jobflow/pkg/utils/database"
	"jobflow.io/jobflow/pkg/utils/kvstore"
	"jobflow.io/jobflow/pkg/utils/pprof"
	"jobflow.io/jobflow/pkg/utils/redis"
	"jobflow.io/jobflow/pkg/utils/system"
)

const (
	memoryStoreSize   = 4096
	memoryStoreMaxTTL = time.Hour
	redisKeyPrefix    = "jobflow:"
	syncLockName      = redisKeyPrefix + "logsync"
	syncLockExpiry    = 10 * time.Minute
)

type Dependencies struct {
	Options  *options.Options
	Redis    *redis.Client
	Database *database.Database
	Store    kvstore.Store
	Registry *prometheus.Registry
}

func (d *Dependencies) Close() {
	if d.Redis != nil {
		d.Redis.Close()
	}
	if d.Database != nil {
		d.Database.Close()
	}
}

func prepareDependencies(ctx context.Context, options *options.Options) (*Dependencies, error) {
	log.SetLevel(options.LogLevel)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deps := &Dependencies{Options: options, Registry: reg}

	if err := models.WaitDatabaseServer(ctx, options.Database); err != nil {
		return nil, err
	}
	db, err := database.NewDatabase(options.Database)
	if err != nil {
		return nil, err
	}
	deps.Database = db

	// redis is optional, ephemeral state stays in process without it
	if options.Redis.Enabled() {
		if err := models.WaitRedis(ctx, options.Redis); err != nil {
			deps.Close()
			return nil, err
		}
		rediscli, err := redis.NewClient(ctx, options.Redis)
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.Redis = rediscli
		deps.Store = kvstore.NewRedisStore(rediscli.Client, redisKeyPrefix)
	} else {
		log.FromContextOrDiscard(ctx).Info("redis not configured, using in memory store")
		deps.Store = kvstore.NewMemoryStore(memoryStoreSize, memoryStoreMaxTTL)
	}
	return deps, nil
}

func Run(ctx context.Context, options *options.Options) error {
	ctx = log.NewContext(ctx, log.LogrLogger)
	deps, err := prepareDependencies(ctx, options)
	if err != nil {
		return fmt.Errorf("failed init dependencies: %v", err)
	}
	defer deps.Close()

	if !options.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if err := models.MigrateModels(deps.Database.DB()); err != nil {
		return fmt.Errorf("migrate database: %v", err)
	}

	orch := prefect.NewClient(options.Prefect, prefect.NewMetrics(deps.Registry))
	jobService := jobs.NewService(deps.Database.DB(), orch, options.Prefect, options.Jobs, jobs.NewMetrics(deps.Registry))
	if deps.Redis != nil {
		jobService.SetPassLock(redis.NewPassLock(deps.Redis, syncLockName, syncLockExpiry))
	}

	router := routers.NewRouter(deps.Registry, deps.Registry)
	routers.RegistRouter(router, options.System, routers.Services{
		Jobs:      jobService,
		Relations: relations.NewService(deps.Database.DB()),
		OTP:       otp.NewService(deps.Store, nil, options.OTP),
	})

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return system.ListenAndServeContext(ctx, options.System.Listen, router)
	})
	eg.Go(func() error {
		return jobService.RunSyncWorker(ctx)
	})
	eg.Go(func() error {
		return pprof.Run(ctx, options.System.DebugListen)
	})
	return eg.Wait()
}

// Migrate creates the database when missing and creates or updates the tables.
func Migrate(ctx context.Context, options *options.Options) error {
	log.SetLevel(options.LogLevel)
	ctx = log.NewContext(ctx, log.LogrLogger)
	if err := models.WaitDatabaseServer(ctx, options.Database); err != nil {
		return err
	}
	return models.MigrateDatabase(ctx, options.Database)
}
