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

// Package jobs manages jobs and their tasks, runs them on the orchestration
// server and rebuilds their execution history from it.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
	"jobflow.io/jobflow/pkg/log"
	"jobflow.io/jobflow/pkg/prefect"
	"jobflow.io/jobflow/pkg/service/errs"
	"jobflow.io/jobflow/pkg/service/models"
)

// Orchestrator is the part of the orchestration api the service depends on.
type Orchestrator interface {
	UpsertConcurrencyLimit(ctx context.Context, tag string, limit int) (*prefect.ConcurrencyLimit, error)
	UpsertVariable(ctx context.Context, name string, value string) (string, error)
	FindFlowByName(ctx context.Context, name string) (*prefect.Flow, error)
	CreateOrUpdateDeployment(ctx context.Context, spec *prefect.DeploymentSpec) (*prefect.Deployment, error)
	TriggerFlowRun(ctx context.Context, deploymentID string, parameters map[string]interface{}, tags []string) (*prefect.FlowRun, error)
	GetFlowRun(ctx context.Context, id string) (*prefect.FlowRun, error)
	FilterFlowRuns(ctx context.Context, q prefect.FlowRunQuery) ([]prefect.FlowRun, error)
	FilterTaskRuns(ctx context.Context, q prefect.TaskRunQuery) ([]prefect.TaskRun, error)
	FilterLogs(ctx context.Context, q prefect.LogQuery) ([]prefect.Log, error)
	FilterVariables(ctx context.Context, names []string) ([]prefect.Variable, error)
	GetFlow(ctx context.Context, id string) (*prefect.Flow, error)
	GetDeployment(ctx context.Context, id string) (*prefect.Deployment, error)
	GetWorkPool(ctx context.Context, name string) (*prefect.WorkPool, error)
}

// PassLocker elects the replica that runs a periodic sync pass.
type PassLocker interface {
	TryLock(ctx context.Context) (unlock func(), ok bool, err error)
}

type Service struct {
	db       *gorm.DB
	orch     Orchestrator
	deploy   *prefect.Options
	options  *Options
	validate *validator.Validate
	metrics  *Metrics
	logger   logr.Logger
	now      func() time.Time
	passLock PassLocker
}

func NewService(db *gorm.DB, orch Orchestrator, deploy *prefect.Options, options *Options, metrics *Metrics) *Service {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Service{
		db:       db,
		orch:     orch,
		deploy:   deploy,
		options:  options,
		validate: validator.New(),
		metrics:  metrics,
		logger:   log.WithName("jobs"),
		now:      time.Now,
	}
}

// SetPassLock makes the periodic sync skip passes while another replica runs one.
func (s *Service) SetPassLock(l PassLocker) {
	s.passLock = l
}

func (s *Service) validateStruct(v interface{}) error {
	if err := s.validate.Struct(v); err != nil {
		verrs := validator.ValidationErrors{}
		if errors.As(err, &verrs) {
			return errs.WrapValidation(err, "invalid request")
		}
		return err
	}
	return nil
}

// getJob loads a job, mapping a missing row to a not found error.
func getJob(ctx context.Context, db *gorm.DB, jobID uint) (*models.Job, error) {
	job := &models.Job{}
	if err := db.WithContext(ctx).First(job, jobID).Error; err != nil {
		if models.IsNotFound(err) {
			return nil, errs.NotFound("job", jobID)
		}
		return nil, err
	}
	return job, nil
}
