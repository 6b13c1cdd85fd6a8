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

package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	pkgerrors "github.com/pkg/errors"
	"jobflow.io/jobflow/pkg/prefect"
	"jobflow.io/jobflow/pkg/service/errs"
	"jobflow.io/jobflow/pkg/service/models"
	"jobflow.io/jobflow/pkg/utils/slug"
)

func ConcurrencyTag(jobName string) string {
	return slug.Make("job-" + jobName)
}

func TasksVariableName(jobID uint) string {
	return fmt.Sprintf("job_%d_tasks", jobID)
}

func ConcurrentVariableName(jobID uint) string {
	return fmt.Sprintf("job_%d_concurrent", jobID)
}

func DeploymentName(jobID uint) string {
	return fmt.Sprintf("job_%d_deployment", jobID)
}

type publishedTask struct {
	Name          string `json:"name"`
	ScriptType    string `json:"script_type"`
	ScriptContent string `json:"script_content"`
}

// Trigger publishes a job to the orchestration server and starts a run of it.
// The run identifiers are stored on the job only when every step succeeded.
func (s *Service) Trigger(ctx context.Context, jobID uint) (*TriggerResult, error) {
	ret, err := s.trigger(ctx, jobID)
	s.metrics.TriggeredJobs.WithLabelValues(result(err)).Inc()
	return ret, err
}

func (s *Service) trigger(ctx context.Context, jobID uint) (*TriggerResult, error) {
	log := s.logger.WithValues("job", jobID)

	job, err := s.reloadJob(ctx, jobID)
	if err != nil {
		if models.IsNotFound(err) {
			return nil, errs.NotFound("job", jobID)
		}
		return nil, err
	}

	tag := ConcurrencyTag(job.Name)
	if _, err := s.orch.UpsertConcurrencyLimit(ctx, tag, job.ConcurrencyLimit); err != nil {
		return nil, pkgerrors.WithMessage(err, "upsert concurrency limit")
	}

	tasks := make([]publishedTask, 0, len(job.Tasks))
	for _, link := range job.Tasks {
		if link.TaskTemplate == nil {
			continue
		}
		tasks = append(tasks, publishedTask{
			Name:          link.TaskTemplate.Name,
			ScriptType:    link.TaskTemplate.ScriptType,
			ScriptContent: link.TaskTemplate.ScriptContent,
		})
	}
	tasksJSON, err := json.Marshal(tasks)
	if err != nil {
		return nil, err
	}
	if _, err := s.orch.UpsertVariable(ctx, TasksVariableName(job.ID), string(tasksJSON)); err != nil {
		return nil, pkgerrors.WithMessage(err, "publish tasks variable")
	}
	if _, err := s.orch.UpsertVariable(ctx, ConcurrentVariableName(job.ID), strconv.Itoa(job.ConcurrencyLimit)); err != nil {
		return nil, pkgerrors.WithMessage(err, "publish concurrent variable")
	}

	flow, err := s.orch.FindFlowByName(ctx, s.deploy.FlowName)
	if err != nil {
		return nil, pkgerrors.WithMessage(err, "find flow")
	}
	if flow == nil {
		log.Info("flow is not registered, deploy it to the orchestration server first", "flow", s.deploy.FlowName)
		return nil, errs.FlowNotFound(s.deploy.FlowName)
	}

	parameters := map[string]interface{}{"jobId": job.ID}
	deployment, err := s.orch.CreateOrUpdateDeployment(ctx, &prefect.DeploymentSpec{
		Name:                   DeploymentName(job.ID),
		FlowID:                 flow.ID,
		WorkPoolName:           s.deploy.WorkPool,
		Entrypoint:             s.deploy.Entrypoint,
		Path:                   s.deploy.Path,
		Tags:                   []string{"auto-deploy", fmt.Sprintf("job-%d", job.ID)},
		ParameterOpenAPISchema: parameterSchema(),
		EnforceParameterSchema: false,
		Schedules:              BuildSchedules(job, s.deploy.Timezone, s.now()),
		Parameters:             parameters,
	})
	if err != nil {
		return nil, pkgerrors.WithMessage(err, "create deployment")
	}
	if deployment.ID == "" {
		return nil, fmt.Errorf("deployment of job %d created without id", job.ID)
	}

	run, err := s.orch.TriggerFlowRun(ctx, deployment.ID, parameters, []string{tag})
	if err != nil {
		return nil, pkgerrors.WithMessage(err, "trigger flow run")
	}
	if run.ID == "" {
		return nil, fmt.Errorf("flow run of job %d created without id", job.ID)
	}

	err = s.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
		"status":        models.JobStatusRunning,
		"flow_run_id":   run.ID,
		"deployment_id": deployment.ID,
	}).Error
	if err != nil {
		return nil, pkgerrors.Wrap(err, "save run identifiers")
	}
	log.Info("job triggered", "deployment", deployment.ID, "flowRun", run.ID)
	return &TriggerResult{JobID: job.ID, Tag: tag, DeploymentID: deployment.ID, FlowRunID: run.ID}, nil
}

func parameterSchema() map[string]interface{} {
	return map[string]interface{}{
		"title": "Parameters",
		"type":  "object",
		"properties": map[string]interface{}{
			"jobId":      map[string]interface{}{"type": "integer"},
			"tasks":      map[string]interface{}{"type": "array", "items": map[string]interface{}{"$ref": "#/components/schemas/TaskDict"}},
			"concurrent": map[string]interface{}{"type": "integer"},
			"db_url":     map[string]interface{}{"type": "string"},
		},
		"required": []string{"jobId", "tasks", "concurrent"},
		"components": map[string]interface{}{
			"schemas": map[string]interface{}{
				"TaskDict": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"name":           map[string]interface{}{"type": "string"},
						"script_type":    map[string]interface{}{"type": "string"},
						"script_content": map[string]interface{}{"type": "string"},
					},
					"required": []string{"name", "script_type", "script_content"},
				},
			},
		},
	}
}

// RefreshStatus copies the remote state of a flow run onto the jobs running it.
// It writes the status only.
func (s *Service) RefreshStatus(ctx context.Context, flowRunID string) (*FlowRunStatus, error) {
	run, err := s.orch.GetFlowRun(ctx, flowRunID)
	if err != nil {
		return nil, err
	}
	ret := &FlowRunStatus{ID: run.ID, Name: run.Name, Status: run.CurrentStateType()}
	if run.State != nil {
		ret.Timestamp = run.State.Timestamp
	}
	if ret.Status == "" {
		return ret, nil
	}
	err = s.db.WithContext(ctx).Model(&models.Job{}).
		Where("flow_run_id = ?", flowRunID).
		Update("status", ret.Status).Error
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *Service) JobInfo(ctx context.Context, jobID uint) (*JobInfo, error) {
	job, err := getJob(ctx, s.db, jobID)
	if err != nil {
		return nil, err
	}
	if job.FlowRunID == "" {
		return nil, errs.NoRunYet(jobID)
	}
	run, err := s.orch.GetFlowRun(ctx, job.FlowRunID)
	if err != nil {
		return nil, err
	}
	info := &JobInfo{
		FlowRunID:    job.FlowRunID,
		DeploymentID: run.DeploymentID,
		FlowID:       run.FlowID,
		WorkPoolName: run.WorkPoolName,
	}
	if run.FlowID != "" {
		if flow, err := s.orch.GetFlow(ctx, run.FlowID); err != nil {
			s.logger.Error(err, "get flow", "job", jobID, "flow", run.FlowID)
		} else {
			info.FlowName = flow.Name
		}
	}
	if run.DeploymentID != "" {
		if dep, err := s.orch.GetDeployment(ctx, run.DeploymentID); err != nil {
			s.logger.Error(err, "get deployment", "job", jobID, "deployment", run.DeploymentID)
		} else {
			info.DeploymentName = dep.Name
		}
	}
	return info, nil
}

// JobVariables returns the variables published for a job, decoded.
func (s *Service) JobVariables(ctx context.Context, jobID uint) (map[string]interface{}, error) {
	if _, err := getJob(ctx, s.db, jobID); err != nil {
		return nil, err
	}
	return s.jobVariables(ctx, jobID)
}

func (s *Service) jobVariables(ctx context.Context, jobID uint) (map[string]interface{}, error) {
	vars, err := s.orch.FilterVariables(ctx, []string{TasksVariableName(jobID), ConcurrentVariableName(jobID)})
	if err != nil {
		return nil, err
	}
	ret := map[string]interface{}{}
	for _, v := range vars {
		ret[v.Name] = v.Decoded()
	}
	return ret, nil
}
