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
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"jobflow.io/jobflow/pkg/prefect"
	"jobflow.io/jobflow/pkg/service/errs"
	"jobflow.io/jobflow/pkg/service/models"
)

func TestService_Trigger(t *testing.T) {
	orch := newFakeOrchestrator()
	svc, db := newTestService(t, orch)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, &CreateJobRequest{
		Name:       "Nightly ETL",
		Concurrent: 3,
		Schedule:   &ScheduleInput{Type: "interval", Value: "30", Unit: "minutes"},
		Tasks: []TaskInput{
			{Name: "extract", ScriptType: "python", ScriptContent: "print(1)"},
			{Name: "load", ScriptType: "shell", ScriptContent: "echo 2"},
		},
	})
	require.NoError(t, err)

	ret, err := svc.Trigger(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "job-nightly-etl", ret.Tag)
	assert.Equal(t, 3, orch.limits["job-nightly-etl"])

	tasks := []publishedTask{}
	require.NoError(t, json.Unmarshal([]byte(orch.variables[TasksVariableName(job.ID)]), &tasks))
	assert.Equal(t, []publishedTask{
		{Name: "extract", ScriptType: "python", ScriptContent: "print(1)"},
		{Name: "load", ScriptType: "shell", ScriptContent: "echo 2"},
	}, tasks)
	assert.Equal(t, "3", orch.variables[ConcurrentVariableName(job.ID)])

	require.Len(t, orch.deployments, 1)
	spec := orch.deployments[0]
	assert.Equal(t, DeploymentName(job.ID), spec.Name)
	assert.Equal(t, "flow-1", spec.FlowID)
	assert.Equal(t, []string{"auto-deploy", fmt.Sprintf("job-%d", job.ID)}, spec.Tags)
	assert.Equal(t, "local-process-pool", spec.WorkPoolName)
	require.Len(t, spec.Schedules, 1)
	assert.Equal(t, int64(1800), spec.Schedules[0].Schedule.Interval)
	assert.Equal(t, "Asia/Ho_Chi_Minh", spec.Schedules[0].Schedule.Timezone)

	require.Len(t, orch.triggered, 1)
	assert.Equal(t, ret.DeploymentID, orch.triggered[0].DeploymentID)
	assert.Equal(t, map[string]interface{}{"jobId": job.ID}, orch.triggered[0].Parameters)
	assert.Equal(t, []string{"job-nightly-etl"}, orch.triggered[0].Tags)

	stored := &models.Job{}
	require.NoError(t, db.First(stored, job.ID).Error)
	assert.Equal(t, models.JobStatusRunning, stored.Status)
	assert.Equal(t, ret.FlowRunID, stored.FlowRunID)
	assert.Equal(t, ret.DeploymentID, stored.DeploymentID)
	assert.Equal(t, float64(1), testutil.ToFloat64(svc.metrics.TriggeredJobs.WithLabelValues("success")))
}

func TestService_Trigger_FlowNotFound(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.flow = nil
	svc, db := newTestService(t, orch)
	ctx := context.Background()
	job := mustCreateJob(t, svc, "unregistered", "a")

	_, err := svc.Trigger(ctx, job.ID)
	assert.True(t, errs.IsKind(err, errs.KindFlowNotFound))
	assert.Empty(t, orch.deployments)
	assert.Empty(t, orch.triggered)

	stored := &models.Job{}
	require.NoError(t, db.First(stored, job.ID).Error)
	assert.Empty(t, stored.FlowRunID)
	assert.Empty(t, stored.DeploymentID)
	assert.Equal(t, models.JobStatusCreated, stored.Status)
	assert.Equal(t, float64(1), testutil.ToFloat64(svc.metrics.TriggeredJobs.WithLabelValues("error")))
}

func TestService_Trigger_MissingJob(t *testing.T) {
	svc, _ := newTestService(t, newFakeOrchestrator())
	_, err := svc.Trigger(context.Background(), 404)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}

func TestService_RefreshStatus(t *testing.T) {
	orch := newFakeOrchestrator()
	svc, db := newTestService(t, orch)
	ctx := context.Background()
	job := mustCreateJob(t, svc, "refresh")
	markTriggered(t, db, job.ID, "run-9", "dep-9")
	orch.addRun(prefect.FlowRun{ID: "run-9", DeploymentID: "dep-other", StateType: prefect.StateCompleted})

	status, err := svc.RefreshStatus(ctx, "run-9")
	require.NoError(t, err)
	assert.Equal(t, prefect.StateCompleted, status.Status)

	stored := &models.Job{}
	require.NoError(t, db.First(stored, job.ID).Error)
	assert.Equal(t, prefect.StateCompleted, stored.Status)
	assert.Equal(t, "run-9", stored.FlowRunID)
	assert.Equal(t, "dep-9", stored.DeploymentID, "refresh never rewrites the run identity")

	_, err = svc.RefreshStatus(ctx, "run-unknown")
	assert.True(t, prefect.IsNotFound(err))
}

func TestService_JobInfo(t *testing.T) {
	orch := newFakeOrchestrator()
	svc, _ := newTestService(t, orch)
	ctx := context.Background()
	job := mustCreateJob(t, svc, "info", "a")

	_, err := svc.JobInfo(ctx, job.ID)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindNotFound, e.Kind)
	assert.Equal(t, errs.CodeNoRunYet, e.Code)

	ret, err := svc.Trigger(ctx, job.ID)
	require.NoError(t, err)
	orch.runs[0].FlowID = "flow-1"
	orch.runs[0].WorkPoolName = "local-process-pool"

	info, err := svc.JobInfo(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, &JobInfo{
		FlowRunID:      ret.FlowRunID,
		DeploymentID:   ret.DeploymentID,
		DeploymentName: DeploymentName(job.ID),
		FlowID:         "flow-1",
		FlowName:       orch.flow.Name,
		WorkPoolName:   "local-process-pool",
	}, info)

	vars, err := svc.JobVariables(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(2), vars[ConcurrentVariableName(job.ID)])
	assert.Len(t, vars[TasksVariableName(job.ID)], 1)
}
