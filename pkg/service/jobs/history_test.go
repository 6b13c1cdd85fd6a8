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
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"jobflow.io/jobflow/pkg/prefect"
	"jobflow.io/jobflow/pkg/service/errs"
)

func TestCollectPages(t *testing.T) {
	source := make([]int, 450)
	for i := range source {
		source[i] = i
	}
	calls := []prefect.Paging{}
	fetch := func(ctx context.Context, p prefect.Paging) ([]int, error) {
		calls = append(calls, p)
		return page(source, p), nil
	}

	t.Run("stops on a short page", func(t *testing.T) {
		calls = nil
		got, err := collectPages(context.Background(), "S", 200, 1000, fetch)
		require.NoError(t, err)
		assert.Equal(t, source, got)
		assert.Equal(t, []prefect.Paging{
			{Sort: "S", Limit: 200, Offset: 0},
			{Sort: "S", Limit: 200, Offset: 200},
			{Sort: "S", Limit: 200, Offset: 400},
		}, calls)
	})

	t.Run("stops at the cap", func(t *testing.T) {
		calls = nil
		got, err := collectPages(context.Background(), "", 100, 250, fetch)
		require.NoError(t, err)
		assert.Equal(t, source[:250], got)
		assert.Equal(t, 50, calls[len(calls)-1].Limit)
	})

	t.Run("returns the fetch error", func(t *testing.T) {
		_, err := collectPages(context.Background(), "", 10, 100, func(ctx context.Context, p prefect.Paging) ([]int, error) {
			return nil, errors.New("boom")
		})
		assert.EqualError(t, err, "boom")
	})
}

func TestService_runWindow(t *testing.T) {
	svc := &Service{options: NewDefaultOptions()}
	tests := []struct {
		name       string
		run        prefect.FlowRun
		wantAfter  time.Time
		wantBefore time.Time
		wantOK     bool
	}{
		{
			name:       "ended run",
			run:        prefect.FlowRun{StartTime: tsp(30), EndTime: tsp(40)},
			wantAfter:  ts(15),
			wantBefore: ts(50),
			wantOK:     true,
		},
		{
			name:       "running run",
			run:        prefect.FlowRun{StartTime: tsp(30)},
			wantAfter:  ts(15),
			wantBefore: ts(30).Add(90 * time.Minute),
			wantOK:     true,
		},
		{
			name:       "scheduled run uses the expected start",
			run:        prefect.FlowRun{ExpectedStartTime: tsp(20)},
			wantAfter:  ts(5),
			wantBefore: ts(20).Add(90 * time.Minute),
			wantOK:     true,
		},
		{
			name: "no start at all",
			run:  prefect.FlowRun{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			after, before, ok := svc.runWindow(tt.run)
			assert.Equal(t, tt.wantOK, ok)
			assert.True(t, tt.wantAfter.Equal(after), "after %s", after)
			assert.True(t, tt.wantBefore.Equal(before), "before %s", before)
		})
	}
}

func TestService_fetchRunLogs_NoStart(t *testing.T) {
	orch := newFakeOrchestrator()
	svc, _ := newTestService(t, orch)
	orch.addRun(prefect.FlowRun{ID: "run-pending"},
		prefect.Log{ID: "old", Timestamp: time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC), Message: "years old"},
	)

	logs, err := svc.fetchRunLogs(context.Background(), prefect.FlowRun{ID: "run-pending"}, 10, 100)
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.Equal(t, 0, orch.logCalls)
}

func TestMergeLogs(t *testing.T) {
	runs := []prefect.FlowRun{{ID: "run-a"}, {ID: "run-b"}}
	perRun := [][]prefect.Log{
		{
			{ID: "l2", Timestamp: ts(2), Message: "two"},
			{ID: "l1", Timestamp: ts(1), Message: "one"},
			{ID: "l1", Timestamp: ts(1), Message: "one again"},
		},
		{
			{ID: "l1", Timestamp: ts(3), Message: "same id in another run"},
		},
	}
	got := mergeLogs(runs, perRun)
	require.Len(t, got["run-a"], 2)
	assert.Equal(t, "one", got["run-a"][0].Msg)
	assert.Equal(t, "two", got["run-a"][1].Msg)
	require.Len(t, got["run-b"], 1)
	assert.Equal(t, "same id in another run", got["run-b"][0].Msg)
}

func TestService_History(t *testing.T) {
	orch := newFakeOrchestrator()
	svc, db := newTestService(t, orch)
	ctx := context.Background()
	job := mustCreateJob(t, svc, "history", "a")
	markTriggered(t, db, job.ID, "run-a", "dep-x")

	orch.deployments = append(orch.deployments, prefect.DeploymentSpec{Name: "x", FlowID: "flow-1", WorkPoolName: "pool"})
	orch.pools["pool"] = &prefect.WorkPool{ID: "pool-1", Name: "pool"}
	orch.variables[TasksVariableName(job.ID)] = `[{"name":"a"}]`
	orch.variables[ConcurrentVariableName(job.ID)] = "2"

	orch.addRun(prefect.FlowRun{ID: "run-a", DeploymentID: "dep-x", StateType: "completed", Created: tsp(0), StartTime: tsp(0), EndTime: tsp(5)},
		prefect.Log{ID: "l1", Timestamp: ts(3), Message: "second", Level: 20},
		prefect.Log{ID: "l2", Timestamp: ts(1), Message: "first", Level: 40},
		prefect.Log{ID: "l3", Timestamp: ts(40), Message: "outside the window"},
	)
	orch.addRun(prefect.FlowRun{ID: "run-b", DeploymentID: "dep-x", State: &prefect.State{Type: prefect.StateFailed}, StartTime: tsp(10)})
	orch.logErrs["run-b"] = &prefect.OrchestrationError{Method: "POST", Path: "/logs/filter", StatusCode: 500}
	orch.addRun(prefect.FlowRun{ID: "run-c", DeploymentID: "dep-x", DeploymentName: "nightly", Created: func() *time.Time { t := ts(0).AddDate(0, 0, 1); return &t }()})
	orch.addRun(prefect.FlowRun{ID: "run-other", DeploymentID: "dep-y", StateType: prefect.StateCompleted})
	orch.taskRuns = []prefect.TaskRun{
		{ID: "tr-1", Name: "a-0", FlowRunID: "run-a", StateType: prefect.StateCompleted, TotalRunTime: 1.5},
		{ID: "tr-2", Name: "a-1", FlowRunID: "run-c"},
		{ID: "tr-3", Name: "x-0", FlowRunID: "run-other"},
	}

	view, err := svc.History(ctx, job.ID, 1, 2)
	require.NoError(t, err)

	assert.Equal(t, "dep-x", view.DeploymentID)
	assert.Equal(t, "x", view.DeploymentName)
	assert.Equal(t, orch.flow.Name, view.FlowName)
	require.NotNil(t, view.WorkPool)
	assert.Equal(t, "pool-1", view.WorkPool.ID)

	assert.Equal(t, 3, view.TotalCount)
	assert.Equal(t, 1, view.Page)
	assert.Equal(t, 2, view.Size)
	require.Len(t, view.FlowRuns, 2)
	assert.Equal(t, "run-a", view.FlowRuns[0].ID)
	assert.Equal(t, "run-b", view.FlowRuns[1].ID)

	require.Len(t, view.TaskRunsByFlowRun["run-a"], 1)
	assert.Equal(t, "tr-1", view.TaskRunsByFlowRun["run-a"][0].ID)
	assert.Equal(t, 1.5, view.TaskRunsByFlowRun["run-a"][0].Duration)
	assert.Empty(t, view.TaskRunsByFlowRun["run-b"])
	assert.NotContains(t, view.TaskRunsByFlowRun, "run-c")

	require.Len(t, view.LogsByFlowRun["run-a"], 2)
	assert.Equal(t, "first", view.LogsByFlowRun["run-a"][0].Msg)
	assert.Equal(t, "ERROR", view.LogsByFlowRun["run-a"][0].Level)
	assert.Equal(t, "second", view.LogsByFlowRun["run-a"][1].Msg)
	assert.Equal(t, []LogLine{}, view.LogsByFlowRun["run-b"])
	assert.Equal(t, 1, view.FailedLogFetches)

	assert.Equal(t, map[string]int{"COMPLETED": 1, "FAILED": 1, "UNKNOWN": 1}, view.ByState)
	assert.Equal(t, map[string]int{"2024-05-01": 1, "2024-05-02": 1}, view.ByDay)
	assert.Equal(t, map[string]int{"dep-x": 2, "nightly": 1}, view.ByDeployment)

	assert.Equal(t, []interface{}{map[string]interface{}{"name": "a"}}, view.Parameters.Tasks)
	assert.Equal(t, float64(2), view.Parameters.Concurrent)
	assert.Equal(t, job.ID, view.Parameters.JobID)
}

func TestService_History_NoRunYet(t *testing.T) {
	svc, _ := newTestService(t, newFakeOrchestrator())
	job := mustCreateJob(t, svc, "idle")
	_, err := svc.History(context.Background(), job.ID, 1, 10)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.CodeNoRunYet, e.Code)

	_, err = svc.History(context.Background(), 9999, 1, 10)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}

func TestService_History_BoundedLogFetch(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.logDelay = 20 * time.Millisecond
	svc, db := newTestService(t, orch)
	job := mustCreateJob(t, svc, "wide", "a")
	markTriggered(t, db, job.ID, "run-00", "dep-wide")

	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("run-%02d", i)
		orch.addRun(prefect.FlowRun{ID: id, DeploymentID: "dep-wide", StartTime: tsp(i)},
			prefect.Log{ID: "log-" + id, Timestamp: ts(i), Message: id})
	}

	view, err := svc.History(context.Background(), job.ID, 1, 20)
	require.NoError(t, err)
	assert.LessOrEqual(t, orch.peak, 5)
	assert.Equal(t, 0, view.FailedLogFetches)
	for _, run := range view.FlowRuns {
		require.Len(t, view.LogsByFlowRun[run.ID], 1)
		assert.Equal(t, run.ID, view.LogsByFlowRun[run.ID][0].Msg)
	}
}
