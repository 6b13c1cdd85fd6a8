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
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"jobflow.io/jobflow/pkg/prefect"
	"jobflow.io/jobflow/pkg/service/models"
	"jobflow.io/jobflow/pkg/utils/database"
)

type triggerCall struct {
	DeploymentID string
	Parameters   map[string]interface{}
	Tags         []string
}

// fakeOrchestrator keeps orchestration state in memory.
type fakeOrchestrator struct {
	mu sync.Mutex

	flow        *prefect.Flow
	limits      map[string]int
	variables   map[string]string
	deployments []prefect.DeploymentSpec
	triggered   []triggerCall
	runs        []prefect.FlowRun
	taskRuns    []prefect.TaskRun
	logs        map[string][]prefect.Log
	logErrs     map[string]error
	pools       map[string]*prefect.WorkPool

	// onGetFlowRun is called with the call count before a flow run is returned.
	onGetFlowRun func(f *fakeOrchestrator, calls int)
	getRunCalls  int
	logDelay     time.Duration
	inflight     int
	peak         int
	logCalls     int
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{
		flow:      &prefect.Flow{ID: "flow-1", Name: prefect.NewDefaultOptions().FlowName},
		limits:    map[string]int{},
		variables: map[string]string{},
		logs:      map[string][]prefect.Log{},
		logErrs:   map[string]error{},
		pools:     map[string]*prefect.WorkPool{},
	}
}

func (f *fakeOrchestrator) addRun(run prefect.FlowRun, logs ...prefect.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	for i := range logs {
		logs[i].FlowRunID = run.ID
	}
	f.logs[run.ID] = append(f.logs[run.ID], logs...)
}

func (f *fakeOrchestrator) addLogs(runID string, logs ...prefect.Log) {
	for i := range logs {
		logs[i].FlowRunID = runID
	}
	f.logs[runID] = append(f.logs[runID], logs...)
}

func (f *fakeOrchestrator) findRun(id string) *prefect.FlowRun {
	for i := range f.runs {
		if f.runs[i].ID == id {
			return &f.runs[i]
		}
	}
	return nil
}

func notFound(path string) error {
	return &prefect.OrchestrationError{Method: "GET", Path: path, StatusCode: 404}
}

func page[T any](all []T, p prefect.Paging) []T {
	if p.Offset >= len(all) {
		return []T{}
	}
	end := len(all)
	if p.Limit > 0 && p.Offset+p.Limit < end {
		end = p.Offset + p.Limit
	}
	return append([]T{}, all[p.Offset:end]...)
}

func (f *fakeOrchestrator) UpsertConcurrencyLimit(ctx context.Context, tag string, limit int) (*prefect.ConcurrencyLimit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits[tag] = limit
	return &prefect.ConcurrencyLimit{ID: "limit-" + tag, Tag: tag, ConcurrencyLimit: limit}, nil
}

func (f *fakeOrchestrator) UpsertVariable(ctx context.Context, name string, value string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.variables[name] = value
	return "var-" + name, nil
}

func (f *fakeOrchestrator) FindFlowByName(ctx context.Context, name string) (*prefect.Flow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.flow == nil || f.flow.Name != name {
		return nil, nil
	}
	return f.flow, nil
}

func (f *fakeOrchestrator) CreateOrUpdateDeployment(ctx context.Context, spec *prefect.DeploymentSpec) (*prefect.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deployments = append(f.deployments, *spec)
	return &prefect.Deployment{ID: "dep-" + spec.Name, Name: spec.Name, FlowID: spec.FlowID, WorkPoolName: spec.WorkPoolName}, nil
}

func (f *fakeOrchestrator) TriggerFlowRun(ctx context.Context, deploymentID string, parameters map[string]interface{}, tags []string) (*prefect.FlowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered = append(f.triggered, triggerCall{DeploymentID: deploymentID, Parameters: parameters, Tags: tags})
	run := prefect.FlowRun{
		ID:           fmt.Sprintf("run-%d", len(f.triggered)),
		DeploymentID: deploymentID,
		State:        &prefect.State{Type: prefect.StateScheduled},
	}
	f.runs = append(f.runs, run)
	return &run, nil
}

func (f *fakeOrchestrator) GetFlowRun(ctx context.Context, id string) (*prefect.FlowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getRunCalls++
	if f.onGetFlowRun != nil {
		f.onGetFlowRun(f, f.getRunCalls)
	}
	run := f.findRun(id)
	if run == nil {
		return nil, notFound("/flow_runs/" + id)
	}
	ret := *run
	return &ret, nil
}

func (f *fakeOrchestrator) FilterFlowRuns(ctx context.Context, q prefect.FlowRunQuery) ([]prefect.FlowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	matched := []prefect.FlowRun{}
	for _, run := range f.runs {
		if q.DeploymentID == "" || run.DeploymentID == q.DeploymentID {
			matched = append(matched, run)
		}
	}
	return page(matched, q.Paging), nil
}

func (f *fakeOrchestrator) FilterTaskRuns(ctx context.Context, q prefect.TaskRunQuery) ([]prefect.TaskRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	matched := []prefect.TaskRun{}
	for _, tr := range f.taskRuns {
		run := f.findRun(tr.FlowRunID)
		if q.DeploymentID != "" && (run == nil || run.DeploymentID != q.DeploymentID) {
			continue
		}
		matched = append(matched, tr)
	}
	return page(matched, q.Paging), nil
}

func (f *fakeOrchestrator) FilterLogs(ctx context.Context, q prefect.LogQuery) ([]prefect.Log, error) {
	f.mu.Lock()
	f.logCalls++
	f.inflight++
	if f.inflight > f.peak {
		f.peak = f.inflight
	}
	delay := f.logDelay
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.logErrs[q.FlowRunID]; err != nil {
		return nil, err
	}
	matched := []prefect.Log{}
	for _, l := range f.logs[q.FlowRunID] {
		// the server filter is inclusive on both ends
		if q.After != nil && l.Timestamp.Before(*q.After) {
			continue
		}
		if q.Before != nil && l.Timestamp.After(*q.Before) {
			continue
		}
		matched = append(matched, l)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Timestamp.Before(matched[j].Timestamp) })
	return page(matched, q.Paging), nil
}

func (f *fakeOrchestrator) FilterVariables(ctx context.Context, names []string) ([]prefect.Variable, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ret := []prefect.Variable{}
	for _, name := range names {
		if v, ok := f.variables[name]; ok {
			ret = append(ret, prefect.Variable{ID: "var-" + name, Name: name, Value: []byte(fmt.Sprintf("%q", v))})
		}
	}
	return ret, nil
}

func (f *fakeOrchestrator) GetFlow(ctx context.Context, id string) (*prefect.Flow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.flow == nil || f.flow.ID != id {
		return nil, notFound("/flows/" + id)
	}
	return f.flow, nil
}

func (f *fakeOrchestrator) GetDeployment(ctx context.Context, id string) (*prefect.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, spec := range f.deployments {
		if "dep-"+spec.Name == id {
			return &prefect.Deployment{ID: id, Name: spec.Name, FlowID: spec.FlowID, WorkPoolName: spec.WorkPoolName}, nil
		}
	}
	return nil, notFound("/deployments/" + id)
}

func (f *fakeOrchestrator) GetWorkPool(ctx context.Context, name string) (*prefect.WorkPool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pool, ok := f.pools[name]; ok {
		return pool, nil
	}
	return nil, notFound("/work_pools/" + name)
}

func newTestService(t *testing.T, orch Orchestrator) (*Service, *gorm.DB) {
	t.Helper()
	db, err := database.NewDatabase(&database.Options{
		Driver:   database.DriverSQLite,
		Database: filepath.Join(t.TempDir(), "jobflow.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, models.MigrateModels(db.DB()))

	options := NewDefaultOptions()
	options.StreamRetryInterval = 10 * time.Millisecond
	options.StreamPollInterval = 10 * time.Millisecond
	svc := NewService(db.DB(), orch, prefect.NewDefaultOptions(), options, nil)
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC) }
	return svc, db.DB()
}

func mustCreateJob(t *testing.T, svc *Service, name string, tasks ...string) *models.Job {
	t.Helper()
	req := &CreateJobRequest{Name: name, Concurrent: 2}
	for _, task := range tasks {
		req.Tasks = append(req.Tasks, TaskInput{Name: task, ScriptType: "python", ScriptContent: "print('" + task + "')"})
	}
	job, err := svc.CreateJob(context.Background(), req)
	require.NoError(t, err)
	return job
}

// markTriggered sets the run identity the trigger would have written.
func markTriggered(t *testing.T, db *gorm.DB, jobID uint, flowRunID, deploymentID string) {
	t.Helper()
	require.NoError(t, db.Model(&models.Job{}).Where("id = ?", jobID).Updates(map[string]interface{}{
		"status":        models.JobStatusRunning,
		"flow_run_id":   flowRunID,
		"deployment_id": deploymentID,
	}).Error)
}

func ts(minute int) time.Time {
	return time.Date(2024, 5, 1, 10, minute, 0, 0, time.UTC)
}

func tsp(minute int) *time.Time {
	t := ts(minute)
	return &t
}

var errInjected = errors.New("injected")

// failCreate makes the nth insert into table fail with errInjected.
func failCreate(t *testing.T, db *gorm.DB, table string, nth int32) {
	t.Helper()
	calls := int32(0)
	name := "test:fail_create:" + t.Name()
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register(name, func(tx *gorm.DB) {
		if tx.Statement.Table == table && atomic.AddInt32(&calls, 1) == nth {
			tx.AddError(errInjected)
		}
	}))
	t.Cleanup(func() { db.Callback().Create().Remove(name) })
}
