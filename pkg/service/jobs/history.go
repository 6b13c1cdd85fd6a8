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
	"strings"
	"time"

	"golang.org/x/exp/slices"
	"jobflow.io/jobflow/pkg/prefect"
	"jobflow.io/jobflow/pkg/service/errs"
	"jobflow.io/jobflow/pkg/utils/httputil/response"
	"jobflow.io/jobflow/pkg/utils/workerpool"
)

// collectPages calls fetch with growing offsets until a short page or limit items.
func collectPages[T any](ctx context.Context, sortBy string, pageSize, limit int, fetch func(ctx context.Context, p prefect.Paging) ([]T, error)) ([]T, error) {
	if pageSize < 1 {
		pageSize = prefect.MaxPageSize
	}
	all := []T{}
	for offset := 0; offset < limit; offset += pageSize {
		size := pageSize
		if offset+size > limit {
			size = limit - offset
		}
		page, err := fetch(ctx, prefect.Paging{Sort: sortBy, Limit: size, Offset: offset})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < size {
			break
		}
	}
	return all, nil
}

// runWindow is the time range searched for logs of a run.
// A run without any start time has no window and ok is false.
func (s *Service) runWindow(run prefect.FlowRun) (after, before time.Time, ok bool) {
	start := run.StartTime
	if start == nil {
		start = run.ExpectedStartTime
	}
	if start == nil {
		return time.Time{}, time.Time{}, false
	}
	after = start.Add(-s.options.WindowLead)
	if run.EndTime != nil {
		before = run.EndTime.Add(s.options.WindowTail)
	} else {
		before = start.Add(s.options.WindowOpen)
	}
	return after, before, true
}

// fetchRunLogs pages the logs of one run inside its window, oldest first.
func (s *Service) fetchRunLogs(ctx context.Context, run prefect.FlowRun, pageSize, limit int) ([]prefect.Log, error) {
	after, before, ok := s.runWindow(run)
	if !ok {
		return []prefect.Log{}, nil
	}
	return collectPages(ctx, prefect.SortTimestampAsc, pageSize, limit, func(ctx context.Context, p prefect.Paging) ([]prefect.Log, error) {
		logs, err := s.orch.FilterLogs(ctx, prefect.LogQuery{FlowRunID: run.ID, After: &after, Before: &before, Paging: p})
		if prefect.IsNotFound(err) {
			return []prefect.Log{}, nil
		}
		return logs, err
	})
}

// latestDeployment resolves the deployment of the job's latest flow run.
func (s *Service) latestDeployment(ctx context.Context, jobID uint) (string, error) {
	job, err := getJob(ctx, s.db, jobID)
	if err != nil {
		return "", err
	}
	if job.FlowRunID == "" {
		return "", errs.NoRunYet(jobID)
	}
	run, err := s.orch.GetFlowRun(ctx, job.FlowRunID)
	if err != nil {
		return "", err
	}
	if run.DeploymentID != "" {
		return run.DeploymentID, nil
	}
	return job.DeploymentID, nil
}

func (s *Service) listDeploymentRuns(ctx context.Context, deploymentID string, pageSize, limit int) ([]prefect.FlowRun, error) {
	return collectPages(ctx, prefect.SortExpectedStartTimeDesc, pageSize, limit, func(ctx context.Context, p prefect.Paging) ([]prefect.FlowRun, error) {
		return s.orch.FilterFlowRuns(ctx, prefect.FlowRunQuery{DeploymentID: deploymentID, Paging: p})
	})
}

// History rebuilds the execution history of a job from the orchestration server.
// Statistics and the total count cover every enumerated run; task runs and logs
// are returned for the requested page of runs.
func (s *Service) History(ctx context.Context, jobID uint, page, size int) (*HistoryView, error) {
	log := s.logger.WithValues("job", jobID)

	deploymentID, err := s.latestDeployment(ctx, jobID)
	if err != nil {
		return nil, err
	}

	runs, err := s.listDeploymentRuns(ctx, deploymentID, s.options.HistoryPageSize, s.options.HistoryCap)
	if err != nil {
		return nil, err
	}
	taskRuns, err := collectPages(ctx, "", s.options.HistoryPageSize, s.options.HistoryCap, func(ctx context.Context, p prefect.Paging) ([]prefect.TaskRun, error) {
		return s.orch.FilterTaskRuns(ctx, prefect.TaskRunQuery{DeploymentID: deploymentID, Paging: p})
	})
	if err != nil {
		return nil, err
	}

	paged := response.NewPage(runs, page, size)
	view := &HistoryView{
		JobID:             jobID,
		DeploymentID:      deploymentID,
		FlowRuns:          paged.List,
		Page:              int(paged.Page),
		Size:              int(paged.Size),
		TotalCount:        int(paged.Total),
		TaskRunsByFlowRun: map[string][]TaskRunView{},
		LogsByFlowRun:     map[string][]LogLine{},
		RunStats:          runStats(runs),
		Parameters:        RunParameters{JobID: jobID},
	}

	inPage := map[string]bool{}
	for _, run := range paged.List {
		inPage[run.ID] = true
		view.TaskRunsByFlowRun[run.ID] = []TaskRunView{}
	}
	for _, tr := range taskRuns {
		if inPage[tr.FlowRunID] {
			view.TaskRunsByFlowRun[tr.FlowRunID] = append(view.TaskRunsByFlowRun[tr.FlowRunID], newTaskRunView(tr))
		}
	}

	results := workerpool.Map(ctx, s.options.FetchConcurrency, paged.List, func(ctx context.Context, _ int, run prefect.FlowRun) ([]prefect.Log, error) {
		return s.fetchRunLogs(ctx, run, s.options.HistoryPageSize, s.options.HistoryLogCap)
	})
	perRun := make([][]prefect.Log, len(paged.List))
	for i, res := range results {
		if res.Err != nil {
			fetchErr := errs.TransientFetch(res.Err, "fetch logs of flow run %s", paged.List[i].ID)
			log.Error(fetchErr, "log fetch failed, showing no logs for the run")
			view.FailedLogFetches++
			perRun[i] = []prefect.Log{}
			continue
		}
		perRun[i] = res.Value
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	view.LogsByFlowRun = mergeLogs(paged.List, perRun)

	s.fillMetadata(ctx, view)
	if vars, err := s.jobVariables(ctx, jobID); err != nil {
		log.Error(err, "fetch job variables")
		view.Variables = map[string]interface{}{}
	} else {
		view.Variables = vars
	}
	view.Parameters.Tasks = view.Variables[TasksVariableName(jobID)]
	view.Parameters.Concurrent = view.Variables[ConcurrentVariableName(jobID)]
	return view, nil
}

// mergeLogs groups logs by run id, drops log ids repeated within a run and sorts each run ascending.
func mergeLogs(runs []prefect.FlowRun, perRun [][]prefect.Log) map[string][]LogLine {
	ret := make(map[string][]LogLine, len(runs))
	for i, run := range runs {
		lines := ret[run.ID]
		if lines == nil {
			lines = []LogLine{}
		}
		seen := map[string]bool{}
		for _, l := range perRun[i] {
			if l.ID != "" {
				if seen[l.ID] {
					continue
				}
				seen[l.ID] = true
			}
			lines = append(lines, LogLine{
				ID:        l.ID,
				TS:        l.Timestamp,
				Logger:    l.Name,
				Level:     l.LevelText(),
				Msg:       l.Message,
				TaskRunID: l.TaskRunID,
			})
		}
		ret[run.ID] = lines
	}
	for _, lines := range ret {
		slices.SortStableFunc(lines, func(a, b LogLine) int { return a.TS.Compare(b.TS) })
	}
	return ret
}

func runStats(runs []prefect.FlowRun) RunStats {
	stats := RunStats{
		ByState:      map[string]int{},
		ByDay:        map[string]int{},
		ByDeployment: map[string]int{},
	}
	for i := range runs {
		run := &runs[i]
		state := strings.ToUpper(run.CurrentStateType())
		if state == "" {
			state = "UNKNOWN"
		}
		stats.ByState[state]++

		if run.Created != nil {
			stats.ByDay[run.Created.Format("2006-01-02")]++
		}

		label := run.DeploymentName
		if label == "" {
			label = run.DeploymentID
		}
		if label == "" {
			label = "Manual"
		}
		stats.ByDeployment[label]++
	}
	return stats
}

// fillMetadata looks up deployment, flow and work pool; failures leave the fields empty.
func (s *Service) fillMetadata(ctx context.Context, view *HistoryView) {
	log := s.logger.WithValues("job", view.JobID)
	dep, err := s.orch.GetDeployment(ctx, view.DeploymentID)
	if err != nil {
		log.Error(err, "get deployment", "deployment", view.DeploymentID)
		return
	}
	view.Deployment = dep
	view.DeploymentName = dep.Name
	if dep.FlowID != "" {
		if flow, err := s.orch.GetFlow(ctx, dep.FlowID); err != nil {
			log.Error(err, "get flow", "flow", dep.FlowID)
		} else {
			view.Flow = flow
			view.FlowName = flow.Name
		}
	}
	if dep.WorkPoolName != "" {
		if pool, err := s.orch.GetWorkPool(ctx, dep.WorkPoolName); err != nil {
			log.Error(err, "get work pool", "workPool", dep.WorkPoolName)
		} else {
			view.WorkPool = pool
		}
	}
}
