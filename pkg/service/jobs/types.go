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
	"bytes"
	"encoding/json"
	"time"

	"jobflow.io/jobflow/pkg/prefect"
)

// FlexString accepts a json string or number.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

type TaskInput struct {
	Name          string          `json:"name" validate:"required,max=255"`
	ScriptType    string          `json:"script_type" validate:"max=50"`
	ScriptContent string          `json:"script_content"`
	Description   string          `json:"description"`
	Parameters    json.RawMessage `json:"parameters,omitempty"`
}

type ScheduleInput struct {
	Type  string     `json:"type" validate:"omitempty,oneof=none cron interval"`
	Value FlexString `json:"value"`
	Unit  string     `json:"unit"`
}

type CreateJobRequest struct {
	Name       string         `json:"name" validate:"required,max=255"`
	Concurrent int            `json:"concurrent" validate:"gte=0"`
	Schedule   *ScheduleInput `json:"schedule"`
	Tasks      []TaskInput    `json:"tasks" validate:"dive"`
}

type UpdateJobRequest struct {
	Name          string     `json:"name" validate:"required,max=255"`
	Concurrent    int        `json:"concurrent" validate:"gte=0"`
	ScheduleType  string     `json:"schedule_type" validate:"omitempty,oneof=none cron interval"`
	ScheduleValue FlexString `json:"schedule_value"`
	ScheduleUnit  string     `json:"schedule_unit"`
}

type ReplaceTasksRequest struct {
	Tasks []TaskInput `json:"tasks" validate:"dive"`
}

type TriggerResult struct {
	JobID        uint   `json:"job_id"`
	Tag          string `json:"tag"`
	DeploymentID string `json:"deployment_id"`
	FlowRunID    string `json:"flow_run_id"`
}

type FlowRunStatus struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	Timestamp *time.Time `json:"timestamp"`
}

type JobInfo struct {
	FlowRunID      string `json:"flow_run_id"`
	DeploymentID   string `json:"deployment_id"`
	DeploymentName string `json:"deployment_name"`
	FlowID         string `json:"flow_id"`
	FlowName       string `json:"flow_name"`
	WorkPoolName   string `json:"work_pool_name"`
}

type TaskRunView struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	State      string     `json:"state"`
	StateName  string     `json:"state_name"`
	StartTime  *time.Time `json:"start_time"`
	EndTime    *time.Time `json:"end_time"`
	Duration   float64    `json:"duration"`
	TaskKey    string     `json:"task_key"`
	DynamicKey string     `json:"dynamic_key"`
}

func newTaskRunView(t prefect.TaskRun) TaskRunView {
	return TaskRunView{
		ID:         t.ID,
		Name:       t.Name,
		State:      t.StateType,
		StateName:  t.StateName,
		StartTime:  t.StartTime,
		EndTime:    t.EndTime,
		Duration:   t.TotalRunTime,
		TaskKey:    t.TaskKey,
		DynamicKey: t.DynamicKey,
	}
}

type LogLine struct {
	ID        string    `json:"id"`
	TS        time.Time `json:"ts"`
	Logger    string    `json:"logger"`
	Level     string    `json:"level"`
	Msg       string    `json:"msg"`
	TaskRunID string    `json:"task_run_id,omitempty"`
}

type RunStats struct {
	ByState      map[string]int `json:"flowRunStateStats"`
	ByDay        map[string]int `json:"taskRunStats"`
	ByDeployment map[string]int `json:"flowPerDeployment"`
}

type RunParameters struct {
	JobID      uint        `json:"jobId"`
	Tasks      interface{} `json:"tasks"`
	Concurrent interface{} `json:"concurrent"`
}

type HistoryView struct {
	JobID             uint                     `json:"jobId"`
	DeploymentID      string                   `json:"deploymentId"`
	DeploymentName    string                   `json:"deploymentName"`
	FlowName          string                   `json:"flowName"`
	Deployment        *prefect.Deployment      `json:"deployment,omitempty"`
	Flow              *prefect.Flow            `json:"flow,omitempty"`
	WorkPool          *prefect.WorkPool        `json:"workPool,omitempty"`
	FlowRuns          []prefect.FlowRun        `json:"allFlowRuns"`
	Page              int                      `json:"page"`
	Size              int                      `json:"size"`
	TotalCount        int                      `json:"totalCount"`
	TaskRunsByFlowRun map[string][]TaskRunView `json:"taskRunsByFlowRun"`
	LogsByFlowRun     map[string][]LogLine     `json:"logsByFlowRun"`
	FailedLogFetches  int                      `json:"failedLogFetches"`
	RunStats
	Variables  map[string]interface{} `json:"variables"`
	Parameters RunParameters          `json:"parameters"`
}

type SyncResult struct {
	JobID      uint  `json:"job_id"`
	FlowRuns   int   `json:"flow_runs"`
	Fetched    int   `json:"fetched"`
	Duplicates int   `json:"duplicates"`
	Inserted   int64 `json:"inserted"`
	FailedRuns int   `json:"failed_runs"`
}

const (
	EventInfo  = "info"
	EventLog   = "log"
	EventError = "error"
)

type StreamEvent struct {
	Message   string     `json:"message"`
	Type      string     `json:"type"`
	Level     string     `json:"level,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}
