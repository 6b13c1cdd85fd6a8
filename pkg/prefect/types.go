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

package prefect

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	StateScheduled  = "SCHEDULED"
	StatePending    = "PENDING"
	StateRunning    = "RUNNING"
	StateCompleted  = "COMPLETED"
	StateFailed     = "FAILED"
	StateCancelled  = "CANCELLED"
	StateCrashed    = "CRASHED"
	StatePaused     = "PAUSED"
	StateCancelling = "CANCELLING"
)

// IsTerminal reports whether a flow run in this state will not change anymore.
func IsTerminal(stateType string) bool {
	switch strings.ToUpper(stateType) {
	case StateCompleted, StateFailed, StateCancelled, StateCrashed:
		return true
	}
	return false
}

const (
	SortExpectedStartTimeDesc = "EXPECTED_START_TIME_DESC"
	SortTimestampAsc          = "TIMESTAMP_ASC"
	SortTimestampDesc         = "TIMESTAMP_DESC"
)

type State struct {
	Type      string     `json:"type"`
	Name      string     `json:"name"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Message   string     `json:"message,omitempty"`
}

type FlowRun struct {
	ID                string                 `json:"id"`
	Name              string                 `json:"name"`
	FlowID            string                 `json:"flow_id"`
	DeploymentID      string                 `json:"deployment_id,omitempty"`
	DeploymentName    string                 `json:"deployment_name,omitempty"`
	WorkPoolName      string                 `json:"work_pool_name,omitempty"`
	StateType         string                 `json:"state_type,omitempty"`
	StateName         string                 `json:"state_name,omitempty"`
	State             *State                 `json:"state,omitempty"`
	Tags              []string               `json:"tags,omitempty"`
	Parameters        map[string]interface{} `json:"parameters,omitempty"`
	Created           *time.Time             `json:"created,omitempty"`
	ExpectedStartTime *time.Time             `json:"expected_start_time,omitempty"`
	StartTime         *time.Time             `json:"start_time,omitempty"`
	EndTime           *time.Time             `json:"end_time,omitempty"`
	TotalRunTime      float64                `json:"total_run_time,omitempty"`
}

// CurrentStateType prefers the flat state_type and falls back to the nested state.
func (r *FlowRun) CurrentStateType() string {
	if r.StateType != "" {
		return r.StateType
	}
	if r.State != nil {
		return r.State.Type
	}
	return ""
}

type TaskRun struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	FlowRunID    string     `json:"flow_run_id"`
	TaskKey      string     `json:"task_key,omitempty"`
	DynamicKey   string     `json:"dynamic_key,omitempty"`
	StateType    string     `json:"state_type,omitempty"`
	StateName    string     `json:"state_name,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	TotalRunTime float64    `json:"total_run_time,omitempty"`
}

type Log struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Level     int        `json:"level"`
	LevelName string     `json:"level_name,omitempty"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
	FlowRunID string     `json:"flow_run_id,omitempty"`
	TaskRunID string     `json:"task_run_id,omitempty"`
	Created   *time.Time `json:"created,omitempty"`
}

// LevelText is the level name reported by the server, or one derived from the numeric level.
func (l Log) LevelText() string {
	if l.LevelName != "" {
		return l.LevelName
	}
	switch {
	case l.Level >= 40:
		return "ERROR"
	case l.Level >= 30:
		return "WARNING"
	case l.Level >= 20:
		return "INFO"
	default:
		return "DEBUG"
	}
}

type Variable struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
	Tags  []string        `json:"tags,omitempty"`
}

// Decoded returns the value as structured data. String values holding JSON are
// decoded too; anything else is returned as the raw string.
func (v Variable) Decoded() interface{} {
	if len(v.Value) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(v.Value, &s); err == nil {
		var inner interface{}
		if err := json.Unmarshal([]byte(s), &inner); err == nil {
			return inner
		}
		return s
	}
	var out interface{}
	if err := json.Unmarshal(v.Value, &out); err == nil {
		return out
	}
	return string(v.Value)
}

type Flow struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Tags    []string   `json:"tags,omitempty"`
	Created *time.Time `json:"created,omitempty"`
}

type Deployment struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	FlowID       string                 `json:"flow_id"`
	WorkPoolName string                 `json:"work_pool_name,omitempty"`
	Entrypoint   string                 `json:"entrypoint,omitempty"`
	Path         string                 `json:"path,omitempty"`
	Tags         []string               `json:"tags,omitempty"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
	Schedules    []json.RawMessage      `json:"schedules,omitempty"`
	Created      *time.Time             `json:"created,omitempty"`
	Updated      *time.Time             `json:"updated,omitempty"`
}

type WorkPool struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Type             string     `json:"type,omitempty"`
	Status           string     `json:"status,omitempty"`
	Description      string     `json:"description,omitempty"`
	IsPaused         bool       `json:"is_paused"`
	ConcurrencyLimit *int       `json:"concurrency_limit,omitempty"`
	Created          *time.Time `json:"created,omitempty"`
}

type ConcurrencyLimit struct {
	ID               string `json:"id"`
	Tag              string `json:"tag"`
	ConcurrencyLimit int    `json:"concurrency_limit"`
}

type ConcurrencyLimitCreate struct {
	Tag              string `json:"tag"`
	ConcurrencyLimit int    `json:"concurrency_limit"`
}

type Schedule struct {
	Cron       string     `json:"cron,omitempty"`
	Interval   int64      `json:"interval,omitempty"`
	AnchorDate *time.Time `json:"anchor_date,omitempty"`
	Timezone   string     `json:"timezone,omitempty"`
}

type DeploymentSchedule struct {
	Schedule Schedule `json:"schedule"`
	Active   bool     `json:"active"`
}

type DeploymentSpec struct {
	Name                   string                 `json:"name"`
	FlowID                 string                 `json:"flow_id"`
	WorkPoolName           string                 `json:"work_pool_name,omitempty"`
	Entrypoint             string                 `json:"entrypoint,omitempty"`
	Path                   string                 `json:"path,omitempty"`
	Tags                   []string               `json:"tags"`
	ParameterOpenAPISchema map[string]interface{} `json:"parameter_openapi_schema,omitempty"`
	EnforceParameterSchema bool                   `json:"enforce_parameter_schema"`
	Schedules              []DeploymentSchedule   `json:"schedules"`
	Parameters             map[string]interface{} `json:"parameters"`
}

// Paging is the sort/limit/offset triple every filter endpoint accepts.
type Paging struct {
	Sort   string `json:"sort,omitempty"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

type FlowRunQuery struct {
	DeploymentID string
	Paging
}

type TaskRunQuery struct {
	DeploymentID string
	FlowRunIDs   []string
	Paging
}

type LogQuery struct {
	FlowRunID string
	After     *time.Time
	Before    *time.Time
	Paging
}
