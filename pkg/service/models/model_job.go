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

package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ScheduleNone     = "none"
	ScheduleCron     = "cron"
	ScheduleInterval = "interval"
)

const (
	JobStatusCreated = "created"
	JobStatusRunning = "running"
)

// TaskTemplate is a reusable script, shared by every job linking it.
type TaskTemplate struct {
	ID            uint      `gorm:"primarykey" json:"id"`
	Name          string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"`
	ScriptType    string    `gorm:"type:varchar(50)" json:"script_type"`
	ScriptContent string    `gorm:"type:text" json:"script_content"`
	Description   string    `gorm:"type:text" json:"description"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Job is a named, ordered list of tasks run by one deployment on the orchestration server.
type Job struct {
	ID               uint   `gorm:"primarykey" json:"id"`
	Name             string `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"`
	ConcurrencyLimit int    `gorm:"not null;default:1" json:"concurrent"`
	ScheduleType     string `gorm:"type:varchar(20);not null;default:none" json:"schedule_type"`
	ScheduleValue    string `gorm:"type:varchar(255)" json:"schedule_value"`
	ScheduleUnit     string `gorm:"type:varchar(20)" json:"schedule_unit"`
	Status           string `gorm:"type:varchar(50)" json:"status"`
	// FlowRunID and DeploymentID are written by the trigger only.
	FlowRunID    string    `gorm:"type:varchar(64);index" json:"flow_run_id"`
	DeploymentID string    `gorm:"type:varchar(64)" json:"deployment_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	Tasks []JobTaskLink `gorm:"foreignKey:JobID" json:"tasks,omitempty"`
}

// JobTaskLink places a task template at a position of a job.
// Orders of one job are dense and start at 0.
type JobTaskLink struct {
	ID             uint           `gorm:"primarykey" json:"job_task_id"`
	JobID          uint           `gorm:"not null;uniqueIndex:uniq_job_order,priority:1" json:"job_id"`
	TaskTemplateID uint           `gorm:"not null;index" json:"task_id"`
	ExecutionOrder int            `gorm:"not null;uniqueIndex:uniq_job_order,priority:2" json:"execution_order"`
	Parameters     datatypes.JSON `json:"parameters,omitempty"`
	Status         string         `gorm:"type:varchar(50)" json:"status"`
	CreatedAt      time.Time      `json:"created_at"`

	TaskTemplate *TaskTemplate `gorm:"foreignKey:TaskTemplateID" json:"task,omitempty"`
}

func (JobTaskLink) TableName() string {
	return "job_tasks"
}

// JobLog is a log line of a flow run persisted by the log sync.
// Rows are append only; FingerprintHash identifies a line within a job and flow run.
type JobLog struct {
	ID              uint       `gorm:"primarykey" json:"id"`
	JobID           uint       `gorm:"not null;uniqueIndex:uniq_job_log,priority:1" json:"job_id"`
	JobTaskID       *uint      `json:"job_task_id"`
	FlowRunID       string     `gorm:"type:varchar(64);not null;uniqueIndex:uniq_job_log,priority:2" json:"flow_run_id"`
	TaskRunID       string     `gorm:"type:varchar(64)" json:"task_run_id"`
	Logger          string     `gorm:"type:varchar(255)" json:"logger"`
	LogLevel        string     `gorm:"type:varchar(20)" json:"log_level"`
	Message         string     `gorm:"type:text" json:"log"`
	Timestamp       *time.Time `gorm:"column:log_timestamp;index" json:"log_timestamp"`
	RemoteLogID     string     `gorm:"type:varchar(64)" json:"log_id"`
	FingerprintHash string     `gorm:"type:char(32);not null;uniqueIndex:uniq_job_log,priority:3" json:"fingerprint_hash"`
	CreatedAt       time.Time  `json:"created_at"`
}
