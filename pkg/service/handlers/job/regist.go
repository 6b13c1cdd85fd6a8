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

package jobhandler

import "github.com/gin-gonic/gin"

func (h *JobHandler) RegistRouter(rg *gin.RouterGroup) {
	rg.POST("/jobs/batch", h.CreateJob)
	rg.GET("/jobs", h.ListJobs)
	rg.GET("/jobs/flow-run-status/:flow_run_id", h.FlowRunStatus)
	rg.PUT("/jobs/tasks/:job_task_id", h.UpdateTask)
	rg.DELETE("/jobs/tasks/:job_task_id", h.DeleteTask)

	rg.PUT("/jobs/:job_id", h.UpdateJob)
	rg.DELETE("/jobs/:job_id", h.DeleteJob)
	rg.POST("/jobs/:job_id/trigger", h.Trigger)
	rg.GET("/jobs/:job_id/tasks", h.GetTasks)
	rg.PUT("/jobs/:job_id/tasks", h.ReplaceTasks)
	rg.POST("/jobs/:job_id/tasks", h.AppendTask)
	rg.GET("/jobs/:job_id/history", h.History)
	rg.GET("/jobs/:job_id/info", h.Info)
	rg.GET("/jobs/:job_id/variables", h.Variables)
	rg.GET("/jobs/:job_id/logs", h.Logs)
	rg.POST("/jobs/:job_id/logs/sync", h.SyncLogs)
	rg.GET("/jobs/:job_id/stream", h.Stream)
	rg.GET("/jobs/:job_id/stream/ws", h.StreamWebsocket)
}
