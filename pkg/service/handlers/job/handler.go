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

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"jobflow.io/jobflow/pkg/log"
	"jobflow.io/jobflow/pkg/service/handlers"
	"jobflow.io/jobflow/pkg/service/jobs"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type JobHandler struct {
	Service *jobs.Service
}

// CreateJob
// @Tags         Job
// @Summary      create a job with its ordered tasks
// @Accept       json
// @Produce      json
// @Param        body  body      jobs.CreateJobRequest                           true  "job"
// @Success      201   {object}  handlers.ResponseStruct{Data=models.Job}        "job"
// @Failure      409   {object}  handlers.ResponseStruct{Error=handlers.DuplicateDetail}  "name taken"
// @Router       /api/jobs/batch [post]
func (h *JobHandler) CreateJob(c *gin.Context) {
	req := &jobs.CreateJobRequest{}
	if err := handlers.BindJSON(c, req); err != nil {
		handlers.NotOK(c, err)
		return
	}
	job, err := h.Service.CreateJob(c.Request.Context(), req)
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	handlers.Created(c, job)
}

// ListJobs
// @Tags         Job
// @Summary      list jobs with their tasks
// @Produce      json
// @Success      200  {object}  handlers.ResponseStruct{Data=[]models.Job}  "jobs"
// @Router       /api/jobs [get]
func (h *JobHandler) ListJobs(c *gin.Context) {
	list, err := h.Service.ListJobs(c.Request.Context())
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	handlers.OK(c, list)
}

// UpdateJob
// @Tags         Job
// @Summary      update name, concurrency and schedule of a job
// @Accept       json
// @Produce      json
// @Param        job_id  path      int                    true  "job id"
// @Param        body    body      jobs.UpdateJobRequest  true  "job"
// @Success      200     {object}  handlers.ResponseStruct{Data=models.Job}  "job"
// @Router       /api/jobs/{job_id} [put]
func (h *JobHandler) UpdateJob(c *gin.Context) {
	id, err := handlers.ParamUint(c, "job_id")
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	req := &jobs.UpdateJobRequest{}
	if err := handlers.BindJSON(c, req); err != nil {
		handlers.NotOK(c, err)
		return
	}
	job, err := h.Service.UpdateJob(c.Request.Context(), id, req)
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	handlers.OK(c, job)
}

// DeleteJob
// @Tags         Job
// @Summary      delete a job with its task links and stored logs
// @Param        job_id  path  int  true  "job id"
// @Success      204
// @Router       /api/jobs/{job_id} [delete]
func (h *JobHandler) DeleteJob(c *gin.Context) {
	id, err := handlers.ParamUint(c, "job_id")
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	if err := h.Service.DeleteJob(c.Request.Context(), id); err != nil {
		handlers.NotOK(c, err)
		return
	}
	handlers.NoContent(c)
}

// Trigger
// @Tags         Job
// @Summary      deploy the job to the orchestration server and start a run
// @Produce      json
// @Param        job_id  path      int  true  "job id"
// @Success      200     {object}  handlers.ResponseStruct{Data=jobs.TriggerResult}  "run"
// @Router       /api/jobs/{job_id}/trigger [post]
func (h *JobHandler) Trigger(c *gin.Context) {
	id, err := handlers.ParamUint(c, "job_id")
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	ret, err := h.Service.Trigger(c.Request.Context(), id)
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	handlers.OK(c, ret)
}

// GetTasks
// @Tags         Job
// @Summary      ordered tasks of a job
// @Produce      json
// @Param        job_id  path      int  true  "job id"
// @Success      200     {object}  handlers.ResponseStruct{Data=[]models.JobTaskLink}  "tasks"
// @Router       /api/jobs/{job_id}/tasks [get]
func (h *JobHandler) GetTasks(c *gin.Context) {
	id, err := handlers.ParamUint(c, "job_id")
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	links, err := h.Service.GetJobTasks(c.Request.Context(), id)
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	handlers.OK(c, links)
}

// ReplaceTasks
// @Tags         Job
// @Summary      make the task list of a job equal to the given one
// @Accept       json
// @Produce      json
// @Param        job_id  path      int                       true  "job id"
// @Param        body    body      jobs.ReplaceTasksRequest  true  "tasks"
// @Success      200     {object}  handlers.ResponseStruct{Data=[]models.JobTaskLink}  "tasks"
// @Router       /api/jobs/{job_id}/tasks [put]
func (h *JobHandler) ReplaceTasks(c *gin.Context) {
	id, err := handlers.ParamUint(c, "job_id")
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	req := &jobs.ReplaceTasksRequest{}
	if err := handlers.BindJSON(c, req); err != nil {
		handlers.NotOK(c, err)
		return
	}
	links, err := h.Service.ReplaceJobTasks(c.Request.Context(), id, req)
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	handlers.OK(c, links)
}

// AppendTask
// @Tags         Job
// @Summary      add a task after the last one of a job
// @Accept       json
// @Produce      json
// @Param        job_id  path      int             true  "job id"
// @Param        body    body      jobs.TaskInput  true  "task"
// @Success      201     {object}  handlers.ResponseStruct{Data=models.JobTaskLink}  "link"
// @Router       /api/jobs/{job_id}/tasks [post]
func (h *JobHandler) AppendTask(c *gin.Context) {
	id, err := handlers.ParamUint(c, "job_id")
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	in := jobs.TaskInput{}
	if err := handlers.BindJSON(c, &in); err != nil {
		handlers.NotOK(c, err)
		return
	}
	link, err := h.Service.AppendTask(c.Request.Context(), id, in)
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	handlers.Created(c, link)
}

// UpdateTask
// @Tags         Job
// @Summary      edit the task template behind a job task
// @Accept       json
// @Produce      json
// @Param        job_task_id  path      int             true  "job task id"
// @Param        body         body      jobs.TaskInput  true  "task"
// @Success      200          {object}  handlers.ResponseStruct{Data=models.TaskTemplate}  "task"
// @Router       /api/jobs/tasks/{job_task_id} [put]
func (h *JobHandler) UpdateTask(c *gin.Context) {
	id, err := handlers.ParamUint(c, "job_task_id")
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	in := jobs.TaskInput{}
	if err := handlers.BindJSON(c, &in); err != nil {
		handlers.NotOK(c, err)
		return
	}
	tpl, err := h.Service.UpdateJobTask(c.Request.Context(), id, in)
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	handlers.OK(c, tpl)
}

// DeleteTask
// @Tags         Job
// @Summary      remove a task from its job
// @Param        job_task_id  path  int  true  "job task id"
// @Success      204
// @Router       /api/jobs/tasks/{job_task_id} [delete]
func (h *JobHandler) DeleteTask(c *gin.Context) {
	id, err := handlers.ParamUint(c, "job_task_id")
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	if err := h.Service.DeleteJobTask(c.Request.Context(), id); err != nil {
		handlers.NotOK(c, err)
		return
	}
	handlers.NoContent(c)
}

// History
// @Tags         Job
// @Summary      runs, task runs, logs and statistics of the job's deployment
// @Produce      json
// @Param        job_id  path      int  true   "job id"
// @Param        page    query     int  false  "page"
// @Param        size    query     int  false  "page size"
// @Success      200     {object}  handlers.ResponseStruct{Data=jobs.HistoryView}  "history"
// @Router       /api/jobs/{job_id}/history [get]
func (h *JobHandler) History(c *gin.Context) {
	id, err := handlers.ParamUint(c, "job_id")
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	page, size := handlers.PageParams(c)
	view, err := h.Service.History(c.Request.Context(), id, page, size)
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	handlers.OK(c, view)
}

// Info
// @Tags         Job
// @Summary      flow, deployment and work pool of the latest run
// @Produce      json
// @Param        job_id  path      int  true  "job id"
// @Success      200     {object}  handlers.ResponseStruct{Data=jobs.JobInfo}  "info"
// @Router       /api/jobs/{job_id}/info [get]
func (h *JobHandler) Info(c *gin.Context) {
	id, err := handlers.ParamUint(c, "job_id")
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	info, err := h.Service.JobInfo(c.Request.Context(), id)
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	handlers.OK(c, info)
}

// Variables
// @Tags         Job
// @Summary      variables published for the job
// @Produce      json
// @Param        job_id  path      int  true  "job id"
// @Success      200     {object}  handlers.ResponseStruct{Data=map[string]interface{}}  "variables"
// @Router       /api/jobs/{job_id}/variables [get]
func (h *JobHandler) Variables(c *gin.Context) {
	id, err := handlers.ParamUint(c, "job_id")
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	vars, err := h.Service.JobVariables(c.Request.Context(), id)
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	handlers.OK(c, vars)
}

// Logs
// @Tags         Job
// @Summary      stored logs of the job, newest first
// @Produce      json
// @Param        job_id  path      int  true  "job id"
// @Success      200     {object}  handlers.ResponseStruct{Data=[]models.JobLog}  "logs"
// @Router       /api/jobs/{job_id}/logs [get]
func (h *JobHandler) Logs(c *gin.Context) {
	id, err := handlers.ParamUint(c, "job_id")
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	logs, err := h.Service.ListPersistedLogs(c.Request.Context(), id)
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	handlers.OK(c, logs)
}

// SyncLogs
// @Tags         Job
// @Summary      copy logs of recent runs into the database
// @Produce      json
// @Param        job_id  path      int  true  "job id"
// @Success      200     {object}  handlers.ResponseStruct{Data=jobs.SyncResult}  "result"
// @Router       /api/jobs/{job_id}/logs/sync [post]
func (h *JobHandler) SyncLogs(c *gin.Context) {
	id, err := handlers.ParamUint(c, "job_id")
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	ret, err := h.Service.SyncLogs(c.Request.Context(), id)
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	handlers.OK(c, ret)
}

// FlowRunStatus
// @Tags         Job
// @Summary      refresh the status of the jobs running a flow run
// @Produce      json
// @Param        flow_run_id  path      string  true  "flow run id"
// @Success      200          {object}  handlers.ResponseStruct{Data=jobs.FlowRunStatus}  "status"
// @Router       /api/jobs/flow-run-status/{flow_run_id} [get]
func (h *JobHandler) FlowRunStatus(c *gin.Context) {
	status, err := h.Service.RefreshStatus(c.Request.Context(), c.Param("flow_run_id"))
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	handlers.OK(c, status)
}

// Stream
// @Tags         Job
// @Summary      server sent events with the logs of the latest run
// @Produce      text/event-stream
// @Param        job_id  path  int  true  "job id"
// @Success      200     {object}  jobs.StreamEvent  "events"
// @Router       /api/jobs/{job_id}/stream [get]
func (h *JobHandler) Stream(c *gin.Context) {
	id, err := handlers.ParamUint(c, "job_id")
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	logger := log.FromContextOrDiscard(ctx).WithValues("job", id, "session", uuid.NewString())
	logger.Info("log stream opened")
	err = h.Service.Stream(ctx, id, func(ev jobs.StreamEvent) error {
		c.SSEvent("message", ev)
		c.Writer.Flush()
		return ctx.Err()
	})
	logger.Info("log stream closed", "err", errString(err))
}

// StreamWebsocket pushes the same events as Stream over a websocket.
func (h *JobHandler) StreamWebsocket(c *gin.Context) {
	id, err := handlers.ParamUint(c, "job_id")
	if err != nil {
		handlers.NotOK(c, err)
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error(err, "upgrade websocket", "job", id)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	// the client only ever closes; any read error ends the stream
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	logger := log.FromContextOrDiscard(ctx).WithValues("job", id, "session", uuid.NewString())
	logger.Info("websocket log stream opened")
	err = h.Service.Stream(ctx, id, func(ev jobs.StreamEvent) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(ev)
	})
	logger.Info("websocket log stream closed", "err", errString(err))
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
