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
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"jobflow.io/jobflow/pkg/prefect"
	"jobflow.io/jobflow/pkg/service/errs"
	"jobflow.io/jobflow/pkg/service/models"
	"jobflow.io/jobflow/pkg/utils/workerpool"
)

const insertBatchSize = 200

// Fingerprint identifies a log line of a job independent of its remote id.
func Fingerprint(jobID uint, taskRunID string, ts time.Time, message string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%d|%s|%s|%s", jobID, taskRunID, ts.UTC().Format(time.RFC3339Nano), message)))
	return hex.EncodeToString(sum[:])
}

// SyncLogs copies the logs of the job's recent runs into the database.
// Lines already stored are skipped, so repeated passes insert nothing new.
func (s *Service) SyncLogs(ctx context.Context, jobID uint) (*SyncResult, error) {
	ret, err := s.syncLogs(ctx, jobID)
	s.metrics.SyncPasses.WithLabelValues(result(err)).Inc()
	if ret != nil {
		s.metrics.SyncedLogs.Add(float64(ret.Inserted))
	}
	return ret, err
}

func (s *Service) syncLogs(ctx context.Context, jobID uint) (*SyncResult, error) {
	log := s.logger.WithValues("job", jobID)

	deploymentID, err := s.latestDeployment(ctx, jobID)
	if err != nil {
		return nil, err
	}
	runs, err := s.listDeploymentRuns(ctx, deploymentID, s.options.SyncPageSize, s.options.SyncRunCap)
	if err != nil {
		return nil, err
	}

	ret := &SyncResult{JobID: jobID, FlowRuns: len(runs)}
	seen := map[string]bool{}
	rows := []models.JobLog{}
	results := workerpool.Map(ctx, s.options.FetchConcurrency, runs, func(ctx context.Context, _ int, run prefect.FlowRun) ([]prefect.Log, error) {
		return s.fetchRunLogs(ctx, run, s.options.SyncPageSize, s.options.SyncLogCap)
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, res := range results {
		run := runs[i]
		if res.Err != nil {
			log.Error(errs.TransientFetch(res.Err, "fetch logs of flow run %s", run.ID), "skip run")
			ret.FailedRuns++
			continue
		}
		ret.Fetched += len(res.Value)
		for _, l := range res.Value {
			fp := Fingerprint(jobID, l.TaskRunID, l.Timestamp, l.Message)
			if seen[run.ID+"/"+fp] {
				ret.Duplicates++
				continue
			}
			seen[run.ID+"/"+fp] = true
			ts := l.Timestamp
			rows = append(rows, models.JobLog{
				JobID:           jobID,
				FlowRunID:       run.ID,
				TaskRunID:       l.TaskRunID,
				Logger:          l.Name,
				LogLevel:        l.LevelText(),
				Message:         l.Message,
				Timestamp:       &ts,
				RemoteLogID:     l.ID,
				FingerprintHash: fp,
			})
		}
	}
	if len(rows) == 0 {
		return ret, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, insertBatchSize)
		if res.Error != nil {
			return res.Error
		}
		ret.Inserted = res.RowsAffected
		return nil
	})
	if err != nil {
		return nil, err
	}
	ret.Duplicates += len(rows) - int(ret.Inserted)
	log.V(1).Info("logs synced", "runs", ret.FlowRuns, "fetched", ret.Fetched, "inserted", ret.Inserted)
	return ret, nil
}

// ListPersistedLogs returns the stored log lines of a job, newest first.
func (s *Service) ListPersistedLogs(ctx context.Context, jobID uint) ([]models.JobLog, error) {
	if _, err := getJob(ctx, s.db, jobID); err != nil {
		return nil, err
	}
	logs := []models.JobLog{}
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("log_timestamp DESC").Order("id DESC").
		Find(&logs).Error
	return logs, err
}

// RunSyncWorker syncs the logs of every job with an unfinished run on the
// configured cron schedule until ctx is done. An empty schedule disables it.
func (s *Service) RunSyncWorker(ctx context.Context) error {
	if s.options.SyncCron == "" {
		s.logger.Info("periodic log sync disabled")
		<-ctx.Done()
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(s.options.SyncCron, func() { s.syncPending(ctx) }); err != nil {
		return errs.WrapValidation(err, "invalid sync schedule "+s.options.SyncCron)
	}
	s.logger.Info("periodic log sync started", "schedule", s.options.SyncCron)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (s *Service) syncPending(ctx context.Context) {
	if s.passLock != nil {
		unlock, ok, err := s.passLock.TryLock(ctx)
		if err != nil {
			s.logger.Error(err, "acquire log sync lock")
			return
		}
		if !ok {
			s.logger.V(1).Info("log sync pass running elsewhere, skipped")
			return
		}
		defer unlock()
	}
	jobs := []models.Job{}
	err := s.db.WithContext(ctx).
		Where("flow_run_id <> ''").
		Where("status NOT IN ?", terminalStatuses()).
		Order("id").
		Find(&jobs).Error
	if err != nil {
		s.logger.Error(err, "list jobs to sync")
		return
	}
	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.SyncLogs(ctx, job.ID); err != nil {
			s.logger.Error(err, "sync logs", "job", job.ID)
			continue
		}
		if _, err := s.RefreshStatus(ctx, job.FlowRunID); err != nil {
			s.logger.Error(err, "refresh status", "job", job.ID, "flowRun", job.FlowRunID)
		}
	}
}

func terminalStatuses() []string {
	return []string{prefect.StateCompleted, prefect.StateFailed, prefect.StateCancelled, prefect.StateCrashed}
}
