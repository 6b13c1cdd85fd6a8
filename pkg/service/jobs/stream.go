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
	"time"

	"golang.org/x/exp/slices"
	"jobflow.io/jobflow/pkg/prefect"
	"jobflow.io/jobflow/pkg/service/errs"
	"jobflow.io/jobflow/pkg/utils/retry"
)

// Stream forwards new logs of the job's latest flow run to emit until the run
// reaches a terminal state, polling fails, emit fails or ctx is done.
// Failures to find or poll the run are reported as error events.
func (s *Service) Stream(ctx context.Context, jobID uint, emit func(StreamEvent) error) error {
	s.metrics.OpenStreams.Inc()
	defer s.metrics.OpenStreams.Dec()
	log := s.logger.WithValues("job", jobID)

	flowRunID, err := s.resolveFlowRun(ctx, jobID)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		log.Info("no flow run to stream", "err", err.Error())
		return emit(StreamEvent{Type: EventError, Message: fmt.Sprintf("No flow run found for job %d: %v", jobID, err)})
	}
	if err := emit(StreamEvent{Type: EventInfo, Message: "Connected to log stream for flow run: " + flowRunID}); err != nil {
		return err
	}

	ticker := time.NewTicker(s.options.StreamPollInterval)
	defer ticker.Stop()
	var watermark *time.Time
	for {
		done, err := s.poll(ctx, flowRunID, &watermark, emit)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			ee := emitError{}
			if errors.As(err, &ee) {
				return ee.err
			}
			log.Error(err, "poll flow run", "flowRun", flowRunID)
			return emit(StreamEvent{Type: EventError, Message: "Polling error: " + err.Error()})
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

type emitError struct{ err error }

func (e emitError) Error() string { return e.err.Error() }

func (s *Service) resolveFlowRun(ctx context.Context, jobID uint) (string, error) {
	flowRunID := ""
	isRetry := func(err error) bool { return errs.IsKind(err, errs.KindNotFound) }
	err := retry.OnError(ctx, retry.Fixed(s.options.StreamRetries, s.options.StreamRetryInterval), isRetry, func(ctx context.Context) error {
		job, err := getJob(ctx, s.db, jobID)
		if err != nil {
			return err
		}
		if job.FlowRunID == "" {
			return errs.NoRunYet(jobID)
		}
		flowRunID = job.FlowRunID
		return nil
	})
	return flowRunID, err
}

// poll emits the logs newer than watermark and reports whether the run has finished.
func (s *Service) poll(ctx context.Context, flowRunID string, watermark **time.Time, emit func(StreamEvent) error) (bool, error) {
	after := *watermark
	logs, err := collectPages(ctx, prefect.SortTimestampAsc, prefect.MaxPageSize, prefect.MaxFlowRunLogs, func(ctx context.Context, p prefect.Paging) ([]prefect.Log, error) {
		logs, err := s.orch.FilterLogs(ctx, prefect.LogQuery{FlowRunID: flowRunID, After: after, Paging: p})
		if prefect.IsNotFound(err) {
			return []prefect.Log{}, nil
		}
		return logs, err
	})
	if err != nil {
		return false, err
	}
	slices.SortStableFunc(logs, func(a, b prefect.Log) int { return a.Timestamp.Compare(b.Timestamp) })
	for _, l := range logs {
		if after != nil && !l.Timestamp.After(*after) {
			continue
		}
		ts := l.Timestamp
		if err := emit(StreamEvent{Type: EventLog, Level: l.LevelText(), Message: l.Message, Timestamp: &ts}); err != nil {
			return false, emitError{err: err}
		}
		if *watermark == nil || ts.After(**watermark) {
			*watermark = &ts
		}
	}

	run, err := s.orch.GetFlowRun(ctx, flowRunID)
	if err != nil {
		return false, err
	}
	if state := run.CurrentStateType(); prefect.IsTerminal(state) {
		return true, emitOrWrap(emit, StreamEvent{Type: EventInfo, Message: "Flow finished with state: " + state})
	}
	return false, nil
}

func emitOrWrap(emit func(StreamEvent) error, ev StreamEvent) error {
	if err := emit(ev); err != nil {
		return emitError{err: err}
	}
	return nil
}
