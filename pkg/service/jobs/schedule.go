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
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"jobflow.io/jobflow/pkg/prefect"
	"jobflow.io/jobflow/pkg/service/errs"
	"jobflow.io/jobflow/pkg/service/models"
)

var intervalUnitSeconds = map[string]int64{
	"second": 1, "seconds": 1,
	"minute": 60, "minutes": 60,
	"hour": 3600, "hours": 3600,
	"day": 86400, "days": 86400,
}

// applySchedule validates a schedule and stores it on job. Cron schedules carry no unit.
func applySchedule(job *models.Job, typ, value, unit string) error {
	typ = strings.ToLower(strings.TrimSpace(typ))
	value = strings.TrimSpace(value)
	switch typ {
	case "", models.ScheduleNone:
		job.ScheduleType, job.ScheduleValue, job.ScheduleUnit = models.ScheduleNone, "", ""
	case models.ScheduleCron:
		if value == "" {
			return errs.Validation("cron schedule requires an expression")
		}
		if _, err := cron.ParseStandard(value); err != nil {
			return errs.WrapValidation(err, "invalid cron expression "+strconv.Quote(value))
		}
		job.ScheduleType, job.ScheduleValue, job.ScheduleUnit = models.ScheduleCron, value, ""
	case models.ScheduleInterval:
		job.ScheduleType, job.ScheduleValue, job.ScheduleUnit = models.ScheduleInterval, value, strings.ToLower(strings.TrimSpace(unit))
	default:
		return errs.Validation("unknown schedule type %q", typ)
	}
	return nil
}

// BuildSchedules converts the schedule of a job into deployment schedules.
// An interval with an unknown unit or a non positive value yields no schedule.
func BuildSchedules(job *models.Job, timezone string, now time.Time) []prefect.DeploymentSchedule {
	schedules := []prefect.DeploymentSchedule{}
	if job.ScheduleValue == "" {
		return schedules
	}
	switch job.ScheduleType {
	case models.ScheduleCron:
		schedules = append(schedules, prefect.DeploymentSchedule{
			Schedule: prefect.Schedule{Cron: job.ScheduleValue, Timezone: timezone},
			Active:   true,
		})
	case models.ScheduleInterval:
		n, err := strconv.ParseInt(job.ScheduleValue, 10, 64)
		if err != nil || n <= 0 {
			return schedules
		}
		unit, ok := intervalUnitSeconds[strings.ToLower(job.ScheduleUnit)]
		if !ok {
			return schedules
		}
		anchor := now.UTC()
		schedules = append(schedules, prefect.DeploymentSchedule{
			Schedule: prefect.Schedule{Interval: n * unit, AnchorDate: &anchor, Timezone: timezone},
			Active:   true,
		})
	}
	return schedules
}
