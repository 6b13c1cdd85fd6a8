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

	pkgerrors "github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"jobflow.io/jobflow/pkg/service/errs"
	"jobflow.io/jobflow/pkg/service/models"
	"jobflow.io/jobflow/pkg/utils/idempotent"
	"jobflow.io/jobflow/pkg/utils/set"
)

// maxAppendAttempts bounds retries of an append losing the race for an execution order.
const maxAppendAttempts = 5

var (
	errJobNameTaken = errors.New("job name taken")
	errOrderTaken   = errors.New("execution order taken")
)

func (s *Service) ListJobs(ctx context.Context) ([]models.Job, error) {
	list := []models.Job{}
	err := s.db.WithContext(ctx).
		Preload("Tasks", func(db *gorm.DB) *gorm.DB { return db.Order("execution_order ASC") }).
		Preload("Tasks.TaskTemplate").
		Order("id DESC").
		Find(&list).Error
	return list, err
}

func (s *Service) GetJobTasks(ctx context.Context, jobID uint) ([]models.JobTaskLink, error) {
	if _, err := getJob(ctx, s.db, jobID); err != nil {
		return nil, err
	}
	links := []models.JobTaskLink{}
	err := s.db.WithContext(ctx).
		Preload("TaskTemplate").
		Where("job_id = ?", jobID).
		Order("execution_order ASC").
		Find(&links).Error
	return links, err
}

// CreateJob stores a job and links its tasks in the given order.
// A taken name fails with a duplicate error carrying the id of the existing job.
func (s *Service) CreateJob(ctx context.Context, req *CreateJobRequest) (*models.Job, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	job := &models.Job{
		Name:             req.Name,
		ConcurrencyLimit: req.Concurrent,
		ScheduleType:     models.ScheduleNone,
		Status:           models.JobStatusCreated,
	}
	if job.ConcurrencyLimit == 0 {
		job.ConcurrencyLimit = 1
	}
	if req.Schedule != nil {
		if err := applySchedule(job, req.Schedule.Type, string(req.Schedule.Value), req.Schedule.Unit); err != nil {
			return nil, err
		}
	}
	if existing, ok, err := s.findJobIDByName(ctx, s.db, req.Name); err != nil {
		return nil, err
	} else if ok {
		return nil, errs.DuplicateName("job", req.Name, existing)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			if models.IsDuplicate(err) {
				return errJobNameTaken
			}
			return err
		}
		return linkTasks(tx, job.ID, 0, req.Tasks)
	})
	if errors.Is(err, errJobNameTaken) {
		existing, _, ferr := s.findJobIDByName(ctx, s.db, req.Name)
		if ferr != nil {
			return nil, ferr
		}
		return nil, errs.DuplicateName("job", req.Name, existing)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "create job")
	}
	s.logger.Info("job created", "job", job.ID, "name", job.Name, "tasks", len(req.Tasks))
	return s.reloadJob(ctx, job.ID)
}

func (s *Service) UpdateJob(ctx context.Context, jobID uint, req *UpdateJobRequest) (*models.Job, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	updated := &models.Job{}
	if err := applySchedule(updated, req.ScheduleType, string(req.ScheduleValue), req.ScheduleUnit); err != nil {
		return nil, err
	}
	concurrency := req.Concurrent
	if concurrency == 0 {
		concurrency = 1
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		job, err := getJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if existing, ok, err := s.findJobIDByName(ctx, tx, req.Name); err != nil {
			return err
		} else if ok && existing != job.ID {
			return errs.DuplicateName("job", req.Name, existing)
		}
		err = tx.Model(job).Updates(map[string]interface{}{
			"name":              req.Name,
			"concurrency_limit": concurrency,
			"schedule_type":     updated.ScheduleType,
			"schedule_value":    updated.ScheduleValue,
			"schedule_unit":     updated.ScheduleUnit,
		}).Error
		if models.IsDuplicate(err) {
			return errJobNameTaken
		}
		return err
	})
	if errors.Is(err, errJobNameTaken) {
		existing, _, _ := s.findJobIDByName(ctx, s.db, req.Name)
		return nil, errs.DuplicateName("job", req.Name, existing)
	}
	if err != nil {
		return nil, err
	}
	return s.reloadJob(ctx, jobID)
}

// DeleteJob removes a job with its task links and persisted logs.
func (s *Service) DeleteJob(ctx context.Context, jobID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := getJob(ctx, tx, jobID); err != nil {
			return err
		}
		if err := tx.Where("job_id = ?", jobID).Delete(&models.JobLog{}).Error; err != nil {
			return err
		}
		if err := tx.Where("job_id = ?", jobID).Delete(&models.JobTaskLink{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Job{}, jobID).Error
	})
}

// UpsertTaskTemplate inserts the template or updates the one with the same name, returning its id.
func (s *Service) UpsertTaskTemplate(ctx context.Context, in TaskInput) (uint, error) {
	if err := s.validateStruct(&in); err != nil {
		return 0, err
	}
	var id uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		id, err = upsertTemplate(tx, in)
		return err
	})
	return id, err
}

// AppendTask links a task after the last one of the job.
func (s *Service) AppendTask(ctx context.Context, jobID uint, in TaskInput) (*models.JobTaskLink, error) {
	if err := s.validateStruct(&in); err != nil {
		return nil, err
	}
	for attempt := 1; ; attempt++ {
		link, err := s.appendOnce(ctx, jobID, in)
		if err == nil {
			return link, nil
		}
		if !errors.Is(err, errOrderTaken) {
			return nil, err
		}
		if attempt >= maxAppendAttempts {
			return nil, errs.Conflict(err, "append task")
		}
		s.logger.V(1).Info("execution order taken, retrying", "job", jobID, "attempt", attempt)
	}
}

func (s *Service) appendOnce(ctx context.Context, jobID uint, in TaskInput) (*models.JobTaskLink, error) {
	link := &models.JobTaskLink{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockJob(tx, jobID); err != nil {
			return err
		}
		next, err := nextOrder(tx, jobID)
		if err != nil {
			return err
		}
		templateID, err := upsertTemplate(tx, in)
		if err != nil {
			return err
		}
		link = &models.JobTaskLink{
			JobID:          jobID,
			TaskTemplateID: templateID,
			ExecutionOrder: next,
			Parameters:     datatypes.JSON(in.Parameters),
		}
		if err := tx.Create(link).Error; err != nil {
			if models.IsDuplicate(err) {
				return errOrderTaken
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

// ReplaceJobTasks makes the task list of a job equal to tasks, in that order.
// Links of templates still wanted are kept, others removed and missing ones added.
func (s *Service) ReplaceJobTasks(ctx context.Context, jobID uint, req *ReplaceTasksRequest) ([]models.JobTaskLink, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	if err := checkUniqueTaskNames(req.Tasks); err != nil {
		return nil, err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockJob(tx, jobID); err != nil {
			return err
		}
		desired := make([]uint, len(req.Tasks))
		for i, task := range req.Tasks {
			id, err := upsertTemplate(tx, task)
			if err != nil {
				return err
			}
			desired[i] = id
		}

		current := []models.JobTaskLink{}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("job_id = ?", jobID).Order("execution_order ASC").Find(&current).Error; err != nil {
			return err
		}
		byTemplate := map[uint]models.JobTaskLink{}
		currentIDs := []uint{}
		extra := []uint{}
		for _, link := range current {
			if _, ok := byTemplate[link.TaskTemplateID]; ok {
				// the same template linked twice, keep the first
				extra = append(extra, link.ID)
				continue
			}
			byTemplate[link.TaskTemplateID] = link
			currentIDs = append(currentIDs, link.TaskTemplateID)
		}

		diff := set.Differ(desired, currentIDs)
		for _, templateID := range diff.ToRemove {
			extra = append(extra, byTemplate[templateID].ID)
			delete(byTemplate, templateID)
		}
		if len(extra) > 0 {
			if err := tx.Delete(&models.JobTaskLink{}, extra).Error; err != nil {
				return err
			}
		}
		// move kept links out of the way of the unique order index first
		for _, link := range byTemplate {
			if err := tx.Model(&models.JobTaskLink{}).Where("id = ?", link.ID).
				Update("execution_order", -int(link.ID)).Error; err != nil {
				return err
			}
		}
		for order, templateID := range desired {
			params := datatypes.JSON(req.Tasks[order].Parameters)
			if link, ok := byTemplate[templateID]; ok {
				updates := map[string]interface{}{"execution_order": order}
				if len(params) > 0 {
					updates["parameters"] = params
				}
				if err := tx.Model(&models.JobTaskLink{}).Where("id = ?", link.ID).Updates(updates).Error; err != nil {
					return err
				}
				continue
			}
			link := &models.JobTaskLink{JobID: jobID, TaskTemplateID: templateID, ExecutionOrder: order, Parameters: params}
			if err := tx.Create(link).Error; err != nil {
				return err
			}
		}
		s.logger.Info("job tasks replaced", "job", jobID, "added", len(diff.ToAdd), "removed", len(diff.ToRemove))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetJobTasks(ctx, jobID)
}

// UpdateJobTask edits the template behind a link. Every job linking that template sees the change.
func (s *Service) UpdateJobTask(ctx context.Context, linkID uint, in TaskInput) (*models.TaskTemplate, error) {
	if err := s.validateStruct(&in); err != nil {
		return nil, err
	}
	tpl := &models.TaskTemplate{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		link := &models.JobTaskLink{}
		if err := tx.First(link, linkID).Error; err != nil {
			if models.IsNotFound(err) {
				return errs.NotFound("job task", linkID)
			}
			return err
		}
		err := tx.Model(&models.TaskTemplate{}).Where("id = ?", link.TaskTemplateID).Updates(map[string]interface{}{
			"name":           in.Name,
			"script_type":    in.ScriptType,
			"script_content": in.ScriptContent,
			"description":    in.Description,
		}).Error
		if err != nil {
			if models.IsDuplicate(err) {
				return errs.Conflict(err, "task template name "+in.Name+" is taken")
			}
			return err
		}
		if len(in.Parameters) > 0 {
			if err := tx.Model(link).Update("parameters", datatypes.JSON(in.Parameters)).Error; err != nil {
				return err
			}
		}
		return tx.First(tpl, link.TaskTemplateID).Error
	})
	if err != nil {
		return nil, err
	}
	return tpl, nil
}

// DeleteJobTask removes a link and shifts the following ones up, keeping orders dense.
// The link and its followers are read under the job lock so that a concurrent
// delete on the same job is seen after it commits.
func (s *Service) DeleteJobTask(ctx context.Context, linkID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		jobIDs := []uint{}
		if err := tx.Model(&models.JobTaskLink{}).Where("id = ?", linkID).Limit(1).Pluck("job_id", &jobIDs).Error; err != nil {
			return err
		}
		if len(jobIDs) == 0 {
			return errs.NotFound("job task", linkID)
		}
		if _, err := lockJob(tx, jobIDs[0]); err != nil {
			return err
		}
		link := &models.JobTaskLink{}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(link, linkID).Error; err != nil {
			if models.IsNotFound(err) {
				return errs.NotFound("job task", linkID)
			}
			return err
		}
		if err := tx.Delete(link).Error; err != nil {
			return err
		}
		following := []models.JobTaskLink{}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("job_id = ? AND execution_order > ?", link.JobID, link.ExecutionOrder).
			Order("execution_order ASC").Find(&following).Error; err != nil {
			return err
		}
		for _, f := range following {
			if err := tx.Model(&models.JobTaskLink{}).Where("id = ?", f.ID).
				Update("execution_order", f.ExecutionOrder-1).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) reloadJob(ctx context.Context, jobID uint) (*models.Job, error) {
	job := &models.Job{}
	err := s.db.WithContext(ctx).
		Preload("Tasks", func(db *gorm.DB) *gorm.DB { return db.Order("execution_order ASC") }).
		Preload("Tasks.TaskTemplate").
		First(job, jobID).Error
	return job, err
}

func (s *Service) findJobIDByName(ctx context.Context, db *gorm.DB, name string) (uint, bool, error) {
	ids := []uint{}
	if err := db.WithContext(ctx).Model(&models.Job{}).Where("name = ?", name).Limit(1).Pluck("id", &ids).Error; err != nil {
		return 0, false, err
	}
	if len(ids) == 0 {
		return 0, false, nil
	}
	return ids[0], true, nil
}

// lockJob takes a row lock on the job for the rest of the transaction.
func lockJob(tx *gorm.DB, jobID uint) (*models.Job, error) {
	job := &models.Job{}
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(job, jobID).Error; err != nil {
		if models.IsNotFound(err) {
			return nil, errs.NotFound("job", jobID)
		}
		return nil, err
	}
	return job, nil
}

func nextOrder(tx *gorm.DB, jobID uint) (int, error) {
	maxOrder := -1
	if err := tx.Model(&models.JobTaskLink{}).Where("job_id = ?", jobID).
		Select("COALESCE(MAX(execution_order), -1)").Scan(&maxOrder).Error; err != nil {
		return 0, err
	}
	return maxOrder + 1, nil
}

func linkTasks(tx *gorm.DB, jobID uint, start int, tasks []TaskInput) error {
	for i, task := range tasks {
		templateID, err := upsertTemplate(tx, task)
		if err != nil {
			return err
		}
		link := &models.JobTaskLink{
			JobID:          jobID,
			TaskTemplateID: templateID,
			ExecutionOrder: start + i,
			Parameters:     datatypes.JSON(task.Parameters),
		}
		if err := tx.Create(link).Error; err != nil {
			return err
		}
	}
	return nil
}

// upsertTemplate returns the id of the template named in.Name, refreshing its
// script or creating it.
func upsertTemplate(tx *gorm.DB, in TaskInput) (uint, error) {
	id, err := idempotent.FindOrCreate(tx.Statement.Context, in.Name, idempotent.Entry[string, uint]{
		Find: func(ctx context.Context, name string) (uint, bool, error) {
			ids := []uint{}
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Model(&models.TaskTemplate{}).
				Where("name = ?", name).Limit(1).Pluck("id", &ids).Error
			if err != nil || len(ids) == 0 {
				return 0, false, err
			}
			return ids[0], true, nil
		},
		Create: func(ctx context.Context, name string) (uint, error) {
			tpl := &models.TaskTemplate{
				Name:          name,
				ScriptType:    in.ScriptType,
				ScriptContent: in.ScriptContent,
				Description:   in.Description,
			}
			err := tx.Create(tpl).Error
			return tpl.ID, err
		},
		Update: func(ctx context.Context, id uint) error {
			updates := map[string]interface{}{
				"script_type":    in.ScriptType,
				"script_content": in.ScriptContent,
			}
			if in.Description != "" {
				updates["description"] = in.Description
			}
			return tx.Model(&models.TaskTemplate{}).Where("id = ?", id).Updates(updates).Error
		},
		IsConflict: models.IsDuplicate,
	})
	if err != nil {
		if models.IsDuplicate(err) {
			return 0, errs.Conflict(err, "upsert task template "+in.Name)
		}
		return 0, err
	}
	return id, nil
}

func checkUniqueTaskNames(tasks []TaskInput) error {
	seen := set.NewSet[string]()
	for _, t := range tasks {
		if seen.Has(t.Name) {
			return errs.Validation("task %q is listed more than once", t.Name)
		}
		seen.Append(t.Name)
	}
	return nil
}
