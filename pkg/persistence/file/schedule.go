package file

import (
	"context"
	"sort"
	"time"

	"github.com/ciroautuori/automato/pkg/models"
	"github.com/ciroautuori/automato/pkg/persistence"
)

const schedulesDir = "schedules"

// ScheduleRepository stores schedules as JSON files with an optimistic
// version check on update, mirroring the SQL implementation.
type ScheduleRepository struct {
	persistence *Persistence
}

func (r *ScheduleRepository) Create(ctx context.Context, schedule *models.Schedule) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	var conflict bool

	err := readAll(r.persistence, schedulesDir, func(existing *models.Schedule) {
		if existing.DefinitionID == schedule.DefinitionID && existing.CronExpression == schedule.CronExpression {
			conflict = true
		}
	})
	if err != nil {
		return err
	}

	if conflict {
		return persistence.ErrScheduleAlreadyExists
	}

	schedule.Version = 1

	return r.persistence.writeRecord(schedulesDir, schedule.ID, schedule)
}

func (r *ScheduleRepository) GetByID(ctx context.Context, id string) (*models.Schedule, error) {
	r.persistence.mu.RLock()
	defer r.persistence.mu.RUnlock()

	schedule := &models.Schedule{}

	found, err := r.persistence.readRecord(schedulesDir, id, schedule)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.ErrScheduleNotFound
	}

	return schedule, nil
}

func (r *ScheduleRepository) ListByDefinition(ctx context.Context, definitionID string) ([]*models.Schedule, error) {
	r.persistence.mu.RLock()
	defer r.persistence.mu.RUnlock()

	schedules := make([]*models.Schedule, 0)

	err := readAll(r.persistence, schedulesDir, func(schedule *models.Schedule) {
		if schedule.DefinitionID == definitionID {
			schedules = append(schedules, schedule)
		}
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(schedules, func(i, j int) bool {
		return schedules[i].CreatedAt.Before(schedules[j].CreatedAt)
	})

	return schedules, nil
}

func (r *ScheduleRepository) Update(ctx context.Context, schedule *models.Schedule) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	stored := &models.Schedule{}

	found, err := r.persistence.readRecord(schedulesDir, schedule.ID, stored)
	if err != nil {
		return err
	}

	if !found {
		return persistence.ErrScheduleNotFound
	}

	if stored.Version != schedule.Version {
		return persistence.ErrConcurrencyConflict
	}

	schedule.Version++

	return r.persistence.writeRecord(schedulesDir, schedule.ID, schedule)
}

func (r *ScheduleRepository) DueSchedules(ctx context.Context, now time.Time) ([]*models.Schedule, error) {
	r.persistence.mu.RLock()
	defer r.persistence.mu.RUnlock()

	due := make([]*models.Schedule, 0)

	err := readAll(r.persistence, schedulesDir, func(schedule *models.Schedule) {
		if schedule.IsDue(now) {
			due = append(due, schedule)
		}
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRunAt.Before(due[j].NextRunAt)
	})

	return due, nil
}
