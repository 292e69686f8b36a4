package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned when schedule validation fails.
var ErrInvalidSchedule = errors.New("invalid schedule configuration")

// Schedule binds a cron expression and timezone to a workflow definition.
// NextRunAt is precomputed so the schedule manager can poll for due schedules
// with a single indexed query instead of keeping per-schedule timers.
type Schedule struct {
	ID             string `json:"id"              validate:"required"`
	DefinitionID   string `json:"definition_id"   validate:"required"`
	CronExpression string `json:"cron_expression" validate:"required"`
	Timezone       string `json:"timezone"`
	Active         bool   `json:"active"`

	NextRunAt     time.Time  `json:"next_run_at"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSchedule creates an active schedule with its first run time computed.
func NewSchedule(id, definitionID, cronExpression, timezone string) (*Schedule, error) {
	now := time.Now().UTC()
	schedule := &Schedule{
		ID:             id,
		DefinitionID:   definitionID,
		CronExpression: cronExpression,
		Timezone:       timezone,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := schedule.Resync(now); err != nil {
		return nil, err
	}

	return schedule, nil
}

// Location resolves the schedule's timezone; UTC when unset.
func (s *Schedule) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}

	return time.LoadLocation(s.Timezone)
}

// Resync recomputes NextRunAt as the next occurrence of the cron expression
// strictly after the reference time, evaluated in the schedule's timezone.
// Missed occurrences are intentionally discarded: after downtime the caller
// fires at most one catch-up run and resynchronizes with this method.
func (s *Schedule) Resync(reference time.Time) error {
	spec, err := parseCron(s.CronExpression)
	if err != nil {
		return err
	}

	loc, err := s.Location()
	if err != nil {
		return err
	}

	s.NextRunAt = spec.Next(reference.In(loc)).UTC()
	s.UpdatedAt = time.Now().UTC()

	return nil
}

// IsDue checks whether the schedule should fire at the given time.
func (s *Schedule) IsDue(now time.Time) bool {
	return s.Active && !s.NextRunAt.After(now)
}

// RecordRun stores the outcome of the most recent fired execution.
func (s *Schedule) RecordRun(status string, at time.Time) {
	s.LastRunAt = &at
	s.LastRunStatus = status
	s.UpdatedAt = time.Now().UTC()
}

// Validate performs validation on the schedule fields.
func (s *Schedule) Validate() error {
	if s.ID == "" || s.DefinitionID == "" || s.CronExpression == "" {
		return ErrInvalidSchedule
	}

	if _, err := parseCron(s.CronExpression); err != nil {
		return err
	}

	if _, err := s.Location(); err != nil {
		return err
	}

	return nil
}

// parseCron parses the standard 5-field cron format
// (minute hour day month weekday).
func parseCron(expression string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	return parser.Parse(expression)
}
