// Package scheduler fires cron schedules by polling for due rows on a fixed
// tick. One poller handles every schedule regardless of its cron expression,
// so adding a schedule never spawns a goroutine or a timer.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ciroautuori/automato/pkg/eventbus"
	"github.com/ciroautuori/automato/pkg/events"
	"github.com/ciroautuori/automato/pkg/models"
	"github.com/ciroautuori/automato/pkg/persistence"
	"github.com/ciroautuori/automato/pkg/trigger"
)

const defaultTickInterval = time.Minute

// saveConflictRetries bounds how often a tick re-reads a schedule after
// losing an optimistic-version race to another scheduler instance.
const saveConflictRetries = 3

// Scheduler polls for due schedules and dispatches one scheduled run per due
// schedule. Missed occurrences during downtime collapse into at most one
// catch-up run; NextRunAt always resynchronizes to a strictly-future
// occurrence.
type Scheduler struct {
	persistence persistence.Persistence
	dispatcher  *trigger.Dispatcher
	eventBus    eventbus.EventBus
	logger      *slog.Logger
	interval    time.Duration

	ticker  *time.Ticker
	done    chan struct{}
	started bool
	mu      sync.Mutex
}

// NewScheduler creates a schedule poller. A zero interval selects the
// default one-minute tick.
func NewScheduler(
	persistence persistence.Persistence,
	dispatcher *trigger.Dispatcher,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
	interval time.Duration,
) *Scheduler {
	if interval <= 0 {
		interval = defaultTickInterval
	}

	return &Scheduler{
		persistence: persistence,
		dispatcher:  dispatcher,
		eventBus:    eventBus,
		logger:      logger.With("module", "scheduler"),
		interval:    interval,
	}
}

// Start launches the poll loop and subscribes to execution terminal events
// so schedules record the outcome of their most recent run.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.eventBus != nil {
		if err := s.subscribeOutcomes(ctx); err != nil {
			return err
		}
	}

	s.ticker = time.NewTicker(s.interval)
	s.done = make(chan struct{})
	s.started = true

	go s.poll(ctx)

	s.logger.InfoContext(ctx, "scheduler started", "interval", s.interval)

	return nil
}

// Stop halts the poll loop.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.ticker.Stop()
	close(s.done)
	s.started = false

	s.logger.InfoContext(ctx, "scheduler stopped")

	return nil
}

func (s *Scheduler) poll(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-s.ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick processes every due schedule once. Exported so recovery tooling and
// tests can drive the scheduler without waiting for the ticker.
func (s *Scheduler) Tick(ctx context.Context) {
	now := time.Now().UTC()

	due, err := s.persistence.Schedules().DueSchedules(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to query due schedules", "error", err)

		return
	}

	for _, schedule := range due {
		if err := ctx.Err(); err != nil {
			return
		}

		s.fire(ctx, schedule, now)
	}
}

// fire dispatches one run for a due schedule and resynchronizes NextRunAt
// from the current instant, discarding any occurrences missed while the
// process was down.
func (s *Scheduler) fire(ctx context.Context, schedule *models.Schedule, now time.Time) {
	execution, err := s.dispatcher.Dispatch(ctx, trigger.RunRequest{
		DefinitionID: schedule.DefinitionID,
		TriggerType:  models.TriggerTypeScheduled,
		TriggeredBy:  "schedule:" + schedule.ID,
		ScheduleID:   schedule.ID,
	})
	if err != nil {
		// A paused or archived definition keeps its schedule row; the
		// schedule still resyncs so it does not stay permanently due.
		s.logger.WarnContext(ctx, "scheduled run not admitted",
			"schedule_id", schedule.ID,
			"definition_id", schedule.DefinitionID,
			"error", err)
	} else {
		s.logger.InfoContext(ctx, "scheduled run dispatched",
			"schedule_id", schedule.ID,
			"definition_id", schedule.DefinitionID,
			"execution_id", execution.ID)
	}

	if err := schedule.Resync(now); err != nil {
		s.logger.ErrorContext(ctx, "failed to resync schedule", "schedule_id", schedule.ID, "error", err)

		return
	}

	s.save(ctx, schedule, func(fresh *models.Schedule) {
		fresh.NextRunAt = schedule.NextRunAt
		fresh.UpdatedAt = schedule.UpdatedAt
	})
}

// subscribeOutcomes records LastRunAt/LastRunStatus asynchronously once a
// scheduled execution reaches a terminal state.
func (s *Scheduler) subscribeOutcomes(ctx context.Context) error {
	record := func(scheduleID, status string, at time.Time) {
		if scheduleID == "" {
			return
		}

		schedule, err := s.persistence.Schedules().GetByID(ctx, scheduleID)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to load schedule for outcome", "schedule_id", scheduleID, "error", err)

			return
		}

		schedule.RecordRun(status, at)
		s.save(ctx, schedule, func(fresh *models.Schedule) {
			fresh.LastRunAt = schedule.LastRunAt
			fresh.LastRunStatus = schedule.LastRunStatus
			fresh.UpdatedAt = schedule.UpdatedAt
		})
	}

	err := s.eventBus.Handle(events.ExecutionCompletedEvent, func(_ context.Context, event any) error {
		if completed, ok := event.(*events.ExecutionCompleted); ok {
			record(completed.ScheduleID, string(models.ExecutionStatusCompleted), completed.Timestamp)
		}

		return nil
	})
	if err != nil {
		return err
	}

	err = s.eventBus.Handle(events.ExecutionFailedEvent, func(_ context.Context, event any) error {
		if failed, ok := event.(*events.ExecutionFailed); ok {
			record(failed.ScheduleID, string(models.ExecutionStatusFailed), failed.Timestamp)
		}

		return nil
	})
	if err != nil {
		return err
	}

	err = s.eventBus.Handle(events.ExecutionCancelledEvent, func(_ context.Context, event any) error {
		if cancelled, ok := event.(*events.ExecutionCancelled); ok {
			record(cancelled.ScheduleID, string(models.ExecutionStatusCancelled), cancelled.Timestamp)
		}

		return nil
	})
	if err != nil {
		return err
	}

	return s.eventBus.Subscribe(ctx)
}

// save persists a schedule, re-reading and re-applying the mutation a small
// bounded number of times when another instance won the version race.
func (s *Scheduler) save(ctx context.Context, schedule *models.Schedule, apply func(*models.Schedule)) {
	current := schedule

	for attempt := 0; attempt < saveConflictRetries; attempt++ {
		err := s.persistence.Schedules().Update(ctx, current)
		if err == nil {
			return
		}

		if !persistence.IsConcurrencyConflict(err) {
			s.logger.ErrorContext(ctx, "failed to save schedule", "schedule_id", schedule.ID, "error", err)

			return
		}

		fresh, loadErr := s.persistence.Schedules().GetByID(ctx, schedule.ID)
		if loadErr != nil {
			s.logger.ErrorContext(ctx, "failed to reload schedule after conflict", "schedule_id", schedule.ID, "error", loadErr)

			return
		}

		apply(fresh)
		current = fresh
	}

	s.logger.WarnContext(ctx, "schedule save skipped after repeated conflicts", "schedule_id", schedule.ID)
}
