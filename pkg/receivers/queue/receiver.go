// Package queue consumes external events from a Redis stream and turns them
// into run requests for event-triggered definitions.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/ciroautuori/automato/pkg/models"
	"github.com/ciroautuori/automato/pkg/persistence"
	"github.com/ciroautuori/automato/pkg/trigger"
)

const (
	defaultBlock     = 5 * time.Second
	defaultBatchSize = 10
	connectTimeout   = 5 * time.Second
)

// Message field names on the stream entry.
const (
	fieldEventType    = "event_type"
	fieldDefinitionID = "definition_id"
	fieldData         = "data"
)

// Config holds the Redis stream consumer settings.
type Config struct {
	Addr     string
	Password string
	DB       int

	// Stream and Group identify the consumer group this receiver reads
	// through. Entries already claimed by the group are not redelivered to
	// other consumers.
	Stream   string
	Group    string
	Consumer string

	Block     time.Duration
	BatchSize int64
}

func (c *Config) normalize() error {
	if c.Stream == "" {
		return errors.New("queue receiver stream name is required")
	}

	if c.Group == "" {
		return errors.New("queue receiver consumer group is required")
	}

	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}

	if c.Consumer == "" {
		c.Consumer = "automato-worker"
	}

	if c.Block <= 0 {
		c.Block = defaultBlock
	}

	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}

	return nil
}

// Receiver reads event messages from a Redis stream and dispatches them to
// every active event-triggered definition. Admission filtering (the
// event-type match) stays in the dispatcher; a rejected definition is simply
// skipped.
type Receiver struct {
	config      Config
	persistence persistence.Persistence
	dispatcher  *trigger.Dispatcher
	logger      *slog.Logger

	client redis.UniversalClient
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewReceiver validates the config and creates a receiver. The Redis
// connection is established on Start.
func NewReceiver(config Config, persistence persistence.Persistence, dispatcher *trigger.Dispatcher, logger *slog.Logger) (*Receiver, error) {
	if err := config.normalize(); err != nil {
		return nil, err
	}

	return &Receiver{
		config:      config,
		persistence: persistence,
		dispatcher:  dispatcher,
		stopCh:      make(chan struct{}),
		logger: logger.With(
			"module", "queue_receiver",
			"stream", config.Stream,
			"group", config.Group,
		),
	}, nil
}

// Start connects to Redis, ensures the consumer group exists and launches the
// consume loop.
func (r *Receiver) Start(ctx context.Context) error {
	r.client = redis.NewClient(&redis.Options{
		Addr:     r.config.Addr,
		Password: r.config.Password,
		DB:       r.config.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := r.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis at %s: %w", r.config.Addr, err)
	}

	err := r.client.XGroupCreateMkStream(ctx, r.config.Stream, r.config.Group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s: %w", r.config.Group, err)
	}

	r.logger.InfoContext(ctx, "queue receiver started", "addr", r.config.Addr)

	r.wg.Add(1)

	go r.consume(ctx)

	return nil
}

// Stop halts the consume loop and closes the Redis client.
func (r *Receiver) Stop(ctx context.Context) error {
	close(r.stopCh)
	r.wg.Wait()

	if r.client != nil {
		if err := r.client.Close(); err != nil {
			r.logger.ErrorContext(ctx, "error closing redis client", "error", err)
		}
	}

	r.logger.InfoContext(ctx, "queue receiver stopped")

	return nil
}

func (r *Receiver) consume(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		default:
			if err := r.readBatch(ctx); err != nil {
				r.logger.ErrorContext(ctx, "error reading from stream", "error", err)
				time.Sleep(time.Second)
			}
		}
	}
}

func (r *Receiver) readBatch(ctx context.Context) error {
	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    r.config.Group,
		Consumer: r.config.Consumer,
		Streams:  []string{r.config.Stream, ">"},
		Count:    r.config.BatchSize,
		Block:    r.config.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return nil
		}

		return err
	}

	for _, stream := range streams {
		for _, entry := range stream.Messages {
			r.handleEntry(ctx, entry)

			if err := r.client.XAck(ctx, r.config.Stream, r.config.Group, entry.ID).Err(); err != nil {
				r.logger.ErrorContext(ctx, "failed to ack stream entry", "entry_id", entry.ID, "error", err)
			}
		}
	}

	return nil
}

// handleEntry dispatches one stream entry. Malformed entries are logged and
// acked so they do not wedge the group.
func (r *Receiver) handleEntry(ctx context.Context, entry redis.XMessage) {
	event, err := parseEntry(entry)
	if err != nil {
		r.logger.WarnContext(ctx, "discarding malformed stream entry", "entry_id", entry.ID, "error", err)

		return
	}

	targets, err := r.targets(ctx, event)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to resolve event targets", "event_type", event.Type, "error", err)

		return
	}

	for _, definitionID := range targets {
		_, err := r.dispatcher.Dispatch(ctx, trigger.RunRequest{
			DefinitionID: definitionID,
			TriggerType:  models.TriggerTypeEvent,
			InputData:    event.Data,
			TriggeredBy:  "event:" + entry.ID,
			EventType:    event.Type,
		})
		if err != nil {
			if trigger.IsTriggerRejected(err) {
				continue
			}

			r.logger.ErrorContext(ctx, "failed to dispatch event run",
				"definition_id", definitionID,
				"event_type", event.Type,
				"error", err)
		}
	}
}

// targets returns the definitions an event should be offered to. An explicit
// definition_id narrows delivery to that one definition; otherwise every
// active event-triggered definition is a candidate and the dispatcher's
// event-type filter decides admission.
func (r *Receiver) targets(ctx context.Context, event *streamEvent) ([]string, error) {
	if event.DefinitionID != "" {
		return []string{event.DefinitionID}, nil
	}

	definitions, err := r.persistence.Definitions().GetAll(ctx)
	if err != nil {
		return nil, err
	}

	var ids []string

	for _, definition := range definitions {
		if definition.TriggerType == models.TriggerTypeEvent && definition.Triggerable() {
			ids = append(ids, definition.ID)
		}
	}

	return ids, nil
}

type streamEvent struct {
	Type         string
	DefinitionID string
	Data         map[string]any
}

func parseEntry(entry redis.XMessage) (*streamEvent, error) {
	eventType, _ := entry.Values[fieldEventType].(string)
	if eventType == "" {
		return nil, errors.New("stream entry has no event_type field")
	}

	event := &streamEvent{Type: eventType}
	event.DefinitionID, _ = entry.Values[fieldDefinitionID].(string)

	if raw, ok := entry.Values[fieldData].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &event.Data); err != nil {
			return nil, fmt.Errorf("stream entry data is not valid JSON: %w", err)
		}
	}

	if event.Data == nil {
		event.Data = map[string]any{}
	}

	if event.Data["timestamp"] == nil {
		event.Data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	}

	return event, nil
}
