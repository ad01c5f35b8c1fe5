package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sagaforge/sagaforge/pkg/breaker"
	"github.com/sagaforge/sagaforge/pkg/saga"
)

// QueueExecutor performs MESSAGE_QUEUE steps by appending to a Redis stream
// named after the step's queue, guarded by the circuit breaker under the
// "redis" service identity unless the step overrides it.
type QueueExecutor struct {
	client   redis.UniversalClient
	breakers *breaker.Manager
}

// NewQueueExecutor creates the message-queue adapter.
func NewQueueExecutor(client redis.UniversalClient, breakers *breaker.Manager) *QueueExecutor {
	return &QueueExecutor{client: client, breakers: breakers}
}

// Type implements Executor.
func (e *QueueExecutor) Type() saga.StepType { return saga.StepTypeMessageQueue }

// Execute publishes the rendered message to the configured stream.
func (e *QueueExecutor) Execute(ctx context.Context, step *saga.Step, input map[string]any) (map[string]any, error) {
	if e.client == nil {
		return nil, Permanent(fmt.Errorf("queue step %q: no message broker configured", step.Name))
	}
	cfg := step.Config
	if cfg.QueueName == "" {
		return nil, Permanent(fmt.Errorf("queue step %q: queue name cannot be empty", step.Name))
	}

	payload := cfg.MessageTemplate
	if payload != "" {
		payload = renderTemplate(payload, input)
	} else {
		encoded, err := json.Marshal(input)
		if err != nil {
			return nil, Permanent(fmt.Errorf("queue step %q: encoding input: %w", step.Name, err))
		}
		payload = string(encoded)
	}

	service := cfg.ServiceName
	if service == "" {
		service = "redis"
	}
	if e.breakers != nil {
		if err := e.breakers.Allow(service); err != nil {
			return nil, fmt.Errorf("service %s: %w", service, err)
		}
	}

	id, err := e.client.XAdd(ctx, &redis.XAddArgs{
		Stream: cfg.QueueName,
		Values: map[string]any{
			"step_id": step.StepID,
			"payload": payload,
		},
	}).Result()
	if e.breakers != nil {
		if err != nil {
			e.breakers.RecordFailure(service)
		} else {
			e.breakers.RecordSuccess(service)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("queue step %q: %w", step.Name, err)
	}

	return map[string]any{
		"queue":      cfg.QueueName,
		"message_id": id,
	}, nil
}
