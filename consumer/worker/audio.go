package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tnqbao/gau-lipsync-orchestrator/infra/produce"
	"github.com/tnqbao/gau-lipsync-orchestrator/pipeline"
)

const audioConsumerTag = "audio-stage"

// AudioProcessor is the stage-1 entry point, *pipeline.AudioStage in production.
type AudioProcessor interface {
	Process(ctx context.Context, jobID uint64) (pipeline.StageResult, error)
}

// AudioConsumer feeds dispatch messages to the audio stage. A message is acked only once
// the attempt has concluded and the outcome is recorded in the ledger.
type AudioConsumer struct {
	channel  *amqp.Channel
	queue    string
	prefetch int
	stage    AudioProcessor
	logger   pipeline.Logger
	retry    pipeline.RetryPolicy

	wg sync.WaitGroup
}

func NewAudioConsumer(channel *amqp.Channel, queue string, prefetch int, stage AudioProcessor, logger pipeline.Logger) *AudioConsumer {
	if queue == "" {
		queue = produce.DefaultDispatchQueue
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	return &AudioConsumer{
		channel:  channel,
		queue:    queue,
		prefetch: prefetch,
		stage:    stage,
		logger:   logger,
		retry:    pipeline.DefaultRetryPolicy(),
	}
}

// WithRetry replaces the policy used for transient stage errors.
func (c *AudioConsumer) WithRetry(policy pipeline.RetryPolicy) *AudioConsumer {
	c.retry = policy
	return c
}

func (c *AudioConsumer) Start(ctx context.Context) error {
	if err := c.channel.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch on %s: %w", c.queue, err)
	}
	if err := produce.DeclareDispatchQueue(c.channel, c.queue); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", c.queue, err)
	}

	msgs, err := c.channel.Consume(
		c.queue,
		audioConsumerTag,
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register audio consumer: %w", err)
	}

	c.logger.InfoWithContextf(ctx, "[Audio Consumer] Started listening for jobs on queue: %s", c.queue)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				c.logger.InfoWithContextf(ctx, "[Audio Consumer] Shutting down...")
				if err := c.channel.Cancel(audioConsumerTag, false); err != nil {
					c.logger.WarningWithContextf(ctx, "[Audio Consumer] Failed to cancel consumer: %v", err)
				}
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.WarningWithContextf(ctx, "[Audio Consumer] Channel closed")
					return
				}
				// the job in hand finishes even when shutdown starts
				c.HandleDelivery(context.WithoutCancel(ctx), msg)
			}
		}
	}()

	return nil
}

// Wait blocks until the consume loop has returned.
func (c *AudioConsumer) Wait() {
	c.wg.Wait()
}

func (c *AudioConsumer) HandleDelivery(ctx context.Context, msg amqp.Delivery) {
	jobID, err := produce.ParseJobID(msg.Body)
	if err != nil {
		c.logger.ErrorWithContextf(ctx, err, "[Audio Consumer] Dropping malformed message: %v", err)
		_ = msg.Nack(false, false)
		return
	}

	c.logger.InfoWithContextf(ctx, "[Audio Consumer] Received job %d", jobID)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry.InitialInterval
	b.MaxInterval = c.retry.MaxInterval
	result, err := backoff.Retry(ctx, func() (pipeline.StageResult, error) {
		result, err := c.stage.Process(ctx, jobID)
		if err != nil && !errors.Is(err, pipeline.ErrTransient) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.retry.MaxTries))

	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		c.logger.WarningWithContextf(ctx, "[Audio Consumer] Job %d does not exist, discarding message", jobID)
		_ = msg.Ack(false)
	case err != nil:
		c.logger.ErrorWithContextf(ctx, err, "[Audio Consumer] Job %d could not be processed, requeueing", jobID)
		_ = msg.Nack(false, true)
	default:
		c.logger.InfoWithContextf(ctx, "[Audio Consumer] Job %d %s, status %s", jobID, result.Outcome, result.Status)
		_ = msg.Ack(false)
	}
}
