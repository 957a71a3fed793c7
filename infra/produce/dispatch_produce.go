package produce

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultDispatchQueue = "job_queue"

// DispatchService publishes job ids for the audio stage. Messages go through the default
// exchange straight to a durable queue, and every publish waits for the broker confirm.
type DispatchService struct {
	mu      sync.Mutex
	channel *amqp.Channel
	queue   string
}

func InitDispatchService(channel *amqp.Channel, queue string) *DispatchService {
	if queue == "" {
		queue = DefaultDispatchQueue
	}

	if err := DeclareDispatchQueue(channel, queue); err != nil {
		panic("Failed to declare dispatch queue: " + err.Error())
	}

	if err := channel.Confirm(false); err != nil {
		panic("Failed to enable publisher confirms: " + err.Error())
	}

	return &DispatchService{
		channel: channel,
		queue:   queue,
	}
}

// DeclareDispatchQueue is shared by the publisher and the consumer so either can start first.
func DeclareDispatchQueue(channel *amqp.Channel, queue string) error {
	_, err := channel.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	return err
}

func (s *DispatchService) Queue() string {
	return s.queue
}

// Dispatch publishes the job id as its decimal string.
func (s *DispatchService) Dispatch(ctx context.Context, jobID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	confirmation, err := s.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		"",      // default exchange
		s.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "text/plain",
			Body:         []byte(strconv.FormatUint(jobID, 10)),
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish job %d: %w", jobID, err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to confirm job %d: %w", jobID, err)
	}
	if !acked {
		return fmt.Errorf("broker rejected job %d", jobID)
	}

	return nil
}

// Depth returns the number of ready messages in the dispatch queue.
func (s *DispatchService) Depth(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, err := s.channel.QueueDeclarePassive(
		s.queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue %s: %w", s.queue, err)
	}
	return q.Messages, nil
}

// ParseJobID decodes a dispatch message body.
func ParseJobID(body []byte) (uint64, error) {
	id, err := strconv.ParseUint(string(bytes.TrimSpace(body)), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid job id %q", body)
	}
	return id, nil
}
