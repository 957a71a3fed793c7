package testsupport

import (
	"context"
	"os"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tnqbao/gau-lipsync-orchestrator/entity"
)

// FakeAudioGenerator returns Output or Err and counts calls.
type FakeAudioGenerator struct {
	mu       sync.Mutex
	calls    int
	requests []entity.AudioRequest

	Output []byte
	Err    error
	// Started and Release, when set, let a test hold the generator mid-call.
	Started chan struct{}
	Release chan struct{}
}

func (g *FakeAudioGenerator) GenerateAudio(ctx context.Context, req entity.AudioRequest) ([]byte, error) {
	g.mu.Lock()
	g.calls++
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if g.Started != nil {
		g.Started <- struct{}{}
	}
	if g.Release != nil {
		select {
		case <-g.Release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if g.Err != nil {
		return nil, g.Err
	}
	return g.Output, nil
}

func (g *FakeAudioGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *FakeAudioGenerator) Requests() []entity.AudioRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]entity.AudioRequest(nil), g.requests...)
}

// FakeVideoGenerator writes Output to the requested output path, or returns Err.
type FakeVideoGenerator struct {
	mu       sync.Mutex
	calls    int
	requests []entity.VideoRequest

	Output []byte
	Err    error
	// Inspect runs inside the call, while the job workspace still exists.
	Inspect func(req entity.VideoRequest)
	Started chan struct{}
	Release chan struct{}
}

func (g *FakeVideoGenerator) GenerateVideo(ctx context.Context, req entity.VideoRequest) error {
	g.mu.Lock()
	g.calls++
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if g.Inspect != nil {
		g.Inspect(req)
	}
	if g.Started != nil {
		g.Started <- struct{}{}
	}
	if g.Release != nil {
		select {
		case <-g.Release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if g.Err != nil {
		return g.Err
	}
	return os.WriteFile(req.OutputPath, g.Output, 0o644)
}

func (g *FakeVideoGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *FakeVideoGenerator) Requests() []entity.VideoRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]entity.VideoRequest(nil), g.requests...)
}

// RecordingDispatcher remembers every dispatched job id.
type RecordingDispatcher struct {
	mu  sync.Mutex
	ids []uint64
	Err error
	// Backlog is reported as the queue depth, DepthErr replaces it when set.
	Backlog  int
	DepthErr error
}

func (d *RecordingDispatcher) Dispatch(ctx context.Context, jobID uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return d.Err
	}
	d.ids = append(d.ids, jobID)
	return nil
}

func (d *RecordingDispatcher) Dispatched() []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint64(nil), d.ids...)
}

func (d *RecordingDispatcher) Depth(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DepthErr != nil {
		return 0, d.DepthErr
	}
	return d.Backlog, nil
}

// Acknowledger records how a delivery was settled.
type Acknowledger struct {
	mu      sync.Mutex
	Acks    int
	Nacks   int
	Requeue []bool
}

func (a *Acknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Acks++
	return nil
}

func (a *Acknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Nacks++
	a.Requeue = append(a.Requeue, requeue)
	return nil
}

func (a *Acknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

// Delivery builds a delivery settled through ack.
func Delivery(ack *Acknowledger, body string) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  1,
		ContentType:  "text/plain",
		Body:         []byte(body),
	}
}
