package relay

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"github.com/rs/zerolog"

	"github.com/lightfold/lightfold/light"
)

// Sink receives encoded checkpoint payloads. Delivery failures are logged
// and dropped; the proof chain itself lives in the cache, so a consumer can
// always re-sync from there.
type Sink interface {
	Deliver(ctx context.Context, p Payload) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, p Payload) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(ctx context.Context, p Payload) error { return f(ctx, p) }

// WriterSink streams payloads as JSON lines, one checkpoint per line.
type WriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriterSink wraps w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{enc: json.NewEncoder(w)}
}

// Deliver implements Sink.
func (s *WriterSink) Deliver(_ context.Context, p Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(p)
}

// Subscriber is the feed side of the driver.
type Subscriber interface {
	SubscribeCheckpoints(ch chan<- light.ProvenCheckpoint) event.Subscription
}

// Relay forwards published checkpoints to a sink. It is a lifecycle
// Service.
type Relay struct {
	source Subscriber
	sink   Sink
	log    zerolog.Logger

	sub    event.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a relay.
func New(source Subscriber, sink Sink, logger zerolog.Logger) *Relay {
	return &Relay{source: source, sink: sink, log: logger}
}

// Name implements the lifecycle Service interface.
func (r *Relay) Name() string { return "relay" }

// Start subscribes to the checkpoint feed and launches the forwarding loop.
func (r *Relay) Start() error {
	ch := make(chan light.ProvenCheckpoint, 16)
	r.sub = r.source.SubscribeCheckpoints(ch)
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(ctx, ch)
	return nil
}

// Stop unsubscribes and waits for the loop to drain.
func (r *Relay) Stop() error {
	if r.sub == nil {
		return nil
	}
	r.sub.Unsubscribe()
	r.cancel()
	<-r.done
	return nil
}

func (r *Relay) run(ctx context.Context, ch <-chan light.ProvenCheckpoint) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			r.drain(ch)
			return
		case err := <-r.sub.Err():
			if err != nil {
				r.log.Error().Err(err).Msg("checkpoint subscription failed")
			}
			r.drain(ch)
			return
		case pc := <-ch:
			r.deliver(ctx, pc)
		}
	}
}

// drain flushes checkpoints still buffered at shutdown. Stop unsubscribes
// before cancelling, so the channel cannot refill.
func (r *Relay) drain(ch <-chan light.ProvenCheckpoint) {
	for {
		select {
		case pc := <-ch:
			r.deliver(context.Background(), pc)
		default:
			return
		}
	}
}

func (r *Relay) deliver(ctx context.Context, pc light.ProvenCheckpoint) {
	if err := r.sink.Deliver(ctx, Encode(pc)); err != nil {
		r.log.Warn().Err(err).
			Uint64("block", pc.Checkpoint.BlockNumber).
			Msg("checkpoint delivery failed")
		return
	}
	r.log.Debug().
		Uint64("block", pc.Checkpoint.BlockNumber).
		Str("job_id", pc.Proof.JobID).
		Msg("checkpoint relayed")
}
