// Package driver runs the prover's main loop: admit candidate updates from
// a source, batch them, hand batches to the proof composer and publish the
// resulting checkpoints to the cache and to subscribers.
package driver

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/lightfold/lightfold/light"
)

// ErrSourceClosed is returned by Submit after Close.
var ErrSourceClosed = errors.New("driver: update source closed")

// UpdateSource delivers candidate updates. The channel closes when the
// source shuts down; the driver drains and exits.
type UpdateSource interface {
	Updates() <-chan light.SourcedUpdate
}

// ChannelSource is an in-process UpdateSource fed through Submit. Network
// frontends push decoded updates into it.
type ChannelSource struct {
	ch     chan light.SourcedUpdate
	closed chan struct{}
	once   sync.Once
}

// NewChannelSource builds a source with the given buffer. Buffered slack
// lets updates queue while a composition is running.
func NewChannelSource(buffer int) *ChannelSource {
	return &ChannelSource{
		ch:     make(chan light.SourcedUpdate, buffer),
		closed: make(chan struct{}),
	}
}

// Updates implements UpdateSource.
func (s *ChannelSource) Updates() <-chan light.SourcedUpdate { return s.ch }

// Submit enqueues a candidate update, blocking until there is room or the
// context is done. The producer owns shutdown: Submit must not race with
// Close.
func (s *ChannelSource) Submit(ctx context.Context, su light.SourcedUpdate) error {
	select {
	case <-s.closed:
		return ErrSourceClosed
	default:
	}
	select {
	case s.ch <- su:
		return nil
	case <-s.closed:
		return ErrSourceClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts the source down. Pending updates already in the buffer are
// still delivered.
func (s *ChannelSource) Close() {
	s.once.Do(func() {
		close(s.closed)
		close(s.ch)
	})
}
