// driver.go runs the composition loop. The driver owns no consensus logic:
// it admits updates through the validator, delegates proving to the
// composer and publication to the checkpoint cache, and decides only how to
// batch, retry and fail.
package driver

import (
	"context"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/event"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/lightfold/lightfold/checkpoint"
	"github.com/lightfold/lightfold/light"
	"github.com/lightfold/lightfold/metrics"
	"github.com/lightfold/lightfold/proofs"
)

// Driver errors.
var (
	ErrAlreadyStarted = errors.New("driver: already started")
	ErrNotStarted     = errors.New("driver: not started")
	ErrHalted         = errors.New("driver: halted on consistency violation")
)

// State is the driver's observable position in its loop.
type State int32

const (
	StateIdle State = iota
	StateValidating
	StateComposing
	StatePublishing
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateComposing:
		return "composing"
	case StatePublishing:
		return "publishing"
	case StateHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// Config assembles a driver.
type Config struct {
	Params   light.ChainParams
	Genesis  light.Checkpoint
	Source   UpdateSource
	Composer *proofs.Composer
	Cache    *checkpoint.Cache

	// Clock defaults to the wall clock; Retry to DefaultRetryConfig.
	Clock clockwork.Clock
	Retry RetryConfig

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Driver is the prover main loop. It is a lifecycle Service: Start launches
// the loop, Stop waits for it to drain.
type Driver struct {
	params   light.ChainParams
	genesis  light.Checkpoint
	source   UpdateSource
	composer *proofs.Composer
	cache    *checkpoint.Cache
	clock    clockwork.Clock
	retry    RetryConfig
	log      zerolog.Logger
	metrics  *metrics.Metrics

	feed  event.Feed
	state atomic.Int32

	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
}

// New builds a driver from the config.
func New(cfg Config) (*Driver, error) {
	if cfg.Source == nil || cfg.Composer == nil || cfg.Cache == nil {
		return nil, errors.New("driver: source, composer and cache are required")
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(prometheus.NewRegistry())
	}
	return &Driver{
		params:   cfg.Params,
		genesis:  cfg.Genesis,
		source:   cfg.Source,
		composer: cfg.Composer,
		cache:    cfg.Cache,
		clock:    cfg.Clock,
		retry:    cfg.Retry,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
	}, nil
}

// Name implements the lifecycle Service interface.
func (d *Driver) Name() string { return "driver" }

// State returns the loop's current state.
func (d *Driver) State() State { return State(d.state.Load()) }

// SubscribeCheckpoints delivers every published proven checkpoint to ch.
func (d *Driver) SubscribeCheckpoints(ch chan<- light.ProvenCheckpoint) event.Subscription {
	return d.feed.Subscribe(ch)
}

// Start bootstraps the cache with the genesis anchor if it is empty and
// launches the loop.
func (d *Driver) Start() error {
	if !d.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if err := d.cache.Bootstrap(d.genesis); err != nil && !errors.Is(err, checkpoint.ErrBootstrapped) {
		// Leave the driver startable again; nothing was launched.
		d.started.Store(false)
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.run(ctx)
	d.log.Info().
		Uint64("genesis_block", d.genesis.BlockNumber).
		Str("genesis_id", checkpoint.ID(d.genesis).Hex()).
		Msg("driver started")
	return nil
}

// Stop cancels the loop and waits for it to exit. When the loop halted on a
// consistency violation, Stop reports it so operators cannot mistake the
// shutdown for a clean one.
func (d *Driver) Stop() error {
	if !d.started.Load() {
		return ErrNotStarted
	}
	d.cancel()
	<-d.done
	if d.State() == StateHalted {
		return ErrHalted
	}
	return nil
}

func (d *Driver) run(ctx context.Context) {
	defer close(d.done)
	defer func() {
		if d.State() != StateHalted {
			d.state.Store(int32(StateIdle))
		}
	}()

	// anchor is the bookkeeping state the next composition starts from. It
	// outlives the checkpoint triple: the revealed next-committee hash and
	// the latest attested slot must survive composition boundaries or a
	// rotation split across two batches would be refused.
	anchor := light.StoreFromCheckpoint(d.cache.Latest().Checkpoint)

	// pending holds admitted updates not yet composed; view is the store
	// they were admitted against, folded forward as they arrive.
	var pending []light.SourcedUpdate
	view := anchor

	for {
		d.state.Store(int32(StateIdle))
		select {
		case <-ctx.Done():
			return
		case su, ok := <-d.source.Updates():
			if !ok {
				return
			}
			d.state.Store(int32(StateValidating))
			if v, admitted := d.admit(view, su); admitted {
				view = light.Apply(d.params, view, v)
				pending = append(pending, su)
			}
			// Fold in whatever else is already queued.
			pending, view = d.drain(ctx, pending, view)

			limit := d.params.MaxBatchSize
			for len(pending) > 0 {
				batch := pending
				if len(batch) > limit {
					batch = batch[:limit]
				}
				n, next, err := d.composeAndPublish(ctx, anchor, batch)
				if err != nil {
					if errors.Is(err, proofs.ErrConsistency) {
						d.state.Store(int32(StateHalted))
						d.log.Error().Err(err).Msg("halting: proof artifact inconsistent")
						return
					}
					if ctx.Err() != nil {
						return
					}
					if errors.Is(err, proofs.ErrBatchRejected) && len(batch) > 1 {
						// Isolate the failing update with single-update
						// batches before dropping anything.
						limit = 1
						continue
					}
					// The batch was dropped; rebuild the admission view
					// from the untouched anchor.
					pending = pending[len(batch):]
					view = d.refold(&pending, anchor)
					limit = d.params.MaxBatchSize
					continue
				}
				anchor = next
				pending = pending[n:]
				view = d.refold(&pending, anchor)
				limit = d.params.MaxBatchSize
			}
		}
	}
}

// admit validates a candidate against the current view. Rejected updates
// are logged and counted, never queued.
func (d *Driver) admit(view light.LightClientStore, su light.SourcedUpdate) (light.ValidatedUpdate, bool) {
	v, err := light.Validate(d.params, view, su.Update, su.Committee, d.clock.Now())
	if err != nil {
		d.metrics.UpdatesRejected.WithLabelValues(rejectReason(err)).Inc()
		d.log.Debug().Err(err).
			Uint64("attested_slot", su.Update.AttestedSlot).
			Uint64("finalized_block", su.Update.FinalizedBlockNumber).
			Msg("update rejected")
		return light.ValidatedUpdate{}, false
	}
	d.metrics.UpdatesAdmitted.Inc()
	return v, true
}

// drain pulls every queued update without blocking, admitting against the
// folded view.
func (d *Driver) drain(ctx context.Context, pending []light.SourcedUpdate, view light.LightClientStore) ([]light.SourcedUpdate, light.LightClientStore) {
	for {
		select {
		case <-ctx.Done():
			return pending, view
		case su, ok := <-d.source.Updates():
			if !ok {
				return pending, view
			}
			if v, admitted := d.admit(view, su); admitted {
				view = light.Apply(d.params, view, v)
				pending = append(pending, su)
			}
		default:
			return pending, view
		}
	}
}

// refold rebuilds the admission view from the composition anchor, dropping
// any pending update the new anchor invalidates.
func (d *Driver) refold(pending *[]light.SourcedUpdate, anchor light.LightClientStore) light.LightClientStore {
	view := anchor
	kept := (*pending)[:0]
	for _, su := range *pending {
		v, err := light.Validate(d.params, view, su.Update, su.Committee, d.clock.Now())
		if err != nil {
			d.metrics.UpdatesRejected.WithLabelValues(rejectReason(err)).Inc()
			continue
		}
		view = light.Apply(d.params, view, v)
		kept = append(kept, su)
	}
	*pending = kept
	return view
}

// composeAndPublish runs one composition with retries. It returns the number
// of updates consumed and the folded store for the next composition; on an
// abandoned batch the anchor comes back unchanged with the error.
func (d *Driver) composeAndPublish(ctx context.Context, anchor light.LightClientStore, batch []light.SourcedUpdate) (int, light.LightClientStore, error) {
	d.state.Store(int32(StateComposing))
	var priorProof *light.Proof
	if latest := d.cache.Latest(); latest.Status == checkpoint.StatusProven {
		priorProof = latest.Proof
	}

	var (
		pc   light.ProvenCheckpoint
		next light.LightClientStore
		err  error
	)
	for attempt := 0; ; attempt++ {
		start := d.clock.Now()
		pc, next, err = d.composer.Compose(ctx, anchor, priorProof, batch)
		d.metrics.ComposeSeconds.Observe(d.clock.Since(start).Seconds())
		if err == nil {
			break
		}
		if errors.Is(err, proofs.ErrConsistency) {
			d.metrics.CompositionFails.WithLabelValues("consistency").Inc()
			return 0, anchor, err
		}
		if errors.Is(err, proofs.ErrBatchRejected) || errors.Is(err, proofs.ErrChainMismatch) {
			// Not transient: re-proving the same batch cannot succeed.
			d.metrics.CompositionFails.WithLabelValues("rejected").Inc()
			d.log.Warn().Err(err).Int("batch", len(batch)).Msg("batch abandoned")
			return 0, anchor, err
		}
		d.metrics.CompositionFails.WithLabelValues("proving").Inc()
		if attempt >= d.retry.MaxRetries {
			d.log.Error().Err(err).Int("attempts", attempt+1).Msg("proving failed, batch abandoned")
			return 0, anchor, err
		}
		d.log.Warn().Err(err).Int("attempt", attempt+1).Msg("proving failed, retrying")
		if werr := d.retry.wait(ctx, d.clock, attempt+1); werr != nil {
			return 0, anchor, werr
		}
	}

	d.state.Store(int32(StatePublishing))
	if err := d.cache.Publish(pc); err != nil {
		d.metrics.CompositionFails.WithLabelValues("publish").Inc()
		return 0, anchor, errors.Wrap(proofs.ErrConsistency, err.Error())
	}
	d.metrics.Compositions.Inc()
	d.metrics.ChainLength.Inc()
	d.metrics.LatestBlock.Set(float64(pc.Checkpoint.BlockNumber))
	d.metrics.LatestSlot.Set(float64(batch[len(batch)-1].Update.AttestedSlot))
	d.log.Info().
		Uint64("block", pc.Checkpoint.BlockNumber).
		Str("checkpoint_id", checkpoint.ID(pc.Checkpoint).Hex()).
		Str("job_id", pc.Proof.JobID).
		Int("batch", len(batch)).
		Msg("checkpoint published")
	d.feed.Send(pc)
	return len(batch), next, nil
}

// rejectReason maps validation errors onto a bounded metric label set.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, light.ErrFutureSlot):
		return "future_slot"
	case errors.Is(err, light.ErrStaleSlot):
		return "stale_slot"
	case errors.Is(err, light.ErrCommitteeSize), errors.Is(err, light.ErrCommitteeMismatch):
		return "committee"
	case errors.Is(err, light.ErrParticipationSize):
		return "participation"
	case errors.Is(err, light.ErrWrongSigner), errors.Is(err, light.ErrPeriodGap):
		return "signer"
	case errors.Is(err, light.ErrInsufficientWeight):
		return "quorum"
	case errors.Is(err, light.ErrSignatureInvalid):
		return "signature"
	case errors.Is(err, light.ErrNonMonotonicFinal):
		return "finality"
	default:
		return "other"
	}
}
