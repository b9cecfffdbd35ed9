package driver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prysmaticlabs/go-bitfield"

	"github.com/lightfold/lightfold/checkpoint"
	"github.com/lightfold/lightfold/crypto"
	"github.com/lightfold/lightfold/light"
	"github.com/lightfold/lightfold/log"
	"github.com/lightfold/lightfold/metrics"
	"github.com/lightfold/lightfold/proofs"
)

// testParams uses 32-slot committee periods and 8-member committees. Genesis
// time zero keeps every test slot in the past for the wall clock.
func testParams() light.ChainParams {
	p := light.DefaultChainParams()
	p.SlotsPerEpoch = 8
	p.EpochsPerCommitteePeriod = 4
	p.RotationGraceSlots = 8
	p.CommitteeSize = 8
	p.MaxBatchSize = 2
	return p
}

func testCommittee(seed uint64) (light.SyncCommittee, crypto.TestCommittee) {
	tc := crypto.MakeTestCommittee(seed, 8)
	sc := light.SyncCommittee{Pubkeys: make([][48]byte, len(tc.Pubkeys))}
	copy(sc.Pubkeys, tc.Pubkeys)
	return sc, tc
}

func sourcedUpdate(t *testing.T, sc light.SyncCommittee, tc crypto.TestCommittee, signer light.Hash, slot, block uint64, root light.Hash, next *light.Hash, signers int) light.SourcedUpdate {
	t.Helper()
	bits := bitfield.NewBitlist(uint64(len(tc.Secrets)))
	participants := make([]bool, len(tc.Secrets))
	for i := 0; i < signers; i++ {
		bits.SetBitAt(uint64(i), true)
		participants[i] = true
	}
	upd := light.ConsensusUpdate{
		AttestedSlot:            slot,
		FinalizedBlockNumber:    block,
		FinalizedStateRoot:      root,
		SigningCommitteeHash:    signer,
		Participation:           bits,
		NextCommitteeCommitment: next,
	}
	srt := light.SigningRoot(upd)
	sig, err := tc.SignSubset(participants, srt[:])
	if err != nil {
		t.Fatalf("SignSubset: %v", err)
	}
	upd.AggregateSignature = sig
	return light.SourcedUpdate{Update: upd, Committee: sc}
}

type harness struct {
	driver  *Driver
	source  *ChannelSource
	cache   *checkpoint.Cache
	metrics *metrics.Metrics
	events  chan light.ProvenCheckpoint
	genesis light.Checkpoint
}

func newHarness(t *testing.T, backend proofs.Backend, genesis light.Checkpoint) *harness {
	t.Helper()
	p := testParams()
	src := NewChannelSource(16)
	cache := checkpoint.NewCache()
	m := metrics.New(prometheus.NewRegistry())
	retry := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Factor: 2}

	d, err := New(Config{
		Params:   p,
		Genesis:  genesis,
		Source:   src,
		Composer: proofs.NewComposer(p, backend, nil),
		Cache:    cache,
		Retry:    retry,
		Logger:   log.Nop(),
		Metrics:  m,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := &harness{driver: d, source: src, cache: cache, metrics: m, genesis: genesis,
		events: make(chan light.ProvenCheckpoint, 8)}
	h.driver.SubscribeCheckpoints(h.events)
	return h
}

func (h *harness) waitEvent(t *testing.T) light.ProvenCheckpoint {
	t.Helper()
	select {
	case pc := <-h.events:
		return pc
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for published checkpoint")
		return light.ProvenCheckpoint{}
	}
}

func TestDriverPublishesCheckpoint(t *testing.T) {
	p := testParams()
	sc, tc := testCommittee(1)
	c1 := light.CommitteeHash(sc)
	genesis := light.Checkpoint{BlockNumber: 100, StateRoot: light.Hash{0xaa}, CommitteeHash: c1}

	h := newHarness(t, proofs.NewMockBackend(p), genesis)
	if err := h.driver.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.driver.Stop() //nolint:errcheck

	if err := h.source.Submit(context.Background(), sourcedUpdate(t, sc, tc, c1, 10, 101, light.Hash{0xbb}, nil, 6)); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	pc := h.waitEvent(t)
	if pc.Checkpoint.BlockNumber != 101 {
		t.Errorf("published block = %d, want 101", pc.Checkpoint.BlockNumber)
	}
	latest := h.cache.Latest()
	if latest.Status != checkpoint.StatusProven || latest.Checkpoint != pc.Checkpoint {
		t.Errorf("cache latest = %+v", latest)
	}
}

func TestDriverChainsAcrossRotation(t *testing.T) {
	p := testParams()
	sc, tc := testCommittee(1)
	sc2, tc2 := testCommittee(2)
	c1, c2 := light.CommitteeHash(sc), light.CommitteeHash(sc2)
	genesis := light.Checkpoint{BlockNumber: 100, StateRoot: light.Hash{0xaa}, CommitteeHash: c1}

	h := newHarness(t, proofs.NewMockBackend(p), genesis)
	if err := h.driver.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.driver.Stop() //nolint:errcheck

	ctx := context.Background()
	h.source.Submit(ctx, sourcedUpdate(t, sc, tc, c1, 10, 101, light.Hash{0xbb}, &c2, 6))   //nolint:errcheck
	h.source.Submit(ctx, sourcedUpdate(t, sc2, tc2, c2, 33, 132, light.Hash{0xcc}, nil, 8)) //nolint:errcheck

	var last light.ProvenCheckpoint
	for last.Checkpoint.BlockNumber != 132 {
		last = h.waitEvent(t)
	}
	if last.Checkpoint.CommitteeHash != c2 {
		t.Errorf("committee = %s, want rotated %s", last.Checkpoint.CommitteeHash.Hex(), c2.Hex())
	}
	if got := h.cache.Latest(); got.Checkpoint.BlockNumber != 132 {
		t.Errorf("cache block = %d, want 132", got.Checkpoint.BlockNumber)
	}
}

func TestDriverRejectsGarbage(t *testing.T) {
	p := testParams()
	sc, tc := testCommittee(1)
	c1 := light.CommitteeHash(sc)
	genesis := light.Checkpoint{BlockNumber: 100, StateRoot: light.Hash{0xaa}, CommitteeHash: c1}

	h := newHarness(t, proofs.NewMockBackend(p), genesis)
	if err := h.driver.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.driver.Stop() //nolint:errcheck

	ctx := context.Background()
	// Insufficient participation, then a good update.
	h.source.Submit(ctx, sourcedUpdate(t, sc, tc, c1, 9, 105, light.Hash{0xdd}, nil, 3))  //nolint:errcheck
	h.source.Submit(ctx, sourcedUpdate(t, sc, tc, c1, 10, 101, light.Hash{0xbb}, nil, 6)) //nolint:errcheck

	pc := h.waitEvent(t)
	if pc.Checkpoint.BlockNumber != 101 {
		t.Errorf("published block = %d, want 101", pc.Checkpoint.BlockNumber)
	}
	if got := testutil.ToFloat64(h.metrics.UpdatesRejected.WithLabelValues("quorum")); got != 1 {
		t.Errorf("quorum rejections = %v, want 1", got)
	}
}

// flakyBackend fails the first n Prove calls with a transient fault.
type flakyBackend struct {
	proofs.Backend
	mu   sync.Mutex
	left int
}

func (f *flakyBackend) Prove(ctx context.Context, w *proofs.Witness) (light.Proof, error) {
	f.mu.Lock()
	fail := f.left > 0
	if fail {
		f.left--
	}
	f.mu.Unlock()
	if fail {
		return light.Proof{}, proofs.ErrProvingFailed
	}
	return f.Backend.Prove(ctx, w)
}

func TestDriverRetriesProvingFaults(t *testing.T) {
	p := testParams()
	sc, tc := testCommittee(1)
	c1 := light.CommitteeHash(sc)
	genesis := light.Checkpoint{BlockNumber: 100, StateRoot: light.Hash{0xaa}, CommitteeHash: c1}

	h := newHarness(t, &flakyBackend{Backend: proofs.NewMockBackend(p), left: 2}, genesis)
	if err := h.driver.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.driver.Stop() //nolint:errcheck

	h.source.Submit(context.Background(), sourcedUpdate(t, sc, tc, c1, 10, 101, light.Hash{0xbb}, nil, 6)) //nolint:errcheck

	pc := h.waitEvent(t)
	if pc.Checkpoint.BlockNumber != 101 {
		t.Errorf("published block = %d, want 101", pc.Checkpoint.BlockNumber)
	}
	if got := testutil.ToFloat64(h.metrics.CompositionFails.WithLabelValues("proving")); got != 2 {
		t.Errorf("proving failures = %v, want 2", got)
	}
}

// evilBackend returns proofs whose public inputs do not match the
// transition.
type evilBackend struct {
	proofs.Backend
}

func (e *evilBackend) Prove(ctx context.Context, w *proofs.Witness) (light.Proof, error) {
	proof, err := e.Backend.Prove(ctx, w)
	if err != nil {
		return proof, err
	}
	proof.Public.NewCheckpointDigest[0] ^= 1
	return proof, nil
}

func TestDriverHaltsOnConsistencyViolation(t *testing.T) {
	p := testParams()
	sc, tc := testCommittee(1)
	c1 := light.CommitteeHash(sc)
	genesis := light.Checkpoint{BlockNumber: 100, StateRoot: light.Hash{0xaa}, CommitteeHash: c1}

	h := newHarness(t, &evilBackend{Backend: proofs.NewMockBackend(p)}, genesis)
	if err := h.driver.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.source.Submit(context.Background(), sourcedUpdate(t, sc, tc, c1, 10, 101, light.Hash{0xbb}, nil, 6)) //nolint:errcheck

	deadline := time.Now().Add(10 * time.Second)
	for h.driver.State() != StateHalted {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want halted", h.driver.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := h.cache.Latest(); got.Status != checkpoint.StatusUnproven {
		t.Errorf("cache advanced after halt: %+v", got)
	}
	if err := h.driver.Stop(); !errors.Is(err, ErrHalted) {
		t.Errorf("Stop after halt: err = %v, want ErrHalted", err)
	}
}

func TestDriverStartStop(t *testing.T) {
	p := testParams()
	sc, _ := testCommittee(1)
	genesis := light.Checkpoint{BlockNumber: 100, StateRoot: light.Hash{0xaa}, CommitteeHash: light.CommitteeHash(sc)}

	h := newHarness(t, proofs.NewMockBackend(p), genesis)
	if err := h.driver.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("stop before start: err = %v, want ErrNotStarted", err)
	}
	if err := h.driver.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.driver.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second start: err = %v, want ErrAlreadyStarted", err)
	}
	if err := h.driver.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestDriverStartBootstrapFailure(t *testing.T) {
	p := testParams()
	h := newHarness(t, proofs.NewMockBackend(p), light.Checkpoint{})

	if err := h.driver.Start(); !errors.Is(err, checkpoint.ErrZeroCheckpoint) {
		t.Fatalf("Start: err = %v, want ErrZeroCheckpoint", err)
	}
	// A failed bootstrap launched nothing: Stop must not panic, and a later
	// Start must retry the bootstrap rather than report already-started.
	if err := h.driver.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Stop after failed start: err = %v, want ErrNotStarted", err)
	}
	if err := h.driver.Start(); !errors.Is(err, checkpoint.ErrZeroCheckpoint) {
		t.Errorf("second start: err = %v, want ErrZeroCheckpoint", err)
	}
}

func TestChannelSource(t *testing.T) {
	s := NewChannelSource(1)
	ctx := context.Background()

	if err := s.Submit(ctx, light.SourcedUpdate{}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, ok := <-s.Updates(); !ok {
		t.Fatal("update not delivered")
	}

	s.Close()
	if err := s.Submit(ctx, light.SourcedUpdate{}); !errors.Is(err, ErrSourceClosed) {
		t.Errorf("submit after close: err = %v, want ErrSourceClosed", err)
	}
	if _, ok := <-s.Updates(); ok {
		t.Error("channel still open after close")
	}
	s.Close() // idempotent
}

// wideBatchBackend rejects any batch wider than one update, forcing the
// driver to isolate.
type wideBatchBackend struct {
	proofs.Backend
	mu       sync.Mutex
	rejected int
}

func (b *wideBatchBackend) Prove(ctx context.Context, w *proofs.Witness) (light.Proof, error) {
	b.mu.Lock()
	wide := len(w.Batch) > 1
	if wide {
		b.rejected++
	}
	b.mu.Unlock()
	if wide {
		return light.Proof{}, errors.Wrap(proofs.ErrBatchRejected, "wide batch")
	}
	return b.Backend.Prove(ctx, w)
}

func TestDriverIsolatesRejectedBatch(t *testing.T) {
	p := testParams()
	sc, tc := testCommittee(1)
	c1 := light.CommitteeHash(sc)
	genesis := light.Checkpoint{BlockNumber: 100, StateRoot: light.Hash{0xaa}, CommitteeHash: c1}

	backend := &wideBatchBackend{Backend: proofs.NewMockBackend(p)}
	h := newHarness(t, backend, genesis)
	if err := h.driver.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.driver.Stop() //nolint:errcheck

	ctx := context.Background()
	for i, block := range []uint64{101, 102} {
		su := sourcedUpdate(t, sc, tc, c1, uint64(10+i), block, light.Hash{byte(block)}, nil, 6)
		if err := h.source.Submit(ctx, su); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	// Both updates must land individually despite the rejected pair.
	seen := map[uint64]bool{}
	for len(seen) < 2 {
		pc := h.waitEvent(t)
		seen[pc.Checkpoint.BlockNumber] = true
	}
	if !seen[101] || !seen[102] {
		t.Errorf("published blocks %v, want 101 and 102", seen)
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.rejected == 0 {
		// The two updates raced in one batch in every run so far; if they
		// never batched, the isolation path went unexercised.
		t.Log("updates were never batched together; isolation path not hit")
	}
}
