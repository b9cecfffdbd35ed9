// composer.go drives one proof composition end to end: revalidate the
// candidate batch against the anchor checkpoint, fold the store transition,
// hand the witness to the proving backend and cross-check the artifact it
// returns. A batch is all-or-nothing; one bad update fails the whole
// composition and leaves the anchor untouched.
package proofs

import (
	"context"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"github.com/lightfold/lightfold/light"
)

// Composer errors.
var (
	ErrNoUpdates     = errors.New("proofs: no updates to compose")
	ErrBatchTooLarge = errors.New("proofs: batch exceeds maximum size")
	ErrBatchRejected = errors.New("proofs: batch rejected")
	ErrChainMismatch = errors.New("proofs: prior proof does not attest to the anchor")
)

// Composer turns validated update batches into proven checkpoints.
type Composer struct {
	params  light.ChainParams
	backend Backend
	clock   clockwork.Clock
}

// NewComposer builds a composer. A nil clock selects the wall clock; tests
// inject a fake one.
func NewComposer(params light.ChainParams, backend Backend, clock clockwork.Clock) *Composer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Composer{params: params, backend: backend, clock: clock}
}

// Compose extends the proof chain by one step: it revalidates every sourced
// update against the prior store in order, applies the batch, proves the
// transition and returns the new proven checkpoint together with the folded
// store.
//
// priorStore is the bookkeeping state left by the previous composition (or
// light.StoreFromCheckpoint of the genesis anchor for the first one); it
// carries the revealed next-committee hash and the latest attested slot,
// which the anchor checkpoint alone does not. On failure it is returned
// unchanged so the caller keeps chaining from it.
//
// priorProof is the proof attesting to the anchor, or nil when the anchor is
// the out-of-band genesis checkpoint and no proof exists yet.
func (c *Composer) Compose(ctx context.Context, priorStore light.LightClientStore, priorProof *light.Proof, updates []light.SourcedUpdate) (light.ProvenCheckpoint, light.LightClientStore, error) {
	if len(updates) == 0 {
		return light.ProvenCheckpoint{}, priorStore, ErrNoUpdates
	}
	if len(updates) > c.params.MaxBatchSize {
		return light.ProvenCheckpoint{}, priorStore, errors.Wrapf(ErrBatchTooLarge, "%d > %d", len(updates), c.params.MaxBatchSize)
	}

	anchor := priorStore.Checkpoint()
	anchorDigest := light.CheckpointDigest(anchor)
	if priorProof != nil {
		if priorProof.Public.NewCheckpointDigest != anchorDigest {
			return light.ProvenCheckpoint{}, priorStore, ErrChainMismatch
		}
		if err := c.backend.Verify(ctx, *priorProof); err != nil {
			return light.ProvenCheckpoint{}, priorStore, errors.Wrap(ErrChainMismatch, err.Error())
		}
	}

	// All-or-nothing: validate and fold in order, failing the batch on the
	// first rejection.
	store := priorStore
	now := c.clock.Now()
	batch := make([]light.ValidatedUpdate, 0, len(updates))
	for i, su := range updates {
		v, err := light.Validate(c.params, store, su.Update, su.Committee, now)
		if err != nil {
			return light.ProvenCheckpoint{}, priorStore, errors.Wrapf(ErrBatchRejected, "update %d: %v", i, err)
		}
		batch = append(batch, v)
		store = light.Apply(c.params, store, v)
	}

	next := store.Checkpoint()
	public := light.PublicInputs{
		PrevCheckpointDigest: anchorDigest,
		NewCheckpointDigest:  light.CheckpointDigest(next),
	}

	proof, err := c.backend.Prove(ctx, &Witness{
		Prior:      anchor,
		PriorStore: priorStore,
		PriorProof: priorProof,
		Batch:      batch,
		Public:     public,
	})
	if err != nil {
		return light.ProvenCheckpoint{}, priorStore, err
	}
	proof.JobID = uuid.NewString()

	// The artifact must commit to exactly the transition that was folded.
	if proof.Public != public {
		return light.ProvenCheckpoint{}, priorStore, errors.Wrap(ErrConsistency, "backend returned foreign public inputs")
	}
	if proof.ProgramID != c.backend.ProgramID() {
		return light.ProvenCheckpoint{}, priorStore, errors.Wrap(ErrConsistency, "backend returned foreign program ID")
	}

	return light.ProvenCheckpoint{Checkpoint: next, Proof: proof}, store, nil
}
