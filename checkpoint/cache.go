// Package checkpoint holds the single slot of persistent state the prover
// carries: the latest checkpoint, optionally paired with the proof that
// attests to it. Readers never block writers; publication is one atomic
// pointer swap.
package checkpoint

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/lightfold/lightfold/light"
)

// Cache errors.
var (
	ErrBootstrapped   = errors.New("checkpoint: cache already bootstrapped")
	ErrEmptyCache     = errors.New("checkpoint: cache is empty")
	ErrNotMonotonic   = errors.New("checkpoint: published block does not increase")
	ErrProofMismatch  = errors.New("checkpoint: proof does not attest to the checkpoint")
	ErrZeroCheckpoint = errors.New("checkpoint: zero-valued checkpoint")
)

// Status describes what the cache slot holds.
type Status int

const (
	// StatusEmpty means no checkpoint has been set.
	StatusEmpty Status = iota

	// StatusUnproven means the slot holds the out-of-band genesis anchor,
	// for which no proof exists yet.
	StatusUnproven

	// StatusProven means the slot holds a checkpoint with its proof.
	StatusProven
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusUnproven:
		return "unproven"
	case StatusProven:
		return "proven"
	default:
		return "unknown"
	}
}

// Latest is a point-in-time snapshot of the cache slot.
type Latest struct {
	Status     Status
	Checkpoint light.Checkpoint
	Proof      *light.Proof
}

type entry struct {
	checkpoint light.Checkpoint
	proof      *light.Proof
}

// Cache is the single-slot checkpoint store. The zero value is empty and
// ready to use; all methods are safe for concurrent use.
type Cache struct {
	slot atomic.Pointer[entry]
}

// NewCache returns an empty cache.
func NewCache() *Cache { return &Cache{} }

// Bootstrap installs the out-of-band genesis checkpoint. It may be called
// once, and only on an empty cache.
func (c *Cache) Bootstrap(cp light.Checkpoint) error {
	if cp.StateRoot.IsZero() || cp.CommitteeHash.IsZero() {
		return ErrZeroCheckpoint
	}
	if !c.slot.CompareAndSwap(nil, &entry{checkpoint: cp}) {
		return ErrBootstrapped
	}
	return nil
}

// Publish atomically replaces the slot with a newer proven checkpoint. The
// proof must open the checkpoint and the block number must strictly
// increase; a failed publish leaves the slot untouched.
func (c *Cache) Publish(pc light.ProvenCheckpoint) error {
	if light.CheckpointDigest(pc.Checkpoint) != pc.Proof.Public.NewCheckpointDigest {
		return ErrProofMismatch
	}
	proof := pc.Proof
	next := &entry{checkpoint: pc.Checkpoint, proof: &proof}
	for {
		cur := c.slot.Load()
		if cur == nil {
			return ErrEmptyCache
		}
		if pc.Checkpoint.BlockNumber <= cur.checkpoint.BlockNumber {
			return errors.Wrapf(ErrNotMonotonic, "%d <= %d",
				pc.Checkpoint.BlockNumber, cur.checkpoint.BlockNumber)
		}
		if c.slot.CompareAndSwap(cur, next) {
			return nil
		}
	}
}

// Latest returns the current slot contents. The returned proof pointer is
// never mutated after publication.
func (c *Cache) Latest() Latest {
	cur := c.slot.Load()
	if cur == nil {
		return Latest{Status: StatusEmpty}
	}
	if cur.proof == nil {
		return Latest{Status: StatusUnproven, Checkpoint: cur.checkpoint}
	}
	return Latest{Status: StatusProven, Checkpoint: cur.checkpoint, Proof: cur.proof}
}
