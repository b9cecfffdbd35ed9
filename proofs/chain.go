// chain.go verifies a published proof chain offline: a consumer holding the
// genesis checkpoint and a sequence of proofs can confirm the newest
// checkpoint without seeing a single consensus update.
package proofs

import (
	"context"

	"github.com/pkg/errors"

	"github.com/lightfold/lightfold/light"
)

// Chain verification errors.
var (
	ErrEmptyChain     = errors.New("proofs: empty proof chain")
	ErrChainBroken    = errors.New("proofs: proof chain discontinuity")
	ErrChainAnchor    = errors.New("proofs: chain does not start at the anchor")
	ErrChainEndpoints = errors.New("proofs: chain does not end at the claimed checkpoint")
)

// VerifyChain checks that the proof sequence forms an unbroken recursion
// chain from the genesis checkpoint to head: the first proof's prev digest
// opens genesis, each proof starts where its predecessor ended, every proof
// verifies, and the last proof's new digest opens head.
func VerifyChain(ctx context.Context, backend Backend, genesis light.Checkpoint, chain []light.Proof, head light.Checkpoint) error {
	if len(chain) == 0 {
		return ErrEmptyChain
	}
	if chain[0].Public.PrevCheckpointDigest != light.CheckpointDigest(genesis) {
		return ErrChainAnchor
	}
	for i := range chain {
		if i > 0 && chain[i].Public.PrevCheckpointDigest != chain[i-1].Public.NewCheckpointDigest {
			return errors.Wrapf(ErrChainBroken, "link %d", i)
		}
		if err := backend.Verify(ctx, chain[i]); err != nil {
			return errors.Wrapf(err, "proof %d", i)
		}
	}
	if chain[len(chain)-1].Public.NewCheckpointDigest != light.CheckpointDigest(head) {
		return ErrChainEndpoints
	}
	return nil
}
