package proofs

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/lightfold/lightfold/light"
)

var frModulus = uint256.MustFromBig(fr.Modulus())

// DigestToField maps a checkpoint digest onto the BN254 scalar field.
// Digests produced by light.CheckpointDigest are already canonical; the
// reduction guards against foreign 32-byte values fed through Verify.
func DigestToField(d light.Digest) *big.Int {
	v := new(uint256.Int).SetBytes32(d[:])
	if v.Cmp(frModulus) >= 0 {
		v.Mod(v, frModulus)
	}
	return v.ToBig()
}

// NewTransitionAssignment builds the full witness for one composition: the
// prior store opened against prior's digest, followed by the batched
// updates. The caller is responsible for having validated the batch; the
// assignment only has to satisfy the circuit if it did.
func NewTransitionAssignment(
	cp CircuitParams,
	prior light.Checkpoint,
	priorStore light.LightClientStore,
	batch []light.ValidatedUpdate,
	public light.PublicInputs,
) (*TransitionCircuit, error) {
	if len(batch) == 0 {
		return nil, errors.New("proofs: empty update batch")
	}
	if len(batch) > cp.BatchCapacity {
		return nil, errors.Errorf("proofs: batch size %d exceeds capacity %d", len(batch), cp.BatchCapacity)
	}
	if priorStore.Checkpoint() != prior {
		return nil, errors.New("proofs: prior store does not open the prior checkpoint")
	}

	a := NewTransitionCircuit(cp)
	a.PrevDigest = DigestToField(public.PrevCheckpointDigest)
	a.NewDigest = DigestToField(public.NewCheckpointDigest)
	assignPrior(a, cp, priorStore)

	for i := range a.Updates {
		if i < len(batch) {
			if err := assignUpdate(&a.Updates[i], cp, batch[i]); err != nil {
				return nil, err
			}
			continue
		}
		zeroUpdate(&a.Updates[i])
	}
	return a, nil
}

func assignPrior(a *TransitionCircuit, cp CircuitParams, store light.LightClientStore) {
	a.PriorBlock = store.LatestFinalizedBlock
	a.PriorRootHi, a.PriorRootLo = splitVar(store.LatestFinalizedRoot)
	a.PriorCommitteeHi, a.PriorCommitteeLo = splitVar(store.CurrentCommitteeHash)
	if store.NextCommitteeHash != nil {
		a.PriorNextHi, a.PriorNextLo = splitVar(*store.NextCommitteeHash)
		a.PriorNextSet = 1
	} else {
		a.PriorNextHi, a.PriorNextLo = 0, 0
		a.PriorNextSet = 0
	}
	a.PriorSlot = store.LatestAttestedSlot
	a.PriorPeriod = store.LatestAttestedSlot / cp.SlotsPerPeriod
	a.PriorOffset = store.LatestAttestedSlot % cp.SlotsPerPeriod
}

func assignUpdate(s *UpdateSlot, cp CircuitParams, v light.ValidatedUpdate) error {
	u := v.Update
	s.Enabled = 1
	s.AttestedSlot = u.AttestedSlot
	s.Period = u.AttestedSlot / cp.SlotsPerPeriod
	s.Offset = u.AttestedSlot % cp.SlotsPerPeriod
	s.FinalizedBlock = u.FinalizedBlockNumber
	s.FinalizedRootHi, s.FinalizedRootLo = splitVar(u.FinalizedStateRoot)
	s.SignerHi, s.SignerLo = splitVar(u.SigningCommitteeHash)
	if u.NextCommitteeCommitment != nil {
		s.HasNext = 1
		s.NextHi, s.NextLo = splitVar(*u.NextCommitteeCommitment)
	} else {
		s.HasNext = 0
		s.NextHi, s.NextLo = 0, 0
	}
	if got := int(u.Participation.Len()); got != cp.CommitteeSize {
		return errors.Errorf("proofs: participation length %d, committee size %d", got, cp.CommitteeSize)
	}
	for j := 0; j < cp.CommitteeSize; j++ {
		if u.Participation.BitAt(uint64(j)) {
			s.Bits[j] = 1
		} else {
			s.Bits[j] = 0
		}
	}
	return nil
}

func zeroUpdate(s *UpdateSlot) {
	s.Enabled = 0
	s.AttestedSlot = 0
	s.Period = 0
	s.Offset = 0
	s.FinalizedBlock = 0
	s.FinalizedRootHi, s.FinalizedRootLo = 0, 0
	s.SignerHi, s.SignerLo = 0, 0
	s.HasNext = 0
	s.NextHi, s.NextLo = 0, 0
	for j := range s.Bits {
		s.Bits[j] = 0
	}
}

func splitVar(h light.Hash) (hi, lo *big.Int) {
	return light.SplitHash(h)
}
