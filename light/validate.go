// validate.go implements the consensus update validator: a pure function
// deciding whether one candidate update is acceptable against a known store
// state. Every rejection cause is a distinct sentinel error so callers can
// attribute drops precisely. Validation never mutates anything; the caller
// applies accepted updates separately.
package light

import (
	"errors"
	"fmt"
	"time"

	"github.com/lightfold/lightfold/crypto"
)

// Update rejection causes. All are expected, non-fatal conditions: the
// driver drops the offending update and continues with the next candidate.
var (
	ErrFutureSlot         = errors.New("light: attested slot is ahead of the local clock")
	ErrStaleSlot          = errors.New("light: attested slot regresses the store")
	ErrCommitteeSize      = errors.New("light: committee size does not match chain parameters")
	ErrCommitteeMismatch  = errors.New("light: committee hash does not match claimed signer")
	ErrParticipationSize  = errors.New("light: participation bitfield length does not match committee")
	ErrWrongSigner        = errors.New("light: update signed by a committee the store does not trust")
	ErrPeriodGap          = errors.New("light: update skips a committee period")
	ErrInsufficientWeight = errors.New("light: participation below quorum fraction")
	ErrSignatureInvalid   = errors.New("light: aggregate signature verification failed")
	ErrNonMonotonicFinal  = errors.New("light: finalized block number does not advance")
)

// Validate checks a candidate update against the store. The committee is
// the claimed signer set delivered alongside the update; its hash must match
// the update's signing committee hash. The checks run in a fixed order and
// the first failure wins:
//
//  1. clock-skew guard against the slot derived from now
//  2. attested slot monotonicity
//  3. signer committee trust (current committee, or the outgoing committee
//     inside the rotation grace window)
//  4. participation quorum as a fraction of the committee
//  5. aggregate BLS signature over the signing root
//  6. strict finalized block advancement
//
// Validate is pure: identical inputs always yield identical results, and no
// state is touched on either path.
func Validate(params ChainParams, store LightClientStore, upd ConsensusUpdate, committee SyncCommittee, now time.Time) (ValidatedUpdate, error) {
	if committee.Size() != params.CommitteeSize {
		return ValidatedUpdate{}, fmt.Errorf("%w: got %d, want %d",
			ErrCommitteeSize, committee.Size(), params.CommitteeSize)
	}
	if CommitteeHash(committee) != upd.SigningCommitteeHash {
		return ValidatedUpdate{}, ErrCommitteeMismatch
	}
	if upd.Participation.Len() != uint64(committee.Size()) {
		return ValidatedUpdate{}, fmt.Errorf("%w: got %d bits, want %d",
			ErrParticipationSize, upd.Participation.Len(), committee.Size())
	}

	// Clock-skew guard: the attested slot may not be further ahead of the
	// locally derived slot than the configured tolerance.
	localSlot := params.SlotAt(now)
	if upd.AttestedSlot > localSlot+params.MaxClockSkewSlots {
		return ValidatedUpdate{}, fmt.Errorf("%w: attested %d, local %d",
			ErrFutureSlot, upd.AttestedSlot, localSlot)
	}

	// Slot monotonicity against the store.
	if upd.AttestedSlot < store.LatestAttestedSlot {
		return ValidatedUpdate{}, fmt.Errorf("%w: attested %d, store %d",
			ErrStaleSlot, upd.AttestedSlot, store.LatestAttestedSlot)
	}

	if err := checkSigner(params, store, upd); err != nil {
		return ValidatedUpdate{}, err
	}

	// Quorum as a fraction of the committee, in integer arithmetic:
	// participants/size >= num/den  <=>  participants*den >= size*num.
	participants := int(upd.Participation.Count())
	if uint64(participants)*params.QuorumDenominator < uint64(committee.Size())*params.QuorumNumerator {
		return ValidatedUpdate{}, fmt.Errorf("%w: %d of %d signed",
			ErrInsufficientWeight, participants, committee.Size())
	}

	root := SigningRoot(upd)
	pubkeys := make([][]byte, 0, participants)
	for i := 0; i < committee.Size(); i++ {
		if upd.Participation.BitAt(uint64(i)) {
			pubkeys = append(pubkeys, committee.Pubkeys[i][:])
		}
	}
	if !crypto.DefaultBackend().FastAggregateVerify(pubkeys, root[:], upd.AggregateSignature[:]) {
		return ValidatedUpdate{}, ErrSignatureInvalid
	}

	// No regression, no replay: the finalized block must strictly advance.
	if upd.FinalizedBlockNumber <= store.LatestFinalizedBlock {
		return ValidatedUpdate{}, fmt.Errorf("%w: finalized %d, store %d",
			ErrNonMonotonicFinal, upd.FinalizedBlockNumber, store.LatestFinalizedBlock)
	}

	return ValidatedUpdate{
		Update:       upd,
		Committee:    committee,
		SigningRoot:  root,
		Participants: participants,
	}, nil
}

// checkSigner enforces the committee trust rule. Within a committee period
// the signer must be the store's current committee. An update crossing into
// the next period is signed either by the incoming committee (when the store
// already knows it) or, only inside the rotation grace window, by the
// outgoing committee over the transition into the new period. Updates may
// never skip a whole period: the chain of committee custody would break.
func checkSigner(params ChainParams, store LightClientStore, upd ConsensusUpdate) error {
	updPeriod := params.CommitteePeriod(upd.AttestedSlot)
	storePeriod := params.CommitteePeriod(store.LatestAttestedSlot)
	signer := upd.SigningCommitteeHash

	switch {
	case updPeriod == storePeriod:
		if signer != store.CurrentCommitteeHash {
			return ErrWrongSigner
		}
		return nil

	case updPeriod == storePeriod+1:
		if store.NextCommitteeHash != nil && signer == *store.NextCommitteeHash {
			return nil
		}
		if signer == store.CurrentCommitteeHash {
			offset := upd.AttestedSlot % params.SlotsPerCommitteePeriod()
			if offset < params.RotationGraceSlots {
				return nil
			}
			return fmt.Errorf("%w: outgoing committee past grace window (offset %d)",
				ErrWrongSigner, offset)
		}
		return ErrWrongSigner

	default:
		return fmt.Errorf("%w: update period %d, store period %d",
			ErrPeriodGap, updPeriod, storePeriod)
	}
}
