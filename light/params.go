// params.go defines the per-chain consensus parameters the prover is
// configured with: slot timing, committee sizing, rotation cadence and the
// participation quorum. Nothing in this package hard-codes one network's
// constants; the values below are defaults for an Ethereum-mainnet-shaped
// beacon chain and every one of them is a configuration input.
package light

import (
	"errors"
	"fmt"
	"time"
)

// Parameter validation errors.
var (
	ErrParamsSlotDuration  = errors.New("light: slot duration must be positive")
	ErrParamsRotation      = errors.New("light: rotation period must be positive")
	ErrParamsQuorum        = errors.New("light: quorum fraction must be in (0, 1]")
	ErrParamsCommitteeSize = errors.New("light: committee size must be positive")
	ErrParamsBatch         = errors.New("light: max batch size must be positive")
	ErrParamsGrace         = errors.New("light: rotation grace window exceeds rotation period")
)

// ChainParams holds the consensus constants of the chain being followed.
type ChainParams struct {
	// GenesisTime is the unix timestamp of slot zero.
	GenesisTime uint64

	// SlotDuration is the wall-clock length of one slot.
	SlotDuration time.Duration

	// SlotsPerEpoch is the number of slots per epoch.
	SlotsPerEpoch uint64

	// EpochsPerCommitteePeriod is the number of epochs a signing committee
	// serves before rotation.
	EpochsPerCommitteePeriod uint64

	// MaxClockSkewSlots is how far into the future (relative to the local
	// clock) an attested slot may be before it is rejected.
	MaxClockSkewSlots uint64

	// RotationGraceSlots is the window at the start of a new committee
	// period during which a signature by the outgoing committee over the
	// transition into the new period is still accepted.
	RotationGraceSlots uint64

	// QuorumNumerator and QuorumDenominator express the required
	// participation as a fraction of the committee size. The default 2/3
	// mirrors the beacon chain supermajority rule.
	QuorumNumerator   uint64
	QuorumDenominator uint64

	// CommitteeSize is the fixed number of members in a signing committee.
	CommitteeSize int

	// MaxBatchSize caps how many validated updates one proof composition
	// may fold.
	MaxBatchSize int
}

// DefaultChainParams returns parameters matching the Ethereum beacon chain
// sync committee cadence: 12 s slots, 32-slot epochs, 256-epoch committee
// periods (8192 slots), 512-member committees, 2/3 quorum.
func DefaultChainParams() ChainParams {
	return ChainParams{
		GenesisTime:              0,
		SlotDuration:             12 * time.Second,
		SlotsPerEpoch:            32,
		EpochsPerCommitteePeriod: 256,
		MaxClockSkewSlots:        1,
		RotationGraceSlots:       32,
		QuorumNumerator:          2,
		QuorumDenominator:        3,
		CommitteeSize:            512,
		MaxBatchSize:             8,
	}
}

// SlotsPerCommitteePeriod returns the rotation period expressed in slots.
func (p ChainParams) SlotsPerCommitteePeriod() uint64 {
	return p.SlotsPerEpoch * p.EpochsPerCommitteePeriod
}

// CommitteePeriod returns the committee period a slot belongs to.
func (p ChainParams) CommitteePeriod(slot uint64) uint64 {
	return slot / p.SlotsPerCommitteePeriod()
}

// SlotAt returns the current slot derived from a wall-clock instant.
// Instants before genesis map to slot zero.
func (p ChainParams) SlotAt(now time.Time) uint64 {
	ts := now.Unix()
	if ts < 0 || uint64(ts) < p.GenesisTime {
		return 0
	}
	return (uint64(ts) - p.GenesisTime) / uint64(p.SlotDuration/time.Second)
}

// Validate checks the parameters for internal consistency.
func (p ChainParams) Validate() error {
	if p.SlotDuration < time.Second {
		return ErrParamsSlotDuration
	}
	if p.SlotsPerEpoch == 0 || p.EpochsPerCommitteePeriod == 0 {
		return ErrParamsRotation
	}
	if p.QuorumNumerator == 0 || p.QuorumDenominator == 0 || p.QuorumNumerator > p.QuorumDenominator {
		return ErrParamsQuorum
	}
	if p.CommitteeSize <= 0 {
		return ErrParamsCommitteeSize
	}
	if p.MaxBatchSize <= 0 {
		return ErrParamsBatch
	}
	if p.RotationGraceSlots >= p.SlotsPerCommitteePeriod() {
		return fmt.Errorf("%w: grace %d, period %d", ErrParamsGrace,
			p.RotationGraceSlots, p.SlotsPerCommitteePeriod())
	}
	return nil
}
