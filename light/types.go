// types.go defines the data model of the lightfold recursive prover: the
// checkpoint trust anchor, candidate consensus updates, the ephemeral
// light-client store, and the proof artifacts that chain checkpoints
// together.
//
// Part of the lightfold core: everything here is plain data shared by the
// validator, the store transition, the proof composer and the cache.
package light

import (
	"encoding/hex"

	"github.com/prysmaticlabs/go-bitfield"
)

// Hash is a fixed 32-byte digest (state roots, committee hashes, signing
// roots).
type Hash [32]byte

// IsZero reports whether the hash is all zeroes.
func (h Hash) IsZero() bool { return h == Hash{} }

// Hex returns the 0x-prefixed hex encoding of the hash.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// Digest is a recursion chain digest: a BN254 scalar field element in
// 32-byte big-endian form, produced by CheckpointDigest. It is kept as a
// distinct type so checkpoint digests are never confused with raw hashes.
type Digest [32]byte

// IsZero reports whether the digest is all zeroes.
func (d Digest) IsZero() bool { return d == Digest{} }

// Hex returns the 0x-prefixed hex encoding of the digest.
func (d Digest) Hex() string { return "0x" + hex.EncodeToString(d[:]) }

// Checkpoint is the trust anchor: the minimal triple a consumer needs to
// verify state against the chain. A Checkpoint is only ever produced by a
// successful proof composition, or supplied once out-of-band as the genesis
// anchor. It is immutable; a newer Checkpoint supersedes it.
type Checkpoint struct {
	// BlockNumber is the finalized block height. Strictly increasing
	// across published checkpoints.
	BlockNumber uint64

	// StateRoot is the chain state root at BlockNumber.
	StateRoot Hash

	// CommitteeHash identifies the committee authorized to sign the next
	// finality update.
	CommitteeHash Hash
}

// ConsensusUpdate is an untrusted candidate transition: a claim that a later
// block has been finalized under current committee authority. It is only
// ever validated against the committee hash of the current checkpoint;
// rejected updates produce no state change.
type ConsensusUpdate struct {
	// AttestedSlot is the slot of the attested header the committee signed.
	AttestedSlot uint64

	// FinalizedBlockNumber is the block height this update finalizes.
	FinalizedBlockNumber uint64

	// FinalizedStateRoot is the state root of the finalized block.
	FinalizedStateRoot Hash

	// SigningCommitteeHash identifies the committee that signed the update.
	SigningCommitteeHash Hash

	// AggregateSignature is the 96-byte BLS12-381 aggregate signature over
	// the update's signing root.
	AggregateSignature [96]byte

	// Participation marks which committee members contributed to the
	// aggregate signature. Its length must equal the committee size.
	Participation bitfield.Bitlist

	// NextCommitteeCommitment, when non-nil, reveals the hash of the
	// committee taking over at the next rotation boundary.
	NextCommitteeCommitment *Hash
}

// SyncCommittee is the ordered set of 48-byte compressed BLS12-381 public
// keys authorized to sign finality updates for one rotation period.
// Committees arrive alongside updates from the update source; the core never
// persists them.
type SyncCommittee struct {
	Pubkeys [][48]byte
}

// Size returns the number of committee members.
func (c SyncCommittee) Size() int { return len(c.Pubkeys) }

// LightClientStore is the ephemeral bookkeeping state held only transiently
// while a transition is computed. It is never persisted beyond the
// Checkpoint it yields. CurrentCommitteeHash always equals the committee
// hash of the most recent checkpoint.
type LightClientStore struct {
	// CurrentCommitteeHash identifies the committee trusted to sign now.
	CurrentCommitteeHash Hash

	// NextCommitteeHash is the revealed hash of the incoming committee, or
	// nil before any update reveals it. It stays fixed until the rotation
	// boundary is crossed, at which point it becomes current.
	NextCommitteeHash *Hash

	// LatestFinalizedBlock and LatestFinalizedRoot track the newest
	// finalized (block number, state root) pair.
	LatestFinalizedBlock uint64
	LatestFinalizedRoot  Hash

	// LatestAttestedSlot is the highest attested slot applied so far.
	LatestAttestedSlot uint64
}

// StoreFromCheckpoint builds the bookkeeping state anchored at a checkpoint.
// The attested slot starts at zero: any update at or above the checkpoint
// satisfies slot monotonicity.
func StoreFromCheckpoint(cp Checkpoint) LightClientStore {
	return LightClientStore{
		CurrentCommitteeHash: cp.CommitteeHash,
		LatestFinalizedBlock: cp.BlockNumber,
		LatestFinalizedRoot:  cp.StateRoot,
	}
}

// Checkpoint projects the store onto its persistent checkpoint triple.
func (s LightClientStore) Checkpoint() Checkpoint {
	return Checkpoint{
		BlockNumber:   s.LatestFinalizedBlock,
		StateRoot:     s.LatestFinalizedRoot,
		CommitteeHash: s.CurrentCommitteeHash,
	}
}

// Clone returns a deep copy of the store.
func (s LightClientStore) Clone() LightClientStore {
	out := s
	if s.NextCommitteeHash != nil {
		next := *s.NextCommitteeHash
		out.NextCommitteeHash = &next
	}
	return out
}

// ValidatedUpdate is a ConsensusUpdate that passed Validate against a
// specific store state, together with the resolved committee and derived
// fields the composer needs. Only Validate produces these.
type ValidatedUpdate struct {
	Update    ConsensusUpdate
	Committee SyncCommittee

	// SigningRoot is the message the aggregate signature was verified over.
	SigningRoot Hash

	// Participants is the number of committee members that signed.
	Participants int
}

// SourcedUpdate pairs a candidate update with the committee claimed to have
// signed it, as delivered by the update source.
type SourcedUpdate struct {
	Update    ConsensusUpdate
	Committee SyncCommittee
}

// PublicInputs is the public tuple every proof commits to: the digest of the
// checkpoint the transition started from and the digest of the checkpoint it
// produced. Recursion continuity means each proof's PrevCheckpointDigest
// equals the previous proof's NewCheckpointDigest.
type PublicInputs struct {
	PrevCheckpointDigest Digest
	NewCheckpointDigest  Digest
}

// Proof is the opaque artifact produced by the proving backend: a private
// blob plus the public inputs it verifies against.
type Proof struct {
	// Blob is the serialized backend proof.
	Blob []byte

	// Public is the (prev, new) checkpoint digest tuple.
	Public PublicInputs

	// ProgramID identifies the constrained program (verifying key) the blob
	// proves against.
	ProgramID Hash

	// JobID tags the composition attempt that produced this proof, for
	// correlation in logs.
	JobID string
}

// ProvenCheckpoint pairs a checkpoint with the proof that attests to it.
// This is the single slot the checkpoint cache holds and the only state the
// system persists across requests.
type ProvenCheckpoint struct {
	Checkpoint Checkpoint
	Proof      Proof
}
