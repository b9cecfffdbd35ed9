// Package relay publishes proven checkpoints to external consumers. It
// turns the in-memory artifacts into a stable hex-encoded JSON payload and
// forwards every published checkpoint from the driver feed to a sink.
package relay

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"github.com/lightfold/lightfold/light"
)

// Payload decode errors.
var (
	ErrBadLength      = errors.New("relay: field has wrong length")
	ErrDigestMismatch = errors.New("relay: proof does not attest to the checkpoint")
)

// Payload is the wire form of a proven checkpoint. All byte fields are
// 0x-prefixed hex.
type Payload struct {
	BlockNumber   hexutil.Uint64 `json:"blockNumber"`
	StateRoot     hexutil.Bytes  `json:"stateRoot"`
	CommitteeHash hexutil.Bytes  `json:"committeeHash"`

	PrevCheckpointDigest hexutil.Bytes `json:"prevCheckpointDigest"`
	NewCheckpointDigest  hexutil.Bytes `json:"newCheckpointDigest"`

	Proof     hexutil.Bytes `json:"proof"`
	ProgramID hexutil.Bytes `json:"programId"`
	JobID     string        `json:"jobId,omitempty"`
}

// Encode builds the payload for a proven checkpoint.
func Encode(pc light.ProvenCheckpoint) Payload {
	return Payload{
		BlockNumber:          hexutil.Uint64(pc.Checkpoint.BlockNumber),
		StateRoot:            pc.Checkpoint.StateRoot[:],
		CommitteeHash:        pc.Checkpoint.CommitteeHash[:],
		PrevCheckpointDigest: pc.Proof.Public.PrevCheckpointDigest[:],
		NewCheckpointDigest:  pc.Proof.Public.NewCheckpointDigest[:],
		Proof:                pc.Proof.Blob,
		ProgramID:            pc.Proof.ProgramID[:],
		JobID:                pc.Proof.JobID,
	}
}

// Decode validates the payload and reconstructs the proven checkpoint,
// including the digest self-consistency check a consumer relies on.
func Decode(p Payload) (light.ProvenCheckpoint, error) {
	var pc light.ProvenCheckpoint
	pc.Checkpoint.BlockNumber = uint64(p.BlockNumber)
	if err := fill(pc.Checkpoint.StateRoot[:], p.StateRoot, "stateRoot"); err != nil {
		return pc, err
	}
	if err := fill(pc.Checkpoint.CommitteeHash[:], p.CommitteeHash, "committeeHash"); err != nil {
		return pc, err
	}
	if err := fill(pc.Proof.Public.PrevCheckpointDigest[:], p.PrevCheckpointDigest, "prevCheckpointDigest"); err != nil {
		return pc, err
	}
	if err := fill(pc.Proof.Public.NewCheckpointDigest[:], p.NewCheckpointDigest, "newCheckpointDigest"); err != nil {
		return pc, err
	}
	if err := fill(pc.Proof.ProgramID[:], p.ProgramID, "programId"); err != nil {
		return pc, err
	}
	pc.Proof.Blob = append([]byte(nil), p.Proof...)
	pc.Proof.JobID = p.JobID

	if light.CheckpointDigest(pc.Checkpoint) != pc.Proof.Public.NewCheckpointDigest {
		return pc, ErrDigestMismatch
	}
	return pc, nil
}

func fill(dst []byte, src hexutil.Bytes, field string) error {
	if len(src) != len(dst) {
		return errors.Wrapf(ErrBadLength, "%s: %d bytes, want %d", field, len(src), len(dst))
	}
	copy(dst, src)
	return nil
}
