package proofs

import (
	"context"
	"crypto/sha256"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/lightfold/lightfold/light"
)

// Proving errors. ErrConsistency is the one the driver treats as fatal: it
// means a produced artifact contradicts the transition it claims to prove.
var (
	ErrProvingFailed   = errors.New("proofs: proving failed")
	ErrVerifyFailed    = errors.New("proofs: proof verification failed")
	ErrConsistency     = errors.New("proofs: proof inconsistent with transition")
	ErrWrongProgram    = errors.New("proofs: proof bound to a different program")
	ErrBrokenRecursion = errors.New("proofs: prior proof does not chain to this transition")
)

// Witness carries everything one composition proves: the prior checkpoint
// with its opened store, the validated batch, the proof attesting to the
// prior checkpoint (nil only at the genesis bootstrap), and the public
// digest pair the resulting proof must commit to.
type Witness struct {
	Prior      light.Checkpoint
	PriorStore light.LightClientStore
	PriorProof *light.Proof
	Batch      []light.ValidatedUpdate
	Public     light.PublicInputs
}

// Backend produces and checks transition proofs. Implementations must be
// safe for concurrent use.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// ProgramID identifies the constrained program proofs verify against.
	// Two backends interoperate only if their program IDs match.
	ProgramID() light.Hash

	// Prove produces a proof for the witnessed transition. The witness is
	// assumed validated; Prove fails if it cannot satisfy the program.
	Prove(ctx context.Context, w *Witness) (light.Proof, error)

	// Verify checks a proof against its embedded public inputs.
	Verify(ctx context.Context, proof light.Proof) error
}

// checkChain verifies the structural recursion conditions every backend
// shares: the public inputs open the witnessed endpoints and the prior
// proof, when present, lands exactly on the prior checkpoint.
func checkChain(w *Witness) error {
	if w.Public.PrevCheckpointDigest != light.CheckpointDigest(w.Prior) {
		return errors.Wrap(ErrConsistency, "prev digest does not open prior checkpoint")
	}
	if w.PriorStore.Checkpoint() != w.Prior {
		return errors.Wrap(ErrConsistency, "prior store does not open prior checkpoint")
	}
	if w.PriorProof != nil && w.PriorProof.Public.NewCheckpointDigest != w.Public.PrevCheckpointDigest {
		return ErrBrokenRecursion
	}
	return nil
}

// MockBackend is a deterministic stand-in for a real prover: it re-executes
// the transition natively and emits a proof-shaped blob derived from the
// program ID and public inputs. Verification recomputes the blob. It proves
// nothing cryptographically and exists for tests and dry runs.
type MockBackend struct {
	params    light.ChainParams
	programID light.Hash
}

// NewMockBackend builds a mock backend for the given chain parameters.
func NewMockBackend(params light.ChainParams) *MockBackend {
	h := sha256.New()
	h.Write([]byte("lightfold/transition-mock/v1"))
	var buf [8]byte
	for _, v := range []uint64{
		params.SlotsPerCommitteePeriod(),
		params.RotationGraceSlots,
		params.QuorumNumerator,
		params.QuorumDenominator,
		uint64(params.CommitteeSize),
		uint64(params.MaxBatchSize),
	} {
		binary.BigEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	var id light.Hash
	copy(id[:], h.Sum(nil))
	return &MockBackend{params: params, programID: id}
}

func (m *MockBackend) Name() string          { return "mock" }
func (m *MockBackend) ProgramID() light.Hash { return m.programID }

func (m *MockBackend) Prove(_ context.Context, w *Witness) (light.Proof, error) {
	if len(w.Batch) == 0 {
		return light.Proof{}, errors.Wrap(ErrProvingFailed, "empty update batch")
	}
	if len(w.Batch) > m.params.MaxBatchSize {
		return light.Proof{}, errors.Wrapf(ErrProvingFailed, "batch size %d exceeds %d",
			len(w.Batch), m.params.MaxBatchSize)
	}
	if err := checkChain(w); err != nil {
		return light.Proof{}, err
	}

	// Re-execute the transition; the claimed new digest must be the one the
	// batch actually produces.
	end := light.ApplyAll(m.params, w.PriorStore, w.Batch)
	if got := light.CheckpointDigest(end.Checkpoint()); got != w.Public.NewCheckpointDigest {
		return light.Proof{}, errors.Wrap(ErrConsistency, "new digest does not match applied batch")
	}

	return light.Proof{
		Blob:      m.blob(w.Public),
		Public:    w.Public,
		ProgramID: m.programID,
	}, nil
}

func (m *MockBackend) Verify(_ context.Context, proof light.Proof) error {
	if proof.ProgramID != m.programID {
		return ErrWrongProgram
	}
	want := m.blob(proof.Public)
	if len(proof.Blob) != len(want) {
		return ErrVerifyFailed
	}
	for i := range want {
		if proof.Blob[i] != want[i] {
			return ErrVerifyFailed
		}
	}
	return nil
}

// blob derives a Groth16-shaped artifact (three 64-byte point stand-ins)
// from the program ID and public inputs.
func (m *MockBackend) blob(pub light.PublicInputs) []byte {
	out := make([]byte, 0, 3*64)
	for _, label := range []string{"pi_a", "pi_b", "pi_c"} {
		h := sha256.New()
		h.Write(m.programID[:])
		h.Write([]byte(label))
		h.Write(pub.PrevCheckpointDigest[:])
		h.Write(pub.NewCheckpointDigest[:])
		half := h.Sum(nil)
		out = append(out, half...)
		h.Reset()
		h.Write(half)
		h.Write([]byte(label))
		out = append(out, h.Sum(nil)...)
	}
	return out
}
