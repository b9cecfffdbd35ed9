package proofs

import (
	"bytes"
	"context"
	"crypto/sha256"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/pkg/errors"

	"github.com/lightfold/lightfold/light"
)

// Groth16Backend proves the transition program with a Groth16 SNARK over
// BN254. The proving and verifying keys come from an in-process setup; the
// program ID is the hash of the verifying key, so two processes running the
// same setup output interoperate.
type Groth16Backend struct {
	params light.ChainParams
	shape  CircuitParams

	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey

	programID light.Hash
}

// NewGroth16Backend compiles the transition circuit for the given chain
// parameters and runs the Groth16 setup. Compilation cost grows with
// committee size and batch capacity; callers should build one backend and
// share it.
func NewGroth16Backend(params light.ChainParams) (*Groth16Backend, error) {
	shape := CircuitParamsFromChain(params)
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, NewTransitionCircuit(shape))
	if err != nil {
		return nil, errors.Wrap(err, "compile transition circuit")
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, errors.Wrap(err, "groth16 setup")
	}
	return &Groth16Backend{
		params:    params,
		shape:     shape,
		ccs:       ccs,
		pk:        pk,
		vk:        vk,
		programID: verifyingKeyID(vk),
	}, nil
}

func (b *Groth16Backend) Name() string          { return "groth16" }
func (b *Groth16Backend) ProgramID() light.Hash { return b.programID }

func (b *Groth16Backend) Prove(ctx context.Context, w *Witness) (light.Proof, error) {
	if err := ctx.Err(); err != nil {
		return light.Proof{}, err
	}
	if err := checkChain(w); err != nil {
		return light.Proof{}, err
	}
	assignment, err := NewTransitionAssignment(b.shape, w.Prior, w.PriorStore, w.Batch, w.Public)
	if err != nil {
		return light.Proof{}, errors.Wrap(ErrProvingFailed, err.Error())
	}
	full, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return light.Proof{}, errors.Wrap(ErrProvingFailed, err.Error())
	}
	proof, err := groth16.Prove(b.ccs, b.pk, full)
	if err != nil {
		return light.Proof{}, errors.Wrap(ErrProvingFailed, err.Error())
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return light.Proof{}, errors.Wrap(ErrProvingFailed, err.Error())
	}
	return light.Proof{
		Blob:      buf.Bytes(),
		Public:    w.Public,
		ProgramID: b.programID,
	}, nil
}

func (b *Groth16Backend) Verify(ctx context.Context, proof light.Proof) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if proof.ProgramID != b.programID {
		return ErrWrongProgram
	}
	parsed := groth16.NewProof(ecc.BN254)
	if _, err := parsed.ReadFrom(bytes.NewReader(proof.Blob)); err != nil {
		return errors.Wrap(ErrVerifyFailed, err.Error())
	}
	pub, err := publicWitness(b.shape, proof.Public)
	if err != nil {
		return errors.Wrap(ErrVerifyFailed, err.Error())
	}
	if err := groth16.Verify(parsed, b.vk, pub); err != nil {
		return errors.Wrap(ErrVerifyFailed, err.Error())
	}
	return nil
}

// --- Internal helpers ---

// publicWitness builds the public-only witness (prev digest, new digest) for
// a verification, with every private leaf zeroed to keep the schema intact.
func publicWitness(shape CircuitParams, pub light.PublicInputs) (witness.Witness, error) {
	a := NewTransitionCircuit(shape)
	a.PrevDigest = DigestToField(pub.PrevCheckpointDigest)
	a.NewDigest = DigestToField(pub.NewCheckpointDigest)
	a.PriorBlock = 0
	a.PriorRootHi, a.PriorRootLo = 0, 0
	a.PriorCommitteeHi, a.PriorCommitteeLo = 0, 0
	a.PriorNextHi, a.PriorNextLo = 0, 0
	a.PriorNextSet = 0
	a.PriorSlot, a.PriorPeriod, a.PriorOffset = 0, 0, 0
	for i := range a.Updates {
		zeroUpdate(&a.Updates[i])
	}
	return frontend.NewWitness(a, ecc.BN254.ScalarField(), frontend.PublicOnly())
}

func verifyingKeyID(vk groth16.VerifyingKey) light.Hash {
	var buf bytes.Buffer
	// WriteTo on a freshly set up key cannot fail against a bytes.Buffer.
	vk.WriteTo(&buf) //nolint:errcheck
	sum := sha256.Sum256(buf.Bytes())
	return light.Hash(sum)
}
