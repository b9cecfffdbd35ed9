// recursion.go wraps transition proofs into a recursive chain: each wrapper
// proof verifies, in-circuit, both the current step's transition proof and
// the previous step's transition proof, and constrains the two to share a
// checkpoint digest. The published artifact is an envelope carrying the step
// proof and its wrapper, so the next composition can open its predecessor.
package proofs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/std/algebra/emulated/sw_bn254"
	"github.com/consensys/gnark/std/math/emulated"
	stdgroth16 "github.com/consensys/gnark/std/recursion/groth16"
	"github.com/pkg/errors"

	"github.com/lightfold/lightfold/light"
)

var errEnvelope = errors.New("proofs: malformed proof envelope")

// chainCircuit verifies two transition proofs against the same verifying
// key and enforces continuity between them: the step proof must start where
// the prior proof ended. The verifying key is compiled in as a constant.
type chainCircuit struct {
	StepProof    stdgroth16.Proof[sw_bn254.G1Affine, sw_bn254.G2Affine]
	StepWitness  stdgroth16.Witness[sw_bn254.ScalarField] `gnark:",public"`
	PriorProof   stdgroth16.Proof[sw_bn254.G1Affine, sw_bn254.G2Affine]
	PriorWitness stdgroth16.Witness[sw_bn254.ScalarField] `gnark:",public"`

	VerifyingKey stdgroth16.VerifyingKey[sw_bn254.G1Affine, sw_bn254.G2Affine, sw_bn254.GTEl] `gnark:"-"`
}

func (c *chainCircuit) Define(api frontend.API) error {
	verifier, err := stdgroth16.NewVerifier[sw_bn254.ScalarField, sw_bn254.G1Affine, sw_bn254.G2Affine, sw_bn254.GTEl](api)
	if err != nil {
		return err
	}
	if err := verifier.AssertProof(c.VerifyingKey, c.PriorProof, c.PriorWitness); err != nil {
		return err
	}
	if err := verifier.AssertProof(c.VerifyingKey, c.StepProof, c.StepWitness); err != nil {
		return err
	}

	// Continuity: prior proof's new digest equals the step's prev digest.
	// Transition publics are ordered (prev, new).
	field, err := emulated.NewField[sw_bn254.ScalarField](api)
	if err != nil {
		return err
	}
	field.AssertIsEqual(&c.PriorWitness.Public[1], &c.StepWitness.Public[0])
	return nil
}

// RecursiveBackend layers the chain wrapper on top of the plain transition
// prover. Prove emits an envelope of (step proof, chain proof); Verify
// checks both. The genesis bootstrap, where no prior proof exists, uses an
// identity transition (empty batch, prev digest == new digest) over the
// genesis checkpoint as the chain's base case.
type RecursiveBackend struct {
	params light.ChainParams
	shape  CircuitParams

	stepCCS constraint.ConstraintSystem
	stepPK  groth16.ProvingKey
	stepVK  groth16.VerifyingKey

	chainCCS constraint.ConstraintSystem
	chainPK  groth16.ProvingKey
	chainVK  groth16.VerifyingKey

	programID light.Hash
}

// NewRecursiveBackend compiles and sets up both programs. This is expensive:
// the chain circuit carries two in-circuit pairing checks.
func NewRecursiveBackend(params light.ChainParams) (*RecursiveBackend, error) {
	shape := CircuitParamsFromChain(params)
	stepCCS, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, NewTransitionCircuit(shape))
	if err != nil {
		return nil, errors.Wrap(err, "compile transition circuit")
	}
	stepPK, stepVK, err := groth16.Setup(stepCCS)
	if err != nil {
		return nil, errors.Wrap(err, "transition setup")
	}

	fixedVK, err := stdgroth16.ValueOfVerifyingKeyFixed[sw_bn254.G1Affine, sw_bn254.G2Affine, sw_bn254.GTEl](stepVK)
	if err != nil {
		return nil, errors.Wrap(err, "embed transition verifying key")
	}
	outer := &chainCircuit{
		StepProof:    stdgroth16.PlaceholderProof[sw_bn254.G1Affine, sw_bn254.G2Affine](stepCCS),
		StepWitness:  stdgroth16.PlaceholderWitness[sw_bn254.ScalarField](stepCCS),
		PriorProof:   stdgroth16.PlaceholderProof[sw_bn254.G1Affine, sw_bn254.G2Affine](stepCCS),
		PriorWitness: stdgroth16.PlaceholderWitness[sw_bn254.ScalarField](stepCCS),
		VerifyingKey: fixedVK,
	}
	chainCCS, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, outer)
	if err != nil {
		return nil, errors.Wrap(err, "compile chain circuit")
	}
	chainPK, chainVK, err := groth16.Setup(chainCCS)
	if err != nil {
		return nil, errors.Wrap(err, "chain setup")
	}

	h := sha256.New()
	h.Write([]byte("lightfold/recursive/v1"))
	id := verifyingKeyID(stepVK)
	h.Write(id[:])
	id = verifyingKeyID(chainVK)
	h.Write(id[:])
	var programID light.Hash
	copy(programID[:], h.Sum(nil))

	return &RecursiveBackend{
		params:    params,
		shape:     shape,
		stepCCS:   stepCCS,
		stepPK:    stepPK,
		stepVK:    stepVK,
		chainCCS:  chainCCS,
		chainPK:   chainPK,
		chainVK:   chainVK,
		programID: programID,
	}, nil
}

func (b *RecursiveBackend) Name() string          { return "groth16-recursive" }
func (b *RecursiveBackend) ProgramID() light.Hash { return b.programID }

func (b *RecursiveBackend) Prove(ctx context.Context, w *Witness) (light.Proof, error) {
	if err := ctx.Err(); err != nil {
		return light.Proof{}, err
	}
	if err := checkChain(w); err != nil {
		return light.Proof{}, err
	}

	stepProof, stepPub, err := b.proveStep(w)
	if err != nil {
		return light.Proof{}, err
	}

	// Resolve the predecessor: the step proof carried in the prior
	// envelope, or a freshly proven identity step at the genesis bootstrap.
	var (
		priorProof  groth16.Proof
		priorPublic light.PublicInputs
	)
	if w.PriorProof != nil {
		if w.PriorProof.ProgramID != b.programID {
			return light.Proof{}, ErrWrongProgram
		}
		env, err := decodeEnvelope(w.PriorProof.Blob)
		if err != nil {
			return light.Proof{}, err
		}
		priorProof, err = parseGroth16(env.step)
		if err != nil {
			return light.Proof{}, errors.Wrap(ErrProvingFailed, err.Error())
		}
		priorPublic = w.PriorProof.Public
	} else {
		priorProof, priorPublic, err = b.proveIdentity(w.PriorStore)
		if err != nil {
			return light.Proof{}, err
		}
	}
	priorPub, err := b.stepPublicWitness(priorPublic)
	if err != nil {
		return light.Proof{}, errors.Wrap(ErrProvingFailed, err.Error())
	}

	chainProof, err := b.proveChain(stepProof, stepPub, priorProof, priorPub)
	if err != nil {
		return light.Proof{}, err
	}

	blob, err := encodeEnvelope(priorPublic.PrevCheckpointDigest, stepProof, chainProof)
	if err != nil {
		return light.Proof{}, errors.Wrap(ErrProvingFailed, err.Error())
	}
	return light.Proof{
		Blob:      blob,
		Public:    w.Public,
		ProgramID: b.programID,
	}, nil
}

func (b *RecursiveBackend) Verify(ctx context.Context, proof light.Proof) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if proof.ProgramID != b.programID {
		return ErrWrongProgram
	}
	env, err := decodeEnvelope(proof.Blob)
	if err != nil {
		return err
	}

	stepProof, err := parseGroth16(env.step)
	if err != nil {
		return errors.Wrap(ErrVerifyFailed, err.Error())
	}
	stepPub, err := b.stepPublicWitness(proof.Public)
	if err != nil {
		return errors.Wrap(ErrVerifyFailed, err.Error())
	}
	opts := stdgroth16.GetNativeVerifierOptions(ecc.BN254.ScalarField(), ecc.BN254.ScalarField())
	if err := groth16.Verify(stepProof, b.stepVK, stepPub, opts); err != nil {
		return errors.Wrap(ErrVerifyFailed, err.Error())
	}

	// The chain proof's publics are the step publics plus the prior step's
	// publics; the prior's new digest is pinned to our prev digest by the
	// circuit, and its prev digest travels in the envelope.
	priorPub, err := b.stepPublicWitness(light.PublicInputs{
		PrevCheckpointDigest: env.priorPrev,
		NewCheckpointDigest:  proof.Public.PrevCheckpointDigest,
	})
	if err != nil {
		return errors.Wrap(ErrVerifyFailed, err.Error())
	}
	chainProof, err := parseGroth16(env.chain)
	if err != nil {
		return errors.Wrap(ErrVerifyFailed, err.Error())
	}
	chainPub, err := chainPublicWitness(stepPub, priorPub)
	if err != nil {
		return errors.Wrap(ErrVerifyFailed, err.Error())
	}
	if err := groth16.Verify(chainProof, b.chainVK, chainPub); err != nil {
		return errors.Wrap(ErrVerifyFailed, err.Error())
	}
	return nil
}

// --- Internal helpers ---

// proveStep produces the plain transition proof and its public witness.
func (b *RecursiveBackend) proveStep(w *Witness) (groth16.Proof, witness.Witness, error) {
	assignment, err := NewTransitionAssignment(b.shape, w.Prior, w.PriorStore, w.Batch, w.Public)
	if err != nil {
		return nil, nil, errors.Wrap(ErrProvingFailed, err.Error())
	}
	return b.proveAssignment(assignment)
}

// proveIdentity proves the empty transition over a store: same digest on
// both sides, no updates folded. It anchors the recursion at genesis.
func (b *RecursiveBackend) proveIdentity(store light.LightClientStore) (groth16.Proof, light.PublicInputs, error) {
	d := light.CheckpointDigest(store.Checkpoint())
	pub := light.PublicInputs{PrevCheckpointDigest: d, NewCheckpointDigest: d}

	a := NewTransitionCircuit(b.shape)
	a.PrevDigest = DigestToField(pub.PrevCheckpointDigest)
	a.NewDigest = DigestToField(pub.NewCheckpointDigest)
	assignPrior(a, b.shape, store)
	for i := range a.Updates {
		zeroUpdate(&a.Updates[i])
	}
	proof, _, err := b.proveAssignment(a)
	if err != nil {
		return nil, light.PublicInputs{}, err
	}
	return proof, pub, nil
}

func (b *RecursiveBackend) proveAssignment(a *TransitionCircuit) (groth16.Proof, witness.Witness, error) {
	full, err := frontend.NewWitness(a, ecc.BN254.ScalarField())
	if err != nil {
		return nil, nil, errors.Wrap(ErrProvingFailed, err.Error())
	}
	// Step proofs are later verified in-circuit, which changes how prover
	// randomness is hashed to the field.
	opts := stdgroth16.GetNativeProverOptions(ecc.BN254.ScalarField(), ecc.BN254.ScalarField())
	proof, err := groth16.Prove(b.stepCCS, b.stepPK, full, opts)
	if err != nil {
		return nil, nil, errors.Wrap(ErrProvingFailed, err.Error())
	}
	pub, err := full.Public()
	if err != nil {
		return nil, nil, errors.Wrap(ErrProvingFailed, err.Error())
	}
	return proof, pub, nil
}

func (b *RecursiveBackend) proveChain(step groth16.Proof, stepPub witness.Witness, prior groth16.Proof, priorPub witness.Witness) (groth16.Proof, error) {
	assignment, err := chainAssignment(step, stepPub, prior, priorPub)
	if err != nil {
		return nil, errors.Wrap(ErrProvingFailed, err.Error())
	}
	full, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, errors.Wrap(ErrProvingFailed, err.Error())
	}
	proof, err := groth16.Prove(b.chainCCS, b.chainPK, full)
	if err != nil {
		return nil, errors.Wrap(ErrProvingFailed, err.Error())
	}
	return proof, nil
}

func (b *RecursiveBackend) stepPublicWitness(pub light.PublicInputs) (witness.Witness, error) {
	return publicWitness(b.shape, pub)
}

func chainAssignment(step groth16.Proof, stepPub witness.Witness, prior groth16.Proof, priorPub witness.Witness) (*chainCircuit, error) {
	stepProof, err := stdgroth16.ValueOfProof[sw_bn254.G1Affine, sw_bn254.G2Affine](step)
	if err != nil {
		return nil, err
	}
	stepWit, err := stdgroth16.ValueOfWitness[sw_bn254.ScalarField](stepPub)
	if err != nil {
		return nil, err
	}
	priorProof, err := stdgroth16.ValueOfProof[sw_bn254.G1Affine, sw_bn254.G2Affine](prior)
	if err != nil {
		return nil, err
	}
	priorWit, err := stdgroth16.ValueOfWitness[sw_bn254.ScalarField](priorPub)
	if err != nil {
		return nil, err
	}
	return &chainCircuit{
		StepProof:    stepProof,
		StepWitness:  stepWit,
		PriorProof:   priorProof,
		PriorWitness: priorWit,
	}, nil
}

// chainPublicWitness builds the chain circuit's public witness from the two
// step public witnesses.
func chainPublicWitness(stepPub, priorPub witness.Witness) (witness.Witness, error) {
	stepWit, err := stdgroth16.ValueOfWitness[sw_bn254.ScalarField](stepPub)
	if err != nil {
		return nil, err
	}
	priorWit, err := stdgroth16.ValueOfWitness[sw_bn254.ScalarField](priorPub)
	if err != nil {
		return nil, err
	}
	assignment := &chainCircuit{StepWitness: stepWit, PriorWitness: priorWit}
	return frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
}

func parseGroth16(blob []byte) (groth16.Proof, error) {
	p := groth16.NewProof(ecc.BN254)
	if _, err := p.ReadFrom(bytes.NewReader(blob)); err != nil {
		return nil, err
	}
	return p, nil
}

// envelope is the wire form of a recursive proof blob:
//
//	"LFR1" | prior prev digest (32) | u32 len | step proof | u32 len | chain proof
type envelope struct {
	priorPrev light.Digest
	step      []byte
	chain     []byte
}

var envelopeMagic = [4]byte{'L', 'F', 'R', '1'}

func encodeEnvelope(priorPrev light.Digest, step, chain groth16.Proof) ([]byte, error) {
	var stepBuf, chainBuf bytes.Buffer
	if _, err := step.WriteTo(&stepBuf); err != nil {
		return nil, err
	}
	if _, err := chain.WriteTo(&chainBuf); err != nil {
		return nil, err
	}
	out := make([]byte, 0, 4+32+4+stepBuf.Len()+4+chainBuf.Len())
	out = append(out, envelopeMagic[:]...)
	out = append(out, priorPrev[:]...)
	out = binary.BigEndian.AppendUint32(out, uint32(stepBuf.Len()))
	out = append(out, stepBuf.Bytes()...)
	out = binary.BigEndian.AppendUint32(out, uint32(chainBuf.Len()))
	out = append(out, chainBuf.Bytes()...)
	return out, nil
}

func decodeEnvelope(blob []byte) (envelope, error) {
	var env envelope
	if len(blob) < 4+32+4 || !bytes.Equal(blob[:4], envelopeMagic[:]) {
		return env, errEnvelope
	}
	copy(env.priorPrev[:], blob[4:36])
	rest := blob[36:]

	stepLen := int(binary.BigEndian.Uint32(rest[:4]))
	rest = rest[4:]
	if len(rest) < stepLen+4 {
		return env, errEnvelope
	}
	env.step = rest[:stepLen]
	rest = rest[stepLen:]

	chainLen := int(binary.BigEndian.Uint32(rest[:4]))
	rest = rest[4:]
	if len(rest) != chainLen {
		return env, errEnvelope
	}
	env.chain = rest
	return env, nil
}
