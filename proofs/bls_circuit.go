// bls_circuit.go proves committee signature authority in-circuit: that the
// members flagged by a participation bitfield, drawn from a committee whose
// compressed keys hash to a public commitment, aggregate-signed a message.
// Hashing the signing root onto G2 stays native; the circuit receives the
// message point and checks the pairing equation against it.
package proofs

import (
	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/algebra/emulated/sw_bls12381"
	"github.com/consensys/gnark/std/algebra/emulated/sw_emulated"
	"github.com/consensys/gnark/std/hash/sha2"
	"github.com/consensys/gnark/std/math/emulated"
	"github.com/consensys/gnark/std/math/uints"
	"github.com/pkg/errors"

	"github.com/lightfold/lightfold/crypto"
	"github.com/lightfold/lightfold/light"
)

// CommitteeSignatureCircuit checks a BLS12-381 aggregate signature:
//
//	e(sum of participating pubkeys, H(m)) == e(G1, signature)
//
// The committee is private; its identity is pinned by the public SHA-256
// hash over the witnessed compressed key bytes, and each key point is bound
// to its bytes through the x coordinate. The compressed sign flag is covered
// by the hash but not re-checked against the point's y coordinate.
type CommitteeSignatureCircuit struct {
	CommitteeHash [32]uints.U8        `gnark:",public"`
	Bits          []frontend.Variable `gnark:",public"`

	// Message is the signing root hashed to G2 natively.
	Message sw_bls12381.G2Affine `gnark:",public"`

	Pubkeys     []sw_bls12381.G1Affine
	PubkeyBytes [][48]uints.U8
	Signature   sw_bls12381.G2Affine

	quorumNum uint64
	quorumDen uint64
}

// NewCommitteeSignatureCircuit allocates the circuit for a committee size
// and quorum fraction.
func NewCommitteeSignatureCircuit(size int, quorumNum, quorumDen uint64) *CommitteeSignatureCircuit {
	return &CommitteeSignatureCircuit{
		Bits:        make([]frontend.Variable, size),
		Pubkeys:     make([]sw_bls12381.G1Affine, size),
		PubkeyBytes: make([][48]uints.U8, size),
		quorumNum:   quorumNum,
		quorumDen:   quorumDen,
	}
}

func (c *CommitteeSignatureCircuit) Define(api frontend.API) error {
	if len(c.Pubkeys) != len(c.Bits) || len(c.PubkeyBytes) != len(c.Bits) {
		return errors.New("pubkey and bitfield lengths differ")
	}

	// Committee identity: SHA-256 over the compressed key bytes in order.
	hasher, err := sha2.New(api)
	if err != nil {
		return err
	}
	for i := range c.PubkeyBytes {
		hasher.Write(c.PubkeyBytes[i][:])
	}
	digest := hasher.Sum()
	u8, err := uints.New[uints.U32](api)
	if err != nil {
		return err
	}
	for i := range c.CommitteeHash {
		u8.ByteAssertEq(digest[i], c.CommitteeHash[i])
	}

	// Bind each key point to its bytes via the x coordinate.
	fp, err := emulated.NewField[sw_bls12381.BaseField](api)
	if err != nil {
		return err
	}
	for i := range c.Pubkeys {
		if err := bindCompressedX(api, fp, c.PubkeyBytes[i], &c.Pubkeys[i]); err != nil {
			return err
		}
	}

	// Aggregate the participating keys. (0, 0) is the identity for the
	// unified addition, so the accumulator can start empty.
	curve, err := sw_emulated.New[sw_bls12381.BaseField, sw_bls12381.ScalarField](api, sw_emulated.GetCurveParams[sw_bls12381.BaseField]())
	if err != nil {
		return err
	}
	zero := fp.Zero()
	agg := &sw_bls12381.G1Affine{X: *zero, Y: *zero}
	count := frontend.Variable(0)
	for i := range c.Pubkeys {
		api.AssertIsBoolean(c.Bits[i])
		count = api.Add(count, c.Bits[i])
		with := curve.AddUnified(agg, &c.Pubkeys[i])
		agg = curve.Select(c.Bits[i], with, agg)
	}

	// Quorum over the public bitfield.
	target := uint64(len(c.Bits)) * c.quorumNum
	api.AssertIsLessOrEqual(target, api.Mul(count, c.quorumDen))

	// e(agg, H(m)) * e(-G1, sig) == 1
	pairing, err := sw_bls12381.NewPairing(api)
	if err != nil {
		return err
	}
	_, _, g1Gen, _ := bls12381.Generators()
	var negGen bls12381.G1Affine
	negGen.Neg(&g1Gen)
	negGenCirc := sw_bls12381.NewG1Affine(negGen)
	return pairing.PairingCheck(
		[]*sw_bls12381.G1Affine{agg, &negGenCirc},
		[]*sw_bls12381.G2Affine{&c.Message, &c.Signature},
	)
}

// bindCompressedX asserts that a key point's x coordinate matches the
// witnessed compressed bytes, and that the compression and infinity flag
// bits are well formed.
func bindCompressedX(api frontend.API, fp *emulated.Field[sw_bls12381.BaseField], b [48]uints.U8, pk *sw_bls12381.G1Affine) error {
	// 381 x bits assembled LSB first; the top byte contributes its low five
	// bits, the high three are the compression, infinity and sign flags.
	xBits := make([]frontend.Variable, 0, 381)
	for i := 47; i >= 1; i-- {
		bits := api.ToBinary(b[i].Val, 8)
		xBits = append(xBits, bits...)
	}
	top := api.ToBinary(b[0].Val, 8)
	xBits = append(xBits, top[:5]...)

	api.AssertIsEqual(top[7], 1) // compressed form
	api.AssertIsEqual(top[6], 0) // not the point at infinity

	x := fp.FromBits(xBits...)
	fp.AssertIsEqual(x, &pk.X)
	return nil
}

// NewCommitteeSignatureAssignment builds the witness for a validated update:
// the resolved committee, its participation bits, the signature and the
// natively hashed message point.
func NewCommitteeSignatureAssignment(params light.ChainParams, v light.ValidatedUpdate) (*CommitteeSignatureCircuit, error) {
	size := v.Committee.Size()
	if size != params.CommitteeSize {
		return nil, errors.Errorf("proofs: committee size %d, expected %d", size, params.CommitteeSize)
	}
	a := NewCommitteeSignatureCircuit(size, params.QuorumNumerator, params.QuorumDenominator)

	hash := light.CommitteeHash(v.Committee)
	for i := range a.CommitteeHash {
		a.CommitteeHash[i] = uints.NewU8(hash[i])
	}

	for i, pk := range v.Committee.Pubkeys {
		var p bls12381.G1Affine
		if _, err := p.SetBytes(pk[:]); err != nil {
			return nil, errors.Wrapf(err, "proofs: pubkey %d", i)
		}
		a.Pubkeys[i] = sw_bls12381.NewG1Affine(p)
		for j := 0; j < 48; j++ {
			a.PubkeyBytes[i][j] = uints.NewU8(pk[j])
		}
		if v.Update.Participation.BitAt(uint64(i)) {
			a.Bits[i] = 1
		} else {
			a.Bits[i] = 0
		}
	}

	var sig bls12381.G2Affine
	if _, err := sig.SetBytes(v.Update.AggregateSignature[:]); err != nil {
		return nil, errors.Wrap(err, "proofs: signature")
	}
	a.Signature = sw_bls12381.NewG2Affine(sig)

	msg, err := crypto.HashToG2(v.SigningRoot[:])
	if err != nil {
		return nil, errors.Wrap(err, "proofs: hash to curve")
	}
	a.Message = sw_bls12381.NewG2Affine(msg)
	return a, nil
}
