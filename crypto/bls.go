// BLS12-381 signature backend for committee signature verification.
//
// The package exposes a Backend interface so the verification engine can be
// swapped without touching callers: the default backend runs on the pure-Go
// gnark-crypto arithmetic (correct everywhere, no cgo), and an adapter for
// the supranational/blst library is available behind the "blst" build tag
// for production deployments.
//
// Ethereum BLS signature scheme (MinPk variant):
//   - Public keys in G1 (48-byte compressed)
//   - Signatures in G2 (96-byte compressed)
//   - DST: BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_POP_
package crypto

import (
	"errors"
	"math/big"
	"sync"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

// Sizes of compressed BLS12-381 group elements.
const (
	PubkeySize    = 48
	SignatureSize = 96
)

// SignatureDST is the domain separation tag for the Ethereum
// proof-of-possession BLS signature scheme.
var SignatureDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_POP_")

// BLS format validation errors.
var (
	ErrInvalidPubkeyLen = errors.New("bls: pubkey must be 48 bytes")
	ErrInvalidPubkey    = errors.New("bls: invalid compressed G1 point")
	ErrPubkeyInfinity   = errors.New("bls: pubkey is the point at infinity")
	ErrInvalidSigLen    = errors.New("bls: signature must be 96 bytes")
	ErrInvalidSig       = errors.New("bls: invalid compressed G2 point")
)

// Backend is the interface for BLS12-381 signature verification.
// Implementations may use pure-Go arithmetic or native libraries.
type Backend interface {
	// Verify checks a single signature: 48-byte compressed G1 pubkey,
	// arbitrary message, 96-byte compressed G2 signature.
	Verify(pubkey, msg, sig []byte) bool

	// FastAggregateVerify checks an aggregate signature where every signer
	// signed the same message. This is the committee attestation case.
	FastAggregateVerify(pubkeys [][]byte, msg, sig []byte) bool

	// AggregateVerify checks an aggregate signature where pubkeys[i] signed
	// msgs[i].
	AggregateVerify(pubkeys, msgs [][]byte, sig []byte) bool

	// Name returns a human-readable backend name.
	Name() string
}

var (
	activeMu      sync.RWMutex
	activeBackend Backend = &GnarkBackend{}
)

// DefaultBackend returns the currently active BLS backend.
func DefaultBackend() Backend {
	activeMu.RLock()
	defer activeMu.RUnlock()
	return activeBackend
}

// SetBackend replaces the active backend. Passing nil restores the pure-Go
// default. Safe for concurrent use.
func SetBackend(b Backend) {
	activeMu.Lock()
	defer activeMu.Unlock()
	if b == nil {
		b = &GnarkBackend{}
	}
	activeBackend = b
}

// ValidatePubkey checks length, compression flag and non-infinity of a
// compressed G1 public key without a full subgroup check.
func ValidatePubkey(pubkey []byte) error {
	if len(pubkey) != PubkeySize {
		return ErrInvalidPubkeyLen
	}
	if pubkey[0]&0x80 == 0 {
		return ErrInvalidPubkey
	}
	if pubkey[0]&0x40 != 0 {
		return ErrPubkeyInfinity
	}
	return nil
}

// ValidateSignature checks length and compression flag of a compressed G2
// signature.
func ValidateSignature(sig []byte) error {
	if len(sig) != SignatureSize {
		return ErrInvalidSigLen
	}
	if sig[0]&0x80 == 0 {
		return ErrInvalidSig
	}
	return nil
}

// --- GnarkBackend ---

// GnarkBackend implements Backend on gnark-crypto's BLS12-381 arithmetic.
// It is the default: pure Go, no cgo, and it shares curve code with the
// proving circuits so native and in-circuit key handling cannot drift.
type GnarkBackend struct{}

func (b *GnarkBackend) Name() string { return "gnark-crypto" }

func (b *GnarkBackend) Verify(pubkey, msg, sig []byte) bool {
	pk, err := decodePubkey(pubkey)
	if err != nil {
		return false
	}
	return verifyAggregate([]bls12381.G1Affine{pk}, msg, sig)
}

func (b *GnarkBackend) FastAggregateVerify(pubkeys [][]byte, msg, sig []byte) bool {
	if len(pubkeys) == 0 {
		return false
	}
	pks := make([]bls12381.G1Affine, len(pubkeys))
	for i, raw := range pubkeys {
		pk, err := decodePubkey(raw)
		if err != nil {
			return false
		}
		pks[i] = pk
	}
	return verifyAggregate(pks, msg, sig)
}

func (b *GnarkBackend) AggregateVerify(pubkeys, msgs [][]byte, sig []byte) bool {
	if len(pubkeys) == 0 || len(pubkeys) != len(msgs) {
		return false
	}
	sigPoint, err := decodeSignature(sig)
	if err != nil {
		return false
	}

	// e(pk_0, H(m_0)) * ... * e(pk_n, H(m_n)) * e(-G1, sig) == 1
	g1s := make([]bls12381.G1Affine, 0, len(pubkeys)+1)
	g2s := make([]bls12381.G2Affine, 0, len(pubkeys)+1)
	for i, raw := range pubkeys {
		pk, err := decodePubkey(raw)
		if err != nil {
			return false
		}
		hm, err := bls12381.HashToG2(msgs[i], SignatureDST)
		if err != nil {
			return false
		}
		g1s = append(g1s, pk)
		g2s = append(g2s, hm)
	}
	g1s = append(g1s, negG1Generator())
	g2s = append(g2s, sigPoint)

	ok, err := bls12381.PairingCheck(g1s, g2s)
	return err == nil && ok
}

// HashToG2 maps a message onto G2 with the committee signature domain tag.
// Exposed so native code and circuit witness builders hash identically.
func HashToG2(msg []byte) (bls12381.G2Affine, error) {
	return bls12381.HashToG2(msg, SignatureDST)
}

// verifyAggregate checks sig over msg for the sum of the given public keys:
// e(sum(pk), H(msg)) * e(-G1, sig) == 1.
func verifyAggregate(pks []bls12381.G1Affine, msg, sig []byte) bool {
	sigPoint, err := decodeSignature(sig)
	if err != nil {
		return false
	}
	hm, err := bls12381.HashToG2(msg, SignatureDST)
	if err != nil {
		return false
	}

	var agg bls12381.G1Jac
	agg.FromAffine(&pks[0])
	for i := 1; i < len(pks); i++ {
		agg.AddMixed(&pks[i])
	}
	var aggAff bls12381.G1Affine
	aggAff.FromJacobian(&agg)
	if aggAff.IsInfinity() {
		return false
	}

	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{aggAff, negG1Generator()},
		[]bls12381.G2Affine{hm, sigPoint},
	)
	return err == nil && ok
}

func decodePubkey(raw []byte) (bls12381.G1Affine, error) {
	var pk bls12381.G1Affine
	if err := ValidatePubkey(raw); err != nil {
		return pk, err
	}
	if _, err := pk.SetBytes(raw); err != nil {
		return pk, ErrInvalidPubkey
	}
	return pk, nil
}

func decodeSignature(raw []byte) (bls12381.G2Affine, error) {
	var s bls12381.G2Affine
	if err := ValidateSignature(raw); err != nil {
		return s, err
	}
	if _, err := s.SetBytes(raw); err != nil {
		return s, ErrInvalidSig
	}
	return s, nil
}

func negG1Generator() bls12381.G1Affine {
	_, _, g1, _ := bls12381.Generators()
	g1.Neg(&g1)
	return g1
}

// --- Signing (key material handling for tests and tools) ---

// SecretKey is a BLS12-381 scalar.
type SecretKey struct {
	s fr.Element
}

// SecretFromBig builds a secret key from a big integer, reduced mod r.
func SecretFromBig(v *big.Int) *SecretKey {
	var sk SecretKey
	sk.s.SetBigInt(v)
	return &sk
}

// Pubkey returns the 48-byte compressed public key sk*G1.
func (sk *SecretKey) Pubkey() [PubkeySize]byte {
	var s big.Int
	sk.s.BigInt(&s)
	_, _, g1, _ := bls12381.Generators()
	var pk bls12381.G1Affine
	pk.ScalarMultiplication(&g1, &s)
	return pk.Bytes()
}

// Sign produces the 96-byte compressed signature sk*H(msg).
func (sk *SecretKey) Sign(msg []byte) [SignatureSize]byte {
	hm, err := bls12381.HashToG2(msg, SignatureDST)
	if err != nil {
		// HashToG2 only fails on malformed DST; ours is a constant.
		panic(err)
	}
	var s big.Int
	sk.s.BigInt(&s)
	var sig bls12381.G2Affine
	sig.ScalarMultiplication(&hm, &s)
	return sig.Bytes()
}

// AggregateSignatures sums compressed G2 signatures into one aggregate.
func AggregateSignatures(sigs [][SignatureSize]byte) ([SignatureSize]byte, error) {
	var out [SignatureSize]byte
	if len(sigs) == 0 {
		return out, ErrInvalidSigLen
	}
	var agg bls12381.G2Jac
	for i, raw := range sigs {
		var s bls12381.G2Affine
		if _, err := s.SetBytes(raw[:]); err != nil {
			return out, ErrInvalidSig
		}
		if i == 0 {
			agg.FromAffine(&s)
		} else {
			agg.AddMixed(&s)
		}
	}
	var aff bls12381.G2Affine
	aff.FromJacobian(&agg)
	return aff.Bytes(), nil
}
