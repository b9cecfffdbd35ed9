// digest.go implements the digest scheme shared by the native pipeline and
// the proving circuit. Checkpoint digests use MiMC over the BN254 scalar
// field because the identical permutation is evaluated in-circuit; the two
// executions must agree bit for bit. Signing roots use legacy Keccak256 and
// committee hashes use SHA-256, matching what the chain's committees sign.
package light

import (
	"crypto/sha256"
	"encoding/binary"
	"hash"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"golang.org/x/crypto/sha3"
)

// CheckpointDigest computes the recursion chain digest of a checkpoint:
//
//	MiMC(block_number, state_root.hi, state_root.lo, committee_hash.hi, committee_hash.lo)
//
// where hi/lo are the 16-byte halves of a 32-byte word, each interpreted as
// a big-endian BN254 scalar. Splitting keeps every absorbed value canonical
// in the field regardless of the hash bytes.
func CheckpointDigest(cp Checkpoint) Digest {
	h := mimc.NewMiMC()
	writeFrUint64(h, cp.BlockNumber)
	writeFrHalves(h, cp.StateRoot)
	writeFrHalves(h, cp.CommitteeHash)
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// DigestElements returns the field elements absorbed by CheckpointDigest, in
// order, as big integers. The proof composer uses these to assign the
// in-circuit witness for the same computation.
func DigestElements(cp Checkpoint) []*big.Int {
	hiRoot, loRoot := SplitHash(cp.StateRoot)
	hiCom, loCom := SplitHash(cp.CommitteeHash)
	return []*big.Int{
		new(big.Int).SetUint64(cp.BlockNumber),
		hiRoot, loRoot, hiCom, loCom,
	}
}

// SplitHash splits a 32-byte hash into its big-endian 16-byte halves.
func SplitHash(h Hash) (hi, lo *big.Int) {
	hi = new(big.Int).SetBytes(h[:16])
	lo = new(big.Int).SetBytes(h[16:])
	return hi, lo
}

// JoinHash reassembles a hash from the halves produced by SplitHash.
func JoinHash(hi, lo *big.Int) Hash {
	var h Hash
	hi.FillBytes(h[:16])
	lo.FillBytes(h[16:])
	return h
}

// SigningRoot computes the message a committee signs for an update: the
// Keccak256 hash of the canonical encoding of every field except the
// signature and the participation bitfield.
func SigningRoot(upd ConsensusUpdate) Hash {
	buf := make([]byte, 0, 8+8+32+32+1+32)
	buf = binary.BigEndian.AppendUint64(buf, upd.AttestedSlot)
	buf = binary.BigEndian.AppendUint64(buf, upd.FinalizedBlockNumber)
	buf = append(buf, upd.FinalizedStateRoot[:]...)
	buf = append(buf, upd.SigningCommitteeHash[:]...)
	if upd.NextCommitteeCommitment != nil {
		buf = append(buf, 1)
		buf = append(buf, upd.NextCommitteeCommitment[:]...)
	} else {
		buf = append(buf, 0)
	}

	k := sha3.NewLegacyKeccak256()
	k.Write(buf)
	var root Hash
	copy(root[:], k.Sum(nil))
	return root
}

// CommitteeHash computes the identity of a committee: the SHA-256 hash of
// its member public keys concatenated in order.
func CommitteeHash(c SyncCommittee) Hash {
	h := sha256.New()
	for _, pk := range c.Pubkeys {
		h.Write(pk[:])
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// --- Internal helpers ---

func writeFrUint64(h hash.Hash, v uint64) {
	var el fr.Element
	el.SetUint64(v)
	b := el.Bytes()
	h.Write(b[:])
}

func writeFrHalves(h hash.Hash, v Hash) {
	var el fr.Element
	el.SetBytes(v[:16])
	b := el.Bytes()
	h.Write(b[:])
	el.SetBytes(v[16:])
	b = el.Bytes()
	h.Write(b[:])
}
