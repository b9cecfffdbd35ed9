package crypto

import "math/big"

// Deterministic key material for tests. The secrets are small integers so
// fixtures are reproducible; production keys must be cryptographically
// random.

// TestCommittee holds a deterministic committee key set.
type TestCommittee struct {
	Pubkeys [][PubkeySize]byte
	Secrets []*SecretKey
}

// MakeTestCommittee derives size key pairs from the given seed. The same
// (seed, size) always yields the same committee.
func MakeTestCommittee(seed uint64, size int) TestCommittee {
	tc := TestCommittee{
		Pubkeys: make([][PubkeySize]byte, size),
		Secrets: make([]*SecretKey, size),
	}
	for i := 0; i < size; i++ {
		// Offset by one so the scalar is never zero.
		s := new(big.Int).SetUint64(seed*1_000_003 + uint64(i) + 1)
		sk := SecretFromBig(s)
		tc.Secrets[i] = sk
		tc.Pubkeys[i] = sk.Pubkey()
	}
	return tc
}

// SignSubset has the members whose index is flagged in participants sign msg
// and returns the aggregate signature.
func (tc TestCommittee) SignSubset(participants []bool, msg []byte) ([SignatureSize]byte, error) {
	var sigs [][SignatureSize]byte
	for i, sk := range tc.Secrets {
		if i < len(participants) && participants[i] {
			sigs = append(sigs, sk.Sign(msg))
		}
	}
	return AggregateSignatures(sigs)
}
