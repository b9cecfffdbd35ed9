package light

import (
	"errors"
	"testing"
	"time"

	"github.com/prysmaticlabs/go-bitfield"

	"github.com/lightfold/lightfold/crypto"
)

// testParams returns small parameters so tests can cross rotation
// boundaries cheaply: 32-slot committee periods, 8-member committees,
// 8-slot grace window.
func testParams() ChainParams {
	p := DefaultChainParams()
	p.SlotsPerEpoch = 8
	p.EpochsPerCommitteePeriod = 4
	p.RotationGraceSlots = 8
	p.CommitteeSize = 8
	return p
}

func testCommittee(seed uint64) (SyncCommittee, crypto.TestCommittee) {
	tc := crypto.MakeTestCommittee(seed, 8)
	sc := SyncCommittee{Pubkeys: make([][48]byte, len(tc.Pubkeys))}
	copy(sc.Pubkeys, tc.Pubkeys)
	return sc, tc
}

// signUpdate fills in the signature and participation for an update signed
// by the first `signers` members of the committee.
func signUpdate(t *testing.T, upd *ConsensusUpdate, tc crypto.TestCommittee, signers int) {
	t.Helper()
	bits := bitfield.NewBitlist(uint64(len(tc.Secrets)))
	participants := make([]bool, len(tc.Secrets))
	for i := 0; i < signers; i++ {
		bits.SetBitAt(uint64(i), true)
		participants[i] = true
	}
	upd.Participation = bits

	root := SigningRoot(*upd)
	sig, err := tc.SignSubset(participants, root[:])
	if err != nil {
		t.Fatalf("SignSubset: %v", err)
	}
	upd.AggregateSignature = sig
}

// nowAt returns a wall-clock instant at which the local slot equals slot.
func nowAt(p ChainParams, slot uint64) time.Time {
	return time.Unix(int64(p.GenesisTime)+int64(slot)*int64(p.SlotDuration/time.Second), 0)
}

func makeUpdate(t *testing.T, tc crypto.TestCommittee, signerHash Hash, slot, block uint64, root Hash, next *Hash, signers int) ConsensusUpdate {
	t.Helper()
	upd := ConsensusUpdate{
		AttestedSlot:            slot,
		FinalizedBlockNumber:    block,
		FinalizedStateRoot:      root,
		SigningCommitteeHash:    signerHash,
		NextCommitteeCommitment: next,
	}
	signUpdate(t, &upd, tc, signers)
	return upd
}

func TestValidateAccepts(t *testing.T) {
	p := testParams()
	sc, tc := testCommittee(1)
	c1 := CommitteeHash(sc)

	store := StoreFromCheckpoint(Checkpoint{BlockNumber: 100, StateRoot: Hash{0xaa}, CommitteeHash: c1})
	upd := makeUpdate(t, tc, c1, 10, 101, Hash{0xbb}, nil, 6)

	v, err := Validate(p, store, upd, sc, nowAt(p, 10))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v.Participants != 6 {
		t.Errorf("participants = %d, want 6", v.Participants)
	}
	if v.SigningRoot != SigningRoot(upd) {
		t.Error("signing root mismatch")
	}
}

func TestValidateRejections(t *testing.T) {
	p := testParams()
	sc, tc := testCommittee(1)
	c1 := CommitteeHash(sc)
	scOther, tcOther := testCommittee(2)
	c2 := CommitteeHash(scOther)

	base := Checkpoint{BlockNumber: 100, StateRoot: Hash{0xaa}, CommitteeHash: c1}

	tests := []struct {
		name    string
		store   func() LightClientStore
		upd     func() ConsensusUpdate
		sc      SyncCommittee
		nowSlot uint64
		wantErr error
	}{
		{
			name:    "future slot beyond skew",
			store:   func() LightClientStore { return StoreFromCheckpoint(base) },
			upd:     func() ConsensusUpdate { return makeUpdate(t, tc, c1, 12, 101, Hash{1}, nil, 6) },
			sc:      sc,
			nowSlot: 10,
			wantErr: ErrFutureSlot,
		},
		{
			name: "stale slot",
			store: func() LightClientStore {
				s := StoreFromCheckpoint(base)
				s.LatestAttestedSlot = 20
				return s
			},
			upd:     func() ConsensusUpdate { return makeUpdate(t, tc, c1, 10, 101, Hash{1}, nil, 6) },
			sc:      sc,
			nowSlot: 20,
			wantErr: ErrStaleSlot,
		},
		{
			name:    "wrong signer committee",
			store:   func() LightClientStore { return StoreFromCheckpoint(base) },
			upd:     func() ConsensusUpdate { return makeUpdate(t, tcOther, c2, 10, 101, Hash{1}, nil, 6) },
			sc:      scOther,
			nowSlot: 10,
			wantErr: ErrWrongSigner,
		},
		{
			name:    "committee hash does not match claimed signer",
			store:   func() LightClientStore { return StoreFromCheckpoint(base) },
			upd:     func() ConsensusUpdate { return makeUpdate(t, tc, c1, 10, 101, Hash{1}, nil, 6) },
			sc:      scOther,
			nowSlot: 10,
			wantErr: ErrCommitteeMismatch,
		},
		{
			name:    "insufficient participation",
			store:   func() LightClientStore { return StoreFromCheckpoint(base) },
			upd:     func() ConsensusUpdate { return makeUpdate(t, tc, c1, 10, 101, Hash{1}, nil, 5) },
			sc:      sc,
			nowSlot: 10,
			wantErr: ErrInsufficientWeight,
		},
		{
			name:    "non-monotonic finalized block",
			store:   func() LightClientStore { return StoreFromCheckpoint(base) },
			upd:     func() ConsensusUpdate { return makeUpdate(t, tc, c1, 10, 100, Hash{1}, nil, 6) },
			sc:      sc,
			nowSlot: 10,
			wantErr: ErrNonMonotonicFinal,
		},
		{
			name: "period gap",
			store: func() LightClientStore {
				return StoreFromCheckpoint(base)
			},
			// Store period 0, update period 2 (slot 64 at 32-slot periods).
			upd:     func() ConsensusUpdate { return makeUpdate(t, tc, c1, 64, 101, Hash{1}, nil, 6) },
			sc:      sc,
			nowSlot: 64,
			wantErr: ErrPeriodGap,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(p, tt.store(), tt.upd(), tt.sc, nowAt(p, tt.nowSlot))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateBadSignature(t *testing.T) {
	p := testParams()
	sc, tc := testCommittee(1)
	c1 := CommitteeHash(sc)
	store := StoreFromCheckpoint(Checkpoint{BlockNumber: 100, CommitteeHash: c1})

	upd := makeUpdate(t, tc, c1, 10, 101, Hash{1}, nil, 6)
	upd.FinalizedStateRoot = Hash{2} // breaks the signed root

	_, err := Validate(p, store, upd, sc, nowAt(p, 10))
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("got %v, want ErrSignatureInvalid", err)
	}
}

func TestValidateRotationWindow(t *testing.T) {
	p := testParams()
	sc, tc := testCommittee(1)
	c1 := CommitteeHash(sc)
	scNext, tcNext := testCommittee(2)
	c2 := CommitteeHash(scNext)

	store := StoreFromCheckpoint(Checkpoint{BlockNumber: 100, CommitteeHash: c1})
	store.LatestAttestedSlot = 30 // period 0, near the boundary
	store.NextCommitteeHash = &c2

	// Outgoing committee signing inside the grace window of period 1.
	upd := makeUpdate(t, tc, c1, 35, 101, Hash{1}, nil, 6)
	if _, err := Validate(p, store, upd, sc, nowAt(p, 35)); err != nil {
		t.Errorf("grace-window update rejected: %v", err)
	}

	// Outgoing committee past the grace window (offset 8 >= grace 8).
	upd = makeUpdate(t, tc, c1, 40, 101, Hash{1}, nil, 6)
	if _, err := Validate(p, store, upd, sc, nowAt(p, 40)); !errors.Is(err, ErrWrongSigner) {
		t.Errorf("got %v, want ErrWrongSigner", err)
	}

	// Incoming committee signing is accepted anywhere in the new period.
	upd = makeUpdate(t, tcNext, c2, 40, 101, Hash{1}, nil, 6)
	if _, err := Validate(p, store, upd, scNext, nowAt(p, 40)); err != nil {
		t.Errorf("incoming-committee update rejected: %v", err)
	}
}

// Rejection idempotence: a rejected update never changes anything, so
// validating it repeatedly keeps failing identically.
func TestValidateRejectionIdempotent(t *testing.T) {
	p := testParams()
	sc, _ := testCommittee(1)
	c1 := CommitteeHash(sc)
	store := StoreFromCheckpoint(Checkpoint{BlockNumber: 100, CommitteeHash: c1})

	_, tcOther := testCommittee(9)
	upd := makeUpdate(t, tcOther, Hash{0xde, 0xad}, 10, 101, Hash{1}, nil, 6)
	before := store.Clone()

	for i := 0; i < 3; i++ {
		_, err := Validate(p, store, upd, sc, nowAt(p, 10))
		if !errors.Is(err, ErrCommitteeMismatch) {
			t.Fatalf("attempt %d: got %v, want ErrCommitteeMismatch", i, err)
		}
	}
	if store != before && store.NextCommitteeHash == nil {
		t.Error("store mutated by rejected update")
	}
}
