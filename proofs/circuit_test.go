package proofs

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/test"
	"github.com/prysmaticlabs/go-bitfield"

	"github.com/lightfold/lightfold/light"
)

// testParams returns small parameters: 32-slot committee periods, 8-member
// committees, two-update batches.
func testParams() light.ChainParams {
	p := light.DefaultChainParams()
	p.SlotsPerEpoch = 8
	p.EpochsPerCommitteePeriod = 4
	p.RotationGraceSlots = 8
	p.CommitteeSize = 8
	p.MaxBatchSize = 2
	return p
}

// fakeValidated builds a ValidatedUpdate without a real signature: the
// transition circuit constrains the state fold, not the aggregate signature.
func fakeValidated(p light.ChainParams, signer light.Hash, slot, block uint64, root light.Hash, next *light.Hash, signers int) light.ValidatedUpdate {
	bits := bitfield.NewBitlist(uint64(p.CommitteeSize))
	for i := 0; i < signers; i++ {
		bits.SetBitAt(uint64(i), true)
	}
	upd := light.ConsensusUpdate{
		AttestedSlot:            slot,
		FinalizedBlockNumber:    block,
		FinalizedStateRoot:      root,
		SigningCommitteeHash:    signer,
		Participation:           bits,
		NextCommitteeCommitment: next,
	}
	return light.ValidatedUpdate{Update: upd, SigningRoot: light.SigningRoot(upd), Participants: signers}
}

func publicsFor(p light.ChainParams, prior light.Checkpoint, batch []light.ValidatedUpdate) (light.LightClientStore, light.PublicInputs) {
	priorStore := light.StoreFromCheckpoint(prior)
	end := light.ApplyAll(p, priorStore, batch)
	return priorStore, light.PublicInputs{
		PrevCheckpointDigest: light.CheckpointDigest(prior),
		NewCheckpointDigest:  light.CheckpointDigest(end.Checkpoint()),
	}
}

func TestTransitionCircuitSolved(t *testing.T) {
	p := testParams()
	shape := CircuitParamsFromChain(p)
	c1, c2 := light.Hash{0x01}, light.Hash{0x02}
	prior := light.Checkpoint{BlockNumber: 100, StateRoot: light.Hash{0xaa}, CommitteeHash: c1}

	batch := []light.ValidatedUpdate{
		fakeValidated(p, c1, 10, 101, light.Hash{0xbb}, &c2, 6),
		fakeValidated(p, c2, 33, 132, light.Hash{0xcc}, nil, 8),
	}
	priorStore, public := publicsFor(p, prior, batch)

	a, err := NewTransitionAssignment(shape, prior, priorStore, batch, public)
	if err != nil {
		t.Fatalf("NewTransitionAssignment: %v", err)
	}
	if err := test.IsSolved(NewTransitionCircuit(shape), a, ecc.BN254.ScalarField()); err != nil {
		t.Errorf("circuit not solved: %v", err)
	}
}

func TestTransitionCircuitPadding(t *testing.T) {
	p := testParams()
	shape := CircuitParamsFromChain(p)
	c1 := light.Hash{0x01}
	prior := light.Checkpoint{BlockNumber: 100, StateRoot: light.Hash{0xaa}, CommitteeHash: c1}

	// One update in a two-slot batch exercises the disabled padding path.
	batch := []light.ValidatedUpdate{
		fakeValidated(p, c1, 10, 101, light.Hash{0xbb}, nil, 6),
	}
	priorStore, public := publicsFor(p, prior, batch)

	a, err := NewTransitionAssignment(shape, prior, priorStore, batch, public)
	if err != nil {
		t.Fatalf("NewTransitionAssignment: %v", err)
	}
	if err := test.IsSolved(NewTransitionCircuit(shape), a, ecc.BN254.ScalarField()); err != nil {
		t.Errorf("circuit not solved: %v", err)
	}
}

func TestTransitionCircuitIdentity(t *testing.T) {
	p := testParams()
	shape := CircuitParamsFromChain(p)
	store := light.StoreFromCheckpoint(light.Checkpoint{
		BlockNumber: 100, StateRoot: light.Hash{0xaa}, CommitteeHash: light.Hash{0x01},
	})
	d := light.CheckpointDigest(store.Checkpoint())

	a := NewTransitionCircuit(shape)
	a.PrevDigest = DigestToField(d)
	a.NewDigest = DigestToField(d)
	assignPrior(a, shape, store)
	for i := range a.Updates {
		zeroUpdate(&a.Updates[i])
	}
	if err := test.IsSolved(NewTransitionCircuit(shape), a, ecc.BN254.ScalarField()); err != nil {
		t.Errorf("identity transition not solved: %v", err)
	}
}

func TestTransitionCircuitRejects(t *testing.T) {
	p := testParams()
	shape := CircuitParamsFromChain(p)
	c1, c2 := light.Hash{0x01}, light.Hash{0x02}
	prior := light.Checkpoint{BlockNumber: 100, StateRoot: light.Hash{0xaa}, CommitteeHash: c1}

	tests := []struct {
		name   string
		batch  []light.ValidatedUpdate
		mutate func(pub *light.PublicInputs)
	}{
		{
			name: "wrong new digest",
			batch: []light.ValidatedUpdate{
				fakeValidated(p, c1, 10, 101, light.Hash{0xbb}, nil, 6),
			},
			mutate: func(pub *light.PublicInputs) {
				pub.NewCheckpointDigest[31] ^= 1
			},
		},
		{
			name: "insufficient participation",
			batch: []light.ValidatedUpdate{
				fakeValidated(p, c1, 10, 101, light.Hash{0xbb}, nil, 5),
			},
		},
		{
			name: "non-monotonic block",
			batch: []light.ValidatedUpdate{
				fakeValidated(p, c1, 10, 100, light.Hash{0xbb}, nil, 6),
			},
		},
		{
			name: "wrong signer",
			batch: []light.ValidatedUpdate{
				fakeValidated(p, c2, 10, 101, light.Hash{0xbb}, nil, 6),
			},
		},
		{
			name: "rotation without revealed committee",
			batch: []light.ValidatedUpdate{
				// Period 1 past the grace window, next never revealed.
				fakeValidated(p, c1, 42, 101, light.Hash{0xbb}, nil, 6),
			},
		},
		{
			name: "period gap",
			batch: []light.ValidatedUpdate{
				fakeValidated(p, c1, 10, 101, light.Hash{0xbb}, &c2, 6),
				fakeValidated(p, c2, 70, 132, light.Hash{0xcc}, nil, 8),
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			priorStore, public := publicsFor(p, prior, tc.batch)
			if tc.mutate != nil {
				tc.mutate(&public)
			}
			a, err := NewTransitionAssignment(shape, prior, priorStore, tc.batch, public)
			if err != nil {
				t.Fatalf("NewTransitionAssignment: %v", err)
			}
			if err := test.IsSolved(NewTransitionCircuit(shape), a, ecc.BN254.ScalarField()); err == nil {
				t.Error("circuit solved, want constraint violation")
			}
		})
	}
}

func TestDigestToFieldMatchesNative(t *testing.T) {
	cp := light.Checkpoint{BlockNumber: 7, StateRoot: light.Hash{0x11}, CommitteeHash: light.Hash{0x22}}
	d := light.CheckpointDigest(cp)
	got := DigestToField(d)
	if got.Sign() <= 0 {
		t.Fatal("digest field element not positive")
	}
	var buf [32]byte
	got.FillBytes(buf[:])
	if buf != [32]byte(d) {
		t.Errorf("round trip = %x, want %x", buf, d[:])
	}
}
