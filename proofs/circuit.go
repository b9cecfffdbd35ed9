// Package proofs implements the succinct transition program for the light
// client: a gnark circuit that re-executes a batch of consensus updates
// against a committed prior checkpoint, proof backends (Groth16 and a
// deterministic mock), a recursive wrapper binding each proof to its
// predecessor, and the composer that drives them.
package proofs

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"

	"github.com/lightfold/lightfold/light"
)

// CircuitParams fixes the compile-time shape of the transition program.
// Two backends agree on a program identity only if they were built from
// identical CircuitParams.
type CircuitParams struct {
	BatchCapacity     int
	CommitteeSize     int
	SlotsPerPeriod    uint64
	GraceSlots        uint64
	QuorumNumerator   uint64
	QuorumDenominator uint64
}

// CircuitParamsFromChain derives the circuit shape from chain parameters.
func CircuitParamsFromChain(p light.ChainParams) CircuitParams {
	return CircuitParams{
		BatchCapacity:     p.MaxBatchSize,
		CommitteeSize:     p.CommitteeSize,
		SlotsPerPeriod:    p.SlotsPerCommitteePeriod(),
		GraceSlots:        p.RotationGraceSlots,
		QuorumNumerator:   p.QuorumNumerator,
		QuorumDenominator: p.QuorumDenominator,
	}
}

// UpdateSlot is one batched consensus update inside the circuit. Slots past
// the end of the actual batch carry Enabled=0 and every constraint on them
// degenerates to a tautology.
type UpdateSlot struct {
	Enabled frontend.Variable

	AttestedSlot frontend.Variable
	// AttestedSlot is witnessed pre-decomposed so the rotation rules can be
	// expressed without an in-circuit division.
	Period frontend.Variable
	Offset frontend.Variable

	FinalizedBlock  frontend.Variable
	FinalizedRootHi frontend.Variable
	FinalizedRootLo frontend.Variable

	SignerHi frontend.Variable
	SignerLo frontend.Variable

	HasNext frontend.Variable
	NextHi  frontend.Variable
	NextLo  frontend.Variable

	Bits []frontend.Variable // participation, one boolean per committee seat
}

// TransitionCircuit proves that applying a batch of valid consensus updates
// to the light-client state committed by PrevDigest yields the state
// committed by NewDigest. 32-byte hashes are carried as two 16-byte
// big-endian field elements (Hi, Lo), matching light.SplitHash.
//
// The wall-clock skew check from the native validator has no in-circuit
// counterpart: the circuit proves state-machine soundness, not freshness.
type TransitionCircuit struct {
	PrevDigest frontend.Variable `gnark:",public"`
	NewDigest  frontend.Variable `gnark:",public"`

	PriorBlock       frontend.Variable
	PriorRootHi      frontend.Variable
	PriorRootLo      frontend.Variable
	PriorCommitteeHi frontend.Variable
	PriorCommitteeLo frontend.Variable
	PriorNextHi      frontend.Variable
	PriorNextLo      frontend.Variable
	PriorNextSet     frontend.Variable
	PriorSlot        frontend.Variable
	PriorPeriod      frontend.Variable
	PriorOffset      frontend.Variable

	Updates []UpdateSlot

	slotsPerPeriod uint64
	graceSlots     uint64
	quorumNum      uint64
	quorumDen      uint64
	committeeSize  int
}

// NewTransitionCircuit allocates a circuit (or witness assignment skeleton)
// shaped for the given parameters.
func NewTransitionCircuit(cp CircuitParams) *TransitionCircuit {
	c := &TransitionCircuit{
		Updates:        make([]UpdateSlot, cp.BatchCapacity),
		slotsPerPeriod: cp.SlotsPerPeriod,
		graceSlots:     cp.GraceSlots,
		quorumNum:      cp.QuorumNumerator,
		quorumDen:      cp.QuorumDenominator,
		committeeSize:  cp.CommitteeSize,
	}
	for i := range c.Updates {
		c.Updates[i].Bits = make([]frontend.Variable, cp.CommitteeSize)
	}
	return c
}

func (c *TransitionCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	// Bind the witnessed prior state to the public prior digest.
	h.Write(c.PriorBlock, c.PriorRootHi, c.PriorRootLo, c.PriorCommitteeHi, c.PriorCommitteeLo)
	api.AssertIsEqual(h.Sum(), c.PrevDigest)

	api.AssertIsBoolean(c.PriorNextSet)
	assertSlotSplit(api, c.PriorSlot, c.PriorPeriod, c.PriorOffset, c.slotsPerPeriod)

	st := foldState{
		block:   c.PriorBlock,
		rootHi:  c.PriorRootHi,
		rootLo:  c.PriorRootLo,
		comHi:   c.PriorCommitteeHi,
		comLo:   c.PriorCommitteeLo,
		nextHi:  c.PriorNextHi,
		nextLo:  c.PriorNextLo,
		nextSet: c.PriorNextSet,
		slot:    c.PriorSlot,
		period:  c.PriorPeriod,
	}

	prevEnabled := frontend.Variable(1)
	for i := range c.Updates {
		u := &c.Updates[i]
		api.AssertIsBoolean(u.Enabled)
		// Batches are front-packed: once a slot is disabled, all later
		// slots are too.
		api.AssertIsLessOrEqual(u.Enabled, prevEnabled)
		prevEnabled = u.Enabled

		st = c.foldUpdate(api, st, u)
	}

	h.Reset()
	h.Write(st.block, st.rootHi, st.rootLo, st.comHi, st.comLo)
	api.AssertIsEqual(h.Sum(), c.NewDigest)
	return nil
}

// foldState is the in-circuit mirror of light.LightClientStore.
type foldState struct {
	block   frontend.Variable
	rootHi  frontend.Variable
	rootLo  frontend.Variable
	comHi   frontend.Variable
	comLo   frontend.Variable
	nextHi  frontend.Variable
	nextLo  frontend.Variable
	nextSet frontend.Variable
	slot    frontend.Variable
	period  frontend.Variable
}

// foldUpdate enforces the validation rules for one update slot and returns
// the post-apply state. With Enabled=0 the state passes through unchanged.
func (c *TransitionCircuit) foldUpdate(api frontend.API, st foldState, u *UpdateSlot) foldState {
	en := u.Enabled
	api.AssertIsBoolean(u.HasNext)
	assertSlotSplit(api, u.AttestedSlot, u.Period, u.Offset, c.slotsPerPeriod)

	// Slot and period monotonicity; at most one period boundary per update.
	slotEff := api.Select(en, u.AttestedSlot, st.slot)
	api.AssertIsLessOrEqual(st.slot, slotEff)
	periodEff := api.Select(en, u.Period, st.period)
	crossing := api.Sub(periodEff, st.period)
	api.AssertIsBoolean(crossing)

	// Finalized block number strictly increases.
	blockBound := api.Select(en, u.FinalizedBlock, api.Add(st.block, 1))
	api.AssertIsLessOrEqual(api.Add(st.block, 1), blockBound)

	// Signer rule. Within a period the current committee signs. Across a
	// boundary the next committee signs, except during the grace window
	// where the outgoing committee is still accepted; an unrevealed next
	// committee leaves the grace path as the only one.
	eqCur := api.And(
		eqVar(api, u.SignerHi, st.comHi),
		eqVar(api, u.SignerLo, st.comLo),
	)
	eqNext := api.And(
		api.And(eqVar(api, u.SignerHi, st.nextHi), eqVar(api, u.SignerLo, st.nextLo)),
		st.nextSet,
	)
	inGrace := lessVar(api, u.Offset, c.graceSlots)
	crossOK := api.Or(eqNext, api.And(eqCur, inGrace))
	signerOK := api.Select(crossing, crossOK, eqCur)
	api.AssertIsEqual(api.Mul(en, api.Sub(1, signerOK)), 0)

	// Quorum: participants * den >= size * num.
	count := frontend.Variable(0)
	for _, b := range u.Bits {
		api.AssertIsBoolean(b)
		count = api.Add(count, b)
	}
	target := uint64(c.committeeSize) * c.quorumNum
	weight := api.Select(en, api.Mul(count, c.quorumDen), target)
	api.AssertIsLessOrEqual(target, weight)

	// Apply: finality, then next-committee adoption, then rotation.
	out := st
	out.block = api.Select(en, u.FinalizedBlock, st.block)
	out.rootHi = api.Select(en, u.FinalizedRootHi, st.rootHi)
	out.rootLo = api.Select(en, u.FinalizedRootLo, st.rootLo)

	adopt := api.Mul(en, api.Mul(u.HasNext, api.Sub(1, st.nextSet)))
	nextHi := api.Select(adopt, u.NextHi, st.nextHi)
	nextLo := api.Select(adopt, u.NextLo, st.nextLo)
	nextSet := api.Add(st.nextSet, adopt) // disjoint by construction

	rotate := api.Mul(en, api.Mul(crossing, nextSet))
	out.comHi = api.Select(rotate, nextHi, st.comHi)
	out.comLo = api.Select(rotate, nextLo, st.comLo)
	out.nextHi = api.Select(rotate, 0, nextHi)
	out.nextLo = api.Select(rotate, 0, nextLo)
	out.nextSet = api.Mul(nextSet, api.Sub(1, rotate))

	out.slot = slotEff
	out.period = periodEff
	return out
}

// --- Internal helpers ---

func assertSlotSplit(api frontend.API, slot, period, offset frontend.Variable, spp uint64) {
	api.AssertIsEqual(slot, api.Add(api.Mul(period, spp), offset))
	api.AssertIsLessOrEqual(offset, spp-1)
}

func eqVar(api frontend.API, a, b frontend.Variable) frontend.Variable {
	return api.IsZero(api.Sub(a, b))
}

// lessVar returns 1 iff a < bound.
func lessVar(api frontend.API, a frontend.Variable, bound uint64) frontend.Variable {
	cmp := api.Cmp(a, bound)
	return api.IsZero(api.Add(cmp, 1))
}
