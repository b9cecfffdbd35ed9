// apply.go implements the light-client store transition: the pure function
// advancing the bookkeeping state by one validated update. The recursion
// circuit re-executes the exact same rules over field elements, so this
// function must stay deterministic and free of any input beyond its explicit
// parameters.
package light

// Apply produces the successor store for a validated update:
//
//  1. latest finalized (block number, state root) takes the update's values
//  2. a revealed next-committee commitment is adopted when the store's slot
//     for it is still empty
//  3. crossing a committee-rotation boundary with a known next committee
//     rotates: current takes the next committee's hash, next is cleared
//
// The rotation cadence comes from params, never from chain-specific
// constants. Identical (params, store, update) inputs always yield identical
// successor stores.
func Apply(params ChainParams, store LightClientStore, v ValidatedUpdate) LightClientStore {
	next := store.Clone()
	upd := v.Update

	next.LatestFinalizedBlock = upd.FinalizedBlockNumber
	next.LatestFinalizedRoot = upd.FinalizedStateRoot

	if upd.NextCommitteeCommitment != nil && next.NextCommitteeHash == nil {
		revealed := *upd.NextCommitteeCommitment
		next.NextCommitteeHash = &revealed
	}

	crossed := params.CommitteePeriod(upd.AttestedSlot) > params.CommitteePeriod(store.LatestAttestedSlot)
	if crossed && next.NextCommitteeHash != nil {
		next.CurrentCommitteeHash = *next.NextCommitteeHash
		next.NextCommitteeHash = nil
	}

	next.LatestAttestedSlot = upd.AttestedSlot
	return next
}

// ApplyAll folds a validated batch in order, returning the final store.
func ApplyAll(params ChainParams, store LightClientStore, batch []ValidatedUpdate) LightClientStore {
	for _, v := range batch {
		store = Apply(params, store, v)
	}
	return store
}
