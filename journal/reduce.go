// Copyright (C) 2024-2026 Chorus Labs.
// This file is part of chorus
//
// chorus is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// chorus is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with chorus.  If not, see <https://www.gnu.org/licenses/>.

package journal

import (
	"bytes"

	"github.com/chorus-net/chorus/crypto"
	"github.com/chorus-net/chorus/data/basics"
	"github.com/chorus-net/chorus/protocol"
)

// OpHash is the hash the reducer ranks concurrent operations by:
// H(serialized operation || serialized signature).
func OpHash(op OperationRecord) crypto.Digest {
	buf := protocol.Encode(op.SigMessage())
	buf = append(buf, protocol.Encode(op.Sig)...)
	return crypto.Hash(buf)
}

// opCandidate is one bucket member during winner selection.
type opCandidate struct {
	op       OperationRecord
	tok      OrderToken
	opHash   crypto.Digest
	sigBytes []byte
	opBytes  []byte
}

// beats reports whether c ranks above other in the strict total order
// (parent commitment, op hash, signature bytes, operation bytes).
// Well-formed distinct inputs can never tie.
func (c opCandidate) beats(other opCandidate) bool {
	if v := bytes.Compare(c.op.Parent.Commitment[:], other.op.Parent.Commitment[:]); v != 0 {
		return v > 0
	}
	if v := bytes.Compare(c.opHash[:], other.opHash[:]); v != 0 {
		return v > 0
	}
	if v := bytes.Compare(c.sigBytes, other.sigBytes); v != 0 {
		return v > 0
	}
	return bytes.Compare(c.opBytes, other.opBytes) > 0
}

// Reduce derives canonical state from a fact set.  It is pure and
// deterministic: the same fact set yields byte-identical state on every
// replica, independent of the order facts were inserted or merged.
//
// Operation records are partitioned into buckets keyed by parent state;
// each bucket elects exactly one winner, and winners apply in ascending
// parent-epoch order along the commitment chain.  Bucket losers are
// provably superseded: absent from the reduced view, still in the journal.
func Reduce(ns basics.Namespace, facts []Fact) (*State, error) {
	sorted := make([]Fact, len(facts))
	copy(sorted, facts)
	sortFacts(sorted)

	// Start from the highest-sequence snapshot when one is present.
	state := newState(ns)
	var snapSeq uint64
	var haveSnap bool
	for _, f := range sorted {
		if f.Content.Kind != KindSnapshot {
			continue
		}
		snap := f.Content.Snapshot
		if !haveSnap || snap.Seq > snapSeq {
			state = stateFromSnapshot(snap.State)
			snapSeq = snap.Seq
			haveSnap = true
		}
	}
	if haveSnap && state.Namespace != ns {
		return nil, &ReductionError{Namespace: ns, Reason: "snapshot namespace does not match journal"}
	}

	// Partition operation records into parent-state buckets and elect
	// one winner per bucket.
	winners := make(map[basics.ParentKey]opCandidate)
	for _, f := range sorted {
		if f.Content.Kind != KindOperation {
			continue
		}
		op := *f.Content.Operation
		cand := opCandidate{
			op:       op,
			tok:      f.Order,
			opHash:   OpHash(op),
			sigBytes: protocol.Encode(op.Sig),
			opBytes:  protocol.Encode(op.SigMessage()),
		}
		if cur, ok := winners[op.Parent]; !ok || cand.beats(cur) {
			winners[op.Parent] = cand
		}
	}

	// Walk the chain from the current head, applying one winner per epoch.
	for {
		cand, ok := winners[state.Head()]
		if !ok {
			break
		}
		prevEpoch := state.Epoch
		state.applyOperation(cand.op, cand.opHash)
		if state.Epoch != prevEpoch+1 {
			return nil, &ReductionError{Namespace: ns, Reason: "operation chain epoch discontinuity"}
		}
		state.ChainTokens = append(state.ChainTokens, cand.tok)
	}

	// Relational facts apply in dependency order: a fact anchored to a
	// commitment that is not yet known is retried on the next pass rather
	// than rejected.
	var deferred []RelationalFact
	for _, f := range sorted {
		if f.Content.Kind != KindRelational {
			continue
		}
		deferred = append(deferred, *f.Content.Relational)
	}
	for len(deferred) > 0 {
		var next []RelationalFact
		for _, rel := range deferred {
			if !state.applyRelational(rel) {
				next = append(next, rel)
			}
		}
		if len(next) == len(deferred) {
			// No progress; the stragglers reference commitments this
			// replica has not learned yet.  They stay out of the view.
			break
		}
		deferred = next
	}

	for _, f := range sorted {
		switch f.Content.Kind {
		case KindBudgetCharge:
			state.applyBudget(*f.Content.Budget)
		case KindCommit:
			state.applyCommit(*f.Content.Commit)
		case KindReceipt:
			state.applyReceipt(*f.Content.Receipt)
		case KindOperation, KindRelational, KindSnapshot:
			// handled above
		default:
			return nil, &ReductionError{Namespace: ns, Reason: "unknown fact content kind"}
		}
	}

	return state, nil
}

func sortFacts(facts []Fact) {
	// Insertion of facts is unordered; reduction input is always the
	// order-token total order.
	sortSliceByOrder(facts)
}
