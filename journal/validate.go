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

// validateLocked runs the per-content-type validation pipeline on a fact
// before insertion.  Returns nil to accept, ErrDeferred to park the fact for
// backfill, or a *ValidationError to reject it.  Acceptance is a local
// decision; divergent acceptance across replicas does not break convergence.
func (j *Journal) validateLocked(f Fact) error {
	switch f.Content.Kind {
	case KindOperation:
		if f.Content.Operation == nil {
			return invalidf(f.Content.Kind, "missing operation content")
		}
		return j.validateOperationLocked(*f.Content.Operation)
	case KindRelational:
		if f.Content.Relational == nil {
			return invalidf(f.Content.Kind, "missing relational content")
		}
		return j.validateRelationalLocked(*f.Content.Relational)
	case KindBudgetCharge:
		if f.Content.Budget == nil {
			return invalidf(f.Content.Kind, "missing budget content")
		}
		return j.validateBudgetLocked(*f.Content.Budget)
	case KindSnapshot:
		if f.Content.Snapshot == nil {
			return invalidf(f.Content.Kind, "missing snapshot content")
		}
		return j.validateSnapshotLocked(*f.Content.Snapshot)
	case KindCommit:
		if f.Content.Commit == nil {
			return invalidf(f.Content.Kind, "missing commit content")
		}
		return j.validateCommitLocked(*f.Content.Commit)
	case KindReceipt:
		if f.Content.Receipt == nil {
			return invalidf(f.Content.Kind, "missing receipt content")
		}
		return j.validateReceiptLocked(*f.Content.Receipt)
	default:
		return invalidf(f.Content.Kind, "unknown content kind")
	}
}

func (j *Journal) validateOperationLocked(op OperationRecord) error {
	// Structural well-formedness per operation kind.
	switch op.Kind {
	case OpGenesis:
		if op.Parent != (basics.ParentKey{}) {
			return invalidf(KindOperation, "genesis must execute against the zero parent")
		}
		if op.GroupKey.IsZero() {
			return invalidf(KindOperation, "genesis must establish a binding key")
		}
	case OpAddMember, OpRemoveMember, OpUpdatePolicy:
		if len(op.Body) == 0 {
			return invalidf(KindOperation, "%v operation requires a body", op.Kind)
		}
	case OpRotateEpoch:
	default:
		return invalidf(KindOperation, "unknown operation kind %d", op.Kind)
	}

	if op.Sig.Blank() {
		return invalidf(KindOperation, "unsigned operation")
	}

	// Genesis is self-certifying: the signature verifies under the binding
	// key the record itself establishes, and the namespace is derived from
	// it elsewhere.
	if op.Kind == OpGenesis {
		if err := crypto.ThresholdVerify(op.SigMessage(), op.GroupKey, op.Sig); err != nil {
			return invalidf(KindOperation, "genesis signature: %v", err)
		}
		return nil
	}

	// The referenced parent state must exist locally; otherwise the
	// insertion is deferred pending backfill.
	state, err := j.reduceLocked()
	if err != nil {
		return err
	}
	info, ok := state.Known[op.Parent.Commitment]
	if !ok || info.Epoch != op.Parent.Epoch {
		return ErrDeferred
	}

	// Verify the threshold signature against the binding key in effect at
	// the referenced parent.
	if err := crypto.ThresholdVerify(op.SigMessage(), info.GroupKey, op.Sig); err != nil {
		return invalidf(KindOperation, "threshold signature: %v", err)
	}
	return nil
}

func (j *Journal) validateRelationalLocked(rel RelationalFact) error {
	switch rel.Kind {
	case BindingGuardian, BindingChannel, BindingDelegation:
	default:
		return invalidf(KindRelational, "unknown binding kind %d", rel.Kind)
	}
	if rel.A == rel.B {
		return invalidf(KindRelational, "binding cannot relate an entity to itself")
	}

	// The embedded consensus proof must verify.
	if err := crypto.ThresholdVerify(rel.ProofMessage(), rel.ProofKey, rel.Proof); err != nil {
		return invalidf(KindRelational, "consensus proof: %v", err)
	}

	state, err := j.reduceLocked()
	if err != nil {
		return err
	}

	// The referenced local commitment must match currently-reduced state;
	// an unknown anchor means this replica is behind, not that the fact is
	// bad.
	if _, ok := state.Known[rel.Anchor]; !ok {
		return ErrDeferred
	}

	// Domain uniqueness: no duplicate binding of the same kind between the
	// same two entities.
	key := BindingKey{Kind: rel.Kind, A: rel.A, B: rel.B}
	if existing, ok := state.Bindings[key]; ok {
		if crypto.HashObj(existing.ProofMessage()) != crypto.HashObj(rel.ProofMessage()) {
			return invalidf(KindRelational, "duplicate %d binding between %s and %s", rel.Kind, rel.A, rel.B)
		}
	}
	return nil
}

func (j *Journal) validateBudgetLocked(b BudgetCharge) error {
	state, err := j.reduceLocked()
	if err != nil {
		return err
	}
	cur := state.Spend[SpendKey{Context: b.Context, Peer: b.Peer}]
	if b.Epoch < cur.Epoch {
		return invalidf(KindBudgetCharge, "stale epoch %d < %d", b.Epoch, cur.Epoch)
	}
	// Cumulative spend is monotone non-decreasing.
	if b.Cumulative < cur.Cumulative {
		return invalidf(KindBudgetCharge, "cumulative spend decreased: %d < %d", b.Cumulative, cur.Cumulative)
	}
	return nil
}

// cutHash hashes the full contents of a snapshot cut, in order-token order.
func cutHash(facts []Fact) crypto.Digest {
	sortSliceByOrder(facts)
	var buf bytes.Buffer
	buf.WriteString(string(protocol.Snapshot))
	for _, f := range facts {
		protocol.EncodeStream(&buf, f)
	}
	return crypto.Hash(buf.Bytes())
}

func (j *Journal) validateSnapshotLocked(snap Snapshot) error {
	if len(snap.Superseded) == 0 {
		return invalidf(KindSnapshot, "empty cut")
	}

	// No newer snapshot may already exist for the namespace.
	for _, f := range j.facts {
		if f.Content.Kind == KindSnapshot && f.Content.Snapshot.Seq >= snap.Seq {
			return invalidf(KindSnapshot, "sequence %d not above existing %d", snap.Seq, f.Content.Snapshot.Seq)
		}
	}

	// Every superseded fact must be present locally to audit the digest;
	// otherwise wait for backfill.
	cut := make([]Fact, 0, len(snap.Superseded))
	for _, tok := range snap.Superseded {
		f, ok := j.facts[tok]
		if !ok {
			return ErrDeferred
		}
		if f.Generation() > snap.Generation {
			return invalidf(KindSnapshot, "cut includes fact above generation %d", snap.Generation)
		}
		cut = append(cut, f)
	}

	// The digest must equal the hash of every fact below the cut, and the
	// embedded state must be the reduction of exactly those facts.
	if cutHash(cut) != snap.CutDigest {
		return invalidf(KindSnapshot, "cut digest mismatch")
	}
	if crypto.HashObj(snap.State) != snap.StateDigest {
		return invalidf(KindSnapshot, "state digest mismatch")
	}
	reduced, err := Reduce(j.ns, cut)
	if err != nil {
		return invalidf(KindSnapshot, "cut does not reduce: %v", err)
	}
	if reduced.Hash() != snap.StateDigest {
		return invalidf(KindSnapshot, "embedded state is not the reduction of the cut")
	}

	// Nothing still required by an outstanding receipt or a pending
	// consensus operation may be pruned.
	pinned, err := j.pinnedLocked()
	if err != nil {
		return err
	}
	for _, tok := range snap.Superseded {
		if pinned[tok] {
			return invalidf(KindSnapshot, "cut includes pinned fact %s", tok)
		}
	}
	return nil
}

func (j *Journal) validateCommitLocked(c Commit) error {
	if c.CommandID.IsZero() {
		return invalidf(KindCommit, "zero command id")
	}
	if err := crypto.ThresholdVerify(c.SigMessage(), c.GroupKey, c.Sig); err != nil {
		return invalidf(KindCommit, "group signature: %v", err)
	}

	// Validity-first: once a valid commit for a command is held, a
	// conflicting one is never accepted, whatever order they arrived in.
	state, err := j.reduceLocked()
	if err != nil {
		return err
	}
	if result, ok := state.Commits[c.CommandID]; ok && result != c.ResultHash {
		return invalidf(KindCommit, "conflicting commit for command %s", c.CommandID)
	}
	return nil
}

func (j *Journal) validateReceiptLocked(r Receipt) error {
	if len(r.Pins) == 0 {
		return invalidf(KindReceipt, "receipt pins nothing")
	}
	if r.Source == (basics.Namespace{}) {
		return invalidf(KindReceipt, "missing source namespace")
	}
	if r.Source == j.ns {
		return invalidf(KindReceipt, "receipt must originate from another namespace")
	}
	return nil
}
