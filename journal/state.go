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
	"sort"

	"github.com/chorus-net/chorus/crypto"
	"github.com/chorus-net/chorus/data/basics"
	"github.com/chorus-net/chorus/protocol"
)

// BindingKey identifies a relational binding for uniqueness purposes.
type BindingKey struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Kind BindingKind   `codec:"kind"`
	A    crypto.Digest `codec:"a"`
	B    crypto.Digest `codec:"b"`
}

// SpendKey identifies one (context, peer) budget counter.
type SpendKey struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Context basics.ContextID     `codec:"ctx"`
	Peer    basics.ParticipantID `codec:"peer"`
}

// SpendEntry is the reduced value of one budget counter.
type SpendEntry struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Epoch      basics.Epoch `codec:"epoch"`
	Cumulative uint64       `codec:"spent"`
}

// State is the canonical reduced view of one namespace.  It is a pure
// function of the accepted fact set: same facts, same state, on every
// replica, byte for byte.
type State struct {
	Namespace basics.Namespace

	// Epoch and Commitment identify the head of the operation chain.
	Epoch      basics.Epoch
	Commitment crypto.Digest

	// GroupKey is the current threshold binding key for the namespace.
	GroupKey crypto.Digest

	// Known maps every commitment in the applied chain to its epoch and
	// the binding key in effect at it.  Facts reference parent state by
	// commitment value only.
	Known map[crypto.Digest]CommitmentInfo

	// Bindings holds the applied relational bindings.
	Bindings map[BindingKey]RelationalFact

	// Spend holds the monotone per-(context, peer) budget counters.
	Spend map[SpendKey]SpendEntry

	// Commits maps command ids to their unique agreed result hash.
	Commits map[basics.CommandID]crypto.Digest

	// Pins is the set of order tokens protected from pruning by receipts.
	Pins map[OrderToken]bool

	// ChainTokens lists the order tokens of the operation facts applied
	// along the commitment chain, ascending by epoch.  Consensus pins these
	// while a command derived against this head is in flight.
	ChainTokens []OrderToken
}

// CommitmentInfo describes one known chain commitment.
type CommitmentInfo struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Epoch    basics.Epoch  `codec:"epoch"`
	GroupKey crypto.Digest `codec:"gk"` // binding key in effect at this commitment
}

func newState(ns basics.Namespace) *State {
	return &State{
		Namespace: ns,
		Known:     map[crypto.Digest]CommitmentInfo{{}: {}},
		Bindings:  make(map[BindingKey]RelationalFact),
		Spend:     make(map[SpendKey]SpendEntry),
		Commits:   make(map[basics.CommandID]crypto.Digest),
		Pins:      make(map[OrderToken]bool),
	}
}

// Head returns the parent key new operations should execute against.
func (s *State) Head() basics.ParentKey {
	return basics.ParentKey{Epoch: s.Epoch, Commitment: s.Commitment}
}

type chainLink struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Parent crypto.Digest `codec:"parent"`
	OpHash crypto.Digest `codec:"op"`
}

// ToBeHashed implements crypto.Hashable.
func (l chainLink) ToBeHashed() (protocol.HashID, []byte) {
	return protocol.StateCommitment, protocol.Encode(l)
}

// applyOperation advances the chain head.  The caller (the reducer) has
// already selected op as the unique winner for the current head bucket.
func (s *State) applyOperation(op OperationRecord, opHash crypto.Digest) {
	s.Epoch = op.Parent.Epoch + 1
	s.Commitment = crypto.HashObj(chainLink{Parent: op.Parent.Commitment, OpHash: opHash})
	if !op.GroupKey.IsZero() {
		s.GroupKey = op.GroupKey
	}
	s.Known[s.Commitment] = CommitmentInfo{Epoch: s.Epoch, GroupKey: s.GroupKey}
}

// applyRelational records a binding.  Returns false when the binding's
// anchor commitment is not yet known (the caller retries on a later pass).
func (s *State) applyRelational(rel RelationalFact) bool {
	if _, ok := s.Known[rel.Anchor]; !ok {
		return false
	}
	key := BindingKey{Kind: rel.Kind, A: rel.A, B: rel.B}
	if _, dup := s.Bindings[key]; dup {
		return true // already applied; idempotent under re-reduction
	}
	s.Bindings[key] = rel
	return true
}

// applyBudget folds a charge into the monotone spend counter.
func (s *State) applyBudget(b BudgetCharge) {
	key := SpendKey{Context: b.Context, Peer: b.Peer}
	cur := s.Spend[key]
	if b.Cumulative > cur.Cumulative || (b.Cumulative == cur.Cumulative && b.Epoch > cur.Epoch) {
		s.Spend[key] = SpendEntry{Epoch: b.Epoch, Cumulative: b.Cumulative}
	}
}

// applyCommit records the agreed result for a command.  The first commit in
// fact order wins; conflicting later commits for the same command cannot be
// valid and are ignored.
func (s *State) applyCommit(c Commit) {
	if _, ok := s.Commits[c.CommandID]; ok {
		return
	}
	s.Commits[c.CommandID] = c.ResultHash
}

// applyReceipt pins the referenced facts against pruning.
func (s *State) applyReceipt(r Receipt) {
	for _, tok := range r.Pins {
		s.Pins[tok] = true
	}
}

// CommitmentRef is one link of the applied chain, in export form.
type CommitmentRef struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Commitment crypto.Digest  `codec:"commit"`
	Info       CommitmentInfo `codec:"info"`
}

// SpendRecord is one budget counter, in export form.
type SpendRecord struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Key   SpendKey   `codec:"key"`
	Entry SpendEntry `codec:"val"`
}

// CommitRecord is one agreed command outcome, in export form.
type CommitRecord struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	CommandID  basics.CommandID `codec:"cmd"`
	ResultHash crypto.Digest    `codec:"result"`
}

// SnapshotState is the deterministic export of a State: every collection is
// a slice in a fixed sort order, so encoding it canonically yields identical
// bytes on every replica.
type SnapshotState struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Namespace  basics.Namespace   `codec:"ns"`
	Epoch      basics.Epoch       `codec:"epoch"`
	Commitment crypto.Digest      `codec:"commit"`
	GroupKey   crypto.Digest      `codec:"gk"`
	Known      []CommitmentRef    `codec:"known"`
	Bindings   []RelationalFact   `codec:"bindings"`
	Spend      []SpendRecord      `codec:"spend"`
	Commits    []CommitRecord     `codec:"commits"`
	Pins       []OrderToken       `codec:"pins"`
}

// ToBeHashed implements crypto.Hashable.
func (ss SnapshotState) ToBeHashed() (protocol.HashID, []byte) {
	return protocol.Snapshot, protocol.Encode(ss)
}

// Export converts the state into its canonical snapshot form.
func (s *State) Export() SnapshotState {
	ss := SnapshotState{
		Namespace:  s.Namespace,
		Epoch:      s.Epoch,
		Commitment: s.Commitment,
		GroupKey:   s.GroupKey,
	}

	for commit, info := range s.Known {
		ss.Known = append(ss.Known, CommitmentRef{Commitment: commit, Info: info})
	}
	sort.Slice(ss.Known, func(i, j int) bool {
		if ss.Known[i].Info.Epoch != ss.Known[j].Info.Epoch {
			return ss.Known[i].Info.Epoch < ss.Known[j].Info.Epoch
		}
		return bytes.Compare(ss.Known[i].Commitment[:], ss.Known[j].Commitment[:]) < 0
	})

	for _, rel := range s.Bindings {
		ss.Bindings = append(ss.Bindings, rel)
	}
	sort.Slice(ss.Bindings, func(i, j int) bool {
		a, b := ss.Bindings[i], ss.Bindings[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if c := bytes.Compare(a.A[:], b.A[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(a.B[:], b.B[:]) < 0
	})

	for key, entry := range s.Spend {
		ss.Spend = append(ss.Spend, SpendRecord{Key: key, Entry: entry})
	}
	sort.Slice(ss.Spend, func(i, j int) bool {
		a, b := ss.Spend[i].Key, ss.Spend[j].Key
		if c := bytes.Compare(a.Context[:], b.Context[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(a.Peer[:], b.Peer[:]) < 0
	})

	for cmd, result := range s.Commits {
		ss.Commits = append(ss.Commits, CommitRecord{CommandID: cmd, ResultHash: result})
	}
	sort.Slice(ss.Commits, func(i, j int) bool {
		return bytes.Compare(ss.Commits[i].CommandID[:], ss.Commits[j].CommandID[:]) < 0
	})

	for tok := range s.Pins {
		ss.Pins = append(ss.Pins, tok)
	}
	sort.Slice(ss.Pins, func(i, j int) bool {
		return ss.Pins[i].Less(ss.Pins[j])
	})

	return ss
}

// Hash returns the canonical digest of the state.
func (s *State) Hash() crypto.Digest {
	return crypto.HashObj(s.Export())
}

// stateFromSnapshot rebuilds a live State from its export form.
func stateFromSnapshot(ss SnapshotState) *State {
	s := newState(ss.Namespace)
	s.Epoch = ss.Epoch
	s.Commitment = ss.Commitment
	s.GroupKey = ss.GroupKey
	for _, ref := range ss.Known {
		s.Known[ref.Commitment] = ref.Info
	}
	for _, rel := range ss.Bindings {
		s.Bindings[BindingKey{Kind: rel.Kind, A: rel.A, B: rel.B}] = rel
	}
	for _, rec := range ss.Spend {
		s.Spend[rec.Key] = rec.Entry
	}
	for _, rec := range ss.Commits {
		s.Commits[rec.CommandID] = rec.ResultHash
	}
	for _, tok := range ss.Pins {
		s.Pins[tok] = true
	}
	return s
}
