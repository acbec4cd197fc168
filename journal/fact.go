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
	"encoding/hex"

	"github.com/chorus-net/chorus/crypto"
	"github.com/chorus-net/chorus/data/basics"
	"github.com/chorus-net/chorus/protocol"
)

// OrderToken is the opaque total-order token attached to every fact.  Facts
// are compared and sorted by this token only.  Tokens are derived from fact
// content, so they order deterministically without identifying the device
// that produced them.
type OrderToken [32]byte

func (o OrderToken) String() string {
	return hex.EncodeToString(o[:8])
}

// Less orders tokens bytewise.
func (o OrderToken) Less(other OrderToken) bool {
	return bytes.Compare(o[:], other[:]) < 0
}

// SemanticTime is advisory application-level time.  It never participates in
// ordering or reduction.
type SemanticTime struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	UnixMilli uint64               `codec:"ms"`
	Origin    basics.ParticipantID `codec:"orig"`
}

// ContentKind tags the closed set of fact content variants.
type ContentKind uint8

// Fact content kinds.  The set is small and fixed per deployment; both the
// validation pipeline and the reducer switch exhaustively over it.
const (
	KindOperation ContentKind = iota + 1
	KindRelational
	KindBudgetCharge
	KindSnapshot
	KindCommit
	KindReceipt
)

func (k ContentKind) String() string {
	switch k {
	case KindOperation:
		return "operation"
	case KindRelational:
		return "relational"
	case KindBudgetCharge:
		return "budget"
	case KindSnapshot:
		return "snapshot"
	case KindCommit:
		return "commit"
	case KindReceipt:
		return "receipt"
	default:
		return "unknown"
	}
}

// OpKind tags the structural shape of an operation record.
type OpKind uint8

// Operation kinds over an authority's member tree.
const (
	OpGenesis OpKind = iota + 1
	OpAddMember
	OpRemoveMember
	OpUpdatePolicy
	OpRotateEpoch
)

// OperationRecord is a signed state transition executing against an explicit
// parent state.  The record commits to the state it produces; replicas never
// trust the commitment blindly, they recompute it during reduction.
type OperationRecord struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Parent   basics.ParentKey     `codec:"parent"`
	Kind     OpKind               `codec:"kind"`
	Body     []byte               `codec:"body"`
	GroupKey crypto.Digest        `codec:"gk"`  // binding key after this operation
	Sig      crypto.ThresholdSig  `codec:"sig"` // threshold signature under the parent's binding key
}

// SigMessage is the portion of the record covered by the threshold signature.
func (op OperationRecord) SigMessage() OpClaim {
	return OpClaim{
		Parent:   op.Parent,
		Kind:     op.Kind,
		Body:     op.Body,
		GroupKey: op.GroupKey,
	}
}

// OpClaim is the signed body of an operation record.
type OpClaim struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Parent   basics.ParentKey `codec:"parent"`
	Kind     OpKind           `codec:"kind"`
	Body     []byte           `codec:"body"`
	GroupKey crypto.Digest    `codec:"gk"`
}

// ToBeHashed implements crypto.Hashable.
func (c OpClaim) ToBeHashed() (protocol.HashID, []byte) {
	return protocol.OperationRecord, protocol.Encode(c)
}

// BindingKind tags relational binding variants between two entities.
type BindingKind uint8

// Relational binding kinds.
const (
	BindingGuardian BindingKind = iota + 1
	BindingChannel
	BindingDelegation
)

// RelationalFact binds two entities inside a relational context.  At most one
// binding of a given kind may exist between the same two entities.
type RelationalFact struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Kind     BindingKind         `codec:"kind"`
	A        crypto.Digest       `codec:"a"` // commitment of the first entity
	B        crypto.Digest       `codec:"b"` // commitment of the second entity
	Epoch    basics.Epoch        `codec:"epoch"`
	Anchor   crypto.Digest       `codec:"anchor"` // local commitment the binding is anchored to
	Proof    crypto.ThresholdSig `codec:"proof"`
	ProofKey crypto.Digest       `codec:"pk"` // group key the proof verifies under
}

// ProofMessage is the portion of the binding covered by the consensus proof.
func (r RelationalFact) ProofMessage() BindingClaim {
	return BindingClaim{Kind: r.Kind, A: r.A, B: r.B, Epoch: r.Epoch}
}

// BindingClaim is the signed body of a relational fact.
type BindingClaim struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Kind  BindingKind   `codec:"kind"`
	A     crypto.Digest `codec:"a"`
	B     crypto.Digest `codec:"b"`
	Epoch basics.Epoch  `codec:"epoch"`
}

// ToBeHashed implements crypto.Hashable.
func (c BindingClaim) ToBeHashed() (protocol.HashID, []byte) {
	return protocol.RelationalBinding, protocol.Encode(c)
}

// BudgetCharge records cumulative spend for a (context, peer) pair.  Spend is
// monotone non-decreasing; a fact recording a lower cumulative value than one
// already reduced is invalid.
type BudgetCharge struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Context    basics.ContextID     `codec:"ctx"`
	Peer       basics.ParticipantID `codec:"peer"`
	Epoch      basics.Epoch         `codec:"epoch"`
	Cumulative uint64               `codec:"spent"`
}

// Snapshot collapses all facts at or below a cut into one high-water-mark
// marker.  Reduction over remaining facts plus the snapshot must equal
// reduction over the full original fact set.
type Snapshot struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	StateDigest crypto.Digest `codec:"digest"` // canonical hash of State
	CutDigest   crypto.Digest `codec:"cutd"`   // hash of every superseded fact
	Superseded  []OrderToken  `codec:"cut"`
	Seq         uint64        `codec:"seq"`
	Generation  basics.Epoch  `codec:"gen"`
	State       SnapshotState `codec:"state"`
}

// Commit is the monotone consensus outcome for one command.  Once a replica
// holds a valid commit for a command id, no conflicting commit is ever
// accepted for that command.
type Commit struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	CommandID  basics.CommandID       `codec:"cmd"`
	ResultHash crypto.Digest          `codec:"result"`
	Epoch      basics.Epoch           `codec:"epoch"`
	Sig        crypto.ThresholdSig    `codec:"sig"`
	GroupKey   crypto.Digest          `codec:"gk"`
	Attesters  []basics.ParticipantID `codec:"att"`
	Clock      basics.VectorClock     `codec:"vc"`
}

// SigMessage is the claim the threshold signature covers: this command
// produced this result.
func (c Commit) SigMessage() ResultClaim {
	return ResultClaim{CommandID: c.CommandID, ResultHash: c.ResultHash}
}

// ResultClaim is the (command, result) pair witnesses attest to.
type ResultClaim struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	CommandID  basics.CommandID `codec:"cmd"`
	ResultHash crypto.Digest    `codec:"result"`
}

// ToBeHashed implements crypto.Hashable.
func (c ResultClaim) ToBeHashed() (protocol.HashID, []byte) {
	return protocol.CommandResult, protocol.Encode(c)
}

// Receipt is a cross-namespace acknowledgement that pins facts in this
// journal against pruning until the referencing protocol completes.
type Receipt struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Source basics.Namespace `codec:"src"`
	Epoch  basics.Epoch     `codec:"epoch"`
	Pins   []OrderToken     `codec:"pins"`
}

// FactContent is a closed tagged union over the content variants.  Exactly
// one of the pointer fields matching Kind is set.
type FactContent struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Kind       ContentKind      `codec:"kind"`
	Operation  *OperationRecord `codec:"op"`
	Relational *RelationalFact  `codec:"rel"`
	Budget     *BudgetCharge    `codec:"budget"`
	Snapshot   *Snapshot        `codec:"snap"`
	Commit     *Commit          `codec:"commit"`
	Receipt    *Receipt         `codec:"receipt"`
}

// Fact is an immutable, self-contained unit of knowledge.  Once constructed
// and validated it is never mutated; it leaves a journal only through
// snapshot-driven garbage collection.
type Fact struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Order   OrderToken   `codec:"ord"`
	Time    SemanticTime `codec:"ts"`
	Content FactContent  `codec:"c"`
}

// ToBeHashed implements crypto.Hashable.
func (f Fact) ToBeHashed() (protocol.HashID, []byte) {
	return protocol.Fact, protocol.Encode(f)
}

// ID returns the fact's content hash.
func (f Fact) ID() crypto.Digest {
	return crypto.HashObj(f)
}

// NewFact constructs a fact whose order token is derived from its content.
func NewFact(ts SemanticTime, content FactContent) Fact {
	f := Fact{Time: ts, Content: content}
	f.Order = OrderToken(crypto.HashObj(f))
	return f
}

// Generation returns the pruning generation of a fact, derived from the
// epoch counters its content carries.
func (f Fact) Generation() basics.Epoch {
	switch f.Content.Kind {
	case KindOperation:
		return f.Content.Operation.Parent.Epoch
	case KindRelational:
		return f.Content.Relational.Epoch
	case KindBudgetCharge:
		return f.Content.Budget.Epoch
	case KindSnapshot:
		return f.Content.Snapshot.Generation
	case KindCommit:
		return f.Content.Commit.Epoch
	case KindReceipt:
		return f.Content.Receipt.Epoch
	default:
		return 0
	}
}
