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

package consensus

import (
	"github.com/chorus-net/chorus/crypto"
	"github.com/chorus-net/chorus/data/basics"
	"github.com/chorus-net/chorus/evidence"
	"github.com/chorus-net/chorus/journal"
	"github.com/chorus-net/chorus/protocol"
)

// Command is a proposed deterministic state transition, keyed by the parent
// state it executes against.  The full payload travels with every message,
// including fallback gossip, so a replica that never saw the initial Execute
// broadcast can still re-execute and validate outcomes.
type Command struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	ID        basics.CommandID `codec:"id"`
	Namespace basics.Namespace `codec:"ns"`
	Parent    basics.ParentKey `codec:"parent"`
	Payload   []byte           `codec:"body"`
}

// ToBeHashed implements crypto.Hashable.
func (c Command) ToBeHashed() (protocol.HashID, []byte) {
	return protocol.Command, protocol.Encode(c)
}

// executionClaim binds a command to the prestate it executed against.
type executionClaim struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Command  Command       `codec:"cmd"`
	Prestate crypto.Digest `codec:"pre"`
}

func (e executionClaim) ToBeHashed() (protocol.HashID, []byte) {
	return protocol.ExecutionResult, protocol.Encode(e)
}

// ResultHash deterministically derives the execution outcome of a command
// against a reduced prestate: H(command || prestate).  Witnesses agreeing on
// the prestate agree on the result hash; nothing else enters the comparison.
func ResultHash(cmd Command, prestate crypto.Digest) crypto.Digest {
	return crypto.HashObj(executionClaim{Command: cmd, Prestate: prestate})
}

// executeMsg initiates the fast path: the initiator asks every witness to
// execute the command against its local reduced prestate.
type executeMsg struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Command   Command              `codec:"cmd"`
	Initiator basics.ParticipantID `codec:"from"`
	Evidence  evidence.Delta       `codec:"ev"`
}

// witnessShareMsg is a witness's reply: its result hash plus both rounds of
// the threshold-signature protocol piggybacked into the single round trip.
// Round1 is the binding commitment to the partial signature revealed in
// Round2.
type witnessShareMsg struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	CommandID   basics.CommandID     `codec:"cmd"`
	ResultHash  crypto.Digest        `codec:"result"`
	Clock       basics.VectorClock   `codec:"vc"`
	Participant basics.ParticipantID `codec:"from"`
	DerivedAt   uint64               `codec:"derived"`
	Round1      crypto.Digest        `codec:"r1"`
	Round2      crypto.ThresholdSig  `codec:"r2"`
	Evidence    evidence.Delta       `codec:"ev"`
}

// shareCommitment derives the round-1 commitment for a partial signature.
func shareCommitment(partial crypto.ThresholdSig) crypto.Digest {
	return crypto.Hash(protocol.Encode(partial))
}

// commitMsg broadcasts a formed commit fact.  The fact content travels
// whole so every replica reconstructs a byte-identical fact.
type commitMsg struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Commit   journal.Commit       `codec:"commit"`
	Time     journal.SemanticTime `codec:"ts"`
	Evidence evidence.Delta       `codec:"ev"`
}

// conflictReportMsg tells witnesses the fast path split and the fallback
// path is starting.
type conflictReportMsg struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Command            Command              `codec:"cmd"`
	ConflictingResults []crypto.Digest      `codec:"results"`
	Reporter           basics.ParticipantID `codec:"from"`
	Evidence           evidence.Delta       `codec:"ev"`
}

// proposalShare is one witness's contribution to one fallback proposal.
// DerivedAt is the witness's derivation round: a witness whose prestate
// changes during fallback re-derives its share under a higher round, and
// the newer derivation supersedes the older one everywhere.  Two different
// results claimed by one witness in the same round is equivocation.
type proposalShare struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Participant basics.ParticipantID `codec:"from"`
	DerivedAt   uint64               `codec:"derived"`
	Partial     crypto.ThresholdSig  `codec:"share"`
}

// resultProposal is the accumulated fallback state for one result hash.
type resultProposal struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	ResultHash crypto.Digest   `codec:"result"`
	Shares     []proposalShare `codec:"shares"`
}

// aggregateShareMsg carries a node's accumulated proposal state during the
// epidemic fallback.  It embeds the full command so late joiners can
// bootstrap.
type aggregateShareMsg struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Command   Command              `codec:"cmd"`
	Sender    basics.ParticipantID `codec:"from"`
	Proposals []resultProposal     `codec:"props"`
	Round     uint64               `codec:"round"`
	Evidence  evidence.Delta       `codec:"ev"`
}

// journalDeltaMsg carries a batch of journal facts for anti-entropy.  The
// fallback loop relays these alongside aggregate shares: a fast-path split
// is rooted in journal divergence, so shares alone cannot converge until
// the journals do.
type journalDeltaMsg struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Namespace basics.Namespace `codec:"ns"`
	Facts     []journal.Fact   `codec:"facts"`
}

// thresholdCompleteMsg announces that some node accumulated a threshold of
// shares for one result and combined them.
type thresholdCompleteMsg struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Commit       journal.Commit         `codec:"commit"`
	Time         journal.SemanticTime   `codec:"ts"`
	Contributors []basics.ParticipantID `codec:"contrib"`
	Evidence     evidence.Delta         `codec:"ev"`
}
