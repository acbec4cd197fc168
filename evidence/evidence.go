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

// Package evidence implements the per-command evidence CRDT: a nested join
// semilattice tracking accumulated threshold-signature evidence.  Each
// replica owns its local copy; merge is the only cross-replica interaction.
package evidence

import (
	"sort"

	"github.com/chorus-net/chorus/crypto"
	"github.com/chorus-net/chorus/data/basics"
)

// ValidityFirst holds at most one verified group signature for a command.
// Its join keeps whichever signature was observed first locally: both sides
// of a join are valid for the same command by construction, so the choice is
// a tie-break with no safety consequence, and once set, no later signature
// ever displaces it.  This is the atomicity guarantee of the whole protocol.
type ValidityFirst struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	ResultHash crypto.Digest       `codec:"result"`
	GroupKey   crypto.Digest       `codec:"gk"`
	Sig        crypto.ThresholdSig `codec:"sig"`
}

// IsSet reports whether a signature has been recorded.
func (v ValidityFirst) IsSet() bool {
	return !v.Sig.Blank()
}

// Join merges two validity-first registers.
func (v ValidityFirst) Join(other ValidityFirst) ValidityFirst {
	if v.IsSet() {
		return v
	}
	return other
}

// AddSet is a grow-only set of participants.
type AddSet map[basics.ParticipantID]bool

// Add inserts a participant.
func (s AddSet) Add(p basics.ParticipantID) AddSet {
	if s == nil {
		s = make(AddSet)
	}
	s[p] = true
	return s
}

// Join returns the union of two add-sets.
func (s AddSet) Join(other AddSet) AddSet {
	if len(other) == 0 {
		return s
	}
	out := make(AddSet, len(s)+len(other))
	for p := range s {
		out[p] = true
	}
	for p := range other {
		out[p] = true
	}
	return out
}

// Sorted returns the members in deterministic order.
func (s AddSet) Sorted() []basics.ParticipantID {
	out := make([]basics.ParticipantID, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// FirstSeen is a min-merge register over causal time: the join keeps the
// causally-earlier clock, breaking concurrent ties by smallest origin
// participant id.  Cosmetic only; nothing decides on it.
type FirstSeen struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Clock  basics.VectorClock   `codec:"vc"`
	Origin basics.ParticipantID `codec:"orig"`
}

// IsSet reports whether the register holds a clock.
func (m FirstSeen) IsSet() bool {
	return len(m.Clock) > 0
}

// Join merges two first-seen registers.
func (m FirstSeen) Join(other FirstSeen) FirstSeen {
	switch {
	case !m.IsSet():
		return other
	case !other.IsSet():
		return m
	case m.Clock.Before(other.Clock):
		return m
	case other.Clock.Before(m.Clock):
		return other
	case other.Origin.Less(m.Origin):
		return other
	default:
		return m
	}
}

// Evidence is the accumulated consensus evidence for one command.
type Evidence struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Sig       ValidityFirst `codec:"sig"`
	Attesters AddSet        `codec:"att"`
	FirstSeen FirstSeen     `codec:"seen"`
}

// Join merges evidence structurally, component by component.
func (e Evidence) Join(other Evidence) Evidence {
	return Evidence{
		Sig:       e.Sig.Join(other.Sig),
		Attesters: e.Attesters.Join(other.Attesters),
		FirstSeen: e.FirstSeen.Join(other.FirstSeen),
	}
}

// Delta is the wire form of evidence state: it rides on every consensus
// message and merges structurally at the receiver.
type Delta map[basics.CommandID]Evidence
