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
	"fmt"
	"sort"

	"github.com/chorus-net/chorus/crypto"
	"github.com/chorus-net/chorus/data/basics"
)

// groupVersion is the threshold scheme version this package speaks.
const groupVersion = 1

// WitnessGroup is the fixed (t,n) witness policy for a namespace.
type WitnessGroup struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Threshold uint8                  `codec:"thr"`
	Members   []basics.ParticipantID `codec:"members"` // sorted
}

// MakeWitnessGroup builds a group from a threshold and member set.
func MakeWitnessGroup(threshold uint8, members []basics.ParticipantID) (WitnessGroup, error) {
	if threshold == 0 || int(threshold) > len(members) {
		return WitnessGroup{}, fmt.Errorf("consensus: threshold %d out of range for %d members", threshold, len(members))
	}
	sorted := make([]basics.ParticipantID, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return WitnessGroup{}, fmt.Errorf("consensus: duplicate member %s", sorted[i])
		}
	}
	g := WitnessGroup{Threshold: threshold, Members: sorted}
	if _, err := g.Key(); err != nil {
		return WitnessGroup{}, err
	}
	return g, nil
}

// N returns the group size.
func (g WitnessGroup) N() int {
	return len(g.Members)
}

// Contains reports membership.
func (g WitnessGroup) Contains(p basics.ParticipantID) bool {
	for _, m := range g.Members {
		if m == p {
			return true
		}
	}
	return false
}

// PublicKeys returns the members' verification keys in group order.
func (g WitnessGroup) PublicKeys() []crypto.PublicKey {
	keys := make([]crypto.PublicKey, len(g.Members))
	for i, m := range g.Members {
		keys[i] = m.PublicKey()
	}
	return keys
}

// Key returns the group binding key digest.
func (g WitnessGroup) Key() (crypto.Digest, error) {
	return crypto.GroupKeyGen(groupVersion, g.Threshold, g.PublicKeys())
}

// Sign produces this participant's partial threshold signature over msg.
func (g WitnessGroup) Sign(msg crypto.Hashable, secrets *crypto.SignatureSecrets) (crypto.ThresholdSig, error) {
	gk, err := g.Key()
	if err != nil {
		return crypto.ThresholdSig{}, err
	}
	return crypto.ThresholdSign(msg, gk, groupVersion, g.Threshold, g.PublicKeys(), secrets)
}

// checkPartial verifies that partial is a well-formed single-subsig
// contribution by the given member over msg.
func (g WitnessGroup) checkPartial(msg crypto.Hashable, from basics.ParticipantID, partial crypto.ThresholdSig) error {
	if partial.Version != groupVersion || partial.Threshold != g.Threshold || len(partial.Subsigs) != g.N() {
		return fmt.Errorf("consensus: partial signature shape mismatch")
	}
	filled := -1
	for i := range partial.Subsigs {
		if partial.Subsigs[i].Key != g.Members[i].PublicKey() {
			return fmt.Errorf("consensus: partial signature key list mismatch")
		}
		if partial.Subsigs[i].Sig.Blank() {
			continue
		}
		if filled != -1 {
			return fmt.Errorf("consensus: partial signature carries multiple subsigs")
		}
		filled = i
	}
	if filled == -1 {
		return fmt.Errorf("consensus: partial signature carries no subsig")
	}
	if g.Members[filled] != from {
		return fmt.Errorf("consensus: subsig does not belong to sender")
	}
	if !partial.Subsigs[filled].Key.Verify(msg, partial.Subsigs[filled].Sig) {
		return fmt.Errorf("consensus: subsig does not verify")
	}
	return nil
}

// attesters lists the members whose subsigs are present in a combined
// signature.
func (g WitnessGroup) attesters(sig crypto.ThresholdSig) []basics.ParticipantID {
	var out []basics.ParticipantID
	for i := range sig.Subsigs {
		if !sig.Subsigs[i].Sig.Blank() && i < len(g.Members) {
			out = append(out, g.Members[i])
		}
	}
	return out
}
