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

package basics

// VectorClock tracks causal history per participant.  Clocks are advisory
// bookkeeping: nothing in matching or reduction ever decides on them.
type VectorClock map[ParticipantID]uint64

// Clone returns an independent copy of the clock.
func (vc VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(vc))
	for k, v := range vc {
		out[k] = v
	}
	return out
}

// Tick increments the component belonging to the given participant.
func (vc VectorClock) Tick(p ParticipantID) {
	vc[p]++
}

// Join merges another clock into this one, taking the componentwise maximum.
func (vc VectorClock) Join(other VectorClock) {
	for k, v := range other {
		if v > vc[k] {
			vc[k] = v
		}
	}
}

// Before reports whether vc happened strictly before other.
func (vc VectorClock) Before(other VectorClock) bool {
	less := false
	for k, v := range vc {
		ov := other[k]
		if v > ov {
			return false
		}
		if v < ov {
			less = true
		}
	}
	for k := range other {
		if _, ok := vc[k]; !ok && other[k] > 0 {
			less = true
		}
	}
	return less
}

// Concurrent reports whether neither clock happened before the other.
func (vc VectorClock) Concurrent(other VectorClock) bool {
	return !vc.Before(other) && !other.Before(vc) && !vc.Equal(other)
}

// Equal reports componentwise equality, treating absent components as zero.
func (vc VectorClock) Equal(other VectorClock) bool {
	for k, v := range vc {
		if other[k] != v {
			return false
		}
	}
	for k, v := range other {
		if vc[k] != v {
			return false
		}
	}
	return true
}
