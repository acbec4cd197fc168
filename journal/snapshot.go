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
	"errors"

	"github.com/chorus-net/chorus/crypto"
	"github.com/chorus-net/chorus/data/basics"
)

// ErrNothingToPrune is returned when the journal has not outgrown the skip
// window far enough for any fact to be prunable.
var ErrNothingToPrune = errors.New("journal: nothing below the pruning boundary")

// PruneBoundary returns the generation at or below which facts may be
// physically discarded:
//
//	maxGeneration - 2*skipWindow - safetyMargin, safetyMargin = skipWindow/2
//
// A zero return means nothing is prunable yet.
func PruneBoundary(maxGen basics.Epoch, skipWindow uint64) basics.Epoch {
	reserve := 2*skipWindow + skipWindow/2
	if uint64(maxGen) <= reserve {
		return 0
	}
	return maxGen - basics.Epoch(reserve)
}

// maxGenerationLocked returns the highest generation across accepted facts.
func (j *Journal) maxGenerationLocked() basics.Epoch {
	var maxGen basics.Epoch
	for _, f := range j.facts {
		if g := f.Generation(); g > maxGen {
			maxGen = g
		}
	}
	return maxGen
}

// BuildSnapshot collapses every unpinned fact at or below the current
// pruning boundary into a snapshot fact with the given sequence number.
// The snapshot embeds the reduction of the collapsed cut, so pruning the
// cut later cannot change any reduction outcome above the boundary.
func (j *Journal) BuildSnapshot(seq uint64, skipWindow uint64) (Fact, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	boundary := PruneBoundary(j.maxGenerationLocked(), skipWindow)
	if boundary == 0 {
		return Fact{}, ErrNothingToPrune
	}

	pinned, err := j.pinnedLocked()
	if err != nil {
		return Fact{}, err
	}

	var cut []Fact
	for _, f := range j.facts {
		if f.Generation() > boundary || pinned[f.Order] {
			continue
		}
		cut = append(cut, f)
	}
	if len(cut) == 0 {
		return Fact{}, ErrNothingToPrune
	}
	sortSliceByOrder(cut)

	reduced, err := Reduce(j.ns, cut)
	if err != nil {
		return Fact{}, err
	}

	snap := Snapshot{
		CutDigest:  cutHash(cut),
		Seq:        seq,
		Generation: boundary,
		State:      reduced.Export(),
	}
	snap.StateDigest = crypto.HashObj(snap.State)
	for _, f := range cut {
		snap.Superseded = append(snap.Superseded, f.Order)
	}

	return NewFact(SemanticTime{}, FactContent{Kind: KindSnapshot, Snapshot: &snap}), nil
}

// Compact physically discards facts superseded by the newest snapshot,
// subject to the pruning boundary and outstanding pins.  Reduction output
// for queries above the boundary is unchanged: the snapshot carries the
// reduction of everything it supersedes.
func (j *Journal) Compact(skipWindow uint64) (pruned int, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var newest *Snapshot
	for _, f := range j.facts {
		if f.Content.Kind != KindSnapshot {
			continue
		}
		if newest == nil || f.Content.Snapshot.Seq > newest.Seq {
			newest = f.Content.Snapshot
		}
	}
	if newest == nil {
		return 0, ErrNothingToPrune
	}

	boundary := PruneBoundary(j.maxGenerationLocked(), skipWindow)
	if boundary == 0 {
		return 0, ErrNothingToPrune
	}

	pinned, err := j.pinnedLocked()
	if err != nil {
		return 0, err
	}

	for _, tok := range newest.Superseded {
		f, ok := j.facts[tok]
		if !ok || f.Generation() > boundary || pinned[tok] {
			continue
		}
		delete(j.facts, tok)
		pruned++
	}
	if pruned > 0 {
		j.reduced = nil
		j.log.Infof("compacted %d facts at or below generation %d", pruned, boundary)
	}
	return pruned, nil
}
