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

// Package journal implements the fact journal: a namespaced, append-only,
// set-union-merged collection of validated facts, together with the
// deterministic reducer that derives canonical state from it.
//
// The journal is a join semilattice under set union.  Merge is commutative,
// associative and idempotent; facts accumulate monotonically and leave only
// through snapshot-driven garbage collection.  All mutation is append-only,
// so the only locking discipline needed is atomic insertion into the local
// set.
package journal

import (
	"sort"

	"github.com/algorand/go-deadlock"

	"github.com/chorus-net/chorus/config"
	"github.com/chorus-net/chorus/data/basics"
	"github.com/chorus-net/chorus/logging"
)

// factStreamBacklog bounds how far a slow accepted-fact subscriber may lag
// before it starts missing facts.  The stream is best-effort.
const factStreamBacklog = 256

// A Journal holds the accepted facts of exactly one namespace.  Any number
// of replicas may hold copies; replicas converge by merging.
type Journal struct {
	mu deadlock.RWMutex

	ns    basics.Namespace
	facts map[OrderToken]Fact

	// pending holds facts deferred for parent-state backfill, capped at
	// maxPending.  They are retried whenever the journal grows.
	pending    map[OrderToken]Fact
	maxPending int

	// pins are order tokens protected from pruning by in-flight consensus
	// commands, in addition to receipt pins carried in the fact set.
	pins map[OrderToken]int

	// reduced caches the last reduction; invalidated on every insert.
	reduced *State

	subs []chan Fact

	log logging.Logger
}

// New creates an empty journal owned by the given namespace.
func New(ns basics.Namespace, log logging.Logger) *Journal {
	return &Journal{
		ns:         ns,
		facts:      make(map[OrderToken]Fact),
		pending:    make(map[OrderToken]Fact),
		maxPending: config.DefaultParams.PendingBacklog,
		pins:       make(map[OrderToken]int),
		log:        log.With("ns", ns.String()),
	}
}

// Namespace returns the owning entity of this journal.
func (j *Journal) Namespace() basics.Namespace {
	return j.ns
}

// Len returns the number of accepted facts.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.facts)
}

// Contains reports whether the journal holds a fact with the given token.
func (j *Journal) Contains(tok OrderToken) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	_, ok := j.facts[tok]
	return ok
}

// Facts returns the accepted facts in order-token total order.
func (j *Journal) Facts() []Fact {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.sortedLocked()
}

func (j *Journal) sortedLocked() []Fact {
	out := make([]Fact, 0, len(j.facts))
	for _, f := range j.facts {
		out = append(out, f)
	}
	sortSliceByOrder(out)
	return out
}

func sortSliceByOrder(facts []Fact) {
	sort.Slice(facts, func(i, k int) bool {
		return facts[i].Order.Less(facts[k].Order)
	})
}

// Insert validates a fact and adds it to the journal.  A fact whose parent
// state is not yet known locally is parked and retried as the journal grows;
// Insert reports ErrDeferred for it.  Validation failures are local: the
// fact is not inserted and the error describes why.
func (j *Journal) Insert(f Fact) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	err := j.insertLocked(f)
	if err == nil {
		j.retryPendingLocked()
	}
	return err
}

func (j *Journal) insertLocked(f Fact) error {
	if _, ok := j.facts[f.Order]; ok {
		return nil // set semantics; re-insertion is a no-op
	}

	err := j.validateLocked(f)
	switch {
	case err == nil:
	case err == ErrDeferred:
		if _, parked := j.pending[f.Order]; parked {
			return ErrDeferred
		}
		if len(j.pending) >= j.maxPending {
			// A peer can feed unresolvable facts forever; the backlog does
			// not grow past its cap on their behalf.
			j.log.Warnf("backfill backlog full, dropping %s fact %s", f.Content.Kind, f.Order)
			return ErrDeferred
		}
		j.pending[f.Order] = f
		j.log.Debugf("deferred %s fact %s pending backfill", f.Content.Kind, f.Order)
		return ErrDeferred
	default:
		return err
	}

	j.facts[f.Order] = f
	j.reduced = nil
	j.notifyLocked(f)
	return nil
}

// retryPendingLocked revisits parked facts after the journal grew.  Facts
// whose parents arrived are admitted; the rest stay parked.
func (j *Journal) retryPendingLocked() {
	for progress := true; progress; {
		progress = false
		for tok, f := range j.pending {
			err := j.validateLocked(f)
			if err == ErrDeferred {
				continue
			}
			delete(j.pending, tok)
			if err != nil {
				j.log.Warnf("dropping parked fact %s: %v", tok, err)
				continue
			}
			j.facts[tok] = f
			j.reduced = nil
			j.notifyLocked(f)
			progress = true
		}
	}
}

// PendingBackfill returns the number of facts parked for backfill.
func (j *Journal) PendingBackfill() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.pending)
}

// Merge folds another journal's facts into this one.  Merge is defined only
// between journals with equal namespaces and always yields the set union of
// the accepted facts; it never removes anything.  Individual facts that fail
// this replica's validation are skipped; divergent acceptance does not
// violate convergence, since reduction runs over the accepted set only.
func (j *Journal) Merge(other *Journal) error {
	if other.Namespace() != j.ns {
		return ErrNamespaceMismatch
	}
	return j.MergeFacts(other.Facts())
}

// MergeFacts merges a batch of facts, typically received from a peer.
func (j *Journal) MergeFacts(facts []Fact) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, f := range facts {
		err := j.insertLocked(f)
		if err != nil && err != ErrDeferred {
			j.log.Debugf("merge skipped %s fact %s: %v", f.Content.Kind, f.Order, err)
		}
	}
	j.retryPendingLocked()
	return nil
}

// Reduce returns the canonical reduced state for this journal's accepted
// fact set.  The result is cached until the fact set changes.
func (j *Journal) Reduce() (*State, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.reduceLocked()
}

func (j *Journal) reduceLocked() (*State, error) {
	if j.reduced != nil {
		return j.reduced, nil
	}
	state, err := Reduce(j.ns, j.sortedLocked())
	if err != nil {
		// Facts are pre-validated, so this indicates a validation gap
		// rather than a runtime condition.
		j.log.Errorf("reduction error (validation gap): %v", err)
		return nil, err
	}
	j.reduced = state
	return state, nil
}

// Pin protects facts from pruning while a consensus command that depends on
// them is in flight.  Pins are reference counted.
func (j *Journal) Pin(toks ...OrderToken) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, tok := range toks {
		j.pins[tok]++
	}
}

// Unpin releases pins taken with Pin.
func (j *Journal) Unpin(toks ...OrderToken) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, tok := range toks {
		if j.pins[tok] <= 1 {
			delete(j.pins, tok)
		} else {
			j.pins[tok]--
		}
	}
}

// pinnedLocked returns the union of consensus pins and receipt pins.
func (j *Journal) pinnedLocked() (map[OrderToken]bool, error) {
	state, err := j.reduceLocked()
	if err != nil {
		return nil, err
	}
	pinned := make(map[OrderToken]bool, len(j.pins)+len(state.Pins))
	for tok := range j.pins {
		pinned[tok] = true
	}
	for tok := range state.Pins {
		pinned[tok] = true
	}
	return pinned, nil
}

// Subscribe returns a channel carrying every subsequently accepted fact.
// The stream is best-effort: a subscriber that falls more than
// factStreamBacklog facts behind misses the overflow.
func (j *Journal) Subscribe() <-chan Fact {
	j.mu.Lock()
	defer j.mu.Unlock()
	ch := make(chan Fact, factStreamBacklog)
	j.subs = append(j.subs, ch)
	return ch
}

func (j *Journal) notifyLocked(f Fact) {
	for _, ch := range j.subs {
		select {
		case ch <- f:
		default:
		}
	}
}
