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

package evidence

import (
	"github.com/algorand/go-deadlock"

	"github.com/chorus-net/chorus/data/basics"
)

// Store is a replica's local copy of the evidence CRDT, a map-of-maps keyed
// by command id.  No singleton or global coordination exists anywhere:
// stores converge purely by exchanging and joining deltas.
type Store struct {
	mu deadlock.RWMutex

	m map[basics.CommandID]Evidence
}

// NewStore creates an empty evidence store.
func NewStore() *Store {
	return &Store{m: make(map[basics.CommandID]Evidence)}
}

// Get returns the accumulated evidence for a command.
func (s *Store) Get(cmd basics.CommandID) (Evidence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.m[cmd]
	return ev, ok
}

// Signature returns the verified group signature for a command, if any
// replica interaction has produced one.  The fallback loop uses this as its
// local early-termination signal.
func (s *Store) Signature(cmd basics.CommandID) (ValidityFirst, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.m[cmd]
	if !ok || !ev.Sig.IsSet() {
		return ValidityFirst{}, false
	}
	return ev.Sig, true
}

// Observe joins locally produced evidence for one command into the store.
func (s *Store) Observe(cmd basics.CommandID, ev Evidence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[cmd] = s.m[cmd].Join(ev)
}

// Merge joins a delta received from a peer into the store.
func (s *Store) Merge(delta Delta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for cmd, ev := range delta {
		s.m[cmd] = s.m[cmd].Join(ev)
	}
}

// Delta extracts the store's evidence for the given commands, for piggyback
// on an outgoing message.  With no arguments it extracts everything.
func (s *Store) Delta(cmds ...basics.CommandID) Delta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Delta)
	if len(cmds) == 0 {
		for cmd, ev := range s.m {
			out[cmd] = ev
		}
		return out
	}
	for _, cmd := range cmds {
		if ev, ok := s.m[cmd]; ok {
			out[cmd] = ev
		}
	}
	return out
}
