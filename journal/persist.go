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
	"fmt"

	"github.com/chorus-net/chorus/data/basics"
	"github.com/chorus-net/chorus/logging"
)

// Persistence is the durable storage collaborator.  The host application
// owns the medium; the journal only ever hands it whole facts and takes
// whole facts back.  Loading runs the same validation pipeline as a merge,
// so a corrupted store degrades to a smaller accepted set, never to a
// divergent one.
type Persistence interface {
	Load(ns basics.Namespace) ([]Fact, error)
	Store(ns basics.Namespace, facts []Fact) error
}

// Restore builds a journal from durable storage.
func Restore(ns basics.Namespace, p Persistence, log logging.Logger) (*Journal, error) {
	facts, err := p.Load(ns)
	if err != nil {
		return nil, fmt.Errorf("loading journal %s: %w", ns, err)
	}
	j := New(ns, log)
	if err := j.MergeFacts(facts); err != nil {
		return nil, err
	}
	return j, nil
}

// Persist writes the full accepted fact set to durable storage.
func (j *Journal) Persist(p Persistence) error {
	if err := p.Store(j.ns, j.Facts()); err != nil {
		return fmt.Errorf("storing journal %s: %w", j.ns, err)
	}
	return nil
}
