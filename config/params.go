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

package config

import (
	"fmt"
	"time"
)

// Params specifies the tunable parameters of the journal and consensus core.
// All of these are advisory with respect to safety: correctness of the
// protocol holds for any values that pass Validate.
type Params struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	// GossipFanout is the number of random peers each disseminator round
	// forwards accumulated state to.
	GossipFanout int `codec:"fanout"`

	// GossipInterval is the delay between epidemic dissemination rounds.
	GossipInterval time.Duration `codec:"ginterval"`

	// FallbackAfter is how long a coordinator waits for matching witness
	// shares before switching to the epidemic fallback path.  Purely local
	// and advisory; never part of the correctness argument.
	FallbackAfter time.Duration `codec:"fallback"`

	// SkipWindow is the snapshot skip window, in generations.  The pruning
	// boundary for a namespace is
	//   maxGeneration - 2*SkipWindow - SafetyMargin()
	SkipWindow uint64 `codec:"skipwin"`

	// PendingBacklog bounds the number of deferred facts a journal parks
	// while waiting for parent-state backfill.
	PendingBacklog int `codec:"backlog"`
}

// SafetyMargin returns the extra pruning margin retained below the skip window.
func (p Params) SafetyMargin() uint64 {
	return p.SkipWindow / 2
}

// Validate checks that params are usable.
func (p Params) Validate() error {
	if p.GossipFanout < 1 {
		return fmt.Errorf("config: gossip fanout %d < 1", p.GossipFanout)
	}
	if p.SkipWindow == 0 {
		return fmt.Errorf("config: skip window must be positive")
	}
	return nil
}

// DefaultParams are the parameters a node runs with unless overridden.
var DefaultParams = Params{
	GossipFanout:   4,
	GossipInterval: 200 * time.Millisecond,
	FallbackAfter:  2 * time.Second,
	SkipWindow:     1024,
	PendingBacklog: 4096,
}
