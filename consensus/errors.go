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
	"errors"
	"fmt"

	"github.com/chorus-net/chorus/data/basics"
)

// ErrNotAuthorized means the local authorization predicate for the command
// does not hold.  Participation is voluntary and policy-gated; refusal is
// always legal and never blocks other participants.
var ErrNotAuthorized = errors.New("consensus: local policy refuses this command")

// ErrConflicted reports that the fast path split across result hashes.
// This is a normal protocol transition into the fallback path, not a
// failure.
var ErrConflicted = errors.New("consensus: fast path split, falling back")

// ByzantineReason classifies recorded misbehavior.
type ByzantineReason uint8

// Byzantine evidence reasons.
const (
	// ReasonEquivocation: one witness endorsed two different result hashes
	// for the same command.
	ReasonEquivocation ByzantineReason = iota + 1
	// ReasonInconsistentShare: a witness sent a share inconsistent with its
	// own earlier share for the same proposal.
	ReasonInconsistentShare
	// ReasonMalformedShare: a share failed structural or cryptographic
	// validation.
	ReasonMalformedShare
)

func (r ByzantineReason) String() string {
	switch r {
	case ReasonEquivocation:
		return "equivocation"
	case ReasonInconsistentShare:
		return "inconsistent-share"
	case ReasonMalformedShare:
		return "malformed-share"
	default:
		return "unknown"
	}
}

// ByzantineEvidence records one observed instance of witness misbehavior.
// It is surfaced for operator reporting and down-weighting; it never halts
// progress for honest participants.
type ByzantineEvidence struct {
	CommandID basics.CommandID
	Witness   basics.ParticipantID
	Reason    ByzantineReason
	Details   string
}

func (b ByzantineEvidence) String() string {
	return fmt.Sprintf("byzantine %s by %s on command %s: %s", b.Reason, b.Witness, b.CommandID, b.Details)
}
