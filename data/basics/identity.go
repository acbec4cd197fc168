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

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/chorus-net/chorus/crypto"
)

// Epoch is an explicit state-generation counter.  Epochs order operation
// records within a namespace; they are never derived from wall-clock time.
type Epoch uint64

// ParticipantID identifies a protocol participant by its signing key.
// It deliberately carries no device or network identity.
type ParticipantID crypto.PublicKey

// String returns a short printable prefix of the participant id.
func (p ParticipantID) String() string {
	return hex.EncodeToString(p[:8])
}

// Less orders participant ids bytewise.  Used only for cosmetic tie-breaks.
func (p ParticipantID) Less(other ParticipantID) bool {
	return bytes.Compare(p[:], other[:]) < 0
}

// PublicKey returns the participant's verification key.
func (p ParticipantID) PublicKey() crypto.PublicKey {
	return crypto.PublicKey(p)
}

// CommandID uniquely identifies one proposed command across the system.
type CommandID uuid.UUID

// NewCommandID generates a fresh random command identifier.
func NewCommandID() CommandID {
	return CommandID(uuid.New())
}

func (c CommandID) String() string {
	return uuid.UUID(c).String()
}

// IsZero returns true for the all-zero command id.
func (c CommandID) IsZero() bool {
	return c == CommandID{}
}

// NamespaceKind distinguishes the two entity kinds that can own a journal.
type NamespaceKind uint8

// Journal owner kinds.
const (
	// AuthorityOwned journals belong to a single authority (an account's
	// device-tree identity).
	AuthorityOwned NamespaceKind = iota + 1
	// ContextOwned journals belong to a relational context shared between
	// authorities.
	ContextOwned
)

// AuthorityID identifies an authority entity.
type AuthorityID crypto.Digest

// ContextID identifies a relational context entity.
type ContextID crypto.Digest

// Namespace identifies the single entity owning a journal.  Two journals
// with different namespaces can never merge.
type Namespace struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Kind NamespaceKind `codec:"kind"`
	ID   crypto.Digest `codec:"id"`
}

// AuthorityNamespace returns the namespace owned by the given authority.
func AuthorityNamespace(id AuthorityID) Namespace {
	return Namespace{Kind: AuthorityOwned, ID: crypto.Digest(id)}
}

// ContextNamespace returns the namespace owned by the given relational context.
func ContextNamespace(id ContextID) Namespace {
	return Namespace{Kind: ContextOwned, ID: crypto.Digest(id)}
}

func (ns Namespace) String() string {
	switch ns.Kind {
	case AuthorityOwned:
		return fmt.Sprintf("authority:%s", crypto.Digest(ns.ID))
	case ContextOwned:
		return fmt.Sprintf("context:%s", crypto.Digest(ns.ID))
	default:
		return fmt.Sprintf("unknown:%s", crypto.Digest(ns.ID))
	}
}

// ParentKey groups concurrent proposals executing against the same parent
// state.  Facts reference parent state by value, never by live pointer, so
// no reference cycles are possible between reduced state and in-flight facts.
type ParentKey struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Epoch      Epoch         `codec:"epoch"`
	Commitment crypto.Digest `codec:"commit"`
}
