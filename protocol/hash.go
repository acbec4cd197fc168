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

package protocol

// HashID is a domain separation prefix for an object type that might be hashed
// This ensures, for example, the hash of a fact will never collide with the hash of a witness share
type HashID string

// Hash IDs for specific object types, in lexicographic order to avoid dups.
const (
	BudgetCharge      HashID = "BC"
	Command           HashID = "CD"
	CommandResult     HashID = "CMR"
	Commit            HashID = "CM"
	ExecutionResult   HashID = "XR"
	Fact              HashID = "FA"
	GroupKey          HashID = "GK"
	Message           HashID = "MX"
	OperationRecord   HashID = "OP"
	Receipt           HashID = "RC"
	RelationalBinding HashID = "RB"
	Snapshot          HashID = "SN"
	StateCommitment   HashID = "SC"
	TestHashable      HashID = "TE"
	WitnessShare      HashID = "WS"
)
