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

// Tag represents a message type identifier.  Messages have a Tag field.
// Handlers can register to a given Tag; e.g., the consensus coordinator
// registers to handle witness shares with the WitnessShareTag.
type Tag string

// Tags, in lexicographic sort order of tag values to avoid duplicates.
const (
	UnknownMsgTag        Tag = "??"
	AggregateShareTag    Tag = "AG"
	CommitTag            Tag = "CF"
	ConflictReportTag    Tag = "CR"
	ExecuteTag           Tag = "EX"
	JournalDeltaTag      Tag = "JD"
	ThresholdCompleteTag Tag = "TC"
	WitnessShareTag      Tag = "WS"
)
