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
	"fmt"

	"github.com/chorus-net/chorus/data/basics"
)

// ErrNamespaceMismatch is returned when merging journals owned by different
// entities.  This is a programmer error and fails loudly at the call site;
// it is never recovered by retrying.
var ErrNamespaceMismatch = errors.New("journal: namespace mismatch")

// ErrDeferred indicates a fact could not be validated yet because its parent
// state is not locally known.  The fact is parked for backfill rather than
// rejected; callers treat this as success-pending.
var ErrDeferred = errors.New("journal: fact deferred pending backfill")

// A ValidationError means a fact failed the insertion pipeline.  Validation
// failures are local: the fact is simply not inserted, and no propagation is
// needed, because every accepting replica reduces the same accepted set.
type ValidationError struct {
	Kind   ContentKind
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("journal: invalid %s fact: %s", e.Kind, e.Reason)
}

func invalidf(kind ContentKind, format string, args ...interface{}) error {
	return &ValidationError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// A ReductionError is unreachable given only validated facts.  Observing one
// indicates a validation gap, not a runtime condition to recover from, so
// callers log it loudly and treat the journal as wedged.
type ReductionError struct {
	Namespace basics.Namespace
	Reason    string
}

func (e *ReductionError) Error() string {
	return fmt.Sprintf("journal: reduction failed for %s: %s", e.Namespace, e.Reason)
}
