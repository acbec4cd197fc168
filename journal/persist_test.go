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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chorus-net/chorus/data/basics"
	"github.com/chorus-net/chorus/logging"
	"github.com/chorus-net/chorus/testpartition"
)

// memStore keeps facts per namespace in memory.
type memStore struct {
	facts map[basics.Namespace][]Fact
}

func (m *memStore) Load(ns basics.Namespace) ([]Fact, error) {
	return m.facts[ns], nil
}

func (m *memStore) Store(ns basics.Namespace, facts []Fact) error {
	if m.facts == nil {
		m.facts = make(map[basics.Namespace][]Fact)
	}
	m.facts[ns] = facts
	return nil
}

func TestRestoreRebuildsReduction(t *testing.T) {
	testpartition.PartitionTest(t)
	t.Parallel()

	ns := testNamespace("alice")
	j := New(ns, logging.TestingLog(t))
	fix := makeWitnesses(t, 3, 2)
	require.NoError(t, j.Insert(fix.genesisFact(t)))
	require.NoError(t, j.Insert(fix.operationFact(t, headOf(t, j), OpAddMember, []byte{1}, 2)))

	want, err := j.Reduce()
	require.NoError(t, err)

	store := &memStore{}
	require.NoError(t, j.Persist(store))

	restored, err := Restore(ns, store, logging.TestingLog(t))
	require.NoError(t, err)
	require.Equal(t, j.Len(), restored.Len())

	got, err := restored.Reduce()
	require.NoError(t, err)
	require.Equal(t, want.Hash(), got.Hash())
}

func TestRestoreEmptyStore(t *testing.T) {
	testpartition.PartitionTest(t)
	t.Parallel()

	j, err := Restore(testNamespace("bob"), &memStore{}, logging.TestingLog(t))
	require.NoError(t, err)
	require.Zero(t, j.Len())
}
