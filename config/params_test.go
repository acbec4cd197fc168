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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chorus-net/chorus/testpartition"
)

func TestDefaultParamsValidate(t *testing.T) {
	testpartition.PartitionTest(t)
	t.Parallel()

	require.NoError(t, DefaultParams.Validate())
	require.Equal(t, uint64(512), DefaultParams.SafetyMargin())
}

func TestValidateRejectsDegenerateParams(t *testing.T) {
	testpartition.PartitionTest(t)
	t.Parallel()

	p := DefaultParams
	p.GossipFanout = 0
	require.Error(t, p.Validate())

	p = DefaultParams
	p.SkipWindow = 0
	require.Error(t, p.Validate())
}
