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

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chorus-net/chorus/testpartition"
)

type codecProbe struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Name    string            `codec:"name"`
	Counter uint64            `codec:"count"`
	Labels  map[string]uint64 `codec:"labels"`
}

func TestEncodeIsCanonical(t *testing.T) {
	testpartition.PartitionTest(t)
	t.Parallel()

	// Map encoding must not depend on iteration order: fact hashes are
	// computed over these bytes.
	probe := codecProbe{Name: "x", Counter: 3, Labels: map[string]uint64{}}
	for _, k := range []string{"c", "a", "b", "e", "d"} {
		probe.Labels[k] = uint64(len(k))
	}
	first := Encode(probe)
	for i := 0; i < 16; i++ {
		require.Equal(t, first, Encode(probe))
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	testpartition.PartitionTest(t)
	t.Parallel()

	in := codecProbe{Name: "probe", Counter: 42, Labels: map[string]uint64{"a": 1}}
	var out codecProbe
	require.NoError(t, Decode(Encode(in), &out))
	require.Equal(t, in, out)

	var buf bytes.Buffer
	EncodeStream(&buf, in)
	var streamed codecProbe
	require.NoError(t, DecodeStream(&buf, &streamed))
	require.Equal(t, in, streamed)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	testpartition.PartitionTest(t)
	t.Parallel()

	type widened struct {
		_struct struct{} `codec:",omitempty,omitemptyarray"`

		Name  string `codec:"name"`
		Extra string `codec:"extra"`
	}
	var out codecProbe
	require.Error(t, Decode(Encode(widened{Name: "x", Extra: "y"}), &out))
}

func TestDecodeGarbage(t *testing.T) {
	testpartition.PartitionTest(t)
	t.Parallel()

	var out codecProbe
	require.Error(t, Decode([]byte{0xc1, 0xff, 0x00}, &out))
}
