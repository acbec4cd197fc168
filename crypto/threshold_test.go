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

package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chorus-net/chorus/protocol"
	"github.com/chorus-net/chorus/testpartition"
)

type testMessage string

func (m testMessage) ToBeHashed() (protocol.HashID, []byte) {
	return protocol.TestHashable, []byte(m)
}

func thresholdFixture(t *testing.T, n int, threshold uint8) (gk Digest, pks []PublicKey, secrets []*SignatureSecrets) {
	for i := 0; i < n; i++ {
		var seed Seed
		seed[0] = byte(i + 1)
		sk := GenerateSignatureSecrets(seed)
		secrets = append(secrets, sk)
		pks = append(pks, sk.SignatureVerifier)
	}
	gk, err := GroupKeyGen(1, threshold, pks)
	require.NoError(t, err)
	return gk, pks, secrets
}

func TestGroupKeyGenRejectsBadParameters(t *testing.T) {
	testpartition.PartitionTest(t)
	t.Parallel()

	_, pks, _ := thresholdFixture(t, 3, 2)

	_, err := GroupKeyGen(2, 2, pks)
	require.Error(t, err, "unknown version")
	_, err = GroupKeyGen(1, 0, pks)
	require.Error(t, err, "zero threshold")
	_, err = GroupKeyGen(1, 4, pks)
	require.Error(t, err, "threshold above group size")
	_, err = GroupKeyGen(1, 1, nil)
	require.Error(t, err, "empty group")
}

func TestGroupKeyBindsMembership(t *testing.T) {
	testpartition.PartitionTest(t)
	t.Parallel()

	_, pks, _ := thresholdFixture(t, 4, 3)

	gk1, err := GroupKeyGen(1, 3, pks)
	require.NoError(t, err)
	gk2, err := GroupKeyGen(1, 2, pks)
	require.NoError(t, err)
	require.NotEqual(t, gk1, gk2, "threshold is part of the key")

	gk3, err := GroupKeyGen(1, 3, pks[:3])
	require.NoError(t, err)
	require.NotEqual(t, gk1, gk3, "membership is part of the key")
}

func TestThresholdSignAssembleVerify(t *testing.T) {
	testpartition.PartitionTest(t)
	t.Parallel()

	gk, pks, secrets := thresholdFixture(t, 4, 3)
	msg := testMessage("attest")

	var partials []ThresholdSig
	for _, sk := range secrets[:3] {
		partial, err := ThresholdSign(msg, gk, 1, 3, pks, sk)
		require.NoError(t, err)
		require.Equal(t, 1, partial.Signatures())
		partials = append(partials, partial)
	}

	sig, err := ThresholdAssemble(partials)
	require.NoError(t, err)
	require.Equal(t, 3, sig.Signatures())
	require.NoError(t, ThresholdVerify(msg, gk, sig))

	require.Error(t, ThresholdVerify(testMessage("other"), gk, sig))
}

func TestThresholdVerifyRequiresThreshold(t *testing.T) {
	testpartition.PartitionTest(t)
	t.Parallel()

	gk, pks, secrets := thresholdFixture(t, 4, 3)
	msg := testMessage("attest")

	var partials []ThresholdSig
	for _, sk := range secrets[:2] {
		partial, err := ThresholdSign(msg, gk, 1, 3, pks, sk)
		require.NoError(t, err)
		partials = append(partials, partial)
	}
	sig, err := ThresholdAssemble(partials)
	require.NoError(t, err)
	require.Equal(t, 2, sig.Signatures())
	require.Error(t, ThresholdVerify(msg, gk, sig), "two of four cannot meet a threshold of three")
}

func TestThresholdAssembleIsShareIdempotent(t *testing.T) {
	testpartition.PartitionTest(t)
	t.Parallel()

	gk, pks, secrets := thresholdFixture(t, 4, 3)
	msg := testMessage("attest")

	p0, err := ThresholdSign(msg, gk, 1, 3, pks, secrets[0])
	require.NoError(t, err)
	p1, err := ThresholdSign(msg, gk, 1, 3, pks, secrets[1])
	require.NoError(t, err)

	// The same share contributed twice fills the same slot.
	sig, err := ThresholdAssemble([]ThresholdSig{p0, p0, p1})
	require.NoError(t, err)
	require.Equal(t, 2, sig.Signatures())
	require.Error(t, ThresholdVerify(msg, gk, sig))
}

func TestThresholdSignRejectsOutsiders(t *testing.T) {
	testpartition.PartitionTest(t)
	t.Parallel()

	gk, pks, _ := thresholdFixture(t, 3, 2)

	var seed Seed
	seed[0] = 0xff
	outsider := GenerateSignatureSecrets(seed)
	_, err := ThresholdSign(testMessage("attest"), gk, 1, 2, pks, outsider)
	require.Error(t, err)
}

func TestThresholdAssembleRejectsGroupMismatch(t *testing.T) {
	testpartition.PartitionTest(t)
	t.Parallel()

	gkA, pksA, secretsA := thresholdFixture(t, 3, 2)
	msg := testMessage("attest")

	var seed Seed
	seed[0] = 0x80
	other := GenerateSignatureSecrets(seed)
	pksB := []PublicKey{pksA[0], pksA[1], other.SignatureVerifier}
	gkB, err := GroupKeyGen(1, 2, pksB)
	require.NoError(t, err)

	pA, err := ThresholdSign(msg, gkA, 1, 2, pksA, secretsA[0])
	require.NoError(t, err)
	pB, err := ThresholdSign(msg, gkB, 1, 2, pksB, other)
	require.NoError(t, err)

	_, err = ThresholdAssemble([]ThresholdSig{pA, pB})
	require.Error(t, err)
}
