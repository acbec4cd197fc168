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

// A (t,n) threshold signature over a fixed witness group.  Each witness holds
// an ordinary keypair; a combined signature is valid once at least t of the n
// group members contributed a subsignature over the same message.  The design
// upstream of this package is parametric over the primitive, so everything a
// consumer touches is the ThresholdSig / GroupKey pair plus the three verbs
// ThresholdSign, ThresholdAssemble and ThresholdVerify.

// ThresholdSubsig is a struct that holds a pair of public key and signatures
// signatures may be empty
type ThresholdSubsig struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Key PublicKey `codec:"pk"` // all public keys that are possible signers for this group
	Sig Signature `codec:"s"`  // may be either empty or a signature
}

// ThresholdSig is the structure that holds multiple Subsigs
type ThresholdSig struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Version   uint8             `codec:"v"`
	Threshold uint8             `codec:"thr"`
	Subsigs   []ThresholdSubsig `codec:"subsig"`
}

// Blank returns true iff the sig is empty. We need this instead of just
// comparing with == ThresholdSig{}, because Subsigs is a slice.
func (sig ThresholdSig) Blank() bool {
	if sig.Version != 0 {
		return false
	}
	if sig.Threshold != 0 {
		return false
	}
	if sig.Subsigs != nil {
		return false
	}
	return true
}

// Signatures returns the actual number of signatures included in the
// threshold sig. That is, the number of subsigs that are not blank.
func (sig ThresholdSig) Signatures() int {
	sigs := 0
	for i := range sig.Subsigs {
		if !sig.Subsigs[i].Sig.Blank() {
			sigs++
		}
	}
	return sigs
}

const groupKeyString = "ChorusGroupKey"
const maxGroupSize = 255

// GroupKeyGen identifies the exact group, version, and keys that it requires
// to sign: Hash("ChorusGroupKey" || version uint8 || threshold uint8 || PK1 || PK2 || ...)
func GroupKeyGen(version, threshold uint8, pk []PublicKey) (gk Digest, err error) {
	if version != 1 {
		err = errUnknownVersion
		return
	}

	if threshold == 0 || len(pk) == 0 || int(threshold) > len(pk) || len(pk) > maxGroupSize {
		err = errorinvalidthreshold
		return
	}

	buffer := append([]byte(groupKeyString), byte(version), byte(threshold))
	for _, pki := range pk {
		buffer = append(buffer, pki[:]...)
	}
	return Hash(buffer), nil
}

// GroupKeyGenWithSubsigs is similar to GroupKeyGen
// except the input is []Subsig rather than []PublicKey
func GroupKeyGenWithSubsigs(version uint8, threshold uint8,
	subsigs []ThresholdSubsig) (gk Digest, err error) {

	if version != 1 {
		err = errUnknownVersion
		return
	}

	if threshold == 0 || len(subsigs) == 0 || int(threshold) > len(subsigs) || len(subsigs) > maxGroupSize {
		err = errorinvalidthreshold
		return
	}

	buffer := append([]byte(groupKeyString), byte(version), byte(threshold))
	for _, subsigsi := range subsigs {
		buffer = append(buffer, subsigsi.Key[:]...)
	}
	return Hash(buffer), nil
}

// ThresholdSign has each witness individually sign the message, producing a
// partial ThresholdSig carrying exactly one subsignature.
func ThresholdSign(msg Hashable, gk Digest, version, threshold uint8, pk []PublicKey, sk *SignatureSecrets) (sig ThresholdSig, err error) {
	if version != 1 {
		err = errUnknownVersion
		return
	}

	// check the group key matches the keys
	gknew, err := GroupKeyGen(version, threshold, pk)
	if err != nil {
		return
	}
	if gk != gknew {
		err = errorinvalidgroupkey
		return
	}

	// setup parameters
	sig.Version = version
	sig.Threshold = threshold
	sig.Subsigs = make([]ThresholdSubsig, len(pk))

	// check if sk.pk exists in the pk list
	keyexist := len(pk)
	for i := 0; i < len(pk); i++ {
		if sk.SignatureVerifier == pk[i] {
			keyexist = i
		}
	}
	if keyexist == len(pk) {
		err = errorkeynotexist
		return
	}

	for i := 0; i < len(pk); i++ {
		sig.Subsigs[i].Key = pk[i]
		if sk.SignatureVerifier == pk[i] {
			sig.Subsigs[i].Sig = sk.Sign(msg)
		}
	}
	return
}

// ThresholdAssemble assembles multiple partial ThresholdSigs over the same
// group into one combined signature.  Assembly is share-idempotent: the same
// partial contributed twice fills the same subsig slot, it never counts twice.
func ThresholdAssemble(partials []ThresholdSig) (sig ThresholdSig, err error) {
	if len(partials) < 1 {
		err = errorinvalidnumberofsig
		return
	}

	// check that all partials describe the same group
	for i := 1; i < len(partials); i++ {
		if partials[0].Threshold != partials[i].Threshold {
			err = errorinvalidthreshold
			return
		}
		if partials[0].Version != partials[i].Version {
			err = errUnknownVersion
			return
		}
		if len(partials[0].Subsigs) != len(partials[i].Subsigs) {
			err = errorinvalidnumberofsignature
			return
		}
		for j := 0; j < len(partials[0].Subsigs); j++ {
			if partials[0].Subsigs[j].Key != partials[i].Subsigs[j].Key {
				err = errorkeysnotmatch
				return
			}
		}
	}

	sig.Version = partials[0].Version
	sig.Threshold = partials[0].Threshold
	sig.Subsigs = make([]ThresholdSubsig, len(partials[0].Subsigs))

	for i := 0; i < len(partials[0].Subsigs); i++ {
		sig.Subsigs[i].Key = partials[0].Subsigs[i].Key
	}
	for i := 0; i < len(partials); i++ {
		for j := 0; j < len(partials[0].Subsigs); j++ {
			if !partials[i].Subsigs[j].Sig.Blank() {
				sig.Subsigs[j].Sig = partials[i].Subsigs[j].Sig
			}
		}
	}
	return
}

// ThresholdVerify verifies an assembled ThresholdSig.  Verification cost is
// constant in the group size bound, independent of message provenance.
func ThresholdVerify(msg Hashable, gk Digest, sig ThresholdSig) (err error) {
	if len(sig.Subsigs) == 0 {
		return errorinvalidnumberofsignature
	}

	// check the group key is correct
	gknew, err := GroupKeyGenWithSubsigs(sig.Version, sig.Threshold, sig.Subsigs)
	if err != nil {
		return
	}
	if gk != gknew {
		return errorinvalidgroupkey
	}

	if len(sig.Subsigs) > maxGroupSize {
		return errorinvalidnumberofsignature
	}

	// checks the number of non-blank signatures is no less than threshold
	if sig.Signatures() < int(sig.Threshold) {
		return errorinvalidnumberofsignature
	}

	// checks individual signatures
	for _, subsigi := range sig.Subsigs {
		if subsigi.Sig.Blank() {
			continue
		}
		if !subsigi.Key.Verify(msg, subsigi.Sig) {
			return errorsubsigverification
		}
	}

	return nil
}
