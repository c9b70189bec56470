package asic

import (
	"fmt"
	"strings"
)

// Profile is a signature level.
type Profile int

const (
	// ProfileUnset lets the builder pick the effective profile.
	ProfileUnset Profile = iota
	ProfileBBES
	ProfileBEPES
	ProfileLT
	ProfileLTTM
	ProfileLTA
)

// DefaultProfile is used when neither the caller nor a policy implies one.
const DefaultProfile = ProfileLT

var profileNames = map[Profile]string{
	ProfileBBES:  "B_BES",
	ProfileBEPES: "B_EPES",
	ProfileLT:    "LT",
	ProfileLTTM:  "LT_TM",
	ProfileLTA:   "LTA",
}

// String returns the profile name.
func (p Profile) String() string {
	if s, ok := profileNames[p]; ok {
		return s
	}
	return "UNSET"
}

// ParseProfile parses a profile name, case-insensitively.
func ParseProfile(s string) (Profile, error) {
	n := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for p, name := range profileNames {
		if name == n {
			return p, nil
		}
	}
	return ProfileUnset, fmt.Errorf("%w: unknown signature profile %q", ErrNotSupported, s)
}

// Profiles returns every concrete profile in level order.
func Profiles() []Profile {
	return []Profile{ProfileBBES, ProfileBEPES, ProfileLT, ProfileLTTM, ProfileLTA}
}

// step is one piece of post-processing run after the value is embedded.
type step int

const (
	stepOCSP step = iota
	stepTimeMarkOCSP
	stepSignatureTimestamp
	stepArchiveTimestamp
)

func (s step) String() string {
	switch s {
	case stepOCSP:
		return "ocsp"
	case stepTimeMarkOCSP:
		return "time-mark ocsp"
	case stepSignatureTimestamp:
		return "signature timestamp"
	case stepArchiveTimestamp:
		return "archive timestamp"
	}
	return "unknown"
}

// postProcessing maps each profile to the evidence it requires at finalize.
var postProcessing = map[Profile][]step{
	ProfileBBES:  nil,
	ProfileBEPES: nil,
	ProfileLT:    {stepOCSP, stepSignatureTimestamp},
	ProfileLTTM:  {stepTimeMarkOCSP},
	ProfileLTA:   {stepOCSP, stepSignatureTimestamp, stepArchiveTimestamp},
}

// embedsPolicy reports whether the profile carries an explicit policy.
func (p Profile) embedsPolicy() bool {
	return p == ProfileBEPES || p == ProfileLTTM
}

// hasTemporalEvidence reports whether finalize contacts OCSP for p.
func (p Profile) hasTemporalEvidence() bool {
	return len(postProcessing[p]) > 0
}

// extensionSteps returns the evidence to append when raising from to target.
// Evidence already present is never repeated. The policy is signed content,
// so B_EPES cannot be reached by extension and LT_TM only from B_EPES. An LT
// signature is anchored by its timestamp; a time-mark appended after it would
// be indistinguishable from LT_TM extended to LT, so LT to LT_TM is refused.
func extensionSteps(from, target Profile) ([]step, error) {
	illegal := fmt.Errorf("%w: cannot extend %s to %s", ErrIllegalSignatureProfile, from, target)
	switch {
	case from == ProfileUnset || target == ProfileUnset:
		return nil, illegal
	case from == ProfileLTTM && target == ProfileLT:
		return []step{stepSignatureTimestamp}, nil
	case from == ProfileLTTM && target == ProfileLTA:
		return []step{stepSignatureTimestamp, stepArchiveTimestamp}, nil
	case target <= from:
		return nil, illegal
	case target == ProfileBEPES:
		return nil, illegal
	case target == ProfileLTTM && from != ProfileBEPES:
		return nil, illegal
	case from == ProfileLT && target == ProfileLTA:
		return []step{stepArchiveTimestamp}, nil
	}
	return postProcessing[target], nil
}
