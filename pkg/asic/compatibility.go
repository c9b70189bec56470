package asic

import "fmt"

// CheckCompatibility decides whether profile may be requested on a container
// of the given format. It returns the effective profile: ProfileUnset is
// resolved, and a custom policy turns LT_TM into LT.
//
//	format  requested  custom policy  result
//	ASICE   LT_TM      no             ErrIllegalSignatureProfile
//	ASICS   LT_TM      no             ErrIllegalSignatureProfile
//	any     B_BES..    no             allowed as requested
//	any     unset      yes            LT
//	BDOC    LT_TM      yes            LT
//	ASICE   LT_TM      yes            ErrNotSupported
//	any     other      yes            ErrNotSupported
func CheckCompatibility(format DocumentType, profile Profile, customPolicy bool) (Profile, error) {
	if customPolicy {
		switch profile {
		case ProfileUnset:
			return ProfileLT, nil
		case ProfileLTTM:
			if !format.supportsTimeMark() {
				return ProfileUnset, fmt.Errorf("%w: custom signature policy requires time-mark, which %s does not support",
					ErrNotSupported, format)
			}
			return ProfileLT, nil
		default:
			return ProfileUnset, fmt.Errorf("%w: custom signature policy is only allowed with LT_TM, not %s",
				ErrNotSupported, profile)
		}
	}

	if profile == ProfileUnset {
		profile = DefaultProfile
	}
	if _, ok := profileNames[profile]; !ok {
		return ProfileUnset, fmt.Errorf("%w: unknown profile %d", ErrNotSupported, int(profile))
	}
	if profile == ProfileLTTM && !format.supportsTimeMark() {
		return ProfileUnset, fmt.Errorf("%w: %s is not allowed for %s containers", ErrIllegalSignatureProfile, profile, format)
	}
	return profile, nil
}
