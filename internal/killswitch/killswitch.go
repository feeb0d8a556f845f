// Package killswitch forces advisory mode. It imports nothing so it stays
// callable when every other package is broken.
package killswitch

// ModeAdvisory is the only mode the kill switch can produce.
const ModeAdvisory = "advisory"

// DefaultReason is used when Apply is called without a reason.
const DefaultReason = "kill switch engaged: autonomous dispatch disabled, advisory mode forced"

// Decision is the unconditional override result.
type Decision struct {
	Mode              string `json:"mode"`
	ActivationBlocked bool   `json:"activation_blocked"`
	Reason            string `json:"reason"`
}

// Apply returns an advisory decision with activation blocked. The first
// non-blank reason wins; otherwise DefaultReason is used.
func Apply(reason ...string) Decision {
	chosen := DefaultReason
	for _, r := range reason {
		if !isBlank(r) {
			chosen = r
			break
		}
	}
	return Decision{
		Mode:              ModeAdvisory,
		ActivationBlocked: true,
		Reason:            chosen,
	}
}

func isBlank(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r', '\v', '\f':
		default:
			return false
		}
	}
	return true
}
