package packet

// ChannelRole distinguishes the single shared broadcast channel from the
// several point-to-point channels used only by established unicast links.
type ChannelRole int

const (
	// SH is the shared channel: broadcasts, beacons, link requests/replies,
	// link-info propagation.
	SH ChannelRole = iota
	// PP is a point-to-point channel, used only while a bilateral link is
	// established on it.
	PP
)

func (r ChannelRole) String() string {
	if r == SH {
		return "SH"
	}
	return "PP"
}

// FrequencyChannel is an immutable descriptor for one radio frequency,
// except for Blocked which a node may toggle when it learns the frequency
// is unusable locally (e.g. jammed).
type FrequencyChannel struct {
	Role          ChannelRole
	CenterFreqKHz uint64
	BandwidthKHz  uint64
	Blocked       bool
}

// NewSHChannel returns the immutable descriptor for the shared channel.
func NewSHChannel(centerFreqKHz, bandwidthKHz uint64) FrequencyChannel {
	return FrequencyChannel{Role: SH, CenterFreqKHz: centerFreqKHz, BandwidthKHz: bandwidthKHz}
}

// NewPPChannel returns the immutable descriptor for one point-to-point
// frequency.
func NewPPChannel(centerFreqKHz, bandwidthKHz uint64) FrequencyChannel {
	return FrequencyChannel{Role: PP, CenterFreqKHz: centerFreqKHz, BandwidthKHz: bandwidthKHz}
}

// Equal compares two channels by role and center frequency; bandwidth and
// blocked-state are not identity-bearing.
func (c FrequencyChannel) Equal(o FrequencyChannel) bool {
	return c.Role == o.Role && c.CenterFreqKHz == o.CenterFreqKHz
}
