package packet

// LinkProposal is a single {channel, slot, period, burst lengths} tuple
// offered inside a LinkRequest or chosen inside a LinkReply.
type LinkProposal struct {
	Channel          FrequencyChannel
	SlotOffset       int
	Period           int // encoded period index p; the exchange repeats every PeriodSlots() slots
	NumTxInitiator   int
	NumTxRecipient   int
	SlotDurationUsec int
}

// PeriodSlots decodes the proposal's period index into a slot count: the
// communication exchange repeats every 5·2^p slots.
func (p LinkProposal) PeriodSlots() int {
	return 5 << uint(p.Period)
}
