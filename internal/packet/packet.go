package packet

// Entry pairs one header with its (possibly empty) payload. Payload size is
// tracked only as a bit count: on-wire byte encoding is out of scope for
// this port.
type Entry struct {
	Header     Header
	PayloadBit int
}

// Packet is an ordered sequence of (header, payload) entries. The first
// entry's header is always a BaseHeader. Ownership transfers to the PHY at
// transmission and to the MAC core at reception, matching a DatagramSender
// hand-off pattern of transferring a buffer once sent.
type Packet struct {
	Entries []Entry

	// SNR, HasChannelError and IsDME are reception-side metadata set by
	// the PHY; they are meaningless (zero) on a freshly produced packet.
	SNR             float64
	HasChannelError bool
	IsDME           bool
}

// New builds a packet whose first entry is the given base header.
func New(base BaseHeader) *Packet {
	return &Packet{Entries: []Entry{{Header: base}}}
}

// Base returns the packet's mandatory first header. Panics if called on a
// packet that was not built through New (a programming error, not a
// runtime condition — every packet in this codebase is built via New).
func (p *Packet) Base() BaseHeader {
	return p.Entries[0].Header.(BaseHeader)
}

// Append adds a non-base header (with optional payload bit count) to the
// packet and returns the packet for chaining.
func (p *Packet) Append(h Header, payloadBits int) *Packet {
	p.Entries = append(p.Entries, Entry{Header: h, PayloadBit: payloadBits})
	return p
}

// TotalBits sums the payload bits carried across all entries. Header sizes
// are opaque and are not added in.
func (p *Packet) TotalBits() int {
	n := 0
	for _, e := range p.Entries {
		n += e.PayloadBit
	}
	return n
}

// HeadersOfKind returns every non-base header in the packet matching kind,
// in order. Used by the SH parser to route LinkRequest/LinkReply/LinkInfo
// headers without caring about their position among broadcast/data headers.
func (p *Packet) HeadersOfKind(kind HeaderKind) []Header {
	var out []Header
	for _, e := range p.Entries[1:] {
		if e.Header.Kind() == kind {
			out = append(out, e.Header)
		}
	}
	return out
}
