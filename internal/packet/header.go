package packet

// HeaderKind tags which concrete header variant a Header value holds.
type HeaderKind int

const (
	KindBase HeaderKind = iota
	KindBroadcast
	KindBeacon
	KindUnicast
	KindLinkRequest
	KindLinkReply
	KindLinkInfo
)

func (k HeaderKind) String() string {
	switch k {
	case KindBase:
		return "base"
	case KindBroadcast:
		return "broadcast"
	case KindBeacon:
		return "beacon"
	case KindUnicast:
		return "unicast"
	case KindLinkRequest:
		return "link_request"
	case KindLinkReply:
		return "link_reply"
	case KindLinkInfo:
		return "link_info"
	default:
		return "unknown"
	}
}

// Header is implemented by every concrete header variant. A Packet's first
// header is always a BaseHeader; the rest is an ordered sequence of any
// other variant.
type Header interface {
	Kind() HeaderKind
}

// BaseHeader is always the first header of a packet. SlotOffset advertises
// the number of slots from now at which the sender's next SH transmission
// (or, for PP traffic, the link's next burst) will occur, so receivers can
// pre-mark the matching RX cell.
type BaseHeader struct {
	Source     MacId
	SlotOffset int
	// BurstLengthTx is the sender's most recently used TX burst length,
	// reported so the peer can size burst_length_rx on its next proposal
	// cycle.
	BurstLengthTx int
}

func (BaseHeader) Kind() HeaderKind { return KindBase }

// BroadcastHeader marks a packet as best-effort broadcast data.
type BroadcastHeader struct{}

func (BroadcastHeader) Kind() HeaderKind { return KindBroadcast }

// BeaconHeader marks a packet as a beacon. Payload (carried alongside in the
// packet's Entry) holds a snapshot of the sender's local reservations.
type BeaconHeader struct {
	// CPRPosition is an opaque, uninterpreted position field. No geographic
	// math is performed on it anywhere in this port.
	CPRPosition [6]byte
}

func (BeaconHeader) Kind() HeaderKind { return KindBeacon }

// UnicastHeader marks PP payload data addressed to a specific peer.
type UnicastHeader struct {
	Dest MacId
}

func (UnicastHeader) Kind() HeaderKind { return KindUnicast }

// LinkRequestHeader proposes a bilateral link to Dest.
type LinkRequestHeader struct {
	Dest          MacId
	Proposals     []LinkProposal
	ReplyOffset   int // slot offset, relative to this transmission, of the expected reply
	Timeout       int // number of bursts before the link expires
	BurstLengthTx int
	BurstLengthRx int
	BurstOffset   int
}

func (LinkRequestHeader) Kind() HeaderKind { return KindLinkRequest }

// LinkReplyHeader answers a LinkRequestHeader, naming the chosen resource.
type LinkReplyHeader struct {
	Dest          MacId
	Channel       FrequencyChannel
	SlotOffset    int // relative to the transmission of the request being answered
	BurstLengthTx int
	BurstLengthRx int
	BurstOffset   int
	Timeout       int
}

func (LinkReplyHeader) Kind() HeaderKind { return KindLinkReply }

// LinkInfoHeader propagates link-state information (kept opaque at this
// layer; its payload is not interpreted by the core beyond routing).
type LinkInfoHeader struct {
	Initiator MacId
	Recipient MacId
}

func (LinkInfoHeader) Kind() HeaderKind { return KindLinkInfo }
