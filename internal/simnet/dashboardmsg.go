package simnet

// DashboardMsg is a JSON message streamed to a dashboard client over the
// websocket feed, grounded on protocol.go's ControlMsg shape (one struct,
// one field per message kind, zero-value fields omitted) — repurposed
// from chat/voice state to slot-level simulation state.
type DashboardMsg struct {
	Type  string     `json:"type"`
	Slot  int64      `json:"slot,omitempty"`
	Nodes []NodeInfo `json:"nodes,omitempty"`
	Event *EventInfo `json:"event,omitempty"`
	Run   *RunInfo   `json:"run,omitempty"`
}

// NodeInfo is a brief snapshot of one node's counters, used in "tick"
// messages.
type NodeInfo struct {
	ID                     int32 `json:"id"`
	Collisions             int64 `json:"collisions"`
	DMEDropped             int64 `json:"dme_dropped"`
	ChannelErrorsDropped   int64 `json:"channel_errors_dropped"`
	DutyCycleThrottled     int64 `json:"duty_cycle_throttled"`
	ExceededMaxAttempts    int64 `json:"exceeded_max_attempts"`
	ThirdPartyRequestsRcvd int64 `json:"third_party_requests_rcvd"`
	ThirdPartyRepliesRcvd  int64 `json:"third_party_replies_rcvd"`
	LinksEstablished       int64 `json:"links_established"`
	LinksTornDown          int64 `json:"links_torn_down"`
}

// EventInfo is one trace event, used in "event" messages pushed as soon
// as they happen rather than batched into the next tick.
type EventInfo struct {
	Slot   int64  `json:"slot"`
	NodeID int32  `json:"node_id"`
	Kind   string `json:"kind"`
	Peer   int32  `json:"peer,omitempty"`
}

// RunInfo describes the run a dashboard client just connected to, sent
// once as the first message on every new connection.
type RunInfo struct {
	RunID    string `json:"run_id"`
	RunLabel string `json:"run_label"`
	NumNodes int    `json:"num_nodes"`
}
