package packet

import "testing"

func TestPacketBaseAndAppend(t *testing.T) {
	p := New(BaseHeader{Source: 7, SlotOffset: 12})
	p.Append(LinkRequestHeader{Dest: 9, Timeout: 10}, 256)
	p.Append(BroadcastHeader{}, 64)

	if got := p.Base().Source; got != 7 {
		t.Fatalf("Base().Source = %d, want 7", got)
	}
	if got := p.TotalBits(); got != 320 {
		t.Fatalf("TotalBits() = %d, want 320", got)
	}

	reqs := p.HeadersOfKind(KindLinkRequest)
	if len(reqs) != 1 {
		t.Fatalf("HeadersOfKind(LinkRequest) len = %d, want 1", len(reqs))
	}
	if lr, ok := reqs[0].(LinkRequestHeader); !ok || lr.Dest != 9 {
		t.Fatalf("unexpected link request header: %#v", reqs[0])
	}
}

func TestMacIdString(t *testing.T) {
	cases := map[MacId]string{
		UnsetID:     "unset",
		BroadcastID: "broadcast",
		BeaconID:    "beacon",
		DmeID:       "dme",
		MacId(42):   "id(42)",
	}
	for id, want := range cases {
		if got := id.String(); got != want {
			t.Errorf("MacId(%d).String() = %q, want %q", id, got, want)
		}
	}
}

func TestLinkProposalPeriodSlots(t *testing.T) {
	p := LinkProposal{Period: 3}
	if got, want := p.PeriodSlots(), 40; got != want {
		t.Fatalf("PeriodSlots() = %d, want %d", got, want)
	}
}
