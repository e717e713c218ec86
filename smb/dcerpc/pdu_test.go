package dcerpc

import "testing"

func TestBuildAndParseBindAck(t *testing.T) {
	abstract := UUID{Data: [16]byte{1, 2, 3}}
	bindPDU := BuildBind(7, 4280, 4280, 0, abstract, 1)
	if len(bindPDU) < 16 {
		t.Fatalf("bind PDU too short: %d bytes", len(bindPDU))
	}
	if bindPDU[2] != PTypeBind {
		t.Errorf("PType = %d, want %d", bindPDU[2], PTypeBind)
	}

	// Synthesize a minimal bind_ack the way a server would: header + secondary
	// address (empty) + one accepted result. sec_addr_len(0) ends at body
	// offset 10, aligned up to 12 before the p_result_t list.
	ack := []byte{
		5, 0, PTypeBindAck, pfcFirstFrag | pfcLastFrag,
		0x10, 0, 0, 0,
		0, 0, // frag length, filled below
		0, 0, // auth length
		7, 0, 0, 0, // call id
		0xd0, 0x10, // max xmit frag
		0xd0, 0x10, // max recv frag
		0, 0, 0, 0, // assoc group
		0, 0, // sec addr len = 0
		0, 0, // alignment padding to offset 12
		1, // num results = 1
		0, 0, 0, // reserved, pads to offset 16
		0, 0, // result: acceptance
		0, 0, 0, 0, // transfer syntax placeholder (not parsed)
	}

	ba, err := ParseBindAck(ack)
	if err != nil {
		t.Fatalf("ParseBindAck: %v", err)
	}
	if ba.CallID != 7 {
		t.Errorf("CallID = %d, want 7", ba.CallID)
	}
	if !ba.ResultAccept {
		t.Error("expected ResultAccept = true")
	}
}

func TestParseBindAckRejectsBindNak(t *testing.T) {
	nak := make([]byte, 16)
	nak[2] = PTypeBindNak
	if _, err := ParseBindAck(nak); err == nil {
		t.Fatal("expected an error for bind_nak")
	}
}

func TestBuildRequestParseResponseRoundTrip(t *testing.T) {
	stub := []byte{0xde, 0xad, 0xbe, 0xef}
	req := BuildRequest(42, 15, stub)
	if len(req) < 16 {
		t.Fatalf("request PDU too short: %d bytes", len(req))
	}

	// Synthesize a response PDU carrying the same stub back.
	respBody := make([]byte, 8)
	resp := append(append([]byte{
		5, 0, PTypeResponse, pfcFirstFrag | pfcLastFrag,
		0x10, 0, 0, 0,
		0, 0,
		0, 0,
		42, 0, 0, 0,
	}, respBody...), stub...)

	out, err := ParseResponse(resp)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if string(out) != string(stub) {
		t.Errorf("stub = %x, want %x", out, stub)
	}
}

func TestParseResponseRejectsFault(t *testing.T) {
	fault := make([]byte, 24)
	fault[2] = PTypeFault
	fault[16+4] = 0x05 // status low byte, nonzero
	if _, err := ParseResponse(fault); err == nil {
		t.Fatal("expected an error for a fault PDU")
	}
}
