package smb

import "testing"

func TestReceiveBufferSinglePacket(t *testing.T) {
	b := newReceiveBuffer()
	if b.hasCompletePacket() {
		t.Fatal("empty buffer reports a complete packet")
	}

	b.append([]byte{nbSessionMessage, 0x00, 0x00, 0x03, 'a', 'b', 'c'})
	if !b.hasCompletePacket() {
		t.Fatal("buffer with a full 3-byte body does not report complete")
	}

	pkt, err := b.dequeuePacket()
	if err != nil {
		t.Fatalf("dequeuePacket: %v", err)
	}
	if pkt.pType != nbSessionMessage {
		t.Errorf("pType = %x, want %x", pkt.pType, nbSessionMessage)
	}
	if string(pkt.body) != "abc" {
		t.Errorf("body = %q, want %q", pkt.body, "abc")
	}
	if len(b.data) != 0 {
		t.Errorf("buffer not fully drained, %d bytes left", len(b.data))
	}
}

func TestReceiveBufferPartialThenComplete(t *testing.T) {
	b := newReceiveBuffer()
	b.append([]byte{nbSessionMessage, 0x00, 0x00, 0x04, 'h', 'e'})
	if b.hasCompletePacket() {
		t.Fatal("partial packet reported as complete")
	}

	b.append([]byte{'l', 'l', 'o'}) // trailing byte belongs to the next packet
	if !b.hasCompletePacket() {
		t.Fatal("packet should be complete after the rest arrives")
	}

	pkt, err := b.dequeuePacket()
	if err != nil {
		t.Fatalf("dequeuePacket: %v", err)
	}
	if string(pkt.body) != "hell" {
		t.Errorf("body = %q, want %q", pkt.body, "hell")
	}
	if len(b.data) != 1 || b.data[0] != 'o' {
		t.Errorf("leftover bytes = %v, want [%q]", b.data, 'o')
	}
}

func TestReceiveBufferDequeueWithoutCompletePacket(t *testing.T) {
	b := newReceiveBuffer()
	b.append([]byte{nbSessionMessage, 0x00, 0x00, 0x05, 'h', 'i'})
	if _, err := b.dequeuePacket(); err == nil {
		t.Fatal("expected error dequeuing before a complete packet is buffered")
	}
}

func TestReceiveBufferLengthHighBit(t *testing.T) {
	b := newReceiveBuffer()
	// flags byte's bit 0 contributes the 17th length bit (RFC 1001 §4.3.1).
	body := make([]byte, 0x10001)
	b.append([]byte{nbSessionMessage, 0x01, 0x00, 0x01})
	b.append(body)

	length, ok := b.packetLength()
	if !ok || length != 0x10001 {
		t.Fatalf("packetLength() = (%d, %v), want (%d, true)", length, ok, 0x10001)
	}
	if !b.hasCompletePacket() {
		t.Fatal("expected a complete packet")
	}
}
