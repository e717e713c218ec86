package smb

import (
	"encoding/binary"
	"testing"
)

func TestNewSMB1NegotiateReqMarshalsDialects(t *testing.T) {
	var s Session
	req, err := s.NewSMB1NegotiateReq()
	if err != nil {
		t.Fatalf("NewSMB1NegotiateReq: %v", err)
	}
	if len(req.Dialects) == 0 {
		t.Fatal("expected at least one dialect")
	}

	buf, err := req.MarshalBinary(nil)
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(buf) < 32+1+2 {
		t.Fatalf("marshaled request too short: %d bytes", len(buf))
	}
	if buf[0] != 0xff || string(buf[1:4]) != "SMB" {
		t.Errorf("header signature = %x, want ff SMB", buf[:4])
	}

	byteCount := binary.LittleEndian.Uint16(buf[33:35])
	if int(byteCount) != len(buf)-35 {
		t.Errorf("ByteCount = %d, want %d", byteCount, len(buf)-35)
	}
}

func TestSMB1NegotiateResUnmarshalSelectedDialect(t *testing.T) {
	buf := make([]byte, 32)
	buf[0], buf[1], buf[2], buf[3] = 0xff, 'S', 'M', 'B'
	buf[4] = SMB1CommandNegotiate

	body := []byte{
		0x11,       // WordCount (17 words follow)
		0x06, 0x00, // DialectIndex = 6 (any value; only the parse is checked)
		0x03,       // SecurityMode
		0x32, 0x00, // MaxMpxCount
		0x01, 0x00, // MaxVcCount
		0x00, 0x00, 0x01, 0x00, // MaxBufSize
		0x00, 0x00, 0x01, 0x00, // MaxRawSize
		0x00, 0x00, 0x00, 0x00, // SessionKey
		0x00, 0x00, 0x00, 0x80, // Capabilities
		0, 0, 0, 0, 0, 0, 0, 0, // SystemTime
		0x00, 0x00, // TimeZone
		0x00,       // KeyLength
		0x00, 0x00, // ByteCount
	}
	buf = append(buf, body...)

	var res SMB1NegotiateRes
	if err := res.UnmarshalBinary(buf, nil); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if res.DialectIndex != 6 {
		t.Errorf("DialectIndex = %d, want 6", res.DialectIndex)
	}
	if res.SecurityMode != 0x03 {
		t.Errorf("SecurityMode = %#x, want 0x03", res.SecurityMode)
	}
}

func TestSMB1NegotiateResUnmarshalNoCommonDialect(t *testing.T) {
	buf := make([]byte, 32)
	buf[0], buf[1], buf[2], buf[3] = 0xff, 'S', 'M', 'B'
	buf = append(buf, make([]byte, 5)...) // WordCount=0 plus padding to the 37-byte minimum

	var res SMB1NegotiateRes
	if err := res.UnmarshalBinary(buf, nil); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if res.DialectIndex != 0xFFFF {
		t.Errorf("DialectIndex = %#x, want 0xFFFF", res.DialectIndex)
	}
}

func TestDecodeSMB1MessageSplitsHeaderAndBody(t *testing.T) {
	buf := make([]byte, 32)
	buf[0], buf[1], buf[2], buf[3] = 0xff, 'S', 'M', 'B'
	buf[4] = SMB1CommandNegotiate
	buf = append(buf, []byte{1, 2, 3}...)

	msg, err := decodeSMB1Message(buf)
	if err != nil {
		t.Fatalf("decodeSMB1Message: %v", err)
	}
	if msg.Header.Command != SMB1CommandNegotiate {
		t.Errorf("Command = %#x, want %#x", msg.Header.Command, SMB1CommandNegotiate)
	}
	if len(msg.Body) != 3 || msg.Body[0] != 1 {
		t.Errorf("Body = %v, want [1 2 3]", msg.Body)
	}
}

func TestDecodeSMB1MessageRejectsShortBuffer(t *testing.T) {
	if _, err := decodeSMB1Message(make([]byte, 10)); err == nil {
		t.Fatal("expected an error for a buffer shorter than the 32-byte header")
	}
}
