package smb

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestSMB1HeaderDefaults(t *testing.T) {
	s := &Session{uidSMB1: 7}
	h := s.smb1HeaderDefaults(smb1CommandSessionSetupAndX)

	if h.Command != smb1CommandSessionSetupAndX {
		t.Errorf("Command = %#x, want %#x", h.Command, smb1CommandSessionSetupAndX)
	}
	if h.UID != 7 {
		t.Errorf("UID = %d, want 7", h.UID)
	}
	if h.TID != 0xffff {
		t.Errorf("TID = %#x, want 0xffff", h.TID)
	}
	if len(h.SecurityFeatures) != 8 {
		t.Errorf("len(SecurityFeatures) = %d, want 8", len(h.SecurityFeatures))
	}
}

func TestEncodeHeaderBytesAndXPrependsHeader(t *testing.T) {
	s := &Session{}
	h := s.smb1HeaderDefaults(smb1CommandLogoffAndX)
	body := []byte{1, 2, 3}

	frame, err := encodeHeaderBytesAndX(h, body)
	if err != nil {
		t.Fatalf("encodeHeaderBytesAndX: %v", err)
	}
	if len(frame) != 32+len(body) {
		t.Fatalf("len(frame) = %d, want %d", len(frame), 32+len(body))
	}
	if !bytes.Equal(frame[32:], body) {
		t.Errorf("trailing bytes = %v, want %v", frame[32:], body)
	}
	if frame[0] != 0xff || string(frame[1:4]) != "SMB" {
		t.Errorf("signature = %x, want ff SMB", frame[:4])
	}
}

func TestExtractSMB1SecurityBlob(t *testing.T) {
	blob := []byte{0xAA, 0xBB, 0xCC, 0xDD}

	body := new(bytes.Buffer)
	wordCount := byte(4)
	body.WriteByte(wordCount)
	body.Write(make([]byte, 2*3)) // three AndX-style filler words
	binary.Write(body, binary.LittleEndian, uint16(len(blob))) // SecurityBlobLength, the 4th word
	byteCount := uint16(len(blob))
	binary.Write(body, binary.LittleEndian, byteCount)
	body.Write(blob)

	got, err := extractSMB1SecurityBlob(body.Bytes())
	if err != nil {
		t.Fatalf("extractSMB1SecurityBlob: %v", err)
	}
	if !bytes.Equal(got, blob) {
		t.Errorf("got %x, want %x", got, blob)
	}
}

func TestExtractSMB1SecurityBlobRejectsTooFewWords(t *testing.T) {
	body := []byte{2, 0, 0, 0, 0, 0, 0} // wordCount=2, below the required 4
	if _, err := extractSMB1SecurityBlob(body); err == nil {
		t.Fatal("expected an error for a response missing SecurityBlobLength")
	}
}

func TestSMB1LoginPreExtendedRejectsExtendedSessionSecurity(t *testing.T) {
	s := &Session{}
	s.caps.serverChallenge = []byte{1, 2, 3, 4, 5, 6, 7, 8}
	err := s.smb1Login(NTLMv1ExtendedSessionSecurity, "DOMAIN", "user", "pass")
	if err == nil {
		t.Fatal("expected an error rejecting NTLMv1ExtendedSessionSecurity on the pre-extended-security path")
	}
}
