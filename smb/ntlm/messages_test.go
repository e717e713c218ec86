package ntlm

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestNegotiateMessageHasSignatureAndType(t *testing.T) {
	msg := NegotiateMessage("DOMAIN", "HOST", DefaultNegotiateFlags)
	if !bytes.Equal(msg[:8], signature) {
		t.Fatalf("signature = %x, want %x", msg[:8], signature)
	}
	if got := binary.LittleEndian.Uint32(msg[8:12]); got != TypeNegotiate {
		t.Errorf("type = %d, want %d", got, TypeNegotiate)
	}
}

// buildChallengeMessage constructs a minimal, well-formed type-2 token for
// ParseChallengeMessage to exercise, mirroring the layout NegotiateMessage
// and AuthenticateMessage use for their own fields.
func buildChallengeMessage(targetName string, flags uint32, serverChallenge, targetInfo []byte) []byte {
	buf := new(bytes.Buffer)
	payload := new(bytes.Buffer)

	buf.Write(signature)
	binary.Write(buf, binary.LittleEndian, TypeChallenge)
	writeField(buf, 48, payload, []byte(targetName)) // header ends at offset 48
	binary.Write(buf, binary.LittleEndian, flags)
	buf.Write(serverChallenge)
	buf.Write(make([]byte, 8)) // reserved
	writeField(buf, 48, payload, targetInfo)

	buf.Write(payload.Bytes())
	return buf.Bytes()
}

func TestParseChallengeMessageRoundTrip(t *testing.T) {
	serverChallenge := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	targetInfo := EncodeAVPairs([]AVPair{{ID: MsvAvNbDomainName, Value: []byte("DOMAIN")}})

	raw := buildChallengeMessage("DOMAIN", DefaultNegotiateFlags, serverChallenge, targetInfo)
	msg, err := ParseChallengeMessage(raw)
	if err != nil {
		t.Fatalf("ParseChallengeMessage: %v", err)
	}

	if msg.TargetName != "DOMAIN" {
		t.Errorf("TargetName = %q, want %q", msg.TargetName, "DOMAIN")
	}
	if !bytes.Equal(msg.ServerChallenge, serverChallenge) {
		t.Errorf("ServerChallenge = %x, want %x", msg.ServerChallenge, serverChallenge)
	}
	if !bytes.Equal(msg.TargetInfo, targetInfo) {
		t.Errorf("TargetInfo = %x, want %x", msg.TargetInfo, targetInfo)
	}
}

func TestParseChallengeMessageRejectsWrongSignature(t *testing.T) {
	bogus := make([]byte, 32)
	copy(bogus, []byte("NOTNTLM\x00"))
	if _, err := ParseChallengeMessage(bogus); err == nil {
		t.Fatal("expected an error for a non-NTLMSSP buffer")
	}
}

func TestAuthenticateMessageContainsResponses(t *testing.T) {
	params := AuthenticateParams{
		Domain:      "DOMAIN",
		User:        "user",
		Workstation: "HOST",
		LMResponse:  bytes.Repeat([]byte{0xAA}, 24),
		NTResponse:  bytes.Repeat([]byte{0xBB}, 24),
		SessionKey:  bytes.Repeat([]byte{0xCC}, 16),
	}
	msg := AuthenticateMessage(params)

	if !bytes.Contains(msg, params.LMResponse) {
		t.Error("authenticate message does not contain the LM response")
	}
	if !bytes.Contains(msg, params.NTResponse) {
		t.Error("authenticate message does not contain the NT response")
	}
	if !bytes.Contains(msg, []byte("DOMAIN")) {
		t.Error("authenticate message does not contain the domain")
	}
}
