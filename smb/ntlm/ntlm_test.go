package ntlm

import (
	"bytes"
	"encoding/hex"
	"testing"
	"time"
)

// NTOWFv1("password") is a well-known vector used across NTLM implementations.
func TestNTOWFv1KnownVector(t *testing.T) {
	want, _ := hex.DecodeString("8846f7eaee8fb117ad06bdd830b7586c")
	got := NTOWFv1("password")
	if !bytes.Equal(got, want) {
		t.Errorf("NTOWFv1 = %x, want %x", got, want)
	}
}

func TestLMOWFv1Length(t *testing.T) {
	h := LMOWFv1("password")
	if len(h) != 16 {
		t.Fatalf("len(LMOWFv1) = %d, want 16", len(h))
	}
}

func TestNTLMv1ResponseLength(t *testing.T) {
	ntHash := NTOWFv1("password")
	challenge := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	resp := NTLMv1Response(ntHash, challenge)
	if len(resp) != 24 {
		t.Fatalf("len(response) = %d, want 24", len(resp))
	}
}

func TestNTOWFv2Deterministic(t *testing.T) {
	a := NTOWFv2("password", "user", "DOMAIN")
	b := NTOWFv2("password", "user", "DOMAIN")
	if !bytes.Equal(a, b) {
		t.Error("NTOWFv2 is not deterministic for identical inputs")
	}
	c := NTOWFv2("password", "user", "OTHERDOMAIN")
	if bytes.Equal(a, c) {
		t.Error("NTOWFv2 must depend on the domain")
	}
}

func TestNTLMv2ResponseLengthAndDeterminism(t *testing.T) {
	ntowfv2 := NTOWFv2("password", "user", "DOMAIN")
	serverChallenge := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	clientChallenge := []byte{8, 7, 6, 5, 4, 3, 2, 1}
	now := time.Unix(1700000000, 0).UTC()

	avPairs := EncodeAVPairs([]AVPair{
		{ID: MsvAvNbDomainName, Value: []byte("DOMAIN")},
	})
	temp := ClientChallengeBlob(now, clientChallenge, avPairs)
	resp := NTLMv2Response(ntowfv2, serverChallenge, temp)

	if len(resp) != 16+len(temp) {
		t.Fatalf("len(resp) = %d, want %d", len(resp), 16+len(temp))
	}

	// The proof is exactly HMAC-MD5(ntowfv2, serverChallenge||temp); recompute
	// via SessionKeyV2 (same primitive, different message) won't match, so
	// verify instead that the response is stable across calls.
	resp2 := NTLMv2Response(ntowfv2, serverChallenge, temp)
	if !bytes.Equal(resp, resp2) {
		t.Error("NTLMv2Response is not deterministic")
	}
}

func TestEncodeDecodeAVPairsRoundTrip(t *testing.T) {
	in := []AVPair{
		{ID: MsvAvNbDomainName, Value: []byte("DOMAIN")},
		{ID: MsvAvNbComputerName, Value: []byte("HOST")},
	}
	buf := EncodeAVPairs(in)
	out := DecodeAVPairs(buf)

	if len(out) != len(in) {
		t.Fatalf("len(out) = %d, want %d", len(out), len(in))
	}
	for idx := range in {
		if out[idx].ID != in[idx].ID || !bytes.Equal(out[idx].Value, in[idx].Value) {
			t.Errorf("pair[%d] = %+v, want %+v", idx, out[idx], in[idx])
		}
	}
}

func TestDecodeAVPairsStopsAtEOL(t *testing.T) {
	buf := EncodeAVPairs([]AVPair{{ID: MsvAvNbDomainName, Value: []byte("X")}})
	buf = append(buf, 0xAA, 0xBB, 0xCC) // trailing garbage past EOL must be ignored
	out := DecodeAVPairs(buf)
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
}

func TestRandomClientChallengeLength(t *testing.T) {
	c, err := RandomClientChallenge()
	if err != nil {
		t.Fatalf("RandomClientChallenge: %v", err)
	}
	if len(c) != 8 {
		t.Fatalf("len(challenge) = %d, want 8", len(c))
	}
}
