package spnego

import (
	"bytes"
	"testing"
)

func TestWrapNegotiateProducesApplicationTag(t *testing.T) {
	token, err := WrapNegotiate([]byte("fake-ntlm-negotiate"))
	if err != nil {
		t.Fatalf("WrapNegotiate: %v", err)
	}
	if len(token) == 0 {
		t.Fatal("empty token")
	}
	// GSS-API InitialContextToken is tagged [APPLICATION 0], DER tag byte 0x60.
	if token[0] != 0x60 {
		t.Errorf("leading tag byte = %#x, want 0x60", token[0])
	}
}

func TestWrapAuthenticateUnwrapChallengeRoundTrip(t *testing.T) {
	ntlmAuth := []byte("fake-ntlm-authenticate-message")

	token, err := WrapAuthenticate(ntlmAuth)
	if err != nil {
		t.Fatalf("WrapAuthenticate: %v", err)
	}

	got, err := UnwrapChallenge(token)
	if err != nil {
		t.Fatalf("UnwrapChallenge: %v", err)
	}
	if !bytes.Equal(got, ntlmAuth) {
		t.Errorf("got %q, want %q", got, ntlmAuth)
	}
}

func TestUnwrapChallengeRejectsEmptyResponseToken(t *testing.T) {
	token, err := WrapAuthenticate(nil)
	if err != nil {
		t.Fatalf("WrapAuthenticate: %v", err)
	}
	if _, err := UnwrapChallenge(token); err == nil {
		t.Fatal("expected an error for a NegTokenResp with no responseToken")
	}
}
