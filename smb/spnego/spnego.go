// Package spnego wraps NTLM tokens in the SPNEGO GSS-API negotiation
// envelope (RFC 4178) that SMB Session Setup carries. Only the
// single-mechanism NTLM path is implemented; Kerberos mechanism
// negotiation is an explicit non-goal of this client.
package spnego

import (
	"encoding/asn1"
	"fmt"

	"github.com/jfjallid/golog"
	gokrb5asn1tools "github.com/jfjallid/gokrb5/v8/asn1tools"
	forkasn1 "github.com/jfjallid/gofork/encoding/asn1"
)

var log = golog.Get("github.com/pveres/go-smb/smb/spnego")

// OIDs relevant to this client's single-mechanism (NTLM) negotiation.
var (
	OIDSPNEGO  = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 2}
	OIDNTLMSSP = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 2, 2, 10}
)

// negTokenInit mirrors RFC 4178's NegTokenInit: a mechanism-type list plus
// an opaque mechToken (the embedded NTLM Negotiate message).
type negTokenInit struct {
	MechTypes   []asn1.ObjectIdentifier `asn1:"explicit,tag:0"`
	ReqFlags    asn1.BitString          `asn1:"explicit,optional,tag:1"`
	MechToken   []byte                  `asn1:"explicit,optional,tag:2"`
	MechListMIC []byte                  `asn1:"explicit,optional,tag:3"`
}

// negTokenResp mirrors RFC 4178's NegTokenResp, used both for the server's
// interim challenge and the client's final authenticate round in this
// client's two-step exchange.
type negTokenResp struct {
	NegState      asn1.Enumerated `asn1:"explicit,optional,tag:0"`
	SupportedMech asn1.ObjectIdentifier `asn1:"explicit,optional,tag:1"`
	ResponseToken []byte          `asn1:"explicit,optional,tag:2"`
	MechListMIC   []byte          `asn1:"explicit,optional,tag:3"`
}

// WrapNegotiate builds the initial SPNEGO token carrying an NTLM Negotiate
// message: an application-tagged, DER-encoded NegTokenInit.
func WrapNegotiate(ntlmNegotiate []byte) ([]byte, error) {
	body := negTokenInit{
		MechTypes: []asn1.ObjectIdentifier{OIDNTLMSSP},
		MechToken: ntlmNegotiate,
	}
	inner, err := asn1.MarshalWithParams(body, "explicit,tag:0")
	if err != nil {
		return nil, fmt.Errorf("spnego: marshal NegTokenInit: %w", err)
	}
	mech, err := asn1.Marshal(OIDSPNEGO)
	if err != nil {
		return nil, fmt.Errorf("spnego: marshal SPNEGO OID: %w", err)
	}
	// NegTokenInit is itself wrapped in a [0] CONTEXT tag and follows the
	// SPNEGO mechanism OID inside the top-level GSS-API
	// InitialContextToken; gokrb5's asn1tools helper performs the same
	// application-tag wrap used for Kerberos tokens.
	tagged := gokrb5asn1tools.AddASNAppTag(append(mech, inner...), 0)
	return tagged, nil
}

// UnwrapChallenge extracts the embedded NTLM Challenge token from a
// server's NegTokenResp.
func UnwrapChallenge(token []byte) ([]byte, error) {
	var resp negTokenResp
	rest, err := forkasn1.Unmarshal(stripContextTag(token), &resp)
	if err != nil {
		return nil, fmt.Errorf("spnego: unmarshal NegTokenResp: %w", err)
	}
	_ = rest
	if len(resp.ResponseToken) == 0 {
		return nil, fmt.Errorf("spnego: NegTokenResp carries no responseToken")
	}
	return resp.ResponseToken, nil
}

// WrapAuthenticate builds the second-round SPNEGO token carrying the NTLM
// Authenticate message: a bare NegTokenResp (no further app tag, per
// RFC 4178 ยง4.2.2 for subsequent context tokens).
func WrapAuthenticate(ntlmAuthenticate []byte) ([]byte, error) {
	body := negTokenResp{
		ResponseToken: ntlmAuthenticate,
	}
	inner, err := asn1.MarshalWithParams(body, "explicit,tag:1")
	if err != nil {
		return nil, fmt.Errorf("spnego: marshal NegTokenResp: %w", err)
	}
	return inner, nil
}

// stripContextTag removes the outermost [1] CONTEXT constructed tag a
// NegTokenResp is carried in, if present, so the inner SEQUENCE can be
// unmarshaled directly with the standard asn1 package.
func stripContextTag(buf []byte) []byte {
	var raw asn1.RawValue
	if _, err := asn1.Unmarshal(buf, &raw); err != nil {
		log.Debugln("spnego: not a tagged value, assuming bare NegTokenResp:", err)
		return buf
	}
	if raw.Class == asn1.ClassContextSpecific && raw.IsCompound {
		return raw.Bytes
	}
	return buf
}
