package smb

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pveres/go-smb/smb/encoder"
	"github.com/pveres/go-smb/smb/ntlm"
	"github.com/pveres/go-smb/smb/spnego"
)

// SMB1 commands beyond Negotiate that this client issues.
const (
	smb1CommandSessionSetupAndX byte = 0x73
	smb1CommandTreeConnectAndX  byte = 0x75
	smb1CommandLogoffAndX       byte = 0x74
)

// SMB1 Flags2 bits this client sets (MS-CIFS §2.2.3.1).
const (
	smb1Flags2LongNames        uint16 = 0x0001
	smb1Flags2ExtendedSecurity uint16 = 0x0800
	smb1Flags2NTStatus         uint16 = 0x4000
	smb1Flags2Unicode          uint16 = 0x8000
)

// smb1HeaderDefaults fills the fields every outbound SMB1 request shares
// (spec.md §4.G "header defaults"): protocol signature, flags advertising
// long names/NT status codes, Unicode and extended security only once the
// negotiated dialect actually offers them, the session's UID, and TID
// 0xFFFF, which callers bound to a tree overwrite.
func (s *Session) smb1HeaderDefaults(command byte) SMB1Header {
	s.mu.Lock()
	unicode := s.caps.unicode
	extendedSecurity := s.caps.serverChallenge == nil
	s.mu.Unlock()

	flags2 := smb1Flags2LongNames | smb1Flags2NTStatus
	if unicode {
		flags2 |= smb1Flags2Unicode
	}
	if extendedSecurity {
		flags2 |= smb1Flags2ExtendedSecurity
	}

	return SMB1Header{
		Protocol:         append([]byte(nil), protocolSMB1...),
		Command:          command,
		Flags:            0x18,
		Flags2:           flags2,
		SecurityFeatures: make([]byte, 8),
		TID:              0xffff,
		UID:              s.uidSMB1,
		MID:              smb1RequestMID,
	}
}

// smb1ClientCapabilities returns the Capabilities this client advertises
// in its own SessionSetupAndX request: the NT-style baseline every
// request after Negotiate relies on, plus extended security only for the
// extended-security login path.
func smb1ClientCapabilities(extendedSecurity bool) uint32 {
	caps := capNTSMBs | capStatus32 | capRpcRemoteAPIs | capLargeFiles | capUnicode
	if extendedSecurity {
		caps |= capExtendedSecurity
	}
	return caps
}

// smb1Login dispatches to whichever Session Setup AndX shape Negotiate
// committed this connection to (spec.md §4.G): a server that advertised
// CAP_EXTENDED_SECURITY gets the SPNEGO/NTLM two-round exchange; one that
// didn't gets the legacy one-shot NTLMv1/v2 response path.
func (s *Session) smb1Login(method AuthMethod, domain, user, password string) error {
	s.mu.Lock()
	serverChallenge := s.caps.serverChallenge
	s.mu.Unlock()

	if serverChallenge != nil {
		return s.smb1LoginPreExtended(method, domain, user, password, serverChallenge)
	}
	return s.smb1LoginExtended(method, domain, user, password)
}

// smb1LoginExtended drives the extended-security Session Setup AndX path:
// the same SPNEGO/NTLM two-round exchange SMB2 uses, carried over SMB1
// AndX frames instead of SMB2 headers.
func (s *Session) smb1LoginExtended(method AuthMethod, domain, user, password string) error {
	negotiateMsg := ntlm.NegotiateMessage(domain, s.opts.HostName, ntlm.DefaultNegotiateFlags)
	spnegoInit, err := spnego.WrapNegotiate(negotiateMsg)
	if err != nil {
		return err
	}

	s.t.send(encodeSessionSetupAndXRequestFrame(s, spnegoInit))

	resp1, err := s.inbox.waitForSMB1(smb1CommandSessionSetupAndX, smb1WaitTimeout)
	if err != nil {
		return err
	}
	if NTStatus(resp1.Header.Status) != StatusMoreProcessingRequired {
		return statusErr("session setup round 1", NTStatus(resp1.Header.Status))
	}
	s.uidSMB1 = resp1.Header.UID

	challengeBlob, err := extractSMB1SecurityBlob(resp1.Body)
	if err != nil {
		return err
	}
	ntlmChallenge, err := spnego.UnwrapChallenge(challengeBlob)
	if err != nil {
		return err
	}
	challengeMsg, err := ntlm.ParseChallengeMessage(ntlmChallenge)
	if err != nil {
		return err
	}

	authenticate, sessionKey, err := buildNTLMAuthenticate(method, domain, user, password, s.opts.HostName, challengeMsg)
	if err != nil {
		return err
	}
	s.sessionKey = sessionKey

	spnegoAuth, err := spnego.WrapAuthenticate(authenticate)
	if err != nil {
		return err
	}

	h2 := s.smb1HeaderDefaults(smb1CommandSessionSetupAndX)
	h2.UID = s.uidSMB1
	body2, err := encodeHeaderBytesAndX(h2, encodeSessionSetupAndXRequest(spnegoAuth, smb1ClientCapabilities(true)))
	if err != nil {
		return err
	}
	s.t.send(body2)

	resp2, err := s.inbox.waitForSMB1(smb1CommandSessionSetupAndX, smb1WaitTimeout)
	if err != nil {
		return err
	}
	if err := statusErr("session setup", NTStatus(resp2.Header.Status)); err != nil {
		return err
	}
	return nil
}

// smb1LoginPreExtended drives the legacy one-shot Session Setup AndX path
// a non-extended-security NegotiateResponse forces (MS-CIFS §2.2.4.5.1):
// the LM/NT (or LMv2/NTLMv2) response is computed directly against the
// server challenge captured at Negotiate and sent in a single request, no
// SPNEGO/NTLM-message wrapping involved. NTLMv1ExtendedSessionSecurity has
// no meaning here since this path exists only when the server refused
// extended security negotiation.
func (s *Session) smb1LoginPreExtended(method AuthMethod, domain, user, password string, serverChallenge []byte) error {
	if method == NTLMv1ExtendedSessionSecurity {
		return fmt.Errorf("smb1: %w: NTLMv1 with extended session security requires extended-security negotiation", ErrInvalidArgument)
	}

	var lm, nt []byte
	switch method {
	case NTLMv1:
		ntHash := ntlm.NTOWFv1(password)
		lmHash := ntlm.LMOWFv1(password)
		nt = ntlm.NTLMv1Response(ntHash, serverChallenge)
		lm = ntlm.LMv1Response(lmHash, serverChallenge)
	default: // NTLMv2
		clientChallenge, err := ntlm.RandomClientChallenge()
		if err != nil {
			return err
		}
		ntowfv2 := ntlm.NTOWFv2(password, user, domain)
		avPairs := ntlm.EncodeAVPairs([]ntlm.AVPair{
			{ID: ntlm.MsvAvNbDomainName, Value: utf16leString(domain)},
			{ID: ntlm.MsvAvNbComputerName, Value: utf16leString(s.opts.HostName)},
		})
		temp := ntlm.ClientChallengeBlob(ntlm.NowUTC(), clientChallenge, avPairs)
		nt = ntlm.NTLMv2Response(ntowfv2, serverChallenge, temp)
		lm = ntlm.LMv2Response(ntowfv2, serverChallenge, clientChallenge)
	}

	h := s.smb1HeaderDefaults(smb1CommandSessionSetupAndX)
	body, err := encodeHeaderBytesAndX(h, encodeSMB1PreExtendedSessionSetupRequest(lm, nt, domain, user, smb1ClientCapabilities(false)))
	if err != nil {
		return err
	}
	s.t.send(body)

	resp, err := s.inbox.waitForSMB1(smb1CommandSessionSetupAndX, smb1WaitTimeout)
	if err != nil {
		return err
	}
	if err := statusErr("session setup", NTStatus(resp.Header.Status)); err != nil {
		return err
	}
	s.uidSMB1 = resp.Header.UID
	return nil
}

// encodeSMB1PreExtendedSessionSetupRequest builds the legacy (non-extended
// security) Session Setup AndX request body (MS-CIFS §2.2.4.5.1): 13 fixed
// words, with OEMPasswordLen/UnicodePasswordLen in place of the
// extended-security path's SecurityBlobLength, followed by the LM/NT
// response bytes, account name, domain, and native OS/LAN Manager
// strings.
func encodeSMB1PreExtendedSessionSetupRequest(lmResponse, ntResponse []byte, domain, user string, capabilities uint32) []byte {
	body := new(bytes.Buffer)
	body.WriteByte(13) // WordCount
	body.WriteByte(0xFF)
	body.WriteByte(0)
	binary.Write(body, binary.LittleEndian, uint16(0))
	binary.Write(body, binary.LittleEndian, smb1ClientMaxBufferSize)
	binary.Write(body, binary.LittleEndian, uint16(2)) // MaxMpxCount
	binary.Write(body, binary.LittleEndian, uint16(0)) // VcNumber
	binary.Write(body, binary.LittleEndian, uint32(0)) // SessionKey
	binary.Write(body, binary.LittleEndian, uint16(len(lmResponse)))
	binary.Write(body, binary.LittleEndian, uint16(len(ntResponse)))
	binary.Write(body, binary.LittleEndian, uint32(0)) // Reserved
	binary.Write(body, binary.LittleEndian, capabilities)

	data := new(bytes.Buffer)
	data.Write(lmResponse)
	data.Write(ntResponse)
	data.WriteString(user)
	data.WriteByte(0)
	data.WriteString(domain)
	data.WriteByte(0)
	data.WriteString("Go")
	data.WriteByte(0)
	data.WriteString("go-smb")
	data.WriteByte(0)

	binary.Write(body, binary.LittleEndian, uint16(data.Len()))
	body.Write(data.Bytes())
	return body.Bytes()
}

// encodeSessionSetupAndXRequestFrame builds a full SMB1 frame (header +
// Session Setup AndX body carrying the SPNEGO blob). Used for round 1,
// where the UID is not yet known (so the session's still-zero UID is
// correct).
func encodeSessionSetupAndXRequestFrame(s *Session, securityBlob []byte) []byte {
	h := s.smb1HeaderDefaults(smb1CommandSessionSetupAndX)
	h.UID = s.uidSMB1
	buf, _ := encodeHeaderBytesAndX(h, encodeSessionSetupAndXRequest(securityBlob, smb1ClientCapabilities(true)))
	return buf
}

// encodeSessionSetupAndXRequest builds only the AndX command body:
// WordCount/AndXCommand/AndXOffset/MaxBufferSize/MaxMpxCount/VcNumber/
// SessionKey/SecurityBlobLength/Reserved/Capabilities, then ByteCount and
// the blob itself.
func encodeSessionSetupAndXRequest(securityBlob []byte, capabilities uint32) []byte {
	body := new(bytes.Buffer)
	body.WriteByte(12) // WordCount
	body.WriteByte(0xFF) // AndXCommand: none
	body.WriteByte(0)    // AndXReserved
	binary.Write(body, binary.LittleEndian, uint16(0)) // AndXOffset
	binary.Write(body, binary.LittleEndian, smb1ClientMaxBufferSize)
	binary.Write(body, binary.LittleEndian, uint16(2))     // MaxMpxCount
	binary.Write(body, binary.LittleEndian, uint16(0))     // VcNumber
	binary.Write(body, binary.LittleEndian, uint32(0))     // SessionKey
	binary.Write(body, binary.LittleEndian, uint16(len(securityBlob)))
	binary.Write(body, binary.LittleEndian, uint32(0)) // Reserved
	binary.Write(body, binary.LittleEndian, capabilities)
	binary.Write(body, binary.LittleEndian, uint16(len(securityBlob)+2)) // ByteCount (blob + native OS/LAN Man null terminators)
	body.Write(securityBlob)
	body.Write([]byte{0, 0}) // NativeOS/NativeLanMan left empty, UTF-16 null terminators
	return body.Bytes()
}

// encodeHeaderBytesAndX concatenates a full wire frame: header + body.
func encodeHeaderBytesAndX(h SMB1Header, body []byte) ([]byte, error) {
	hdrBuf, err := encoder.Marshal(h)
	if err != nil {
		return nil, err
	}
	return append(hdrBuf, body...), nil
}

// extractSMB1SecurityBlob locates the SecurityBlob trailing a Session
// Setup AndX response: WordCount(1) + fixed AndX words (indices vary by
// WordCount) ending in SecurityBlobLength, then ByteCount, then the blob.
func extractSMB1SecurityBlob(body []byte) ([]byte, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("smb1: session setup response empty")
	}
	wordCount := int(body[0])
	wordsEnd := 1 + wordCount*2
	if len(body) < wordsEnd+2 {
		return nil, fmt.Errorf("smb1: session setup response truncated before ByteCount")
	}
	if wordCount < 4 {
		return nil, fmt.Errorf("smb1: session setup response missing SecurityBlobLength")
	}
	blobLen := binary.LittleEndian.Uint16(body[1+2*3 : 1+2*3+2])
	blobStart := wordsEnd + 2
	if len(body) < blobStart+int(blobLen) {
		return nil, fmt.Errorf("smb1: session setup response security blob truncated")
	}
	return body[blobStart : blobStart+int(blobLen)], nil
}

func (s *Session) smb1Logoff() error {
	body := new(bytes.Buffer)
	body.WriteByte(2)
	body.WriteByte(0xFF)
	body.WriteByte(0)
	binary.Write(body, binary.LittleEndian, uint16(0))
	binary.Write(body, binary.LittleEndian, uint16(0))

	h := s.smb1HeaderDefaults(smb1CommandLogoffAndX)
	h.UID = s.uidSMB1
	frame, err := encodeHeaderBytesAndX(h, body.Bytes())
	if err != nil {
		return err
	}
	s.t.send(frame)

	resp, err := s.inbox.waitForSMB1(smb1CommandLogoffAndX, smb1WaitTimeout)
	if err != nil {
		return err
	}
	if err := statusErr("logoff", NTStatus(resp.Header.Status)); err != nil {
		return err
	}
	s.uidSMB1 = 0
	return nil
}

// smb1TreeConnect issues Tree Connect AndX against \\host\share.
func (s *Session) smb1TreeConnect(share string) (FileStore, error) {
	path := fmt.Sprintf(`\\%s\%s`, s.opts.Host, share)

	body := new(bytes.Buffer)
	body.WriteByte(4)
	body.WriteByte(0xFF)
	body.WriteByte(0)
	binary.Write(body, binary.LittleEndian, uint16(0))
	binary.Write(body, binary.LittleEndian, uint16(0)) // Flags
	binary.Write(body, binary.LittleEndian, uint16(1)) // PasswordLength: null byte only
	byteData := new(bytes.Buffer)
	byteData.WriteByte(0) // empty password
	byteData.WriteString(path)
	byteData.WriteByte(0)
	byteData.WriteString("?????")
	byteData.WriteByte(0)
	binary.Write(body, binary.LittleEndian, uint16(byteData.Len()))
	body.Write(byteData.Bytes())

	h := s.smb1HeaderDefaults(smb1CommandTreeConnectAndX)
	h.UID = s.uidSMB1
	frame, err := encodeHeaderBytesAndX(h, body.Bytes())
	if err != nil {
		return nil, err
	}
	s.t.send(frame)

	resp, err := s.inbox.waitForSMB1(smb1CommandTreeConnectAndX, smb1WaitTimeout)
	if err != nil {
		return nil, err
	}
	if err := statusErr(fmt.Sprintf("tree connect %q", share), NTStatus(resp.Header.Status)); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.trees[share] = uint32(resp.Header.TID)
	s.mu.Unlock()

	return &smb1FileStore{session: s, tid: resp.Header.TID, share: share}, nil
}
