package smb

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/pveres/go-smb/smb/ntlm"
	"github.com/pveres/go-smb/smb/spnego"
)

// SMB2 dialect revisions this client advertises (spec.md §2 "SMB2.0.2 and
// SMB2.1 dialects only" — SMB 3.x multichannel/encryption is a Non-goal).
const (
	smb2Dialect202 uint16 = 0x0202
	smb2Dialect210 uint16 = 0x0210
)

// SMB2_NEGOTIATE security-mode and capability bits this client inspects.
const (
	smb2NegotiateSigningEnabled  uint16 = 0x0001
	smb2NegotiateSigningRequired uint16 = 0x0002
)

// buildSMB2Header fills in the fields every outbound SMB2 request shares:
// protocol id, fixed StructureSize, credit charge/request, and a fresh
// monotonic MessageID (spec.md §4.F "header defaults").
func (s *Session) buildSMB2Header(command uint16, treeID uint32) (SMB2Header, error) {
	if _, err := s.inbox.waitForCredits(1, creditWaitTimeout); err != nil {
		return SMB2Header{}, err
	}
	return SMB2Header{
		ProtocolID:            [4]byte{protocolSMB2[0], protocolSMB2[1], protocolSMB2[2], protocolSMB2[3]},
		StructureSize:         64,
		CreditCharge:          1,
		Command:               command,
		CreditRequestResponse: 1,
		MessageID:             s.inbox.allocateMessageID(),
		TreeID:                treeID,
		SessionID:             s.sessionIDSMB2,
	}, nil
}

func (s *Session) sendSMB2(h SMB2Header, body []byte) {
	s.t.send(append(encodeSMB2Header(h), body...))
}

// NewSMB2NegotiateReq builds the SMB2 NEGOTIATE request (MS-SMB2 §2.2.3):
// structure size 36, dialect count, security mode, a fresh ClientGuid, and
// the dialect list in ascending preference.
func (s *Session) NewSMB2NegotiateReq() ([]byte, uint64, error) {
	dialects := []uint16{smb2Dialect202, smb2Dialect210}

	body := new(bytes.Buffer)
	binary.Write(body, binary.LittleEndian, uint16(36))               // StructureSize
	binary.Write(body, binary.LittleEndian, uint16(len(dialects)))    // DialectCount
	binary.Write(body, binary.LittleEndian, smb2NegotiateSigningEnabled) // SecurityMode
	binary.Write(body, binary.LittleEndian, uint16(0))                // Reserved
	binary.Write(body, binary.LittleEndian, uint32(0))                // Capabilities (none advertised)

	guid := make([]byte, 16)
	rand.Read(guid)
	body.Write(guid)

	binary.Write(body, binary.LittleEndian, uint64(0)) // ClientStartTime, reserved by spec
	for _, d := range dialects {
		binary.Write(body, binary.LittleEndian, d)
	}

	h, err := s.buildSMB2Header(SMB2Negotiate, 0)
	if err != nil {
		return nil, 0, err
	}
	return append(encodeSMB2Header(h), body.Bytes()...), h.MessageID, nil
}

// handleSMB1NegotiateResponse validates and records a single-dialect SMB1
// NegotiateResponse (spec.md §4.E/§4.G). Only one dialect was ever
// offered, so DialectIndex is either 0 (accepted) or 0xFFFF (refused).
func (s *Session) handleSMB1NegotiateResponse(msg smb1Message) error {
	var res SMB1NegotiateRes
	if err := res.UnmarshalBinary(append(encodeHeaderBytes(msg.Header), msg.Body...), nil); err != nil {
		return fmt.Errorf("smb1: unmarshal negotiate response: %w", err)
	}
	if res.DialectIndex == 0xFFFF {
		return fmt.Errorf("smb: server accepted no offered dialect")
	}

	// Named pipes and NT-style error codes are load-bearing for every
	// SMB1 operation this client performs; a server missing any of them
	// cannot serve this client (spec.md §4.G).
	if res.Capabilities&capMandatoryMask != capMandatoryMask {
		return fmt.Errorf("smb1: server capabilities %#08x missing required NT_SMBS|RPC_REMOTE_APIS|STATUS32", res.Capabilities)
	}

	extendedSecurity := res.Capabilities&capExtendedSecurity != 0
	if s.opts.ForceExtendedSecurity && !extendedSecurity {
		return fmt.Errorf("smb1: server does not support extended security and ForceExtendedSecurity is set")
	}

	caps := capabilities{
		dialect:              dialectSMB1,
		signingSupported:     res.SecurityMode&0x02 != 0,
		signingRequired:      res.SecurityMode&0x08 != 0,
		unicode:              res.Capabilities&capUnicode != 0,
		largeFiles:           res.Capabilities&capLargeFiles != 0,
		ntSMB:                res.Capabilities&capNTSMBs != 0,
		ntStatus:             res.Capabilities&capStatus32 != 0,
		infoLevelPassthrough: res.Capabilities&capInfoLevelPassthru != 0,
		largeRead:            res.Capabilities&capLargeReadX != 0,
		largeWrite:           res.Capabilities&capLargeWriteX != 0,
		serverMaxBufferSize:  res.MaxBufSize,
		maxMpxCount:          res.MaxMpxCount,
		maxReadSize:          smb1MaxReadSize(res.MaxBufSize),
		maxWriteSize:         smb1MaxWriteSize(res.MaxBufSize, res.Capabilities&capUnicode != 0),
	}
	if extendedSecurity {
		caps.securityBlob = res.SecurityBlob
	} else {
		caps.serverChallenge = res.SecurityBlob
	}

	s.mu.Lock()
	s.caps = caps
	s.mu.Unlock()
	return nil
}

// encodeHeaderBytes re-serializes a decoded SMB1Header back to wire bytes,
// used when a command's UnmarshalBinary expects the full frame including
// the header it already parsed once for dispatch.
func encodeHeaderBytes(h SMB1Header) []byte {
	buf := new(bytes.Buffer)
	buf.Write(h.Protocol)
	buf.WriteByte(h.Command)
	binary.Write(buf, binary.LittleEndian, h.Status)
	buf.WriteByte(h.Flags)
	binary.Write(buf, binary.LittleEndian, h.Flags2)
	binary.Write(buf, binary.LittleEndian, h.PIDHigh)
	buf.Write(h.SecurityFeatures)
	binary.Write(buf, binary.LittleEndian, h.Reserved)
	binary.Write(buf, binary.LittleEndian, h.TID)
	binary.Write(buf, binary.LittleEndian, h.PIDLow)
	binary.Write(buf, binary.LittleEndian, h.UID)
	binary.Write(buf, binary.LittleEndian, h.MID)
	return buf.Bytes()
}

func (s *Session) handleSMB2NegotiateResponse(msg smb2Message) error {
	if err := statusErr("negotiate", NTStatus(msg.Header.Status)); err != nil {
		return err
	}
	body := msg.Body
	if len(body) < 64 {
		return fmt.Errorf("smb2: negotiate response too short")
	}
	securityMode := binary.LittleEndian.Uint16(body[2:4])
	dialect := binary.LittleEndian.Uint16(body[4:6])
	maxTransact := binary.LittleEndian.Uint32(body[44:48])
	maxRead := binary.LittleEndian.Uint32(body[48:52])
	maxWrite := binary.LittleEndian.Uint32(body[52:56])
	blobOffset := binary.LittleEndian.Uint16(body[56:58])
	blobLength := binary.LittleEndian.Uint16(body[58:60])

	var blob []byte
	// blobOffset is measured from the start of the SMB2 header.
	start := int(blobOffset) - smb2HeaderSize
	if start >= 0 && start+int(blobLength) <= len(body) {
		blob = append([]byte(nil), body[start:start+int(blobLength)]...)
	}

	s.mu.Lock()
	s.caps = capabilities{
		dialect:          dialectSMB2,
		signingSupported: securityMode&smb2NegotiateSigningEnabled != 0,
		signingRequired:  securityMode&smb2NegotiateSigningRequired != 0,
		maxReadSize:      maxRead,
		maxWriteSize:     maxWrite,
		maxTransactSize:   maxTransact,
		securityBlob:      blob,
	}
	_ = dialect
	s.mu.Unlock()
	return nil
}

// smb2Login drives the two-round SPNEGO/NTLM Session Setup exchange
// (spec.md §4.H "Login"): send Negotiate's security blob through spnego
// to get an NTLM Challenge, answer with an Authenticate token.
func (s *Session) smb2Login(method AuthMethod, domain, user, password string) error {
	negotiateMsg := ntlm.NegotiateMessage(domain, s.opts.HostName, ntlm.DefaultNegotiateFlags)
	spnegoInit, err := spnego.WrapNegotiate(negotiateMsg)
	if err != nil {
		return err
	}

	h, err := s.buildSMB2Header(SMB2SessionSetup, 0)
	if err != nil {
		return err
	}
	body := encodeSessionSetupRequest(spnegoInit)
	s.sendSMB2(h, body)

	resp1, err := s.inbox.waitForSMB2(SMB2SessionSetup, h.MessageID, smb2WaitTimeout)
	if err != nil {
		return err
	}
	if resp1 == nil {
		return &StatusError{Op: "session setup round 1", Status: StatusPending}
	}
	if NTStatus(resp1.Header.Status) != StatusMoreProcessingRequired {
		return statusErr("session setup round 1", NTStatus(resp1.Header.Status))
	}
	s.sessionIDSMB2 = resp1.Header.SessionID

	challengeBlob, err := extractSessionSetupBlob(resp1.Body)
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

	h2, err := s.buildSMB2Header(SMB2SessionSetup, 0)
	if err != nil {
		return err
	}
	h2.SessionID = s.sessionIDSMB2
	s.sendSMB2(h2, encodeSessionSetupRequest(spnegoAuth))

	resp2, err := s.inbox.waitForSMB2(SMB2SessionSetup, h2.MessageID, smb2WaitTimeout)
	if err != nil {
		return err
	}
	if resp2 == nil {
		return &StatusError{Op: "session setup round 2", Status: StatusPending}
	}
	if err := statusErr("session setup", NTStatus(resp2.Header.Status)); err != nil {
		return err
	}
	return nil
}

// encodeSessionSetupRequest builds the fixed SESSION_SETUP request
// (MS-SMB2 §2.2.5), trailing the raw security buffer.
func encodeSessionSetupRequest(securityBlob []byte) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint16(25)) // StructureSize
	buf.WriteByte(0)                                   // Flags
	buf.WriteByte(0)                                   // SecurityMode: signing not enabled by this client
	binary.Write(buf, binary.LittleEndian, uint32(0))  // Capabilities
	binary.Write(buf, binary.LittleEndian, uint32(0))  // Channel
	binary.Write(buf, binary.LittleEndian, uint16(88)) // SecurityBufferOffset: header(64)+24 fixed bytes
	binary.Write(buf, binary.LittleEndian, uint16(len(securityBlob)))
	binary.Write(buf, binary.LittleEndian, uint64(0)) // PreviousSessionId
	buf.Write(securityBlob)
	return buf.Bytes()
}

func extractSessionSetupBlob(body []byte) ([]byte, error) {
	if len(body) < 8 {
		return nil, fmt.Errorf("smb2: session setup response too short")
	}
	offset := binary.LittleEndian.Uint16(body[2:4])
	length := binary.LittleEndian.Uint16(body[4:6])
	start := int(offset) - smb2HeaderSize
	if start < 0 || start+int(length) > len(body) {
		return nil, fmt.Errorf("smb2: session setup security buffer out of range")
	}
	return body[start : start+int(length)], nil
}

// buildNTLMAuthenticate computes the NTLM response per method and returns
// the serialized type-3 token plus the derived session key.
func buildNTLMAuthenticate(method AuthMethod, domain, user, password, workstation string, ch *ntlm.ChallengeMessage) ([]byte, []byte, error) {
	clientChallenge, err := ntlm.RandomClientChallenge()
	if err != nil {
		return nil, nil, err
	}

	var lm, nt, sessionKey []byte
	switch method {
	case NTLMv1, NTLMv1ExtendedSessionSecurity:
		ntHash := ntlm.NTOWFv1(password)
		lmHash := ntlm.LMOWFv1(password)
		nt = ntlm.NTLMv1Response(ntHash, ch.ServerChallenge)
		lm = ntlm.LMv1Response(lmHash, ch.ServerChallenge)
	default: // NTLMv2
		ntowfv2 := ntlm.NTOWFv2(password, user, domain)
		avPairs := ch.TargetInfo
		temp := ntlm.ClientChallengeBlob(ntlm.NowUTC(), clientChallenge, avPairs)
		nt = ntlm.NTLMv2Response(ntowfv2, ch.ServerChallenge, temp)
		lm = ntlm.LMv2Response(ntowfv2, ch.ServerChallenge, clientChallenge)
		sessionKey = ntlm.SessionKeyV2(ntowfv2, nt[:16])
	}

	auth := ntlm.AuthenticateMessage(ntlm.AuthenticateParams{
		Domain: domain, User: user, Workstation: workstation,
		LMResponse: lm, NTResponse: nt,
		NegotiateFlags: ch.NegotiateFlags,
	})
	return auth, sessionKey, nil
}

func (s *Session) smb2Logoff() error {
	h, err := s.buildSMB2Header(SMB2Logoff, 0)
	if err != nil {
		return err
	}
	body := make([]byte, 4)
	binary.LittleEndian.PutUint16(body[0:2], 4)
	s.sendSMB2(h, body)

	resp, err := s.inbox.waitForSMB2(SMB2Logoff, h.MessageID, smb2WaitTimeout)
	if err != nil {
		return err
	}
	if resp == nil {
		return &StatusError{Op: "logoff", Status: StatusPending}
	}
	if err := statusErr("logoff", NTStatus(resp.Header.Status)); err != nil {
		return err
	}
	s.sessionIDSMB2 = 0
	return nil
}

// smb2TreeConnect issues TREE_CONNECT against \\host\share and returns a
// FileStore bound to the resulting TreeId (spec.md §4.H "TreeConnect").
func (s *Session) smb2TreeConnect(share string) (FileStore, error) {
	path := fmt.Sprintf(`\\%s\%s`, s.opts.Host, share)
	utf16Path := utf16leString(path)

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint16(9)) // StructureSize
	binary.Write(buf, binary.LittleEndian, uint16(0)) // Flags
	binary.Write(buf, binary.LittleEndian, uint16(smb2HeaderSize+8))
	binary.Write(buf, binary.LittleEndian, uint16(len(utf16Path)))
	buf.Write(utf16Path)

	h, err := s.buildSMB2Header(SMB2TreeConnect, 0)
	if err != nil {
		return nil, err
	}
	s.sendSMB2(h, buf.Bytes())

	resp, err := s.inbox.waitForSMB2(SMB2TreeConnect, h.MessageID, smb2WaitTimeout)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, &StatusError{Op: "tree connect", Status: StatusPending}
	}
	if err := statusErr(fmt.Sprintf("tree connect %q", share), NTStatus(resp.Header.Status)); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.trees[share] = resp.Header.TreeID
	s.mu.Unlock()

	return &smb2FileStore{session: s, treeID: resp.Header.TreeID, share: share}, nil
}

func utf16leString(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for _, r := range s {
		out = append(out, byte(r), byte(r>>8))
	}
	return out
}
