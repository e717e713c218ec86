package ntlm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/jfjallid/golog"
)

var log = golog.Get("github.com/pveres/go-smb/smb/ntlm")

// NTLM message types (MS-NLMP 2.2).
const (
	TypeNegotiate    uint32 = 1
	TypeChallenge    uint32 = 2
	TypeAuthenticate uint32 = 3
)

// Negotiate flags actually exercised by this client. The full MS-NLMP flag
// set is large; only the bits this implementation sets or inspects are
// named, per the spec's "pure function" scope for NTLM.
const (
	NegotiateUnicode                uint32 = 1 << 0
	NegotiateOEM                    uint32 = 1 << 1
	NegotiateRequestTarget          uint32 = 1 << 2
	NegotiateSign                   uint32 = 1 << 4
	NegotiateSeal                   uint32 = 1 << 5
	NegotiateNTLM                   uint32 = 1 << 9
	NegotiateAlwaysSign             uint32 = 1 << 15
	NegotiateExtendedSessionSec     uint32 = 1 << 19
	NegotiateTargetInfo             uint32 = 1 << 23
	Negotiate128                    uint32 = 1 << 29
	NegotiateKeyExch                uint32 = 1 << 30
	Negotiate56                     uint32 = 1 << 31
	DefaultNegotiateFlags           = NegotiateUnicode | NegotiateRequestTarget | NegotiateNTLM | NegotiateAlwaysSign | NegotiateExtendedSessionSec | NegotiateTargetInfo | Negotiate128 | Negotiate56
)

var signature = []byte("NTLMSSP\x00")

type field struct {
	Len    uint16
	MaxLen uint16
	Offset uint32
}

func writeField(buf *bytes.Buffer, hdrOffset int, payload *bytes.Buffer, data []byte) {
	f := field{Len: uint16(len(data)), MaxLen: uint16(len(data)), Offset: uint32(hdrOffset + payload.Len())}
	binary.Write(buf, binary.LittleEndian, f.Len)
	binary.Write(buf, binary.LittleEndian, f.MaxLen)
	binary.Write(buf, binary.LittleEndian, f.Offset)
	payload.Write(data)
}

func readField(buf []byte, off int) (data []byte, err error) {
	if off+8 > len(buf) {
		return nil, fmt.Errorf("ntlm: truncated field header")
	}
	l := binary.LittleEndian.Uint16(buf[off : off+2])
	offset := binary.LittleEndian.Uint32(buf[off+4 : off+8])
	if int(offset)+int(l) > len(buf) {
		return nil, fmt.Errorf("ntlm: field points outside buffer")
	}
	return buf[offset : offset+uint32(l)], nil
}

// NegotiateMessage builds a type-1 NTLM Negotiate token.
func NegotiateMessage(domain, workstation string, flags uint32) []byte {
	buf := new(bytes.Buffer)
	payload := new(bytes.Buffer)

	buf.Write(signature)
	binary.Write(buf, binary.LittleEndian, TypeNegotiate)
	binary.Write(buf, binary.LittleEndian, flags)

	// Header is 32 bytes: sig(8)+type(4)+flags(4)+domain(8)+workstation(8).
	writeField(buf, 32, payload, []byte(domain))
	writeField(buf, 32, payload, []byte(workstation))

	buf.Write(payload.Bytes())
	return buf.Bytes()
}

// ChallengeMessage is the decoded form of a type-2 NTLM token.
type ChallengeMessage struct {
	TargetName      string
	NegotiateFlags  uint32
	ServerChallenge []byte
	TargetInfo      []byte // raw AV_PAIR sequence
}

// ParseChallengeMessage decodes a type-2 NTLM token.
func ParseChallengeMessage(buf []byte) (*ChallengeMessage, error) {
	if len(buf) < 32 || !bytes.Equal(buf[:8], signature) {
		return nil, fmt.Errorf("ntlm: not an NTLMSSP message")
	}
	if binary.LittleEndian.Uint32(buf[8:12]) != TypeChallenge {
		return nil, fmt.Errorf("ntlm: not a challenge message")
	}

	m := &ChallengeMessage{}
	targetName, err := readField(buf, 12)
	if err != nil {
		log.Debugln(err)
	} else {
		m.TargetName = string(targetName)
	}

	m.NegotiateFlags = binary.LittleEndian.Uint32(buf[20:24])
	m.ServerChallenge = append([]byte(nil), buf[24:32]...)

	if len(buf) >= 48 {
		targetInfo, err := readField(buf, 40)
		if err == nil {
			m.TargetInfo = targetInfo
		}
	}
	return m, nil
}

// AuthenticateParams carries everything needed to build a type-3 token.
type AuthenticateParams struct {
	Domain, User, Workstation string
	LMResponse, NTResponse    []byte
	SessionKey                []byte
	NegotiateFlags            uint32
}

// AuthenticateMessage builds a type-3 NTLM Authenticate token.
func AuthenticateMessage(p AuthenticateParams) []byte {
	buf := new(bytes.Buffer)
	payload := new(bytes.Buffer)

	buf.Write(signature)
	binary.Write(buf, binary.LittleEndian, TypeAuthenticate)

	const hdrLen = 8 + 4 + 8*6 + 4 + 8 // sig+type+6 fields+flags+version(unused placeholder below)
	_ = hdrLen

	// Field order per MS-NLMP: LM, NT, Domain, User, Workstation, SessionKey.
	writeField(buf, 8+4+6*8+4, payload, p.LMResponse)
	writeField(buf, 8+4+6*8+4, payload, p.NTResponse)
	writeField(buf, 8+4+6*8+4, payload, []byte(p.Domain))
	writeField(buf, 8+4+6*8+4, payload, []byte(p.User))
	writeField(buf, 8+4+6*8+4, payload, []byte(p.Workstation))
	writeField(buf, 8+4+6*8+4, payload, p.SessionKey)

	binary.Write(buf, binary.LittleEndian, p.NegotiateFlags)

	buf.Write(payload.Bytes())
	return buf.Bytes()
}

// NowUTC is used by callers building the NTLMv2 client challenge blob; a
// thin wrapper so the only place in this module calling time.Now lives
// here, not scattered across the SMB1/SMB2 connection code.
func NowUTC() time.Time { return time.Now().UTC() }
