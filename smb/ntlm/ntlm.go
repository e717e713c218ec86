// Package ntlm implements the NTLM challenge-response computations used by
// SMB Session Setup (MS-NLMP). Per the system's scope, these are pure
// functions over caller-supplied bytes: no socket I/O, no global state.
// Callers (smb/spnego, smb.Session) own message framing and wire transport.
package ntlm

import (
	"bytes"
	"crypto/des"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"strings"
	"time"
	"unicode/utf16"

	"golang.org/x/crypto/md4"
)

// AVPair IDs (MS-NLMP 2.2.2.1).
const (
	MsvAvEOL             uint16 = 0
	MsvAvNbComputerName  uint16 = 1
	MsvAvNbDomainName    uint16 = 2
	MsvAvDnsComputerName uint16 = 3
	MsvAvDnsDomainName   uint16 = 4
	MsvAvTimestamp       uint16 = 7
)

// AVPair is a single MS-NLMP AV_PAIR (attribute/value).
type AVPair struct {
	ID    uint16
	Value []byte
}

// EncodeAVPairs serializes a sequence of AV pairs, terminated with MsvAvEOL.
func EncodeAVPairs(pairs []AVPair) []byte {
	buf := new(bytes.Buffer)
	for _, p := range pairs {
		binary.Write(buf, binary.LittleEndian, p.ID)
		binary.Write(buf, binary.LittleEndian, uint16(len(p.Value)))
		buf.Write(p.Value)
	}
	binary.Write(buf, binary.LittleEndian, MsvAvEOL)
	binary.Write(buf, binary.LittleEndian, uint16(0))
	return buf.Bytes()
}

// DecodeAVPairs parses a AV_PAIR sequence until MsvAvEOL or the buffer is
// exhausted.
func DecodeAVPairs(buf []byte) []AVPair {
	var pairs []AVPair
	for len(buf) >= 4 {
		id := binary.LittleEndian.Uint16(buf[0:2])
		l := binary.LittleEndian.Uint16(buf[2:4])
		buf = buf[4:]
		if id == MsvAvEOL {
			break
		}
		if int(l) > len(buf) {
			break
		}
		pairs = append(pairs, AVPair{ID: id, Value: buf[:l]})
		buf = buf[l:]
	}
	return pairs
}

func utf16le(s string) []byte {
	u := utf16.Encode([]rune(s))
	buf := make([]byte, len(u)*2)
	for i, c := range u {
		binary.LittleEndian.PutUint16(buf[i*2:], c)
	}
	return buf
}

// NTOWFv1 is the NT hash: MD4(UTF16LE(password)).
func NTOWFv1(password string) []byte {
	h := md4.New()
	h.Write(utf16le(password))
	return h.Sum(nil)
}

// LMOWFv1 is the legacy LAN Manager hash. Computed for completeness of the
// NTLMv1 response path; modern servers usually ignore the LM response.
func LMOWFv1(password string) []byte {
	magic := []byte("KGS!@#$%")
	upper := strings.ToUpper(password)
	pwBytes := make([]byte, 14)
	copy(pwBytes, []byte(upper))

	out := make([]byte, 16)
	for i := 0; i < 2; i++ {
		key := desKeyFromBytes(pwBytes[i*7 : i*7+7])
		block, err := des.NewCipher(key)
		if err != nil {
			continue
		}
		block.Encrypt(out[i*8:i*8+8], magic)
	}
	return out
}

// desKeyFromBytes expands 7 bytes into a DES key by inserting parity bits,
// matching the classic LM-hash key-setup algorithm.
func desKeyFromBytes(b7 []byte) []byte {
	var bits [56]byte
	for i, b := range b7 {
		for j := 0; j < 8; j++ {
			bits[i*8+j] = (b >> (7 - j)) & 1
		}
	}
	key := make([]byte, 8)
	for i := 0; i < 8; i++ {
		var b byte
		parity := byte(0)
		for j := 0; j < 7; j++ {
			bit := bits[i*7+j]
			b |= bit << (7 - j)
			parity ^= bit
		}
		b |= (1 - parity) & 1
		key[i] = b
	}
	return key
}

func desLong(key16 []byte, data []byte) []byte {
	out := make([]byte, 24)
	key := make([]byte, 21)
	copy(key, key16)
	for i := 0; i < 3; i++ {
		k := desKeyFromBytes(key[i*7 : i*7+7])
		block, err := des.NewCipher(k)
		if err != nil {
			continue
		}
		block.Encrypt(out[i*8:i*8+8], data)
	}
	return out
}

// NTLMv1Response computes the classic (non-extended-session-security) NT
// response: DES(NTOWFv1(password), serverChallenge).
func NTLMv1Response(ntHash, serverChallenge []byte) []byte {
	return desLong(ntHash, serverChallenge)
}

// LMv1Response computes the classic LM response: DES(LMOWFv1(password),
// serverChallenge).
func LMv1Response(lmHash, serverChallenge []byte) []byte {
	return desLong(lmHash, serverChallenge)
}

// NTOWFv2 is HMAC-MD5(NTOWFv1(password), UPPER(user) || domain).
func NTOWFv2(password, user, domain string) []byte {
	ntHash := NTOWFv1(password)
	mac := hmac.New(md5.New, ntHash)
	mac.Write(utf16le(strings.ToUpper(user) + domain))
	return mac.Sum(nil)
}

// ClientChallengeBlob builds the NTLMv2 "temp" blob appended after the
// proof: version(1)/hiVersion(1)/Z(6)/time(8)/clientChallenge(8)/Z(4)/
// AvPairs/Z(4).
func ClientChallengeBlob(now time.Time, clientChallenge []byte, avPairs []byte) []byte {
	buf := new(bytes.Buffer)
	buf.Write([]byte{1, 1, 0, 0, 0, 0, 0, 0})
	binary.Write(buf, binary.LittleEndian, filetime(now))
	buf.Write(clientChallenge)
	buf.Write([]byte{0, 0, 0, 0})
	buf.Write(avPairs)
	buf.Write([]byte{0, 0, 0, 0})
	return buf.Bytes()
}

func filetime(t time.Time) uint64 {
	const epochDiff = 116444736000000000
	return uint64(t.UnixNano()/100) + epochDiff
}

// NTLMv2Response computes the NTLMv2 "proof || temp" response.
// NTProofStr = HMAC-MD5(ntowfv2, serverChallenge || temp); the returned
// slice is NTProofStr || temp, ready to place in NtChallengeResponse.
func NTLMv2Response(ntowfv2, serverChallenge, temp []byte) []byte {
	mac := hmac.New(md5.New, ntowfv2)
	mac.Write(serverChallenge)
	mac.Write(temp)
	proof := mac.Sum(nil)
	return append(proof, temp...)
}

// LMv2Response computes the NTLMv2 LM response: HMAC-MD5(ntowfv2,
// serverChallenge || clientChallenge) || clientChallenge.
func LMv2Response(ntowfv2, serverChallenge, clientChallenge []byte) []byte {
	mac := hmac.New(md5.New, ntowfv2)
	mac.Write(serverChallenge)
	mac.Write(clientChallenge)
	return append(mac.Sum(nil), clientChallenge...)
}

// SessionKeyV2 derives the NTLMv2 session key: HMAC-MD5(ntowfv2,
// NTProofStr).
func SessionKeyV2(ntowfv2, ntProofStr []byte) []byte {
	mac := hmac.New(md5.New, ntowfv2)
	mac.Write(ntProofStr)
	return mac.Sum(nil)
}

// RandomClientChallenge returns 8 cryptographically random bytes, used as
// the NTLMv1/v2 client challenge.
func RandomClientChallenge() ([]byte, error) {
	b := make([]byte, 8)
	_, err := rand.Read(b)
	return b, err
}
