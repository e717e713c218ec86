package smb

import (
	"encoding/binary"
	"fmt"
)

// SMB2 command codes (MS-SMB2 §2.2.1.1) this client speaks.
const (
	SMB2Negotiate       uint16 = 0x0000
	SMB2SessionSetup    uint16 = 0x0001
	SMB2Logoff          uint16 = 0x0002
	SMB2TreeConnect     uint16 = 0x0003
	SMB2TreeDisconnect  uint16 = 0x0004
	SMB2Create          uint16 = 0x0005
	SMB2Close           uint16 = 0x0006
	SMB2Flush           uint16 = 0x0007
	SMB2Read            uint16 = 0x0008
	SMB2Write           uint16 = 0x0009
	SMB2Lock            uint16 = 0x000A
	SMB2IOCtl           uint16 = 0x000B
	SMB2Cancel          uint16 = 0x000C
	SMB2Echo            uint16 = 0x000D
	SMB2QueryDirectory  uint16 = 0x000E
	SMB2ChangeNotify    uint16 = 0x000F
	SMB2QueryInfo       uint16 = 0x0010
	SMB2SetInfo         uint16 = 0x0011
	SMB2OplockBreak     uint16 = 0x0012
)

const smb2HeaderSize = 64

// SMB2Header is the fixed 64-byte MS-SMB2 header. Status doubles as
// ChannelSequence+Reserved on requests and Status on responses (MS-SMB2
// §2.2.1.1); this client only ever reads Status on inbound messages and
// only ever writes zero there on outbound ones, so a single uint32 field
// suffices.
type SMB2Header struct {
	ProtocolID            [4]byte
	StructureSize         uint16
	CreditCharge          uint16
	Status                uint32
	Command               uint16
	CreditRequestResponse uint16
	Flags                 uint32
	NextCommand           uint32
	MessageID             uint64
	Reserved              uint32
	TreeID                uint32
	SessionID             uint64
	Signature             [16]byte
}

const (
	smb2FlagServerToRedir uint32 = 0x00000001
	smb2FlagSigned        uint32 = 0x00000008
)

func encodeSMB2Header(h SMB2Header) []byte {
	buf := make([]byte, smb2HeaderSize)
	copy(buf[0:4], h.ProtocolID[:])
	binary.LittleEndian.PutUint16(buf[4:6], h.StructureSize)
	binary.LittleEndian.PutUint16(buf[6:8], h.CreditCharge)
	binary.LittleEndian.PutUint32(buf[8:12], h.Status)
	binary.LittleEndian.PutUint16(buf[12:14], h.Command)
	binary.LittleEndian.PutUint16(buf[14:16], h.CreditRequestResponse)
	binary.LittleEndian.PutUint32(buf[16:20], h.Flags)
	binary.LittleEndian.PutUint32(buf[20:24], h.NextCommand)
	binary.LittleEndian.PutUint64(buf[24:32], h.MessageID)
	binary.LittleEndian.PutUint32(buf[32:36], h.Reserved)
	binary.LittleEndian.PutUint32(buf[36:40], h.TreeID)
	binary.LittleEndian.PutUint64(buf[40:48], h.SessionID)
	copy(buf[48:64], h.Signature[:])
	return buf
}

func decodeSMB2Header(buf []byte) (SMB2Header, error) {
	var h SMB2Header
	if len(buf) < smb2HeaderSize {
		return h, fmt.Errorf("smb2: header too short (%d bytes)", len(buf))
	}
	copy(h.ProtocolID[:], buf[0:4])
	h.StructureSize = binary.LittleEndian.Uint16(buf[4:6])
	h.CreditCharge = binary.LittleEndian.Uint16(buf[6:8])
	h.Status = binary.LittleEndian.Uint32(buf[8:12])
	h.Command = binary.LittleEndian.Uint16(buf[12:14])
	h.CreditRequestResponse = binary.LittleEndian.Uint16(buf[14:16])
	h.Flags = binary.LittleEndian.Uint32(buf[16:20])
	h.NextCommand = binary.LittleEndian.Uint32(buf[20:24])
	h.MessageID = binary.LittleEndian.Uint64(buf[24:32])
	h.Reserved = binary.LittleEndian.Uint32(buf[32:36])
	h.TreeID = binary.LittleEndian.Uint32(buf[36:40])
	h.SessionID = binary.LittleEndian.Uint64(buf[40:48])
	copy(h.Signature[:], buf[48:64])
	return h, nil
}

// smb2Message is a decoded inbound SMB2 command: header plus the raw
// command-specific body (opaque per spec.md §1 — command bodies are
// encoded/decoded by the caller that knows the expected response shape).
type smb2Message struct {
	Header SMB2Header
	Body   []byte
}
