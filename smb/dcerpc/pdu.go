// Package dcerpc implements the minimal DCE/RPC-over-SMB-named-pipe PDU
// layer (MS-RPCE) needed to bind to a single RPC interface and issue
// request/response calls: the bind/bind_ack handshake and the
// request/response PDU framing. Interface-specific opnum encoding lives in
// sibling packages (see dcerpc/srvsvc) built on top of this.
package dcerpc

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/jfjallid/golog"
)

var log = golog.Get("github.com/pveres/go-smb/smb/dcerpc")

// PDU types (MS-RPCE 2.2.1.1.1).
const (
	PTypeRequest  uint8 = 0
	PTypeResponse uint8 = 2
	PTypeFault    uint8 = 3
	PTypeBind     uint8 = 11
	PTypeBindAck  uint8 = 12
	PTypeBindNak  uint8 = 13
)

const (
	pfcFirstFrag uint8 = 0x01
	pfcLastFrag  uint8 = 0x02
)

// NDRTransferSyntax is the well-known NDR transfer syntax UUID/version
// every DCE/RPC bind negotiates.
var NDRTransferSyntax = UUID{Data: [16]byte{
	0x04, 0x5d, 0x88, 0x8a, 0xeb, 0x1c, 0xc9, 0x11,
	0x9f, 0xe8, 0x08, 0x00, 0x2b, 0x10, 0x48, 0x60,
}}

// UUID is a 16-byte interface/syntax identifier in DCE wire form.
type UUID struct {
	Data [16]byte
}

// Header is the common 16-byte DCE/RPC PDU header.
type Header struct {
	Version      uint8
	VersionMinor uint8
	PType        uint8
	Flags        uint8
	DataRep      [4]byte
	FragLength   uint16
	AuthLength   uint16
	CallID       uint32
}

func (h Header) encode(buf *bytes.Buffer) {
	buf.WriteByte(h.Version)
	buf.WriteByte(h.VersionMinor)
	buf.WriteByte(h.PType)
	buf.WriteByte(h.Flags)
	buf.Write(h.DataRep[:])
	binary.Write(buf, binary.LittleEndian, h.FragLength)
	binary.Write(buf, binary.LittleEndian, h.AuthLength)
	binary.Write(buf, binary.LittleEndian, h.CallID)
}

func decodeHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < 16 {
		return h, fmt.Errorf("dcerpc: PDU header too short (%d bytes)", len(buf))
	}
	h.Version = buf[0]
	h.VersionMinor = buf[1]
	h.PType = buf[2]
	h.Flags = buf[3]
	copy(h.DataRep[:], buf[4:8])
	h.FragLength = binary.LittleEndian.Uint16(buf[8:10])
	h.AuthLength = binary.LittleEndian.Uint16(buf[10:12])
	h.CallID = binary.LittleEndian.Uint32(buf[12:16])
	return h, nil
}

// ContextItem is one p_cont_elem_t of a bind request: the abstract syntax
// (the target interface) paired with one acceptable transfer syntax (NDR).
type ContextItem struct {
	AbstractSyntax        UUID
	AbstractSyntaxVersion uint32
}

// BuildBind encodes a bind PDU requesting a single presentation context
// (context id 0) for abstractSyntax at abstractVersion, offering NDR
// transfer syntax.
func BuildBind(callID uint32, maxXmitFrag, maxRecvFrag uint16, assocGroup uint32, abstractSyntax UUID, abstractVersion uint32) []byte {
	body := new(bytes.Buffer)
	binary.Write(body, binary.LittleEndian, maxXmitFrag)
	binary.Write(body, binary.LittleEndian, maxRecvFrag)
	binary.Write(body, binary.LittleEndian, assocGroup)
	body.WriteByte(1) // num context items
	body.Write([]byte{0, 0, 0}) // padding
	binary.Write(body, binary.LittleEndian, uint16(0)) // context id
	body.WriteByte(1)                                  // num transfer syntaxes
	body.WriteByte(0)                                  // reserved
	body.Write(abstractSyntax.Data[:])
	binary.Write(body, binary.LittleEndian, abstractVersion)
	body.Write(NDRTransferSyntax.Data[:])
	binary.Write(body, binary.LittleEndian, uint32(2)) // NDR version 2.0

	h := Header{
		Version: 5, VersionMinor: 0, PType: PTypeBind,
		Flags:      pfcFirstFrag | pfcLastFrag,
		DataRep:    [4]byte{0x10, 0, 0, 0},
		FragLength: uint16(16 + body.Len()),
		CallID:     callID,
	}
	out := new(bytes.Buffer)
	h.encode(out)
	out.Write(body.Bytes())
	return out.Bytes()
}

// BindAck is the decoded result of a successful bind_ack PDU.
type BindAck struct {
	CallID       uint32
	SecAddrLen   uint16
	ResultAccept bool
}

// ParseBindAck decodes a bind_ack (or bind_nak) PDU.
func ParseBindAck(buf []byte) (*BindAck, error) {
	h, err := decodeHeader(buf)
	if err != nil {
		return nil, err
	}
	if h.PType == PTypeBindNak {
		log.Debugln("dcerpc: server sent bind_nak for call", h.CallID)
		return nil, fmt.Errorf("dcerpc: server rejected bind (bind_nak)")
	}
	if h.PType != PTypeBindAck {
		return nil, fmt.Errorf("dcerpc: expected bind_ack, got PType %d", h.PType)
	}
	// max_xmit_frag(2) + max_recv_frag(2) + assoc_group_id(4) precede the
	// secondary address; sec_addr_len(2) then starts at body[8:10].
	body := buf[16:]
	if len(body) < 10 {
		return nil, fmt.Errorf("dcerpc: bind_ack too short")
	}
	secAddrLen := binary.LittleEndian.Uint16(body[8:10])
	off := 10 + int(secAddrLen)
	off += (4 - off%4) % 4 // align to 4 bytes
	if off+2 > len(body) {
		return nil, fmt.Errorf("dcerpc: bind_ack result list truncated")
	}
	numResults := body[off]
	_ = numResults
	resultOff := off + 4
	accept := resultOff+2 <= len(body) && binary.LittleEndian.Uint16(body[resultOff:resultOff+2]) == 0

	return &BindAck{CallID: h.CallID, SecAddrLen: secAddrLen, ResultAccept: accept}, nil
}

// BuildRequest encodes a single, non-fragmented request PDU for opnum
// carrying the NDR-marshaled stub data.
func BuildRequest(callID uint32, opnum uint16, stub []byte) []byte {
	body := new(bytes.Buffer)
	binary.Write(body, binary.LittleEndian, uint32(len(stub))) // alloc hint
	binary.Write(body, binary.LittleEndian, uint16(0))         // context id
	binary.Write(body, binary.LittleEndian, opnum)
	body.Write(stub)

	h := Header{
		Version: 5, VersionMinor: 0, PType: PTypeRequest,
		Flags:      pfcFirstFrag | pfcLastFrag,
		DataRep:    [4]byte{0x10, 0, 0, 0},
		FragLength: uint16(16 + body.Len()),
		CallID:     callID,
	}
	out := new(bytes.Buffer)
	h.encode(out)
	out.Write(body.Bytes())
	return out.Bytes()
}

// ParseResponse validates a response PDU and returns its stub data (the
// NDR-encoded out-parameters), or an error decoded from a fault PDU.
func ParseResponse(buf []byte) ([]byte, error) {
	h, err := decodeHeader(buf)
	if err != nil {
		return nil, err
	}
	body := buf[16:]
	if h.PType == PTypeFault {
		if len(body) >= 8 {
			status := binary.LittleEndian.Uint32(body[4:8])
			return nil, fmt.Errorf("dcerpc: fault PDU, status 0x%08x", status)
		}
		return nil, fmt.Errorf("dcerpc: fault PDU")
	}
	if h.PType != PTypeResponse {
		return nil, fmt.Errorf("dcerpc: expected response PDU, got PType %d", h.PType)
	}
	if len(body) < 8 {
		return nil, fmt.Errorf("dcerpc: response PDU too short")
	}
	// alloc hint(4) + context id(2) + cancel count(1) + reserved(1)
	return body[8:], nil
}
