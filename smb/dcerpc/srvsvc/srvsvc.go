// Package srvsvc implements just enough of the MS-SRVS Server Service RPC
// interface to support NetrShareEnum level 1, the call behind
// Session.ListShares. It rides on the generic DCE/RPC bind/request layer
// in smb/dcerpc.
package srvsvc

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/jfjallid/golog"
	"github.com/pveres/go-smb/smb/dcerpc"
)

var log = golog.Get("github.com/pveres/go-smb/smb/dcerpc/srvsvc")

// InterfaceUUID is the Server Service abstract syntax (MS-SRVS).
var InterfaceUUID = dcerpc.UUID{Data: [16]byte{
	0xc8, 0x4f, 0x32, 0x4b, 0x70, 0x16, 0xd3, 0x01,
	0x12, 0x78, 0x5a, 0x47, 0xbf, 0x6e, 0xe1, 0x88,
}}

const interfaceVersion uint32 = 3 // major 3, minor 0 (packed below)

const opNetrShareEnum uint16 = 15

// Share types this client recognizes (MS-SRVS 2.2.2.4), masked from the
// low byte of the server's Type field.
const (
	STypeDisktree uint32 = 0x0
	STypePrintq   uint32 = 0x1
	STypeDevice   uint32 = 0x2
	STypeIPC      uint32 = 0x3
	STypeSpecial  uint32 = 0x80000000
)

// ShareInfo is one SHARE_INFO_1 entry.
type ShareInfo struct {
	Name    string
	Type    uint32
	Comment string
}

// transport is the minimal pipe I/O surface srvsvc needs; satisfied by a
// DCERPC-framed named pipe handle opened over an SMB tree (smb.FileStore
// wraps CreateFile/ReadFile/WriteFile/CloseFile to produce one of these).
type transport interface {
	Write(p []byte) (int, error)
	Read(max int) ([]byte, error)
}

// Client binds to \PIPE\srvsvc over an already-open named-pipe transport.
type Client struct {
	t      transport
	callID uint32
}

// Bind performs the DCE/RPC bind handshake over t.
func Bind(t transport) (*Client, error) {
	c := &Client{t: t, callID: 1}

	req := dcerpc.BuildBind(c.callID, 4280, 4280, 0, InterfaceUUID, packVersion(3, 0))
	if _, err := c.t.Write(req); err != nil {
		return nil, fmt.Errorf("srvsvc: send bind: %w", err)
	}
	resp, err := c.t.Read(4096)
	if err != nil {
		return nil, fmt.Errorf("srvsvc: recv bind_ack: %w", err)
	}
	ack, err := dcerpc.ParseBindAck(resp)
	if err != nil {
		return nil, err
	}
	if !ack.ResultAccept {
		return nil, fmt.Errorf("srvsvc: bind not accepted")
	}
	c.callID++
	return c, nil
}

func packVersion(major, minor uint16) uint32 {
	return uint32(major) | uint32(minor)<<16
}

// NetShareEnumAll calls NetrShareEnum at info level 1 against serverName
// (the UNC server name, e.g. "\\\\192.0.2.1") and returns every share.
func (c *Client) NetShareEnumAll(serverName string) ([]ShareInfo, error) {
	stub := new(bytes.Buffer)

	// ServerName: [unique, string] wchar_t* — referent id then the string.
	refID := uint32(0x20000)
	binary.Write(stub, binary.LittleEndian, refID)
	if err := dcerpc.WriteConformantVaryingString(stub, serverName+"\x00"); err != nil {
		return nil, err
	}

	// InfoStruct: level(4) + union switch(4) + [unique] container ptr(4),
	// container.count(4)=0, container.buffer=NULL(4).
	binary.Write(stub, binary.LittleEndian, uint32(1)) // Level
	binary.Write(stub, binary.LittleEndian, uint32(1)) // union tag (level 1)
	refID += 4
	binary.Write(stub, binary.LittleEndian, refID) // ctr1 referent
	binary.Write(stub, binary.LittleEndian, uint32(0)) // Count = 0
	binary.Write(stub, binary.LittleEndian, uint32(0)) // Buffer = NULL

	binary.Write(stub, binary.LittleEndian, uint32(0xFFFFFFFF)) // PreferedMaximumLength
	binary.Write(stub, binary.LittleEndian, uint32(0))          // ResumeHandle: NULL

	req := dcerpc.BuildRequest(c.callID, opNetrShareEnum, stub.Bytes())
	c.callID++

	if _, err := c.t.Write(req); err != nil {
		return nil, fmt.Errorf("srvsvc: send NetrShareEnum: %w", err)
	}
	resp, err := c.t.Read(65536)
	if err != nil {
		return nil, fmt.Errorf("srvsvc: recv NetrShareEnum response: %w", err)
	}
	stubOut, err := dcerpc.ParseResponse(resp)
	if err != nil {
		return nil, err
	}
	return decodeShareEnumResponse(stubOut)
}

func decodeShareEnumResponse(buf []byte) ([]ShareInfo, error) {
	r := bytes.NewReader(buf)

	var level uint32
	if err := binary.Read(r, binary.LittleEndian, &level); err != nil {
		return nil, err
	}
	var tag uint32
	if err := binary.Read(r, binary.LittleEndian, &tag); err != nil {
		return nil, err
	}
	var ctrRef uint32
	if err := binary.Read(r, binary.LittleEndian, &ctrRef); err != nil {
		return nil, err
	}
	if ctrRef == 0 {
		return nil, nil
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	var bufRef uint32
	if err := binary.Read(r, binary.LittleEndian, &bufRef); err != nil {
		return nil, err
	}
	if bufRef == 0 || count == 0 {
		return nil, nil
	}

	var arrayCount uint32
	if err := binary.Read(r, binary.LittleEndian, &arrayCount); err != nil {
		return nil, err
	}

	type fixedEntry struct {
		nameRef, typ, commentRef uint32
	}
	entries := make([]fixedEntry, arrayCount)
	for i := range entries {
		if err := binary.Read(r, binary.LittleEndian, &entries[i].nameRef); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &entries[i].typ); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &entries[i].commentRef); err != nil {
			return nil, err
		}
	}

	shares := make([]ShareInfo, arrayCount)
	for i := range entries {
		shares[i].Type = entries[i].typ
		if entries[i].nameRef != 0 {
			name, err := dcerpc.ReadConformantVaryingString(r)
			if err != nil {
				log.Debugln("srvsvc: decode share name:", err)
			}
			shares[i].Name = name
		}
		if entries[i].commentRef != 0 {
			comment, err := dcerpc.ReadConformantVaryingString(r)
			if err != nil {
				log.Debugln("srvsvc: decode share comment:", err)
			}
			shares[i].Comment = comment
		}
	}
	return shares, nil
}
