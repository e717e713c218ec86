package smb

import "fmt"

// sessionPacketKind is component C's classification of an inbound
// NetBIOS/Direct-TCP packet.
type sessionPacketKind int

const (
	kindKeepAlive sessionPacketKind = iota
	kindPositiveSessionResponse
	kindNegativeSessionResponse
	kindSessionMessage
)

// classifySessionPacket implements spec.md §4.C: four recognized kinds,
// anything else is an error (malformed/unexpected packet, fatal per
// §4.B/§5 "Resource lifecycle").
func classifySessionPacket(p rawPacket) (sessionPacketKind, error) {
	switch p.pType {
	case nbSessionKeepAlive:
		return kindKeepAlive, nil
	case nbPositiveSessionResp:
		return kindPositiveSessionResponse, nil
	case nbNegativeSessionResp:
		return kindNegativeSessionResponse, nil
	case nbSessionMessage:
		return kindSessionMessage, nil
	default:
		return 0, fmt.Errorf("smb: unrecognized session packet type 0x%02x", p.pType)
	}
}
