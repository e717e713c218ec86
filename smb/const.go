package smb

import "time"

// Wire signatures distinguishing SMB1 from SMB2 messages inside a
// NetBIOS/Direct-TCP session message (RFC 1001 §4.3.1 framing carries
// either).
var (
	protocolSMB1 = []byte{0xFF, 'S', 'M', 'B'}
	protocolSMB2 = []byte{0xFE, 'S', 'M', 'B'}
)

// TransportKind selects the outer framing: NetBIOS session service (port
// 139) or Direct TCP (port 445).
type TransportKind int

const (
	NetBIOS TransportKind = iota
	DirectTCP
)

// Well-known ports for each transport kind.
const (
	PortNetBIOS   = 139
	PortDirectTCP = 445
)

// NetBIOS session service packet types (RFC 1001 §4.3.1).
const (
	nbSessionMessage         uint8 = 0x00
	nbSessionRequest         uint8 = 0x81
	nbPositiveSessionResp    uint8 = 0x82
	nbNegativeSessionResp    uint8 = 0x83
	nbRetargetSessionResp    uint8 = 0x84
	nbSessionKeepAlive       uint8 = 0x85
)

// NetBIOS name-service suffixes used when building the Session Request
// calling/called names (RFC 1001/1002, and MS-CIFS §2.2.4.1 usage).
const (
	nbSuffixWorkstation uint8 = 0x00
	nbSuffixFileServer  uint8 = 0x20
)

// Default timeouts (spec.md §6 "Timeouts").
const (
	smb1WaitTimeout     = 5 * time.Second
	smb2WaitTimeout     = 60 * time.Second
	smb1PollInterval    = 100 * time.Millisecond
	smb2PollInterval    = 50 * time.Millisecond
	creditWaitTimeout   = 60 * time.Second
)

// AuthMethod selects the NTLM response flavor used during Login.
type AuthMethod int

const (
	NTLMv1 AuthMethod = iota
	NTLMv2
	NTLMv1ExtendedSessionSecurity
)

// SMB1 Capabilities bits advertised by a server in NegotiateResponse
// (MS-CIFS §2.2.4.5.2.1). Only the bits this client inspects or relies on
// are named.
const (
	capRawMode        uint32 = 0x00000001
	capMpxMode        uint32 = 0x00000002
	capUnicode        uint32 = 0x00000004
	capLargeFiles     uint32 = 0x00000008
	capNTSMBs         uint32 = 0x00000010
	capRpcRemoteAPIs  uint32 = 0x00000020
	capStatus32       uint32 = 0x00000040
	capLevelIIOplocks uint32 = 0x00000080
	capLockAndRead    uint32 = 0x00000100
	capNTFind         uint32 = 0x00000200
	capDFS            uint32 = 0x00001000
	capInfoLevelPassthru uint32 = 0x00002000
	capLargeReadX     uint32 = 0x00004000
	capLargeWriteX    uint32 = 0x00008000
	capExtendedSecurity uint32 = 0x80000000

	// capMandatoryMask is the set of capabilities spec.md §4.G requires a
	// server to advertise before this client will negotiate SMB1 at all:
	// NT error codes, NT SMBs, and the RPC-carrying remote API surface
	// named pipes need.
	capMandatoryMask = capNTSMBs | capRpcRemoteAPIs | capStatus32
)

// SMB1 header and AndX parameter-block sizes (MS-CIFS §2.2.3.1, §2.2.4.42,
// §2.2.4.43) used to size ReadAndX/WriteAndX requests against a server's
// advertised MaxBufferSize.
const (
	smb1HeaderSize                   = 32
	smb1ReadAndXResponseParamsLength = 24
	smb1WriteAndXRequestParamsLength = 28

	// smb1ClientMaxBufferSize is the buffer size this client advertises
	// in its own SessionSetupAndX request.
	smb1ClientMaxBufferSize uint32 = 65535
)

// smb1MaxReadSize computes the largest read this client will ask a server
// for in a single ReadAndX, per spec.md §4.G: the server's MaxBufferSize
// less the SMB1 header, the WordCount byte and ByteCount field (3 bytes),
// and the ReadAndX response's fixed parameter block.
func smb1MaxReadSize(serverMaxBufferSize uint32) uint32 {
	overhead := uint32(smb1HeaderSize + 3 + smb1ReadAndXResponseParamsLength)
	if serverMaxBufferSize <= overhead {
		return 0
	}
	return serverMaxBufferSize - overhead
}

// smb1MaxWriteSize computes the largest write payload this client will
// send in a single WriteAndX, per spec.md §4.G: the server's
// MaxBufferSize less the SMB1 header, the WordCount byte and ByteCount
// field (3 bytes), and the WriteAndX request's fixed parameter block.
// Unicode pathnames cost an extra padding byte that the write path must
// also leave room for.
func smb1MaxWriteSize(serverMaxBufferSize uint32, unicode bool) uint32 {
	overhead := uint32(smb1HeaderSize + 3 + smb1WriteAndXRequestParamsLength)
	if unicode {
		overhead++
	}
	if serverMaxBufferSize <= overhead {
		return 0
	}
	return serverMaxBufferSize - overhead
}
