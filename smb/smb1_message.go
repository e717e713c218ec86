package smb

import "github.com/pveres/go-smb/smb/encoder"

// smb1Message is a decoded inbound SMB1 command: header plus the raw
// command body (WordCount/Words/ByteCount/Bytes), left opaque until a
// caller that knows the expected response shape decodes it (spec.md §1:
// command codecs are external collaborators to this core).
type smb1Message struct {
	Header SMB1Header
	Body   []byte
}

func decodeSMB1Message(buf []byte) (smb1Message, error) {
	var m smb1Message
	if len(buf) < 32 {
		return m, errShortSMB1Message
	}
	if err := encoder.Unmarshal(buf[:32], &m.Header); err != nil {
		return m, err
	}
	m.Body = append([]byte(nil), buf[32:]...)
	return m, nil
}

func decodeSMB2MessageFrom(buf []byte) (smb2Message, error) {
	var m smb2Message
	if len(buf) < smb2HeaderSize {
		return m, errShortSMB2Message
	}
	h, err := decodeSMB2Header(buf[:smb2HeaderSize])
	if err != nil {
		return m, err
	}
	m.Header = h
	m.Body = append([]byte(nil), buf[smb2HeaderSize:]...)
	return m, nil
}
