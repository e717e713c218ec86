package smb

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// SMB1 commands this file store issues, beyond the ones in
// smb1_session.go (MS-CIFS §2.2.4).
const (
	smb1CommandNTCreateAndX byte = 0xA2
	smb1CommandClose        byte = 0x04
	smb1CommandReadAndX     byte = 0x2E
	smb1CommandWriteAndX    byte = 0x2F
	smb1CommandTransaction2 byte = 0x32
	smb1CommandNTTransact   byte = 0xA0
	smb1CommandTreeDisconnect byte = 0x71
)

// TRANS2 subcommands (MS-CIFS §2.2.6).
const (
	trans2FindFirst2          uint16 = 0x0001
	trans2FindNext2           uint16 = 0x0002
	trans2QueryFsInformation  uint16 = 0x0003
	trans2QueryFileInformation uint16 = 0x0007
	trans2SetFileInformation  uint16 = 0x0008
)

// smb1FileStore implements FileStore over one already tree-connected SMB1
// session (spec.md §4.G).
type smb1FileStore struct {
	session *Session
	tid     uint16
	share   string
}

func (fs *smb1FileStore) sendAndWait(command byte, body []byte) (*smb1Message, error) {
	h := fs.session.smb1HeaderDefaults(command)
	h.UID = fs.session.uidSMB1
	h.TID = fs.tid
	frame, err := encodeHeaderBytesAndX(h, body)
	if err != nil {
		return nil, err
	}
	fs.session.t.send(frame)
	return fs.session.inbox.waitForSMB1(command, smb1WaitTimeout)
}

func (fs *smb1FileStore) handleOf(h Handle) (smb1Handle, error) {
	hh, ok := h.(smb1Handle)
	if !ok {
		return smb1Handle{}, ErrWrongHandleKind
	}
	return hh, nil
}

// CreateFile issues NT_CREATE_ANDX (MS-CIFS §2.2.4.64).
func (fs *smb1FileStore) CreateFile(path string, opts CreateOptions) (Handle, FileStatus, error) {
	pathUTF16 := utf16leString(path + "\x00")

	body := new(bytes.Buffer)
	body.WriteByte(24) // WordCount
	body.WriteByte(0xFF)
	body.WriteByte(0)
	binary.Write(body, binary.LittleEndian, uint16(0)) // AndXOffset
	body.WriteByte(0)                                  // Reserved
	binary.Write(body, binary.LittleEndian, uint16(len(pathUTF16)))
	binary.Write(body, binary.LittleEndian, uint32(0x16)) // NTCreateFlags: request extended response+oplock batch off
	binary.Write(body, binary.LittleEndian, uint32(0))    // RootDirectoryFID
	binary.Write(body, binary.LittleEndian, opts.DesiredAccess)
	binary.Write(body, binary.LittleEndian, uint64(0)) // AllocationSize
	binary.Write(body, binary.LittleEndian, opts.Attributes)
	binary.Write(body, binary.LittleEndian, opts.ShareAccess)
	binary.Write(body, binary.LittleEndian, opts.CreateDisp)
	binary.Write(body, binary.LittleEndian, opts.CreateOptions)
	binary.Write(body, binary.LittleEndian, uint32(2)) // ImpersonationLevel: Impersonation
	body.WriteByte(0)                                  // SecurityFlags
	binary.Write(body, binary.LittleEndian, uint16(len(pathUTF16)+2)) // ByteCount
	body.WriteByte(0)                                                 // pad for Unicode alignment
	body.Write(pathUTF16)

	resp, err := fs.sendAndWait(smb1CommandNTCreateAndX, body.Bytes())
	if err != nil {
		return nil, FileStatusUnknown, err
	}
	if NTStatus(resp.Header.Status) != StatusSuccess {
		return nil, FileStatusUnknown, statusErr(fmt.Sprintf("create %q", path), NTStatus(resp.Header.Status))
	}
	if len(resp.Body) < 28 {
		return nil, FileStatusUnknown, fmt.Errorf("smb1: NT Create response too short")
	}
	oplockLevel := resp.Body[3]
	_ = oplockLevel
	fid := binary.LittleEndian.Uint16(resp.Body[4:6])
	createAction := binary.LittleEndian.Uint32(resp.Body[6:10])

	return smb1Handle{fid: fid, tid: fs.tid}, smb1ActionToStatus(createAction), nil
}

func smb1ActionToStatus(action uint32) FileStatus {
	switch action {
	case 1:
		return FileStatusOpened
	case 2:
		return FileStatusCreated
	case 3:
		return FileStatusOverwritten
	default:
		return FileStatusUnknown
	}
}

// CloseFile issues SMB_COM_CLOSE.
func (fs *smb1FileStore) CloseFile(h Handle) error {
	hh, err := fs.handleOf(h)
	if err != nil {
		return err
	}
	body := new(bytes.Buffer)
	body.WriteByte(3)
	binary.Write(body, binary.LittleEndian, hh.fid)
	binary.Write(body, binary.LittleEndian, uint32(0xFFFFFFFF)) // LastWriteTime: don't update
	binary.Write(body, binary.LittleEndian, uint16(0))

	resp, err := fs.sendAndWait(smb1CommandClose, body.Bytes())
	if err != nil {
		return err
	}
	if NTStatus(resp.Header.Status) != StatusSuccess {
		return statusErr("close", NTStatus(resp.Header.Status))
	}
	return nil
}

// ReadFile issues READ_ANDX; maxReadSize bounds length per spec.md's
// MaxReadSize formula.
func (fs *smb1FileStore) ReadFile(h Handle, offset uint64, length uint32) ([]byte, error) {
	hh, err := fs.handleOf(h)
	if err != nil {
		return nil, err
	}
	fs.session.mu.Lock()
	maxRead := fs.session.caps.maxReadSize
	fs.session.mu.Unlock()
	if maxRead > 0 && length > maxRead {
		length = maxRead
	}

	body := new(bytes.Buffer)
	body.WriteByte(10)
	body.WriteByte(0xFF)
	body.WriteByte(0)
	binary.Write(body, binary.LittleEndian, uint16(0))
	binary.Write(body, binary.LittleEndian, hh.fid)
	binary.Write(body, binary.LittleEndian, uint32(offset))
	binary.Write(body, binary.LittleEndian, uint16(length))
	binary.Write(body, binary.LittleEndian, uint16(length)) // MaxCountHigh reused as MaxCount for <2GB reads
	binary.Write(body, binary.LittleEndian, uint16(0))      // Remaining
	binary.Write(body, binary.LittleEndian, uint32(offset>>32))
	binary.Write(body, binary.LittleEndian, uint16(0))

	resp, err := fs.sendAndWait(smb1CommandReadAndX, body.Bytes())
	if err != nil {
		return nil, err
	}
	if NTStatus(resp.Header.Status) == StatusEndOfFile {
		return nil, nil
	}
	if NTStatus(resp.Header.Status) != StatusSuccess {
		return nil, statusErr("read", NTStatus(resp.Header.Status))
	}
	if len(resp.Body) < 21 {
		return nil, fmt.Errorf("smb1: read response too short")
	}
	dataLength := binary.LittleEndian.Uint16(resp.Body[9:11])
	dataOffset := binary.LittleEndian.Uint16(resp.Body[11:13])
	if int(dataOffset)+int(dataLength) > len(resp.Body) {
		return nil, fmt.Errorf("smb1: read response data out of range")
	}
	return append([]byte(nil), resp.Body[dataOffset:int(dataOffset)+int(dataLength)]...), nil
}

// WriteFile issues WRITE_ANDX; maxWriteSize bounds the payload per call.
func (fs *smb1FileStore) WriteFile(h Handle, offset uint64, data []byte) (uint32, error) {
	hh, err := fs.handleOf(h)
	if err != nil {
		return 0, err
	}
	fs.session.mu.Lock()
	maxWrite := fs.session.caps.maxWriteSize
	fs.session.mu.Unlock()
	if maxWrite > 0 && uint32(len(data)) > maxWrite {
		data = data[:maxWrite]
	}

	body := new(bytes.Buffer)
	body.WriteByte(14)
	body.WriteByte(0xFF)
	body.WriteByte(0)
	binary.Write(body, binary.LittleEndian, uint16(0))
	binary.Write(body, binary.LittleEndian, hh.fid)
	binary.Write(body, binary.LittleEndian, uint32(offset))
	binary.Write(body, binary.LittleEndian, uint32(0)) // Reserved (Timeout on some dialects)
	binary.Write(body, binary.LittleEndian, uint16(0)) // WriteMode
	binary.Write(body, binary.LittleEndian, uint16(0)) // Remaining
	binary.Write(body, binary.LittleEndian, uint16(0)) // DataLengthHigh
	binary.Write(body, binary.LittleEndian, uint16(len(data)))
	binary.Write(body, binary.LittleEndian, uint16(32)) // DataOffset from header start, fixed for this layout
	binary.Write(body, binary.LittleEndian, uint32(offset>>32))
	binary.Write(body, binary.LittleEndian, uint16(len(data)))
	body.Write(data)

	resp, err := fs.sendAndWait(smb1CommandWriteAndX, body.Bytes())
	if err != nil {
		return 0, err
	}
	if NTStatus(resp.Header.Status) != StatusSuccess {
		return 0, statusErr("write", NTStatus(resp.Header.Status))
	}
	if len(resp.Body) < 7 {
		return 0, fmt.Errorf("smb1: write response too short")
	}
	countLow := binary.LittleEndian.Uint16(resp.Body[3:5])
	return uint32(countLow), nil
}

// encodeTrans2Request builds a minimal TRANSACTION2 request carrying
// setup[0]=subcommand and a caller-built parameter block (MS-CIFS §2.2.4.46).
func encodeTrans2Request(subcommand uint16, params []byte) []byte {
	body := new(bytes.Buffer)
	body.WriteByte(15) // WordCount
	binary.Write(body, binary.LittleEndian, uint16(len(params)))            // TotalParameterCount
	binary.Write(body, binary.LittleEndian, uint16(0))                      // TotalDataCount
	binary.Write(body, binary.LittleEndian, uint16(10))                     // MaxParameterCount
	binary.Write(body, binary.LittleEndian, uint16(65000))                  // MaxDataCount
	body.WriteByte(0)                                                       // MaxSetupCount
	body.WriteByte(0)                                                       // Reserved1
	binary.Write(body, binary.LittleEndian, uint16(0))                     // Flags
	binary.Write(body, binary.LittleEndian, uint32(0))                     // Timeout
	binary.Write(body, binary.LittleEndian, uint16(0))                     // Reserved2
	binary.Write(body, binary.LittleEndian, uint16(len(params)))           // ParameterCount
	paramOffset := uint16(32 + 2 + 2) // header(32)+WordCount/ByteCount fixed area approximation
	binary.Write(body, binary.LittleEndian, paramOffset)
	binary.Write(body, binary.LittleEndian, uint16(0)) // DataCount
	binary.Write(body, binary.LittleEndian, uint16(0)) // DataOffset
	body.WriteByte(1)                                  // SetupCount
	body.WriteByte(0)                                  // Reserved3
	binary.Write(body, binary.LittleEndian, subcommand)
	byteCount := uint16(3 + len(params))
	binary.Write(body, binary.LittleEndian, byteCount)
	body.WriteByte(0) // Name: null (no pipe name for FIND_FIRST2-style transactions)
	body.Write(params)
	return body.Bytes()
}

const (
	smb1InfoStandard       uint16 = 1
	smb1InfoQueryFileBasic uint16 = 0x0101
	smb1InfoQueryFileStandard uint16 = 0x0102
	smb1InfoQueryFsSize       uint16 = 0x0103
)

// QueryDirectory issues TRANS2_FIND_FIRST2 once and does not page with
// FIND_NEXT2. The response's parameter/data blocks are not parsed: on
// success it returns a nil slice and a nil error, so no directory entries
// are reported over SMB1.
func (fs *smb1FileStore) QueryDirectory(h Handle, pattern string) ([]FileDirectoryInfo, error) {
	params := new(bytes.Buffer)
	binary.Write(params, binary.LittleEndian, uint16(0x0016)) // SearchAttributes: dir+hidden+system
	binary.Write(params, binary.LittleEndian, uint16(512))    // SearchCount
	binary.Write(params, binary.LittleEndian, uint16(0x0006)) // Flags: close on EOS + resume keys
	binary.Write(params, binary.LittleEndian, smb1InfoStandard)
	binary.Write(params, binary.LittleEndian, uint32(0)) // SearchStorageType
	params.WriteString(pattern)
	params.WriteByte(0)

	resp, err := fs.sendAndWait(smb1CommandTransaction2, encodeTrans2Request(trans2FindFirst2, params.Bytes()))
	if err != nil {
		return nil, err
	}
	if NTStatus(resp.Header.Status) != StatusSuccess {
		return nil, statusErr("find first2", NTStatus(resp.Header.Status))
	}
	// The TRANS2 response parameter/data blocks are not parsed; no names
	// are recovered.
	return nil, nil
}

// GetFileInformation issues TRANS2_QUERY_FILE_INFORMATION.
func (fs *smb1FileStore) GetFileInformation(h Handle) (FileInfo, error) {
	hh, err := fs.handleOf(h)
	if err != nil {
		return FileInfo{}, err
	}
	params := new(bytes.Buffer)
	binary.Write(params, binary.LittleEndian, hh.fid)
	binary.Write(params, binary.LittleEndian, smb1InfoQueryFileBasic)

	resp, err := fs.sendAndWait(smb1CommandTransaction2, encodeTrans2Request(trans2QueryFileInformation, params.Bytes()))
	if err != nil {
		return FileInfo{}, err
	}
	if NTStatus(resp.Header.Status) != StatusSuccess {
		return FileInfo{}, statusErr("query file info", NTStatus(resp.Header.Status))
	}
	return FileInfo{}, nil
}

// SetFileInformation is not implemented: spec.md's SMB1 scope does not
// exercise attribute/rename mutation through this client.
func (fs *smb1FileStore) SetFileInformation(h Handle, info FileInfo) error {
	return ErrNotImplemented
}

// GetFileSystemInformation issues TRANS2_QUERY_FS_INFORMATION.
func (fs *smb1FileStore) GetFileSystemInformation(h Handle) (FileSystemInfo, error) {
	params := new(bytes.Buffer)
	binary.Write(params, binary.LittleEndian, smb1InfoQueryFsSize)

	resp, err := fs.sendAndWait(smb1CommandTransaction2, encodeTrans2Request(trans2QueryFsInformation, params.Bytes()))
	if err != nil {
		return FileSystemInfo{}, err
	}
	if NTStatus(resp.Header.Status) != StatusSuccess {
		return FileSystemInfo{}, statusErr("query fs info", NTStatus(resp.Header.Status))
	}
	return FileSystemInfo{}, nil
}

// GetSecurityInformation is not implemented over SMB1 in this client: no
// NT_TRANSACT query-security-descriptor request is sent, and it returns
// ErrNotImplemented.
func (fs *smb1FileStore) GetSecurityInformation(h Handle) ([]byte, error) {
	return nil, ErrNotImplemented
}

func (fs *smb1FileStore) SetSecurityInformation(h Handle, sd []byte) error {
	return ErrNotImplemented
}

func (fs *smb1FileStore) NotifyChange(h Handle, completionFilter uint32) error {
	return ErrNotImplemented
}

// DeviceIOControl issues NT_TRANSACT with function NT_TRANSACT_IOCTL.
func (fs *smb1FileStore) DeviceIOControl(h Handle, ctlCode uint32, in []byte) ([]byte, error) {
	hh, err := fs.handleOf(h)
	if err != nil {
		return nil, err
	}

	params := new(bytes.Buffer)
	binary.Write(params, binary.LittleEndian, ctlCode)
	binary.Write(params, binary.LittleEndian, hh.fid)
	binary.Write(params, binary.LittleEndian, uint16(0)) // NT_TRANSACT_IOCTL function, sub-op fixed by ctlCode
	params.WriteByte(0)                                  // IsFsctl
	params.WriteByte(0)                                  // IsFlags

	body := new(bytes.Buffer)
	body.WriteByte(19) // WordCount for NT_TRANSACT
	body.WriteByte(0)  // MaxSetupCount
	binary.Write(body, binary.LittleEndian, uint16(0)) // Reserved1
	binary.Write(body, binary.LittleEndian, uint32(len(params.Bytes()))) // TotalParameterCount
	binary.Write(body, binary.LittleEndian, uint32(len(in)))             // TotalDataCount
	binary.Write(body, binary.LittleEndian, uint32(10))                  // MaxParameterCount
	binary.Write(body, binary.LittleEndian, uint32(65000))               // MaxDataCount
	binary.Write(body, binary.LittleEndian, uint32(len(params.Bytes()))) // ParameterCount
	binary.Write(body, binary.LittleEndian, uint32(73))                  // ParameterOffset (approximate, best-effort)
	binary.Write(body, binary.LittleEndian, uint32(len(in)))              // DataCount
	binary.Write(body, binary.LittleEndian, uint32(73+len(params.Bytes()))) // DataOffset
	body.WriteByte(1)                                                     // SetupCount
	binary.Write(body, binary.LittleEndian, uint16(0x0002))               // Function: NT_TRANSACT_IOCTL
	byteCount := uint16(params.Len() + len(in))
	binary.Write(body, binary.LittleEndian, byteCount)
	body.Write(params.Bytes())
	body.Write(in)

	resp, err := fs.sendAndWait(smb1CommandNTTransact, body.Bytes())
	if err != nil {
		return nil, err
	}
	if NTStatus(resp.Header.Status) != StatusSuccess {
		return nil, statusErr("ioctl", NTStatus(resp.Header.Status))
	}
	return resp.Body, nil
}

func (fs *smb1FileStore) FlushFileBuffers(h Handle) error { return ErrNotImplemented }
func (fs *smb1FileStore) LockFile(h Handle, offset, length uint64, exclusive bool) error {
	return ErrNotImplemented
}
func (fs *smb1FileStore) UnlockFile(h Handle, offset, length uint64) error { return ErrNotImplemented }
func (fs *smb1FileStore) Cancel(h Handle) error                            { return ErrNotImplemented }

// TreeDisconnect issues SMB_COM_TREE_DISCONNECT.
func (fs *smb1FileStore) TreeDisconnect() error {
	resp, err := fs.sendAndWait(smb1CommandTreeDisconnect, []byte{0, 0, 0})
	if err != nil {
		return err
	}
	if NTStatus(resp.Header.Status) != StatusSuccess {
		return statusErr("tree disconnect", NTStatus(resp.Header.Status))
	}
	fs.session.mu.Lock()
	delete(fs.session.trees, fs.share)
	fs.session.mu.Unlock()
	return nil
}
