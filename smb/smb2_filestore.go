package smb

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// SMB2 CreateDisposition / CreateOptions / CreateAction values this client
// exercises (MS-SMB2 §2.2.13).
const (
	FileSupersede   uint32 = 0
	FileOpen        uint32 = 1
	FileCreate      uint32 = 2
	FileOpenIf      uint32 = 3
	FileOverwrite   uint32 = 4
	FileOverwriteIf uint32 = 5
)

const (
	smb2ActionSuperseded uint32 = 0
	smb2ActionOpened     uint32 = 1
	smb2ActionCreated     uint32 = 2
	smb2ActionOverwritten uint32 = 3
)

// smb2FileStore implements FileStore over one already-connected SMB2 tree
// (spec.md §4.H).
type smb2FileStore struct {
	session *Session
	treeID  uint32
	share   string
}

func (fs *smb2FileStore) request(command uint16, body []byte) (*smb2Message, error) {
	h, err := fs.session.buildSMB2Header(command, fs.treeID)
	if err != nil {
		return nil, err
	}
	fs.session.sendSMB2(h, body)
	resp, err := fs.session.inbox.waitForSMB2(command, h.MessageID, smb2WaitTimeout)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, &StatusError{Op: fmt.Sprintf("command 0x%04x", command), Status: StatusPending}
	}
	return resp, nil
}

// CreateFile issues SMB2_CREATE (MS-SMB2 §2.2.13).
func (fs *smb2FileStore) CreateFile(path string, opts CreateOptions) (Handle, FileStatus, error) {
	utf16Path := utf16leString(path)

	body := new(bytes.Buffer)
	binary.Write(body, binary.LittleEndian, uint16(57)) // StructureSize
	body.WriteByte(0)                                   // SecurityFlags
	body.WriteByte(0)                                   // RequestedOplockLevel: none
	binary.Write(body, binary.LittleEndian, uint32(0))  // ImpersonationLevel: Anonymous, left 0 (Impersonation not modeled)
	binary.Write(body, binary.LittleEndian, uint64(0))  // SmbCreateFlags
	binary.Write(body, binary.LittleEndian, uint64(0))  // Reserved
	binary.Write(body, binary.LittleEndian, opts.DesiredAccess)
	binary.Write(body, binary.LittleEndian, opts.Attributes)
	binary.Write(body, binary.LittleEndian, opts.ShareAccess)
	binary.Write(body, binary.LittleEndian, opts.CreateDisp)
	binary.Write(body, binary.LittleEndian, opts.CreateOptions)
	binary.Write(body, binary.LittleEndian, uint16(smb2HeaderSize+120))
	binary.Write(body, binary.LittleEndian, uint16(len(utf16Path)))
	binary.Write(body, binary.LittleEndian, uint32(0)) // CreateContextsOffset
	binary.Write(body, binary.LittleEndian, uint32(0)) // CreateContextsLength
	body.Write(utf16Path)

	resp, err := fs.request(SMB2Create, body.Bytes())
	if err != nil {
		return nil, FileStatusUnknown, err
	}
	if NTStatus(resp.Header.Status) != StatusSuccess {
		return nil, FileStatusUnknown, statusErr(fmt.Sprintf("create %q", path), NTStatus(resp.Header.Status))
	}
	if len(resp.Body) < 88 {
		return nil, FileStatusUnknown, fmt.Errorf("smb2: create response too short")
	}
	action := binary.LittleEndian.Uint32(resp.Body[2:6])
	persistent := binary.LittleEndian.Uint64(resp.Body[64:72])
	volatile := binary.LittleEndian.Uint64(resp.Body[72:80])

	return smb2Handle{persistent: persistent, volatile: volatile, treeID: fs.treeID}, actionToStatus(action), nil
}

func actionToStatus(action uint32) FileStatus {
	switch action {
	case smb2ActionSuperseded:
		return FileStatusSuperseded
	case smb2ActionOpened:
		return FileStatusOpened
	case smb2ActionCreated:
		return FileStatusCreated
	case smb2ActionOverwritten:
		return FileStatusOverwritten
	default:
		return FileStatusUnknown
	}
}

func (fs *smb2FileStore) handleOf(h Handle) (smb2Handle, error) {
	hh, ok := h.(smb2Handle)
	if !ok {
		return smb2Handle{}, ErrWrongHandleKind
	}
	return hh, nil
}

func encodeSMB2Handle(h smb2Handle) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], h.persistent)
	binary.LittleEndian.PutUint64(buf[8:16], h.volatile)
	return buf
}

// CloseFile issues SMB2_CLOSE.
func (fs *smb2FileStore) CloseFile(h Handle) error {
	hh, err := fs.handleOf(h)
	if err != nil {
		return err
	}
	body := new(bytes.Buffer)
	binary.Write(body, binary.LittleEndian, uint16(24)) // StructureSize
	binary.Write(body, binary.LittleEndian, uint16(0))  // Flags
	binary.Write(body, binary.LittleEndian, uint32(0))  // Reserved
	body.Write(encodeSMB2Handle(hh))

	resp, err := fs.request(SMB2Close, body.Bytes())
	if err != nil {
		return err
	}
	if NTStatus(resp.Header.Status) != StatusSuccess {
		return statusErr("close", NTStatus(resp.Header.Status))
	}
	return nil
}

// ReadFile issues SMB2_READ; maxReadSize from the negotiate capability
// snapshot bounds length per call (spec.md §4.H MaxReadSize formula).
func (fs *smb2FileStore) ReadFile(h Handle, offset uint64, length uint32) ([]byte, error) {
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
	binary.Write(body, binary.LittleEndian, uint16(49)) // StructureSize
	body.WriteByte(0)                                   // Padding
	body.WriteByte(0)                                   // Flags
	binary.Write(body, binary.LittleEndian, length)
	binary.Write(body, binary.LittleEndian, offset)
	body.Write(encodeSMB2Handle(hh))
	binary.Write(body, binary.LittleEndian, uint32(0)) // MinimumCount
	binary.Write(body, binary.LittleEndian, uint32(0)) // Channel
	binary.Write(body, binary.LittleEndian, uint32(0)) // RemainingBytes
	binary.Write(body, binary.LittleEndian, uint16(0)) // ReadChannelInfoOffset
	binary.Write(body, binary.LittleEndian, uint16(0)) // ReadChannelInfoLength
	body.WriteByte(0)                                  // one-byte Buffer placeholder required by the fixed part

	resp, err := fs.request(SMB2Read, body.Bytes())
	if err != nil {
		return nil, err
	}
	if NTStatus(resp.Header.Status) == StatusEndOfFile {
		return nil, nil
	}
	if NTStatus(resp.Header.Status) != StatusSuccess {
		return nil, statusErr("read", NTStatus(resp.Header.Status))
	}
	if len(resp.Body) < 16 {
		return nil, fmt.Errorf("smb2: read response too short")
	}
	dataOffset := resp.Body[2]
	dataLength := binary.LittleEndian.Uint32(resp.Body[4:8])
	start := int(dataOffset) - smb2HeaderSize
	if start < 0 || start+int(dataLength) > len(resp.Body) {
		return nil, fmt.Errorf("smb2: read response data out of range")
	}
	return append([]byte(nil), resp.Body[start:start+int(dataLength)]...), nil
}

// WriteFile issues SMB2_WRITE; maxWriteSize bounds the payload per call.
func (fs *smb2FileStore) WriteFile(h Handle, offset uint64, data []byte) (uint32, error) {
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
	binary.Write(body, binary.LittleEndian, uint16(49)) // StructureSize
	binary.Write(body, binary.LittleEndian, uint16(smb2HeaderSize+48))
	binary.Write(body, binary.LittleEndian, uint32(len(data)))
	binary.Write(body, binary.LittleEndian, offset)
	body.Write(encodeSMB2Handle(hh))
	binary.Write(body, binary.LittleEndian, uint32(0)) // Channel
	binary.Write(body, binary.LittleEndian, uint32(0)) // RemainingBytes
	binary.Write(body, binary.LittleEndian, uint16(0)) // WriteChannelInfoOffset
	binary.Write(body, binary.LittleEndian, uint16(0)) // WriteChannelInfoLength
	binary.Write(body, binary.LittleEndian, uint32(0)) // Flags
	body.Write(data)

	resp, err := fs.request(SMB2Write, body.Bytes())
	if err != nil {
		return 0, err
	}
	if NTStatus(resp.Header.Status) != StatusSuccess {
		return 0, statusErr("write", NTStatus(resp.Header.Status))
	}
	if len(resp.Body) < 8 {
		return 0, fmt.Errorf("smb2: write response too short")
	}
	return binary.LittleEndian.Uint32(resp.Body[4:8]), nil
}

// SMB2 FileInformationClass values this client requests (MS-FSCC §2.4).
const (
	fileDirectoryInformation    uint8 = 0x01
	fileAllInformation          uint8 = 0x12
	fileFsSizeInformation       uint8 = 0x03
)

// QueryDirectory loops SMB2_QUERY_DIRECTORY with the Reopen flag cleared
// after the first call, paging until STATUS_NO_MORE_FILES (spec.md §4.H).
func (fs *smb2FileStore) QueryDirectory(h Handle, pattern string) ([]FileDirectoryInfo, error) {
	hh, err := fs.handleOf(h)
	if err != nil {
		return nil, err
	}
	var out []FileDirectoryInfo
	reopen := true
	for {
		utf16Pattern := utf16leString(pattern)
		body := new(bytes.Buffer)
		binary.Write(body, binary.LittleEndian, uint16(33)) // StructureSize
		body.WriteByte(fileDirectoryInformation)
		if reopen {
			body.WriteByte(0x01) // SMB2_REOPEN
		} else {
			body.WriteByte(0x00)
		}
		body.Write(encodeSMB2Handle(hh))
		binary.Write(body, binary.LittleEndian, uint16(smb2HeaderSize+32))
		binary.Write(body, binary.LittleEndian, uint16(len(utf16Pattern)))
		binary.Write(body, binary.LittleEndian, uint32(65536)) // OutputBufferLength
		body.Write(utf16Pattern)
		reopen = false

		resp, err := fs.request(SMB2QueryDirectory, body.Bytes())
		if err != nil {
			return nil, err
		}
		if NTStatus(resp.Header.Status) == StatusNoMoreFiles {
			break
		}
		if NTStatus(resp.Header.Status) != StatusSuccess {
			return nil, statusErr("query directory", NTStatus(resp.Header.Status))
		}
		if len(resp.Body) < 8 {
			return nil, fmt.Errorf("smb2: query directory response too short")
		}
		dataOffset := binary.LittleEndian.Uint16(resp.Body[2:4])
		dataLength := binary.LittleEndian.Uint32(resp.Body[4:8])
		start := int(dataOffset) - smb2HeaderSize
		if start < 0 || start+int(dataLength) > len(resp.Body) {
			return nil, fmt.Errorf("smb2: query directory response data out of range")
		}
		entries, err := decodeFileDirectoryEntries(resp.Body[start : start+int(dataLength)])
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	return out, nil
}

func decodeFileDirectoryEntries(buf []byte) ([]FileDirectoryInfo, error) {
	var out []FileDirectoryInfo
	for len(buf) > 0 {
		if len(buf) < 64 {
			return nil, fmt.Errorf("smb2: truncated FILE_DIRECTORY_INFORMATION entry")
		}
		nextOffset := binary.LittleEndian.Uint32(buf[0:4])
		creation := binary.LittleEndian.Uint64(buf[8:16])
		lastWrite := binary.LittleEndian.Uint64(buf[24:32])
		eof := binary.LittleEndian.Uint64(buf[40:48])
		alloc := binary.LittleEndian.Uint64(buf[48:56])
		attrs := binary.LittleEndian.Uint32(buf[56:60])
		nameLen := binary.LittleEndian.Uint32(buf[60:64])
		if len(buf) < 64+int(nameLen) {
			return nil, fmt.Errorf("smb2: FILE_DIRECTORY_INFORMATION name truncated")
		}
		name := utf16leToString(buf[64 : 64+nameLen])
		out = append(out, FileDirectoryInfo{
			Name: name, Attributes: attrs, EndOfFile: eof, AllocationSize: alloc,
			CreationTime: ntToTime(creation), LastWriteTime: ntToTime(lastWrite),
			IsDirectory: attrs&0x10 != 0,
		})
		if nextOffset == 0 {
			break
		}
		buf = buf[nextOffset:]
	}
	return out, nil
}

func utf16leToString(b []byte) string {
	runes := make([]rune, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		runes = append(runes, rune(uint16(b[i])|uint16(b[i+1])<<8))
	}
	return string(runes)
}

// GetFileInformation issues SMB2_QUERY_INFO with FileAllInformation.
func (fs *smb2FileStore) GetFileInformation(h Handle) (FileInfo, error) {
	hh, err := fs.handleOf(h)
	if err != nil {
		return FileInfo{}, err
	}
	body := new(bytes.Buffer)
	binary.Write(body, binary.LittleEndian, uint16(41)) // StructureSize
	body.WriteByte(0x01)                                // InfoType: SMB2_0_INFO_FILE
	body.WriteByte(fileAllInformation)
	binary.Write(body, binary.LittleEndian, uint32(65536)) // OutputBufferLength
	binary.Write(body, binary.LittleEndian, uint16(0))     // InputBufferOffset
	binary.Write(body, binary.LittleEndian, uint16(0))     // Reserved
	binary.Write(body, binary.LittleEndian, uint32(0))     // InputBufferLength
	binary.Write(body, binary.LittleEndian, uint32(0))     // AdditionalInformation
	binary.Write(body, binary.LittleEndian, uint32(0))     // Flags
	body.Write(encodeSMB2Handle(hh))

	resp, err := fs.request(SMB2QueryInfo, body.Bytes())
	if err != nil {
		return FileInfo{}, err
	}
	if NTStatus(resp.Header.Status) != StatusSuccess {
		return FileInfo{}, statusErr("query info", NTStatus(resp.Header.Status))
	}
	if len(resp.Body) < 8 {
		return FileInfo{}, fmt.Errorf("smb2: query info response too short")
	}
	dataOffset := binary.LittleEndian.Uint16(resp.Body[2:4])
	dataLength := binary.LittleEndian.Uint32(resp.Body[4:8])
	start := int(dataOffset) - smb2HeaderSize
	if start < 0 || start+int(dataLength) > len(resp.Body) || dataLength < 56 {
		return FileInfo{}, fmt.Errorf("smb2: query info response data out of range")
	}
	data := resp.Body[start : start+int(dataLength)]
	return FileInfo{
		CreationTime:   ntToTime(binary.LittleEndian.Uint64(data[0:8])),
		LastAccessTime: ntToTime(binary.LittleEndian.Uint64(data[8:16])),
		LastWriteTime:  ntToTime(binary.LittleEndian.Uint64(data[16:24])),
		ChangeTime:     ntToTime(binary.LittleEndian.Uint64(data[24:32])),
		Attributes:     binary.LittleEndian.Uint32(data[32:36]),
		AllocationSize: binary.LittleEndian.Uint64(data[40:48]),
		EndOfFile:      binary.LittleEndian.Uint64(data[48:56]),
		IsDirectory:    binary.LittleEndian.Uint32(data[32:36])&0x10 != 0,
	}, nil
}

// SetFileInformation is not implemented: spec.md leaves SetFileInformation
// scope to basic rename/delete-on-close flags, which this client's
// supplemented feature set does not yet exercise.
func (fs *smb2FileStore) SetFileInformation(h Handle, info FileInfo) error {
	return ErrNotImplemented
}

// GetFileSystemInformation issues SMB2_QUERY_INFO with
// FileFsSizeInformation (MS-FSCC §2.5.8).
func (fs *smb2FileStore) GetFileSystemInformation(h Handle) (FileSystemInfo, error) {
	hh, err := fs.handleOf(h)
	if err != nil {
		return FileSystemInfo{}, err
	}
	body := new(bytes.Buffer)
	binary.Write(body, binary.LittleEndian, uint16(41))
	body.WriteByte(0x02) // InfoType: SMB2_0_INFO_FILESYSTEM
	body.WriteByte(fileFsSizeInformation)
	binary.Write(body, binary.LittleEndian, uint32(4096))
	binary.Write(body, binary.LittleEndian, uint16(0))
	binary.Write(body, binary.LittleEndian, uint16(0))
	binary.Write(body, binary.LittleEndian, uint32(0))
	binary.Write(body, binary.LittleEndian, uint32(0))
	binary.Write(body, binary.LittleEndian, uint32(0))
	body.Write(encodeSMB2Handle(hh))

	resp, err := fs.request(SMB2QueryInfo, body.Bytes())
	if err != nil {
		return FileSystemInfo{}, err
	}
	if NTStatus(resp.Header.Status) != StatusSuccess {
		return FileSystemInfo{}, statusErr("query fs info", NTStatus(resp.Header.Status))
	}
	dataOffset := binary.LittleEndian.Uint16(resp.Body[2:4])
	dataLength := binary.LittleEndian.Uint32(resp.Body[4:8])
	start := int(dataOffset) - smb2HeaderSize
	if start < 0 || start+int(dataLength) > len(resp.Body) || dataLength < 24 {
		return FileSystemInfo{}, fmt.Errorf("smb2: query fs info response data out of range")
	}
	data := resp.Body[start : start+int(dataLength)]
	return FileSystemInfo{
		TotalAllocationUnits:     binary.LittleEndian.Uint64(data[0:8]),
		AvailableAllocationUnits: binary.LittleEndian.Uint64(data[8:16]),
		SectorsPerAllocationUnit: binary.LittleEndian.Uint32(data[16:20]),
		BytesPerSector:           binary.LittleEndian.Uint32(data[20:24]),
	}, nil
}

// GetSecurityInformation issues SMB2_QUERY_INFO with InfoType SECURITY,
// returning the raw self-relative security descriptor.
func (fs *smb2FileStore) GetSecurityInformation(h Handle) ([]byte, error) {
	hh, err := fs.handleOf(h)
	if err != nil {
		return nil, err
	}
	body := new(bytes.Buffer)
	binary.Write(body, binary.LittleEndian, uint16(41))
	body.WriteByte(0x03) // InfoType: SMB2_0_INFO_SECURITY
	body.WriteByte(0)
	binary.Write(body, binary.LittleEndian, uint32(65536))
	binary.Write(body, binary.LittleEndian, uint16(0))
	binary.Write(body, binary.LittleEndian, uint16(0))
	binary.Write(body, binary.LittleEndian, uint32(0))
	binary.Write(body, binary.LittleEndian, uint32(0x00000007)) // OWNER|GROUP|DACL
	binary.Write(body, binary.LittleEndian, uint32(0))
	body.Write(encodeSMB2Handle(hh))

	resp, err := fs.request(SMB2QueryInfo, body.Bytes())
	if err != nil {
		return nil, err
	}
	if NTStatus(resp.Header.Status) != StatusSuccess {
		return nil, statusErr("query security info", NTStatus(resp.Header.Status))
	}
	dataOffset := binary.LittleEndian.Uint16(resp.Body[2:4])
	dataLength := binary.LittleEndian.Uint32(resp.Body[4:8])
	start := int(dataOffset) - smb2HeaderSize
	if start < 0 || start+int(dataLength) > len(resp.Body) {
		return nil, fmt.Errorf("smb2: query security info response out of range")
	}
	return append([]byte(nil), resp.Body[start:start+int(dataLength)]...), nil
}

// SetSecurityInformation is an explicit Non-goal (spec.md): this client
// never modifies ACLs.
func (fs *smb2FileStore) SetSecurityInformation(h Handle, sd []byte) error {
	return fmt.Errorf("smb2: %w", ErrNotImplemented)
}

// NotifyChange is not implemented: SMB2_CHANGE_NOTIFY requires long-lived
// async replies this client's synchronous request/response model does not
// support (spec.md Non-goals: "asynchronous notifications").
func (fs *smb2FileStore) NotifyChange(h Handle, completionFilter uint32) error {
	return ErrNotImplemented
}

// DeviceIOControl issues SMB2_IOCTL, accepting both STATUS_SUCCESS and
// STATUS_BUFFER_OVERFLOW as delivering output data.
func (fs *smb2FileStore) DeviceIOControl(h Handle, ctlCode uint32, in []byte) ([]byte, error) {
	hh, err := fs.handleOf(h)
	if err != nil {
		return nil, err
	}
	body := new(bytes.Buffer)
	binary.Write(body, binary.LittleEndian, uint16(57)) // StructureSize
	binary.Write(body, binary.LittleEndian, uint16(0))  // Reserved
	binary.Write(body, binary.LittleEndian, ctlCode)
	body.Write(encodeSMB2Handle(hh))
	binary.Write(body, binary.LittleEndian, uint32(smb2HeaderSize+56))
	binary.Write(body, binary.LittleEndian, uint32(len(in)))
	binary.Write(body, binary.LittleEndian, uint32(0)) // OutputOffset
	binary.Write(body, binary.LittleEndian, uint32(0)) // OutputCount
	binary.Write(body, binary.LittleEndian, uint32(65536)) // MaxInputResponse
	binary.Write(body, binary.LittleEndian, uint32(65536)) // MaxOutputResponse
	binary.Write(body, binary.LittleEndian, uint32(0x00000001)) // SMB2_0_IOCTL_IS_FSCTL
	body.Write(in)

	resp, err := fs.request(SMB2IOCtl, body.Bytes())
	if err != nil {
		return nil, err
	}
	status := NTStatus(resp.Header.Status)
	if status != StatusSuccess && status != StatusBufferOverflow {
		return nil, &StatusError{Op: "smb2: ioctl", Status: status}
	}
	if len(resp.Body) < 48 {
		return nil, fmt.Errorf("smb2: ioctl response too short")
	}
	outOffset := binary.LittleEndian.Uint32(resp.Body[24:28])
	outCount := binary.LittleEndian.Uint32(resp.Body[28:32])
	start := int(outOffset) - smb2HeaderSize
	if start < 0 || start+int(outCount) > len(resp.Body) {
		return nil, fmt.Errorf("smb2: ioctl response output out of range")
	}
	return append([]byte(nil), resp.Body[start:start+int(outCount)]...), nil
}

// FlushFileBuffers is not implemented: this client never buffers writes
// client-side, so there is nothing to flush beyond what the server has
// already acknowledged.
func (fs *smb2FileStore) FlushFileBuffers(h Handle) error { return ErrNotImplemented }

// LockFile/UnlockFile (byte-range locking) are an explicit Non-goal.
func (fs *smb2FileStore) LockFile(h Handle, offset, length uint64, exclusive bool) error {
	return ErrNotImplemented
}
func (fs *smb2FileStore) UnlockFile(h Handle, offset, length uint64) error { return ErrNotImplemented }

// Cancel is not implemented: this client has no pending-request cancellation
// surface (spec.md Non-goals).
func (fs *smb2FileStore) Cancel(h Handle) error { return ErrNotImplemented }

// TreeDisconnect issues SMB2_TREE_DISCONNECT.
func (fs *smb2FileStore) TreeDisconnect() error {
	body := make([]byte, 4)
	binary.LittleEndian.PutUint16(body[0:2], 4)
	resp, err := fs.request(SMB2TreeDisconnect, body)
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
