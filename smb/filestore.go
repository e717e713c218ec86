package smb

import "time"

// FileStore is the dialect-agnostic file-access surface a TreeConnect
// returns (spec.md §4.G/§4.H, unified per SPEC_FULL.md §9). SMB1 and SMB2
// each implement this over their own wire commands; callers never see the
// difference once a tree is connected.
type FileStore interface {
	CreateFile(path string, opts CreateOptions) (Handle, FileStatus, error)
	CloseFile(h Handle) error
	ReadFile(h Handle, offset uint64, length uint32) ([]byte, error)
	WriteFile(h Handle, offset uint64, data []byte) (uint32, error)
	QueryDirectory(h Handle, pattern string) ([]FileDirectoryInfo, error)
	GetFileInformation(h Handle) (FileInfo, error)
	SetFileInformation(h Handle, info FileInfo) error
	GetFileSystemInformation(h Handle) (FileSystemInfo, error)
	GetSecurityInformation(h Handle) ([]byte, error)
	SetSecurityInformation(h Handle, sd []byte) error
	NotifyChange(h Handle, completionFilter uint32) error
	DeviceIOControl(h Handle, ctlCode uint32, in []byte) ([]byte, error)
	FlushFileBuffers(h Handle) error
	LockFile(h Handle, offset, length uint64, exclusive bool) error
	UnlockFile(h Handle, offset, length uint64) error
	Cancel(h Handle) error
	TreeDisconnect() error
}

// Handle is an opaque per-dialect file handle; the concrete types
// (smb1Handle/smb2Handle) are only ever compared against the FileStore
// that minted them (spec.md's "wrong handle kind is a programming error").
type Handle interface {
	isHandle()
}

type smb1Handle struct {
	fid uint16
	tid uint16
}

func (smb1Handle) isHandle() {}

type smb2Handle struct {
	persistent uint64
	volatile   uint64
	treeID     uint32
}

func (smb2Handle) isHandle() {}

// CreateOptions mirrors the parameters callers need to open or create a
// file, independent of dialect wire shape.
type CreateOptions struct {
	DesiredAccess uint32
	ShareAccess   uint32
	CreateDisp    uint32 // FILE_OPEN, FILE_CREATE, FILE_OVERWRITE_IF, ...
	CreateOptions uint32 // FILE_DIRECTORY_FILE, FILE_NON_DIRECTORY_FILE, ...
	Attributes    uint32
}

// FileStatus reports what CreateFile actually did, derived from the
// dialect's CreateAction / action-taken field (SPEC_FULL.md §6.H).
type FileStatus int

const (
	FileStatusUnknown FileStatus = iota
	FileStatusSuperseded
	FileStatusOpened
	FileStatusCreated
	FileStatusOverwritten
)

// FileInfo is the subset of FILE_ALL_INFORMATION this client surfaces.
type FileInfo struct {
	CreationTime   time.Time
	LastAccessTime time.Time
	LastWriteTime  time.Time
	ChangeTime     time.Time
	Attributes     uint32
	EndOfFile      uint64
	AllocationSize uint64
	IsDirectory    bool
}

// FileSystemInfo is the subset of FILE_FS_*_INFORMATION this client
// surfaces (free space and allocation geometry).
type FileSystemInfo struct {
	TotalAllocationUnits     uint64
	AvailableAllocationUnits uint64
	SectorsPerAllocationUnit uint32
	BytesPerSector           uint32
}

// FileDirectoryInfo is one entry returned by QueryDirectory.
type FileDirectoryInfo struct {
	Name           string
	Attributes     uint32
	EndOfFile      uint64
	AllocationSize uint64
	CreationTime   time.Time
	LastWriteTime  time.Time
	IsDirectory    bool
}

// ntToTime converts a Windows FILETIME (100ns ticks since 1601-01-01) to
// time.Time, used by both dialects' GetFileInformation decoders.
func ntToTime(filetime uint64) time.Time {
	const epochDiff = 116444736000000000
	if filetime == 0 {
		return time.Time{}
	}
	ticks := int64(filetime) - epochDiff
	return time.Unix(0, ticks*100).UTC()
}

// timeToNT is ntToTime's inverse, used when SetFileInformation needs to
// encode a time.Time back onto the wire.
func timeToNT(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	const epochDiff = 116444736000000000
	return uint64(t.UnixNano()/100) + epochDiff
}
