package smb

import (
	"encoding/binary"
	"testing"
)

func TestActionToStatus(t *testing.T) {
	cases := map[uint32]FileStatus{
		smb2ActionSuperseded:  FileStatusSuperseded,
		smb2ActionOpened:      FileStatusOpened,
		smb2ActionCreated:     FileStatusCreated,
		smb2ActionOverwritten: FileStatusOverwritten,
		99:                    FileStatusUnknown,
	}
	for action, want := range cases {
		if got := actionToStatus(action); got != want {
			t.Errorf("actionToStatus(%d) = %v, want %v", action, got, want)
		}
	}
}

func TestEncodeSMB2Handle(t *testing.T) {
	h := smb2Handle{persistent: 0x0102030405060708, volatile: 0x1112131415161718}
	buf := encodeSMB2Handle(h)
	if len(buf) != 16 {
		t.Fatalf("len(buf) = %d, want 16", len(buf))
	}
	if binary.LittleEndian.Uint64(buf[0:8]) != h.persistent {
		t.Error("persistent field mismatch")
	}
	if binary.LittleEndian.Uint64(buf[8:16]) != h.volatile {
		t.Error("volatile field mismatch")
	}
}

func TestFileStoreHandleOfRejectsWrongKind(t *testing.T) {
	fs := &smb2FileStore{}
	if _, err := fs.handleOf(smb1Handle{}); err != ErrWrongHandleKind {
		t.Errorf("handleOf(smb1Handle) = %v, want %v", err, ErrWrongHandleKind)
	}
}

func TestUtf16leToString(t *testing.T) {
	// "ab" UTF-16LE
	buf := []byte{'a', 0, 'b', 0}
	if got := utf16leToString(buf); got != "ab" {
		t.Errorf("utf16leToString = %q, want %q", got, "ab")
	}
}

func buildDirEntry(name string, attrs uint32, next uint32) []byte {
	u := utf16leString(name)
	buf := make([]byte, 64+len(u))
	binary.LittleEndian.PutUint32(buf[0:4], next)
	binary.LittleEndian.PutUint32(buf[56:60], attrs)
	binary.LittleEndian.PutUint32(buf[60:64], uint32(len(u)))
	copy(buf[64:], u)
	return buf
}

func TestDecodeFileDirectoryEntriesSingle(t *testing.T) {
	buf := buildDirEntry("file.txt", 0x20, 0)
	entries, err := decodeFileDirectoryEntries(buf)
	if err != nil {
		t.Fatalf("decodeFileDirectoryEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if entries[0].Name != "file.txt" {
		t.Errorf("Name = %q, want %q", entries[0].Name, "file.txt")
	}
	if entries[0].IsDirectory {
		t.Error("expected a non-directory entry")
	}
}

func TestDecodeFileDirectoryEntriesChained(t *testing.T) {
	e1 := buildDirEntry("dir1", 0x10, 0) // placeholder, nextOffset fixed below
	e2 := buildDirEntry("dir2", 0x10, 0)
	binary.LittleEndian.PutUint32(e1[0:4], uint32(len(e1)))
	buf := append(e1, e2...)

	entries, err := decodeFileDirectoryEntries(buf)
	if err != nil {
		t.Fatalf("decodeFileDirectoryEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Name != "dir1" || entries[1].Name != "dir2" {
		t.Errorf("names = %q, %q", entries[0].Name, entries[1].Name)
	}
	if !entries[0].IsDirectory || !entries[1].IsDirectory {
		t.Error("expected both entries to be directories")
	}
}

func TestDecodeFileDirectoryEntriesTruncated(t *testing.T) {
	if _, err := decodeFileDirectoryEntries(make([]byte, 10)); err == nil {
		t.Fatal("expected an error for a truncated entry")
	}
}
