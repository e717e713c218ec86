package smb

import (
	"encoding/binary"
	"testing"
)

func TestSMB1ActionToStatus(t *testing.T) {
	cases := map[uint32]FileStatus{
		1:  FileStatusOpened,
		2:  FileStatusCreated,
		3:  FileStatusOverwritten,
		99: FileStatusUnknown,
	}
	for action, want := range cases {
		if got := smb1ActionToStatus(action); got != want {
			t.Errorf("smb1ActionToStatus(%d) = %v, want %v", action, got, want)
		}
	}
}

func TestSMB1FileStoreHandleOfRejectsWrongKind(t *testing.T) {
	fs := &smb1FileStore{}
	if _, err := fs.handleOf(smb2Handle{}); err != ErrWrongHandleKind {
		t.Errorf("handleOf(smb2Handle) = %v, want %v", err, ErrWrongHandleKind)
	}
}

func TestEncodeTrans2RequestCarriesParameterCount(t *testing.T) {
	params := []byte{1, 2, 3, 4, 5}
	body := encodeTrans2Request(trans2FindFirst2, params)
	if len(body) == 0 {
		t.Fatal("empty TRANS2 request")
	}
	if body[0] != 15 {
		t.Errorf("WordCount = %d, want 15", body[0])
	}
	// ParameterCount is the 10th 16-bit word after WordCount (offset 1+18=19).
	paramCount := binary.LittleEndian.Uint16(body[19:21])
	if int(paramCount) != len(params) {
		t.Errorf("ParameterCount = %d, want %d", paramCount, len(params))
	}
}
