package smb

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/pveres/go-smb/smb/dcerpc"
)

// fakePipeFileStore is a minimal FileStore stub that only implements the
// CreateFile/ReadFile/WriteFile/CloseFile surface listSharesOverPipe uses,
// queuing one canned reply per WriteFile call.
type fakePipeFileStore struct {
	FileStore
	replies [][]byte
	writes  [][]byte
	closed  bool
}

func (f *fakePipeFileStore) CreateFile(path string, opts CreateOptions) (Handle, FileStatus, error) {
	return smb1Handle{fid: 1, tid: 1}, FileStatusOpened, nil
}

func (f *fakePipeFileStore) CloseFile(h Handle) error {
	f.closed = true
	return nil
}

func (f *fakePipeFileStore) WriteFile(h Handle, offset uint64, data []byte) (uint32, error) {
	f.writes = append(f.writes, append([]byte(nil), data...))
	return uint32(len(data)), nil
}

func (f *fakePipeFileStore) ReadFile(h Handle, offset uint64, length uint32) ([]byte, error) {
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, nil
}

func buildBindAckPDU(callID uint32) []byte {
	body := new(bytes.Buffer)
	binary.Write(body, binary.LittleEndian, uint16(4280)) // max_xmit_frag
	binary.Write(body, binary.LittleEndian, uint16(4280)) // max_recv_frag
	binary.Write(body, binary.LittleEndian, uint32(1))    // assoc_group_id
	binary.Write(body, binary.LittleEndian, uint16(0))    // sec_addr_len = 0
	body.Write([]byte{0, 0})                              // alignment padding to offset 12
	body.WriteByte(1)                                     // num_results
	body.Write([]byte{0, 0, 0})                           // reserved, pads to offset 16
	binary.Write(body, binary.LittleEndian, uint16(0))    // result: acceptance
	binary.Write(body, binary.LittleEndian, uint16(0))    // reason

	hdr := new(bytes.Buffer)
	hdr.WriteByte(5)
	hdr.WriteByte(0)
	hdr.WriteByte(dcerpc.PTypeBindAck)
	hdr.WriteByte(3) // first+last frag
	hdr.Write([]byte{0x10, 0, 0, 0})
	binary.Write(hdr, binary.LittleEndian, uint16(16+body.Len()))
	binary.Write(hdr, binary.LittleEndian, uint16(0))
	binary.Write(hdr, binary.LittleEndian, callID)

	return append(hdr.Bytes(), body.Bytes()...)
}

func buildShareEnumResponsePDU(callID uint32, shares []struct {
	name, comment string
	typ           uint32
}) []byte {
	stub := new(bytes.Buffer)
	binary.Write(stub, binary.LittleEndian, uint32(1)) // level
	binary.Write(stub, binary.LittleEndian, uint32(1)) // union tag
	binary.Write(stub, binary.LittleEndian, uint32(0x10000))
	binary.Write(stub, binary.LittleEndian, uint32(len(shares)))
	binary.Write(stub, binary.LittleEndian, uint32(0x20000))
	binary.Write(stub, binary.LittleEndian, uint32(len(shares)))

	refID := uint32(0x30000)
	for _, sh := range shares {
		binary.Write(stub, binary.LittleEndian, refID) // nameRef
		refID += 4
		binary.Write(stub, binary.LittleEndian, sh.typ)
		binary.Write(stub, binary.LittleEndian, refID) // commentRef
		refID += 4
	}
	for _, sh := range shares {
		dcerpc.WriteConformantVaryingString(stub, sh.name+"\x00")
		dcerpc.WriteConformantVaryingString(stub, sh.comment+"\x00")
	}
	binary.Write(stub, binary.LittleEndian, uint32(0)) // status

	body := new(bytes.Buffer)
	binary.Write(body, binary.LittleEndian, uint32(stub.Len())) // alloc hint
	binary.Write(body, binary.LittleEndian, uint16(0))          // context id
	body.WriteByte(0)                                           // cancel count
	body.WriteByte(0)                                           // reserved
	body.Write(stub.Bytes())

	hdr := new(bytes.Buffer)
	hdr.WriteByte(5)
	hdr.WriteByte(0)
	hdr.WriteByte(dcerpc.PTypeResponse)
	hdr.WriteByte(3)
	hdr.Write([]byte{0x10, 0, 0, 0})
	binary.Write(hdr, binary.LittleEndian, uint16(16+body.Len()))
	binary.Write(hdr, binary.LittleEndian, uint16(0))
	binary.Write(hdr, binary.LittleEndian, callID)

	return append(hdr.Bytes(), body.Bytes()...)
}

func TestListSharesOverPipeFiltersNonDiskShares(t *testing.T) {
	shareEnum := buildShareEnumResponsePDU(2, []struct {
		name, comment string
		typ           uint32
	}{
		{"public", "a disk share", 0x0},
		{"ADMIN$", "hidden admin share", 0x0},
		{"IPC$", "named pipe share", 0x3},
	})

	fs := &fakePipeFileStore{replies: [][]byte{buildBindAckPDU(1), shareEnum}}
	s := &Session{opts: Options{Host: "10.0.0.1"}}

	names, err := s.listSharesOverPipe(fs)
	if err != nil {
		t.Fatalf("listSharesOverPipe: %v", err)
	}
	if len(names) != 2 || names[0] != "public" || names[1] != "ADMIN$" {
		t.Errorf("names = %v, want [public ADMIN$]", names)
	}
	if !fs.closed {
		t.Error("expected the pipe handle to be closed")
	}
	if len(fs.writes) != 2 {
		t.Fatalf("len(writes) = %d, want 2 (bind + NetrShareEnum request)", len(fs.writes))
	}
}

func TestPipeTransportWriteReadDelegatesToFileStore(t *testing.T) {
	fs := &fakePipeFileStore{replies: [][]byte{{0xAA, 0xBB}}}
	p := &pipeTransport{fs: fs, h: smb1Handle{fid: 1}}

	n, err := p.Write([]byte{1, 2, 3})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 3 {
		t.Errorf("Write returned %d, want 3", n)
	}

	got, err := p.Read(1024)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, []byte{0xAA, 0xBB}) {
		t.Errorf("Read = %x, want aabb", got)
	}
}
