package smb

import (
	"fmt"

	"github.com/pveres/go-smb/smb/dcerpc/srvsvc"
)

// pipeTransport adapts a FileStore-opened named pipe handle to the
// minimal Write/Read surface smb/dcerpc/srvsvc needs, so the DCE/RPC bind
// and NetrShareEnum call ride on ordinary SMB Read/WriteFile (spec.md's
// supplemented Server Service helper, SPEC_FULL.md §7).
type pipeTransport struct {
	fs FileStore
	h  Handle
}

func (p *pipeTransport) Write(buf []byte) (int, error) {
	n, err := p.fs.WriteFile(p.h, 0, buf)
	return int(n), err
}

func (p *pipeTransport) Read(max int) ([]byte, error) {
	return p.fs.ReadFile(p.h, 0, uint32(max))
}

// listSharesOverPipe opens \PIPE\srvsvc on an IPC$-connected FileStore,
// binds the Server Service interface, calls NetrShareEnum, and filters
// down to disk shares (MS-SRVS STYPE_DISKTREE). Administrative disk shares
// such as C$ and ADMIN$ are returned like any other; IPC$ is not a disk
// share and is dropped by the type filter.
func (s *Session) listSharesOverPipe(fs FileStore) ([]string, error) {
	h, _, err := fs.CreateFile(`\PIPE\srvsvc`, CreateOptions{
		DesiredAccess: 0x0012_0089, // FILE_READ_DATA|FILE_WRITE_DATA|FILE_READ_ATTRIBUTES|READ_CONTROL|SYNCHRONIZE, best-effort generic RW
		ShareAccess:   0x3,         // FILE_SHARE_READ|FILE_SHARE_WRITE
		CreateDisp:    FileOpen,
	})
	if err != nil {
		return nil, fmt.Errorf("opening srvsvc pipe: %w", err)
	}
	defer fs.CloseFile(h)

	client, err := srvsvc.Bind(&pipeTransport{fs: fs, h: h})
	if err != nil {
		return nil, fmt.Errorf("binding srvsvc: %w", err)
	}

	shares, err := client.NetShareEnumAll(`\\` + s.opts.Host)
	if err != nil {
		return nil, fmt.Errorf("NetrShareEnum: %w", err)
	}

	var names []string
	for _, sh := range shares {
		if sh.Type&0xFF != srvsvc.STypeDisktree {
			continue
		}
		names = append(names, sh.Name)
	}
	return names, nil
}
