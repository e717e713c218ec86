package smb

import "testing"

func TestClassifySessionPacket(t *testing.T) {
	cases := []struct {
		name    string
		pType   uint8
		want    sessionPacketKind
		wantErr bool
	}{
		{"keepalive", nbSessionKeepAlive, kindKeepAlive, false},
		{"positive", nbPositiveSessionResp, kindPositiveSessionResponse, false},
		{"negative", nbNegativeSessionResp, kindNegativeSessionResponse, false},
		{"message", nbSessionMessage, kindSessionMessage, false},
		{"unrecognized", nbRetargetSessionResp, 0, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := classifySessionPacket(rawPacket{pType: c.pType})
			if c.wantErr {
				if err == nil {
					t.Fatal("expected an error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != c.want {
				t.Errorf("kind = %v, want %v", got, c.want)
			}
		})
	}
}
