package encoder

import "testing"

type fixedPayload struct {
	Magic   []byte `smb:"fixed:4"`
	Command uint8
	Status  uint32
	Flags2  uint16
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	in := fixedPayload{
		Magic:   []byte{0xff, 'S', 'M', 'B'},
		Command: 0x72,
		Status:  0,
		Flags2:  0xc801,
	}

	buf, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out fixedPayload
	if err := Unmarshal(buf, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if string(out.Magic) != string(in.Magic) {
		t.Errorf("Magic = %x, want %x", out.Magic, in.Magic)
	}
	if out.Command != in.Command {
		t.Errorf("Command = %x, want %x", out.Command, in.Command)
	}
	if out.Flags2 != in.Flags2 {
		t.Errorf("Flags2 = %x, want %x", out.Flags2, in.Flags2)
	}
}

func TestMarshalFixedPads(t *testing.T) {
	in := fixedPayload{Magic: []byte{0xff}, Command: 1}
	buf, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(buf) != 4+1+4+2 {
		t.Fatalf("len(buf) = %d, want %d", len(buf), 11)
	}
}
