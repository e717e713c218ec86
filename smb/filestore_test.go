package smb

import (
	"testing"
	"time"
)

func TestNtToTimeZero(t *testing.T) {
	if got := ntToTime(0); !got.IsZero() {
		t.Errorf("ntToTime(0) = %v, want the zero time", got)
	}
}

func TestTimeToNTZero(t *testing.T) {
	if got := timeToNT(time.Time{}); got != 0 {
		t.Errorf("timeToNT(zero) = %d, want 0", got)
	}
}

func TestNtTimeRoundTrip(t *testing.T) {
	in := time.Date(2024, time.March, 15, 12, 30, 0, 0, time.UTC)
	ft := timeToNT(in)
	out := ntToTime(ft)
	if !out.Equal(in) {
		t.Errorf("round-tripped time = %v, want %v", out, in)
	}
}

func TestHandleKindsAreDistinct(t *testing.T) {
	var h1 Handle = smb1Handle{fid: 1, tid: 2}
	var h2 Handle = smb2Handle{persistent: 1, volatile: 2, treeID: 3}

	if _, ok := h1.(smb2Handle); ok {
		t.Error("smb1Handle should not satisfy a smb2Handle type assertion")
	}
	if _, ok := h2.(smb1Handle); ok {
		t.Error("smb2Handle should not satisfy a smb1Handle type assertion")
	}
}
