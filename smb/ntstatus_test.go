package smb

import "testing"

func TestNTStatusIsSuccess(t *testing.T) {
	if !StatusSuccess.IsSuccess() {
		t.Error("StatusSuccess.IsSuccess() = false, want true")
	}
	if StatusAccessDenied.IsSuccess() {
		t.Error("StatusAccessDenied.IsSuccess() = true, want false")
	}
}

func TestNTStatusString(t *testing.T) {
	cases := map[NTStatus]string{
		StatusSuccess:      "STATUS_SUCCESS",
		StatusAccessDenied: "STATUS_ACCESS_DENIED",
		StatusPending:      "STATUS_PENDING",
		NTStatus(0xDEADBEEF): "STATUS_UNKNOWN",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("%#x.String() = %q, want %q", uint32(status), got, want)
		}
	}
}
