package common

import (
	"errors"
	"strings"
	"testing"
)

func TestCallErr(t *testing.T) {
	cause := errors.New("permission denied")
	err := NewCallErr(MediaAcquisition, "acquire microphone", cause)

	if !IsCall(err, MediaAcquisition) {
		t.Fatal("IsCall should match MediaAcquisition")
	}

	if IsCall(err, Negotiation) {
		t.Fatal("IsCall should not match Negotiation")
	}

	if IsCall(cause, MediaAcquisition) {
		t.Fatal("IsCall should not match a plain error")
	}

	if !errors.Is(err, cause) {
		t.Fatal("CallErr should unwrap to its cause")
	}

	if !strings.Contains(err.Error(), "MediaAcquisitionError") {
		t.Fatalf("Error() should name the type, got %s", err.Error())
	}
}

func TestCallErrFatal(t *testing.T) {
	fatal := []CallErrType{MediaAcquisition, Negotiation, RelayPublish, ReconnectExhausted}
	for _, ft := range fatal {
		if !ft.Fatal() {
			t.Fatalf("%s should be fatal", ft)
		}
	}

	if CandidateApply.Fatal() {
		t.Fatal("CandidateApply should not be fatal")
	}
}

func TestCodecRoundTrip(t *testing.T) {
	type payload struct {
		Type string `codec:"type"`
		Seq  int    `codec:"seq"`
	}

	raw, err := EncodeJSON(payload{Type: "keep-alive", Seq: 3})
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(string(raw), `"type":"keep-alive"`) {
		t.Fatalf("unexpected encoding %s", raw)
	}

	var p payload
	if err := DecodeJSON(raw, &p); err != nil {
		t.Fatal(err)
	}

	if p.Seq != 3 {
		t.Fatalf("Seq should be 3, not %d", p.Seq)
	}
}
