package negotiator

import "testing"

func TestMessageCodec(t *testing.T) {
	m := NewMessage(BgKeepAlive, "user_abcdefgh_1a2b", true)

	data, err := encodeMessage(m)
	if err != nil {
		t.Fatal(err)
	}

	got, err := decodeMessage(data)
	if err != nil {
		t.Fatal(err)
	}

	if got != m {
		t.Fatalf("decoded message should be %#v, not %#v", m, got)
	}
}

func TestMessageAck(t *testing.T) {
	cases := []struct {
		in   MessageType
		ack  MessageType
		want bool
	}{
		{KeepAlive, KeepAliveAck, true},
		{BgKeepAlive, BgKeepAliveAck, true},
		{ActivityPing, "", false},
		{KeepAliveAck, "", false},
	}

	for _, c := range cases {
		ack, ok := Message{Type: c.in}.Ack()
		if ok != c.want || ack != c.ack {
			t.Fatalf("Ack(%s) should be (%s, %v), not (%s, %v)", c.in, c.ack, c.want, ack, ok)
		}
	}

	if (Message{Type: Hangup}).Liveness() {
		t.Fatal("hangup is not a liveness message")
	}
}
