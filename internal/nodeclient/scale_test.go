package nodeclient

import "testing"

func TestCompactRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 63, 64, 16383, 16384, 1073741823, 1073741824, 1 << 40}
	for _, v := range cases {
		enc := EncodeCompact(v)
		got, n, err := DecodeCompact(enc)
		if err != nil {
			t.Fatalf("value %d: decode error: %v", v, err)
		}
		if n != len(enc) {
			t.Errorf("value %d: consumed %d bytes, encoded length %d", v, n, len(enc))
		}
		if got != v {
			t.Errorf("value %d: round-tripped to %d", v, got)
		}
	}
}

func TestTwox128Deterministic(t *testing.T) {
	a := twox128([]byte("System"))
	b := twox128([]byte("System"))
	if len(a) != 16 {
		t.Fatalf("twox128 output length = %d, want 16", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("twox128 not deterministic")
		}
	}
	other := twox128([]byte("Account"))
	if string(a) == string(other) {
		t.Fatalf("twox128(\"System\") == twox128(\"Account\"), expected distinct hashes")
	}
}
