package wasm

import "testing"

func decodeUleb(buf []byte) (uint64, int) {
	var v uint64
	var shift uint
	for i, b := range buf {
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, i + 1
		}
		shift += 7
	}
	return v, 0
}

func decodeSleb(buf []byte) (int64, int) {
	var v int64
	var shift uint
	for i, b := range buf {
		v |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				v |= -1 << shift
			}
			return v, i + 1
		}
	}
	return 0, 0
}

func TestUleb128RoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 129, 300, 16383, 16384, 1<<32 - 1, 1<<63 - 1}
	for _, want := range cases {
		buf := appendUleb128(nil, want)
		got, n := decodeUleb(buf)
		if got != want || n != len(buf) {
			t.Errorf("uleb(%d): decoded %d from %d of %d bytes", want, got, n, len(buf))
		}
		if len(buf) != uleb128Len(want) {
			t.Errorf("uleb128Len(%d) = %d, encoded %d bytes", want, uleb128Len(want), len(buf))
		}
	}
}

func TestSleb128RoundTrip(t *testing.T) {
	cases := []int64{0, 1, -1, 63, 64, -64, -65, 127, 128, -128, 12345, -12345, 1<<31 - 1, -(1 << 31), 1<<62 - 1, -(1 << 62)}
	for _, want := range cases {
		buf := appendSleb128(nil, want)
		got, n := decodeSleb(buf)
		if got != want || n != len(buf) {
			t.Errorf("sleb(%d): decoded %d from %d of %d bytes", want, got, n, len(buf))
		}
	}
}

func TestUleb128KnownEncodings(t *testing.T) {
	if got := appendUleb128(nil, 624485); string(got) != string([]byte{0xe5, 0x8e, 0x26}) {
		t.Errorf("uleb128(624485) = % x, want e5 8e 26", got)
	}
	if got := appendSleb128(nil, -123456); string(got) != string([]byte{0xc0, 0xbb, 0x78}) {
		t.Errorf("sleb128(-123456) = % x, want c0 bb 78", got)
	}
}
