package wasm

// LEB128 variable-length integer encoding, the varint format every Wasm
// section header, index, and immediate uses.

// appendUleb128 appends v in unsigned LEB128 form.
func appendUleb128(buf []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			buf = append(buf, b|0x80)
			continue
		}
		return append(buf, b)
	}
}

// appendSleb128 appends v in signed LEB128 form.
func appendSleb128(buf []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}

// uleb128Len returns the encoded length of v, used when a section body must
// be sized before its contents are copied in.
func uleb128Len(v uint64) int {
	n := 1
	for v >>= 7; v != 0; v >>= 7 {
		n++
	}
	return n
}
