package amrwb

// StripRtp parses a (possible) RFC 3550 version-2 RTP header, including
// CSRC list, header extension, and trailing padding, and returns the
// payload with stripped=true. Any structural inconsistency — too short a
// buffer, an extension whose declared length runs past the buffer, a
// padding count that exceeds the remaining payload — is treated as "not
// actually RTP" and the original buffer is returned unchanged with
// stripped=false. This fails soft by design: a false positive here would
// feed a mangled frame into the AMR-WB parser.
func StripRtp(buf []byte) (payload []byte, stripped bool) {
	if len(buf) < 12 {
		return buf, false
	}
	b0 := buf[0]
	version := b0 >> 6
	if version != 2 {
		return buf, false
	}
	hasPadding := (b0>>5)&1 == 1
	hasExtension := (b0>>4)&1 == 1
	csrcCount := int(b0 & 0x0F)

	headerLen := 12 + 4*csrcCount
	if headerLen > len(buf) {
		return buf, false
	}
	pos := headerLen

	if hasExtension {
		if pos+4 > len(buf) {
			return buf, false
		}
		extWords := int(buf[pos+2])<<8 | int(buf[pos+3])
		extLen := 4 + extWords*4
		if pos+extLen > len(buf) {
			return buf, false
		}
		pos += extLen
	}

	end := len(buf)
	if hasPadding {
		if end <= pos {
			return buf, false
		}
		padCount := int(buf[end-1])
		if padCount <= 0 || pos+padCount > end {
			return buf, false
		}
		end -= padCount
	}

	if pos > end {
		return buf, false
	}

	out := make([]byte, end-pos)
	copy(out, buf[pos:end])
	return out, true
}
