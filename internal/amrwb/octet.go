package amrwb

// ParseOctetAligned parses an octet-aligned AMR-WB payload (RFC 4867 §4.3.2)
// into its constituent frames. When hasCmr is true, the first byte's high
// nibble is a Change-Mode-Request and is discarded; the low nibble is
// ignored padding. The TOC list is walked byte-by-byte (one octet per
// entry, follow-bit in the MSB) until F=0, then each frame's exact
// octet-aligned byte length is consumed per frameSizeBytes. Reserved frame
// types 10-13 are rejected. Any residue after the last TOC-declared frame
// is a data_len_mismatch.
func ParseOctetAligned(payload []byte, hasCmr bool) ([]Frame, error) {
	pos := 0
	if hasCmr {
		if len(payload) < 1 {
			return nil, dataLenErr("short_payload")
		}
		pos = 1
	}

	type tocEntry struct {
		ft int
		q  bool
	}
	var toc []tocEntry
	for {
		if pos >= len(payload) {
			return nil, dataLenErr("truncated_toc")
		}
		b := payload[pos]
		pos++
		f := (b >> 7) & 1
		ft := int((b >> 3) & 0x0F)
		q := (b>>2)&1 == 1
		toc = append(toc, tocEntry{ft: ft, q: q})
		if f == 0 {
			break
		}
	}

	frames := make([]Frame, 0, len(toc))
	for _, e := range toc {
		if isReserved(e.ft) {
			return nil, dataLenErr("reserved_frame_type")
		}
		size := StorageFrameSize(e.ft)
		if size < 0 {
			return nil, dataLenErr("invalid_frame_type")
		}
		if pos+size > len(payload) {
			return nil, dataLenErr("data_len_mismatch")
		}
		data := make([]byte, size)
		copy(data, payload[pos:pos+size])
		pos += size
		frames = append(frames, Frame{FT: e.ft, Q: e.q, Data: data})
	}

	if pos != len(payload) {
		return nil, dataLenErr("data_len_mismatch")
	}
	return frames, nil
}
