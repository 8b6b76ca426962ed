package amrwb

// ValidationCounts tallies the ways a storage-frame stream can be malformed,
// per spec.md §4.1's storage frame validator.
type ValidationCounts struct {
	BadF      int
	BadFt     int
	BadLength int
}

// ValidateStorageStream walks a canonical storage-frame byte stream (one
// TOC byte per frame, F always 0, followed by the frame-type-dictated
// payload) and returns the frames that pass validation plus counts of the
// ones that didn't. A frame fails when F=1, FT is reserved, or the
// declared length exceeds the remaining bytes — in all three cases the
// frame (and everything after it, since byte alignment is lost) is
// dropped.
func ValidateStorageStream(buf []byte) ([]Frame, ValidationCounts) {
	var frames []Frame
	var counts ValidationCounts

	pos := 0
	for pos < len(buf) {
		toc := buf[pos]
		f := (toc >> 7) & 1
		if f != 0 {
			counts.BadF++
			break
		}
		ft := int((toc >> 3) & 0x0F)
		q := (toc>>2)&1 == 1
		size := StorageFrameSize(ft)
		if size < 0 {
			counts.BadFt++
			break
		}
		pos++
		if pos+size > len(buf) {
			counts.BadLength++
			break
		}
		data := make([]byte, size)
		copy(data, buf[pos:pos+size])
		pos += size
		frames = append(frames, Frame{FT: ft, Q: q, Data: data})
	}
	return frames, counts
}

// AppendHeaderOnce is the one-time literal header written before the first
// storage frame in an .awb stream (spec.md §6 on-disk artifacts and the
// ffmpeg-style AMR-WB decoder subprocess protocol in §4.2).
const AppendHeaderOnce = "#!AMR-WB\n"
