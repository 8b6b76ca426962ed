package stt

import (
	"bytes"
	"encoding/binary"
)

// BuildWAV wraps mono PCM16 little-endian samples in a minimal canonical
// WAV container at sampleRateHz, for the STT endpoint's upload contract
// (spec.md §6).
func BuildWAV(pcm []byte, sampleRateHz int) []byte {
	var buf bytes.Buffer
	dataLen := uint32(len(pcm))
	byteRate := uint32(sampleRateHz * 2)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRateHz))
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, uint16(2)) // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)

	return buf.Bytes()
}

// ExtractPCM16 returns the "data" chunk of a canonical WAV container,
// for collaborators (TTS playback) that hand back WAV rather than raw
// PCM16. wav without a "data" chunk is returned unchanged, so callers
// that already have raw PCM16 can pass it through this function too.
func ExtractPCM16(wav []byte) []byte {
	const headerLen = 12
	if len(wav) < headerLen || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return wav
	}
	pos := headerLen
	for pos+8 <= len(wav) {
		id := string(wav[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(wav[pos+4 : pos+8]))
		pos += 8
		if pos+size > len(wav) {
			break
		}
		if id == "data" {
			return wav[pos : pos+size]
		}
		pos += size
	}
	return wav
}

// WAVSampleRateHz reads the sample rate out of a canonical WAV
// container's "fmt " chunk. ok is false when wav isn't a RIFF/WAVE
// container or carries no "fmt " chunk, so callers can fall back to a
// trusted default rate.
func WAVSampleRateHz(wav []byte) (int, bool) {
	const headerLen = 12
	if len(wav) < headerLen || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return 0, false
	}
	pos := headerLen
	for pos+8 <= len(wav) {
		id := string(wav[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(wav[pos+4 : pos+8]))
		pos += 8
		if pos+size > len(wav) {
			break
		}
		if id == "fmt " && size >= 8 {
			return int(binary.LittleEndian.Uint32(wav[pos+4 : pos+8])), true
		}
		pos += size
	}
	return 0, false
}
