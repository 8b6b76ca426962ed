// Package ingest implements Media Ingest (spec.md §4.3): carrier JSON
// candidate selection, stream isolation, track filtering, the playback
// echo guard, PCM re-chunking, and the per-call health monitor.
package ingest

import "encoding/base64"

// candidateMinLen rejects noise payloads: at least 6 decoded bytes for
// AMR-WB (whose smallest real frame is the 5-byte SID plus TOC), 10
// otherwise.
func candidateMinLen(codecIsAMRWB bool) int {
	if codecIsAMRWB {
		return 6
	}
	return 10
}

// pickCandidate scores the ordered candidate strings from a carrier
// media frame — {media.payload, media.data.payload, media.data,
// payload} — by (looks-base64, decoded-length, string-length) and
// returns the decoded bytes of the best-scoring one.
func pickCandidate(candidates []string, codecIsAMRWB bool) ([]byte, bool) {
	minLen := candidateMinLen(codecIsAMRWB)

	var best []byte
	bestScore := -1
	for _, c := range candidates {
		if c == "" {
			continue
		}
		decoded, ok := tryBase64(c)
		score := 0
		if ok {
			score += 100
			score += len(decoded)
		}
		score += len(c)
		if ok && len(decoded) >= minLen && score > bestScore {
			best = decoded
			bestScore = score
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

func tryBase64(s string) ([]byte, bool) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, true
	}
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return b, true
	}
	return nil, false
}
