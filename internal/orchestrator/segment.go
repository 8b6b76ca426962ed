package orchestrator

import "strings"

// splitSentences splits text at sentence-ending punctuation, keeping the
// punctuation with the sentence it closes.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			end := i + len(string(r))
			if seg := strings.TrimSpace(text[start:end]); seg != "" {
				out = append(out, seg)
			}
			start = end
		}
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// segmentReply splits a reply into TTS segments for WebRTC HD's
// promise-chain playback (spec.md §9): sentence boundaries bound the
// first-audio-latency, but a segment shorter than the configured minimum
// is forward-merged into the next sentence so synthesis isn't dominated
// by per-request overhead on short sentences.
func segmentReply(text string, firstMinChars, nextMinChars int) []string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var out []string
	cur := sentences[0]
	for _, s := range sentences[1:] {
		minChars := nextMinChars
		if len(out) == 0 {
			minChars = firstMinChars
		}
		if len(cur) < minChars {
			cur = cur + " " + s
			continue
		}
		out = append(out, cur)
		cur = s
	}
	return append(out, cur)
}
