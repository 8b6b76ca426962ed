package ingest

// EventKind discriminates a carrier media-WebSocket JSON frame, per
// spec.md §9's guidance to model dynamic carrier JSON as a typed
// discriminated variant rather than map[string]interface{} throughout.
type EventKind string

const (
	EventConnected EventKind = "connected"
	EventStart     EventKind = "start"
	EventMedia     EventKind = "media"
	EventStop      EventKind = "stop"
)

// MediaFormat is the start event's codec/rate/channel announcement.
type MediaFormat struct {
	Encoding   string
	SampleRate int
	Channels   int
}

// MediaEvent is one normalized "media" frame: payload candidates have
// already been reduced to raw decoded bytes by the caller via
// pickCandidate before reaching Ingest.Push.
type MediaEvent struct {
	Kind           EventKind
	StreamID       string
	SequenceNumber int64
	Track          string // "inbound" | "outbound"
	TimestampMs    int64
	Payload        []byte // decoded; empty for non-media events
	Format         *MediaFormat
}

// RawCandidates is the ordered list of payload locations a carrier JSON
// media frame may populate, scored by pickCandidate.
type RawCandidates struct {
	MediaPayload     string
	MediaDataPayload string
	MediaData        string
	Payload          string
}

func (c RawCandidates) ordered() []string {
	return []string{c.MediaPayload, c.MediaDataPayload, c.MediaData, c.Payload}
}

// DecodeMediaPayload applies pickCandidate to the frame's candidate
// locations, per spec.md §4.3.
func DecodeMediaPayload(c RawCandidates, codecIsAMRWB bool) ([]byte, bool) {
	return pickCandidate(c.ordered(), codecIsAMRWB)
}
