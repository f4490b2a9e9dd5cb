// Package journal records the raw metadata stream from an AirPlay session
// into a newline-delimited JSON file and replays it later with the original
// timing, so a whole listening session can be re-driven through the monitor
// without a live source.
package journal

// Record type discriminators. These match the capture files produced by
// earlier versions of the pipeline, so existing journals stay replayable.
const (
	recordHeader   = "capture_header"
	recordLine     = "metadata_line"
	recordEvent    = "event"
	recordFooter   = "capture_footer"
	captureVersion = "1.0"
)

type headerRecord struct {
	Type        string  `json:"type"`
	Version     string  `json:"version"`
	StartTime   float64 `json:"start_time"`
	Description string  `json:"description"`
}

type lineRecord struct {
	Type         string  `json:"type"`
	Timestamp    float64 `json:"timestamp"`
	GapSinceLast float64 `json:"gap_since_last"`
	Data         string  `json:"data"`
}

type eventRecord struct {
	Type        string  `json:"type"`
	Timestamp   float64 `json:"timestamp"`
	EventType   string  `json:"event_type"`
	Description string  `json:"description"`
}

type footerRecord struct {
	Type          string  `json:"type"`
	EndTime       float64 `json:"end_time"`
	TotalDuration float64 `json:"total_duration"`
}

// record is the loose read-side view of any journal entry. Fields that do
// not apply to a given type are left at their zero value, mirroring how the
// records are written with only their own keys.
type record struct {
	Type          string  `json:"type"`
	Version       string  `json:"version"`
	StartTime     float64 `json:"start_time"`
	Timestamp     float64 `json:"timestamp"`
	GapSinceLast  float64 `json:"gap_since_last"`
	Data          string  `json:"data"`
	EventType     string  `json:"event_type"`
	Description   string  `json:"description"`
	EndTime       float64 `json:"end_time"`
	TotalDuration float64 `json:"total_duration"`
}
