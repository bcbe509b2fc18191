package models

// LogEntry is a log line shaped for streaming clients. Timestamp is the
// short display form; FullTimestamp is RFC3339 for stable ordering. The
// correlation ID carries the crawl or research run the line belongs to,
// empty for system logs.
type LogEntry struct {
	Timestamp     string `json:"timestamp"`
	FullTimestamp string `json:"full_timestamp"`
	Level         string `json:"level"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
