// Package models defines the data structures shared across the engine.
package models

import "time"

// TranscriptSegment is one final, speaker-attributed piece of the transcript.
// Immutable once appended to the aggregator.
type TranscriptSegment struct {
	SpeakerID       string  `json:"speakerId"`
	DisplayLabel    string  `json:"displayLabel"`
	ColorToken      string  `json:"colorToken"`
	Text            string  `json:"text"`
	OffsetSeconds   float64 `json:"offsetSeconds"`
	DurationSeconds float64 `json:"durationSeconds"`
	Confidence      float64 `json:"confidence,omitempty"`
	ClientTimestamp int64   `json:"clientTimestamp"`
}

// InterimResult is a speculative partial transcription of speech still in
// progress. It is replaced by the next interim or final and never persisted.
type InterimResult struct {
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// SessionSnapshot is the observable view of the current session exposed to
// the UI boundary.
type SessionSnapshot struct {
	ID               string    `json:"id"`
	State            string    `json:"state"`
	StartTime        time.Time `json:"startTime"`
	ElapsedSeconds   float64   `json:"elapsedSeconds"`
	RemainingSeconds float64   `json:"remainingSeconds"`
	TimeLimitSeconds int       `json:"timeLimitSeconds"`
	PausedSeconds    float64   `json:"pausedSeconds"`
	LastActivityTime time.Time `json:"lastActivityTime"`
	SpeakerCount     int       `json:"speakerCount"`
	SegmentCount     int       `json:"segmentCount"`
	ErrorCause       string    `json:"errorCause,omitempty"`
	Reconnecting     bool      `json:"reconnecting"`
}

// SessionFinalized is the event handed to the history store when a session
// stops. The transcript is already in display order.
type SessionFinalized struct {
	EventType       string              `json:"eventType"`
	SessionID       string              `json:"sessionId"`
	Timestamp       int64               `json:"timestamp"`
	DurationSeconds float64             `json:"durationSeconds"`
	SpeakerCount    int                 `json:"speakerCount"`
	Segments        []TranscriptSegment `json:"segments"`
}

// AudioLevelSample is one classified loudness reading. Ephemeral.
type AudioLevelSample struct {
	RMS            float64 `json:"rms"`
	Classification string  `json:"classification"`
}

// Audio level classifications.
const (
	LevelTooLow  = "too_low"
	LevelOptimal = "optimal"
	LevelTooHigh = "too_high"
)
