// Package transcript maintains the ordered, speaker-attributed transcript
// for the lifetime of one session.
package transcript

import (
	"fmt"
	"sync"
)

// Palette is the fixed set of display colors handed out round-robin in
// order of first speaker sighting.
var Palette = []string{
	"#4e79a7",
	"#f28e2b",
	"#e15759",
	"#76b7b2",
	"#59a14f",
	"#edc948",
	"#b07aa1",
	"#9c755f",
}

// SpeakerInfo is the display identity assigned to one anonymous speaker.
type SpeakerInfo struct {
	Label string
	Color string
}

// SpeakerRegistry lazily maps engine speaker ids to stable display
// identities. Created per session; assignments never change once made.
type SpeakerRegistry struct {
	mu      sync.Mutex
	byID    map[string]SpeakerInfo
	palette []string
}

// NewSpeakerRegistry creates an empty registry over the default palette.
func NewSpeakerRegistry() *SpeakerRegistry {
	return &SpeakerRegistry{
		byID:    make(map[string]SpeakerInfo),
		palette: Palette,
	}
}

// GetOrCreate returns the display identity for a speaker id, assigning the
// next label and palette color on first sighting. Deterministic: the Nth
// distinct speaker always gets "Speaker N" and palette[(N-1) % len].
func (r *SpeakerRegistry) GetOrCreate(speakerID string) SpeakerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info, ok := r.byID[speakerID]; ok {
		return info
	}
	n := len(r.byID) + 1
	info := SpeakerInfo{
		Label: fmt.Sprintf("Speaker %d", n),
		Color: r.palette[(n-1)%len(r.palette)],
	}
	r.byID[speakerID] = info
	return info
}

// Count returns the number of distinct speakers seen so far.
func (r *SpeakerRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
