package transcript

import (
	"testing"

	"live-caption-engine/internal/recognize"
)

func TestAppend_OrdersByOffset(t *testing.T) {
	a := NewAggregator()

	offsets := []float64{2.0, 0.5, 1.0}
	for _, off := range offsets {
		a.Append(1, recognize.Result{Text: "x", SpeakerID: "1", OffsetSeconds: off, DurationSeconds: 0.4})
	}

	snap := a.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(snap))
	}
	want := []float64{0.5, 1.0, 2.0}
	for i, w := range want {
		if snap[i].OffsetSeconds != w {
			t.Errorf("segment %d: offset %v, want %v", i, snap[i].OffsetSeconds, w)
		}
	}
}

func TestAppend_ArrivalOrderOnEqualOffsets(t *testing.T) {
	a := NewAggregator()

	a.Append(1, recognize.Result{Text: "first", SpeakerID: "1", OffsetSeconds: 1.0, DurationSeconds: 0.3})
	a.Append(1, recognize.Result{Text: "second", SpeakerID: "2", OffsetSeconds: 1.0, DurationSeconds: 0.4})

	snap := a.Snapshot()
	if snap[0].Text != "first" || snap[1].Text != "second" {
		t.Errorf("equal offsets reordered: got [%s, %s]", snap[0].Text, snap[1].Text)
	}
}

func TestAppend_DeduplicatesWithinEpoch(t *testing.T) {
	a := NewAggregator()

	res := recognize.Result{Text: "hello", SpeakerID: "1", OffsetSeconds: 2.0, DurationSeconds: 1.5}
	if !a.Append(3, res) {
		t.Fatalf("first append rejected")
	}
	if a.Append(3, res) {
		t.Errorf("replay within the same epoch was not suppressed")
	}
	if a.Len() != 1 {
		t.Errorf("expected 1 segment, got %d", a.Len())
	}
}

func TestAppend_SameSegmentNewEpochIsDistinct(t *testing.T) {
	a := NewAggregator()

	res := recognize.Result{Text: "hello", SpeakerID: "1", OffsetSeconds: 2.0, DurationSeconds: 1.5}
	a.Append(1, res)
	if !a.Append(2, res) {
		t.Errorf("segment from a new connection epoch was wrongly deduplicated")
	}
	if a.Len() != 2 {
		t.Errorf("expected 2 segments, got %d", a.Len())
	}
}

func TestAppend_AttributesSpeakers(t *testing.T) {
	a := NewAggregator()

	a.Append(1, recognize.Result{Text: "hi", SpeakerID: "2", OffsetSeconds: 0.5})
	a.Append(1, recognize.Result{Text: "hey", SpeakerID: "1", OffsetSeconds: 1.5})
	a.Append(1, recognize.Result{Text: "again", SpeakerID: "2", OffsetSeconds: 2.5})

	snap := a.Snapshot()
	if snap[0].DisplayLabel != "Speaker 1" {
		t.Errorf("first-seen speaker should be 'Speaker 1', got %s", snap[0].DisplayLabel)
	}
	if snap[1].DisplayLabel != "Speaker 2" {
		t.Errorf("second-seen speaker should be 'Speaker 2', got %s", snap[1].DisplayLabel)
	}
	if snap[2].DisplayLabel != snap[0].DisplayLabel || snap[2].ColorToken != snap[0].ColorToken {
		t.Errorf("same speaker id got different identity: %+v vs %+v", snap[2], snap[0])
	}
	if a.SpeakerCount() != 2 {
		t.Errorf("expected 2 distinct speakers, got %d", a.SpeakerCount())
	}
}

func TestAppend_FreshIdentityAfterReconnect(t *testing.T) {
	a := NewAggregator()

	a.Append(1, recognize.Result{Text: "before the drop", SpeakerID: "1", OffsetSeconds: 1})
	a.Append(2, recognize.Result{Text: "after the drop", SpeakerID: "1", OffsetSeconds: 8})

	snap := a.Snapshot()
	if snap[0].DisplayLabel == snap[1].DisplayLabel {
		t.Errorf("speaker id from a new connection aliased to a pre-reconnect identity")
	}
	if a.SpeakerCount() != 2 {
		t.Errorf("expected 2 distinct speakers across epochs, got %d", a.SpeakerCount())
	}
}

func TestInterim_SetOverwriteClear(t *testing.T) {
	a := NewAggregator()

	a.SetInterim("hel")
	a.SetInterim("hello wor")
	if got := a.Interim().Text; got != "hello wor" {
		t.Errorf("expected latest interim, got %q", got)
	}

	a.ClearInterim()
	if got := a.Interim().Text; got != "" {
		t.Errorf("expected cleared interim, got %q", got)
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	a := NewAggregator()
	a.Append(1, recognize.Result{Text: "original", SpeakerID: "1", OffsetSeconds: 1.0})

	snap := a.Snapshot()
	snap[0].Text = "mutated"

	if a.Snapshot()[0].Text != "original" {
		t.Errorf("snapshot mutation leaked into aggregator state")
	}
}
