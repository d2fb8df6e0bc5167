package stagemirror

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialforge/mas-coordinator/pkg/chat"
	"github.com/dialforge/mas-coordinator/pkg/dial"
	"github.com/dialforge/mas-coordinator/pkg/events"
)

type recordingSink struct {
	events []events.Event
}

func (r *recordingSink) PublishEvent(event events.Event) error {
	r.events = append(r.events, event)
	return nil
}

func newMirror() (*Mirror, *recordingSink) {
	sink := &recordingSink{}
	choice := chat.NewChoice(events.EventMetadata{ID: uuid.New()}, sink)
	return New(choice), sink
}

func eventsOfType(sink *recordingSink, t events.EventType) []events.Event {
	var out []events.Event
	for _, ev := range sink.events {
		if ev.Type() == t {
			out = append(out, ev)
		}
	}
	return out
}

func TestOneStagePerUpstreamIndex(t *testing.T) {
	mirror, sink := newMirror()

	mirror.Apply(dial.StageDelta{Index: 0, Name: "Search"})
	mirror.Apply(dial.StageDelta{Index: 1, Name: "Fetch"})
	mirror.Apply(dial.StageDelta{Index: 0, Content: "query sent"})
	mirror.Apply(dial.StageDelta{Index: 1, Content: "downloading"})
	mirror.Apply(dial.StageDelta{Index: 0, Content: ", done"})

	assert.Equal(t, 2, mirror.Len())

	starts := eventsOfType(sink, events.EventTypeStageStart)
	require.Len(t, starts, 2)
	assert.Equal(t, "Search", starts[0].(*events.EventStageStart).Name)
	assert.Equal(t, "Fetch", starts[1].(*events.EventStageStart).Name)

	// interleaved deltas land on the right stage
	contents := eventsOfType(sink, events.EventTypeStageContent)
	require.Len(t, contents, 3)
	assert.Equal(t, 0, contents[0].(*events.EventStageContent).Index)
	assert.Equal(t, 1, contents[1].(*events.EventStageContent).Index)
	assert.Equal(t, 0, contents[2].(*events.EventStageContent).Index)
}

func TestFirstDeltaAppliesContentAndStatus(t *testing.T) {
	mirror, sink := newMirror()

	mirror.Apply(dial.StageDelta{
		Index:   0,
		Name:    "Search",
		Content: "one-shot",
		Status:  dial.StageStatusCompleted,
	})

	require.Len(t, eventsOfType(sink, events.EventTypeStageStart), 1)
	contents := eventsOfType(sink, events.EventTypeStageContent)
	require.Len(t, contents, 1)
	assert.Equal(t, "one-shot", contents[0].(*events.EventStageContent).Delta)
	require.Len(t, eventsOfType(sink, events.EventTypeStageClose), 1)
}

func TestCompletedStatusIsIdempotent(t *testing.T) {
	mirror, sink := newMirror()

	mirror.Apply(dial.StageDelta{Index: 0, Name: "Search"})
	mirror.Apply(dial.StageDelta{Index: 0, Status: dial.StageStatusCompleted})
	mirror.Apply(dial.StageDelta{Index: 0, Status: dial.StageStatusCompleted})

	assert.Len(t, eventsOfType(sink, events.EventTypeStageClose), 1)
}

func TestDeltasAfterCompletionAreDropped(t *testing.T) {
	mirror, sink := newMirror()

	mirror.Apply(dial.StageDelta{Index: 0, Name: "Search", Content: "kept"})
	mirror.Apply(dial.StageDelta{Index: 0, Status: dial.StageStatusCompleted})
	mirror.Apply(dial.StageDelta{Index: 0, Content: "dropped"})
	mirror.Apply(dial.StageDelta{Index: 0, Attachments: []dial.Attachment{{Title: "late"}}})

	contents := eventsOfType(sink, events.EventTypeStageContent)
	require.Len(t, contents, 1)
	assert.Equal(t, "kept", contents[0].(*events.EventStageContent).Delta)
	assert.Empty(t, eventsOfType(sink, events.EventTypeStageAttachment))
	// the stage never reopens
	assert.Len(t, eventsOfType(sink, events.EventTypeStageClose), 1)
}

func TestCloseAllClosesOnlyOpenStages(t *testing.T) {
	mirror, sink := newMirror()

	mirror.Apply(dial.StageDelta{Index: 0, Name: "Search"})
	mirror.Apply(dial.StageDelta{Index: 1, Name: "Fetch"})
	mirror.Apply(dial.StageDelta{Index: 2, Name: "Summarize"})
	mirror.Apply(dial.StageDelta{Index: 1, Status: dial.StageStatusCompleted})

	mirror.CloseAll()

	closes := eventsOfType(sink, events.EventTypeStageClose)
	require.Len(t, closes, 3)

	// calling it again changes nothing
	mirror.CloseAll()
	assert.Len(t, eventsOfType(sink, events.EventTypeStageClose), 3)
}

func TestMirrorAttachments(t *testing.T) {
	mirror, sink := newMirror()

	mirror.Apply(dial.StageDelta{Index: 0, Name: "Fetch"})
	mirror.Apply(dial.StageDelta{Index: 0, Attachments: []dial.Attachment{
		{Title: "page.html", Type: "text/html"},
		{Title: "notes.md"},
	}})

	attachments := eventsOfType(sink, events.EventTypeStageAttachment)
	require.Len(t, attachments, 2)
	assert.Equal(t, "page.html", attachments[0].(*events.EventStageAttachment).Attachment.Title)
	assert.Equal(t, "notes.md", attachments[1].(*events.EventStageAttachment).Attachment.Title)
}
