package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"

	"github.com/dialforge/mas-coordinator/pkg/dial"
	"github.com/dialforge/mas-coordinator/pkg/events"
)

// sseSink translates coordinator events into chat-completion chunks and
// writes them to the response as server-sent events. It implements
// events.Sink so it can be attached to a chat.Choice like any other sink.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	chunkID string
}

var _ events.Sink = (*sseSink)(nil)

func newSSESink(w http.ResponseWriter, flusher http.Flusher, chunkID string) *sseSink {
	return &sseSink{
		w:       w,
		flusher: flusher,
		chunkID: chunkID,
	}
}

func (s *sseSink) PublishEvent(event events.Event) error {
	var delta *dial.Delta

	switch ev := event.(type) {
	case *events.EventStart:
		delta = &dial.Delta{Role: dial.RoleAssistant}
	case *events.EventPartial:
		delta = &dial.Delta{Content: ev.Delta}
	case *events.EventAttachment:
		delta = &dial.Delta{CustomContent: &dial.CustomContent{
			Attachments: []dial.Attachment{ev.Attachment},
		}}
	case *events.EventStageStart:
		delta = stageDelta(dial.StageDelta{Index: ev.Index, Name: ev.Name})
	case *events.EventStageContent:
		delta = stageDelta(dial.StageDelta{Index: ev.Index, Content: ev.Delta})
	case *events.EventStageAttachment:
		delta = stageDelta(dial.StageDelta{
			Index:       ev.Index,
			Attachments: []dial.Attachment{ev.Attachment},
		})
	case *events.EventStageClose:
		delta = stageDelta(dial.StageDelta{Index: ev.Index, Status: dial.StageStatusCompleted})
	default:
		// final and error events are written by the request handler, which
		// also knows the finish reason
		return nil
	}

	return s.writeChunk(dial.ChunkChoice{Index: 0, Delta: delta})
}

func stageDelta(d dial.StageDelta) *dial.Delta {
	return &dial.Delta{CustomContent: &dial.CustomContent{Stages: []dial.StageDelta{d}}}
}

// writeFinal emits the closing chunk: outgoing message state (when present)
// and the finish reason.
func (s *sseSink) writeFinal(msg dial.Message) error {
	finishReason := "stop"
	delta := &dial.Delta{}
	if msg.CustomContent != nil && msg.CustomContent.State != nil {
		delta.CustomContent = &dial.CustomContent{State: msg.CustomContent.State}
	}
	return s.writeChunk(dial.ChunkChoice{Index: 0, Delta: delta, FinishReason: &finishReason})
}

// writeError surfaces a turn failure on an already-committed stream.
func (s *sseSink) writeError(err error) error {
	body, marshalErr := json.Marshal(map[string]any{
		"error": map[string]any{
			"message": err.Error(),
			"type":    "internal_server_error",
		},
	})
	if marshalErr != nil {
		return errors.Wrap(marshalErr, "marshal stream error")
	}
	return s.writeRaw(body)
}

func (s *sseSink) writeDone() error {
	if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
		return errors.Wrap(err, "write stream terminator")
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) writeChunk(choice dial.ChunkChoice) error {
	chunk := dial.CompletionChunk{
		ID:      s.chunkID,
		Object:  "chat.completion.chunk",
		Choices: []dial.ChunkChoice{choice},
	}
	body, err := json.Marshal(chunk)
	if err != nil {
		return errors.Wrap(err, "marshal completion chunk")
	}
	return s.writeRaw(body)
}

func (s *sseSink) writeRaw(body []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", body); err != nil {
		return errors.Wrap(err, "write stream event")
	}
	s.flusher.Flush()
	return nil
}
