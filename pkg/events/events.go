package events

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/dialforge/mas-coordinator/pkg/dial"
)

type EventType string

const (
	// EventTypeStart through EventTypeFinal describe the top-level answer text.
	EventTypeStart   EventType = "start"
	EventTypePartial EventType = "partial"
	EventTypeFinal   EventType = "final"
	EventTypeError   EventType = "error"

	// Stage lifecycle, numbered in the coordinator's own index domain.
	EventTypeStageStart      EventType = "stage-start"
	EventTypeStageContent    EventType = "stage-content"
	EventTypeStageAttachment EventType = "stage-attachment"
	EventTypeStageClose      EventType = "stage-close"

	// Attachment added to the top-level answer.
	EventTypeAttachment EventType = "attachment"
)

// Event is a single observable step of a coordinator turn. Everything the
// client sees while a turn is in flight travels as events through sinks.
type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

// EventMetadata correlates events with the turn that produced them.
type EventMetadata struct {
	ID             uuid.UUID `json:"message_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Deployment     string    `json:"deployment,omitempty"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message_id", em.ID.String())
	if em.ConversationID != "" {
		e.Str("conversation_id", em.ConversationID)
	}
	if em.Deployment != "" {
		e.Str("deployment", em.Deployment)
	}
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta,omitempty"`

	// raw payload kept when the event was decoded from JSON (NewEventFromJSON)
	payload []byte
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

var _ Event = &EventImpl{}

type EventStart struct {
	EventImpl
}

func NewStartEvent(metadata EventMetadata) *EventStart {
	return &EventStart{
		EventImpl: EventImpl{Type_: EventTypeStart, Metadata_: metadata},
	}
}

var _ Event = &EventStart{}

// EventPartial carries one streamed delta of the final answer together with
// the accumulated completion so far.
type EventPartial struct {
	EventImpl
	Delta      string `json:"delta"`
	Completion string `json:"completion"`
}

func NewPartialEvent(metadata EventMetadata, delta string, completion string) *EventPartial {
	return &EventPartial{
		EventImpl:  EventImpl{Type_: EventTypePartial, Metadata_: metadata},
		Delta:      delta,
		Completion: completion,
	}
}

var _ Event = &EventPartial{}

type EventFinal struct {
	EventImpl
	Text string `json:"text"`
}

func NewFinalEvent(metadata EventMetadata, text string) *EventFinal {
	return &EventFinal{
		EventImpl: EventImpl{Type_: EventTypeFinal, Metadata_: metadata},
		Text:      text,
	}
}

var _ Event = &EventFinal{}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
}

func NewErrorEvent(metadata EventMetadata, err error) *EventError {
	return &EventError{
		EventImpl:   EventImpl{Type_: EventTypeError, Metadata_: metadata},
		ErrorString: err.Error(),
	}
}

var _ Event = &EventError{}

// EventStageStart announces a newly opened stage. Index is owned by the
// coordinator and is unrelated to any upstream stream's numbering.
type EventStageStart struct {
	EventImpl
	Index int    `json:"index"`
	Name  string `json:"name"`
}

func NewStageStartEvent(metadata EventMetadata, index int, name string) *EventStageStart {
	return &EventStageStart{
		EventImpl: EventImpl{Type_: EventTypeStageStart, Metadata_: metadata},
		Index:     index,
		Name:      name,
	}
}

var _ Event = &EventStageStart{}

type EventStageContent struct {
	EventImpl
	Index int    `json:"index"`
	Delta string `json:"delta"`
}

func NewStageContentEvent(metadata EventMetadata, index int, delta string) *EventStageContent {
	return &EventStageContent{
		EventImpl: EventImpl{Type_: EventTypeStageContent, Metadata_: metadata},
		Index:     index,
		Delta:     delta,
	}
}

var _ Event = &EventStageContent{}

type EventStageAttachment struct {
	EventImpl
	Index      int             `json:"index"`
	Attachment dial.Attachment `json:"attachment"`
}

func NewStageAttachmentEvent(metadata EventMetadata, index int, attachment dial.Attachment) *EventStageAttachment {
	return &EventStageAttachment{
		EventImpl:  EventImpl{Type_: EventTypeStageAttachment, Metadata_: metadata},
		Index:      index,
		Attachment: attachment,
	}
}

var _ Event = &EventStageAttachment{}

type EventStageClose struct {
	EventImpl
	Index int `json:"index"`
}

func NewStageCloseEvent(metadata EventMetadata, index int) *EventStageClose {
	return &EventStageClose{
		EventImpl: EventImpl{Type_: EventTypeStageClose, Metadata_: metadata},
		Index:     index,
	}
}

var _ Event = &EventStageClose{}

type EventAttachment struct {
	EventImpl
	Attachment dial.Attachment `json:"attachment"`
}

func NewAttachmentEvent(metadata EventMetadata, attachment dial.Attachment) *EventAttachment {
	return &EventAttachment{
		EventImpl:  EventImpl{Type_: EventTypeAttachment, Metadata_: metadata},
		Attachment: attachment,
	}
}

var _ Event = &EventAttachment{}

// NewEventFromJSON decodes an event previously serialized for the bus back
// into its concrete type.
func NewEventFromJSON(b []byte) (Event, error) {
	var peek struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(b, &peek); err != nil {
		return nil, errors.Wrap(err, "peek event type")
	}

	var ret Event
	switch peek.Type {
	case EventTypeStart:
		ret = &EventStart{}
	case EventTypePartial:
		ret = &EventPartial{}
	case EventTypeFinal:
		ret = &EventFinal{}
	case EventTypeError:
		ret = &EventError{}
	case EventTypeStageStart:
		ret = &EventStageStart{}
	case EventTypeStageContent:
		ret = &EventStageContent{}
	case EventTypeStageAttachment:
		ret = &EventStageAttachment{}
	case EventTypeStageClose:
		ret = &EventStageClose{}
	case EventTypeAttachment:
		ret = &EventAttachment{}
	default:
		return nil, errors.Errorf("unknown event type %q", peek.Type)
	}

	if err := json.Unmarshal(b, ret); err != nil {
		return nil, errors.Wrapf(err, "decode %s event", peek.Type)
	}
	if impl, ok := ret.(interface{ SetPayload([]byte) }); ok {
		impl.SetPayload(b)
	}
	return ret, nil
}

// SetPayload stores the raw JSON payload on the event implementation.
func (e *EventImpl) SetPayload(b []byte) {
	e.payload = b
}
