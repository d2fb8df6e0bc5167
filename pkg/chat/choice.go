package chat

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dialforge/mas-coordinator/pkg/dial"
	"github.com/dialforge/mas-coordinator/pkg/events"
)

// Choice builds the single assistant reply for one turn. All mutations are
// forwarded live to the configured sinks; the accumulated result is read back
// with Message once the turn is done.
//
// A Choice belongs to exactly one request and is driven by one goroutine at a
// time; it is not safe for concurrent use.
type Choice struct {
	metadata events.EventMetadata
	sinks    []events.Sink

	content     strings.Builder
	attachments []dial.Attachment
	state       map[string]any

	nextStageIndex int
	stages         []*Stage
}

func NewChoice(metadata events.EventMetadata, sinks ...events.Sink) *Choice {
	return &Choice{
		metadata: metadata,
		sinks:    sinks,
	}
}

func (c *Choice) Metadata() events.EventMetadata {
	return c.metadata
}

// AppendContent appends a delta to the top-level answer text and streams it
// out immediately.
func (c *Choice) AppendContent(delta string) {
	if delta == "" {
		return
	}
	c.content.WriteString(delta)
	c.publish(events.NewPartialEvent(c.metadata, delta, c.content.String()))
}

// AddAttachment attaches a blob to the top-level answer.
func (c *Choice) AddAttachment(attachment dial.Attachment) {
	c.attachments = append(c.attachments, attachment)
	c.publish(events.NewAttachmentEvent(c.metadata, attachment))
}

// SetState records the opaque state map that will ride on the outgoing
// assistant message. The last call wins.
func (c *Choice) SetState(state map[string]any) {
	c.state = state
}

// OpenStage opens a new named progress section. Indices are assigned by the
// Choice and are independent from any upstream stream's numbering.
func (c *Choice) OpenStage(name string) *Stage {
	s := &Stage{
		choice: c,
		index:  c.nextStageIndex,
		name:   name,
	}
	c.nextStageIndex++
	c.stages = append(c.stages, s)
	c.publish(events.NewStageStartEvent(c.metadata, s.index, name))
	return s
}

func (c *Choice) Content() string {
	return c.content.String()
}

func (c *Choice) Attachments() []dial.Attachment {
	return c.attachments
}

func (c *Choice) State() map[string]any {
	return c.state
}

// Message assembles the outgoing assistant message from everything collected
// during the turn.
func (c *Choice) Message() dial.Message {
	msg := dial.Message{
		Role:    dial.RoleAssistant,
		Content: c.content.String(),
	}
	if len(c.attachments) > 0 || c.state != nil {
		msg.CustomContent = &dial.CustomContent{
			Attachments: c.attachments,
		}
		if c.state != nil {
			msg.CustomContent.State = c.state
		}
	}
	return msg
}

func (c *Choice) publish(event events.Event) {
	for _, sink := range c.sinks {
		if err := sink.PublishEvent(event); err != nil {
			log.Warn().Err(err).Str("event_type", string(event.Type())).Msg("Failed to publish event to sink")
		}
	}
}
