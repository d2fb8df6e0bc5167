package chat

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dialforge/mas-coordinator/pkg/dial"
	"github.com/dialforge/mas-coordinator/pkg/events"
)

// Stage is a named progress section surfaced to the client while a turn is
// processed. Once closed it never accepts further content; violations are a
// defect of the caller and are logged, not propagated.
type Stage struct {
	choice *Choice
	index  int
	name   string

	content     strings.Builder
	attachments []dial.Attachment
	closed      bool
}

func (s *Stage) Index() int {
	return s.index
}

func (s *Stage) Name() string {
	return s.name
}

func (s *Stage) Closed() bool {
	return s.closed
}

func (s *Stage) Content() string {
	return s.content.String()
}

func (s *Stage) Attachments() []dial.Attachment {
	return s.attachments
}

// AppendContent appends text to the stage and streams it out immediately.
func (s *Stage) AppendContent(delta string) {
	if s.closed {
		log.Error().Int("stage_index", s.index).Str("stage", s.name).Msg("content appended to closed stage")
		return
	}
	if delta == "" {
		return
	}
	s.content.WriteString(delta)
	s.choice.publish(events.NewStageContentEvent(s.choice.metadata, s.index, delta))
}

// AddAttachment attaches a blob to the stage.
func (s *Stage) AddAttachment(attachment dial.Attachment) {
	if s.closed {
		log.Error().Int("stage_index", s.index).Str("stage", s.name).Msg("attachment added to closed stage")
		return
	}
	s.attachments = append(s.attachments, attachment)
	s.choice.publish(events.NewStageAttachmentEvent(s.choice.metadata, s.index, attachment))
}

// Close marks the stage completed. Closing twice is a defect signal, logged
// and otherwise ignored; a stage never reopens.
func (s *Stage) Close() {
	if s.closed {
		log.Debug().Int("stage_index", s.index).Str("stage", s.name).Msg("stage already closed")
		return
	}
	s.closed = true
	s.choice.publish(events.NewStageCloseEvent(s.choice.metadata, s.index))
}
