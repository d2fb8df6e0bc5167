// Package stagemirror maps the stage stream of one upstream agent call onto
// stages owned by the coordinator's own choice.
//
// Upstream stage indices and coordinator stage indices are two independent
// numbering domains: the upstream agent numbers its sections per call, while
// the choice numbers every stage it ever opens for the turn. The mirror is
// the translation layer between the two. It is scoped to a single agent call
// and must be discarded afterwards.
package stagemirror

import (
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/dialforge/mas-coordinator/pkg/chat"
	"github.com/dialforge/mas-coordinator/pkg/dial"
)

// Mirror lazily opens one choice-owned stage per upstream index and forwards
// content, attachments and completion to it in arrival order.
type Mirror struct {
	choice  *chat.Choice
	byIndex map[int]*chat.Stage
}

func New(choice *chat.Choice) *Mirror {
	return &Mirror{
		choice:  choice,
		byIndex: make(map[int]*chat.Stage),
	}
}

// Apply processes one upstream stage delta. The first delta seen for an index
// opens a new stage named after it (later deltas carry no name); content and
// attachments on any delta are applied in arrival order; status "completed"
// closes the stage. Deltas arriving after completion are a protocol violation
// by the upstream agent: they are logged and dropped, and the stage never
// reopens.
func (m *Mirror) Apply(delta dial.StageDelta) {
	stage, ok := m.byIndex[delta.Index]
	if !ok {
		stage = m.choice.OpenStage(delta.Name)
		m.byIndex[delta.Index] = stage
	}

	if stage.Closed() {
		log.Warn().
			Int("upstream_index", delta.Index).
			Int("stage_index", stage.Index()).
			Str("stage", stage.Name()).
			Msg("stage delta received after completion, ignoring")
		return
	}

	if delta.Content != "" {
		stage.AppendContent(delta.Content)
	}
	for _, attachment := range delta.Attachments {
		stage.AddAttachment(attachment)
	}
	if delta.Status == dial.StageStatusCompleted {
		stage.Close()
	}
}

// CloseAll closes every still-open mirrored stage, in upstream index order.
// It runs on every exit path of an agent call (deferred by the caller) so no
// dangling open stage is ever surfaced to the client, whether or not the
// upstream stream sent completion for it.
func (m *Mirror) CloseAll() {
	indices := make([]int, 0, len(m.byIndex))
	for idx := range m.byIndex {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	for _, idx := range indices {
		stage := m.byIndex[idx]
		if !stage.Closed() {
			stage.Close()
		}
	}
}

// Len reports how many upstream indices were sighted during the call.
func (m *Mirror) Len() int {
	return len(m.byIndex)
}
