package llm

import (
	"context"

	"github.com/dialforge/mas-coordinator/pkg/dial"
)

// Option configures a single completion call.
type Option func(*Options)

// Options carries per-call settings. Schema, when set, constrains the
// completion to a provider-native JSON schema response format.
type Options struct {
	SchemaName string
	Schema     map[string]any
}

// WithJSONSchema constrains the completion output to the given JSON schema.
func WithJSONSchema(name string, schema map[string]any) Option {
	return func(o *Options) {
		o.SchemaName = name
		o.Schema = schema
	}
}

func ApplyOptions(options ...Option) *Options {
	o := &Options{}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// Engine is the language-model completion capability: given a message list it
// returns one completion, or streams it delta by delta.
type Engine interface {
	// Complete issues a non-streaming completion. With WithJSONSchema the
	// call is schema-constrained.
	Complete(ctx context.Context, messages []dial.Message, options ...Option) (string, error)

	// Stream issues a streaming completion, invoking onDelta for every text
	// fragment as it arrives, and returns the accumulated completion. A
	// non-nil error from onDelta aborts the stream.
	Stream(ctx context.Context, messages []dial.Message, onDelta func(delta string) error) (string, error)
}
