package events

// Sink is a destination for turn events. Implementations forward events to
// the client transport, the watermill bus, or test recorders.
type Sink interface {
	// PublishEvent publishes an event to the sink.
	// Returns an error if the event could not be published.
	PublishEvent(event Event) error
}
