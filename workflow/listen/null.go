package listen

// NullSink discards every event. Useful when observability overhead is
// unwanted, or in unit tests that don't care about the event stream.
type NullSink struct{}

// NewNullSink returns a Sink that discards all events.
func NewNullSink() *NullSink { return &NullSink{} }

func (n *NullSink) Emit(Event) {}
