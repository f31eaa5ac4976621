package conversation

// EventKind tells a view's consumer what changed.
type EventKind int

const (
	// EventAppended reports a new message in the timeline.
	EventAppended EventKind = iota
	// EventConfirmed reports that a provisional message got its store id.
	EventConfirmed
	// EventStatusChanged reports an in-place status change.
	EventStatusChanged
	// EventFailed reports that a send was rejected or timed out.
	EventFailed
	// EventRetracting reports that a retraction is waiting for the store.
	EventRetracting
	// EventRetracted reports that the viewer's retraction succeeded.
	EventRetracted
	// EventRetractFailed reports that the store refused a retraction.
	EventRetractFailed
	// EventRemoved reports a message removed by someone else or discarded.
	EventRemoved
	// EventRetractWindowClosed reports that a message can no longer be retracted.
	EventRetractWindowClosed
	// EventLoaded reports that history replaced the timeline contents.
	EventLoaded
)

var eventNames = map[EventKind]string{
	EventAppended:            "appended",
	EventConfirmed:           "confirmed",
	EventStatusChanged:       "status_changed",
	EventFailed:              "failed",
	EventRetracting:          "retracting",
	EventRetracted:           "retracted",
	EventRetractFailed:       "retract_failed",
	EventRemoved:             "removed",
	EventRetractWindowClosed: "retract_window_closed",
	EventLoaded:              "loaded",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is a re-render trigger.
type Event struct {
	Kind      EventKind
	MessageID string
	// PreviousID is the provisional id for EventConfirmed.
	PreviousID string
	Err        error
}
