package dispatcher

// Outcome is what happened on the channel for one digest delivery.
type Outcome int

const (
	// Failed covers every error that is not one of the named cases,
	// including the per-delivery timeout.
	Failed Outcome = iota
	EditedInPlace
	SentNew
	Unchanged
	Unreachable
)

func (o Outcome) String() string {
	switch o {
	case EditedInPlace:
		return "edited_in_place"
	case SentNew:
		return "sent_new"
	case Unchanged:
		return "unchanged"
	case Unreachable:
		return "unreachable"
	default:
		return "failed"
	}
}

// Delivered reports whether the subscriber now sees the current digest.
func (o Outcome) Delivered() bool {
	return o == EditedInPlace || o == SentNew || o == Unchanged
}

// Result is one delivery attempt. MessageID is set only for SentNew.
type Result struct {
	Outcome   Outcome
	MessageID int
	Err       error
}

// PointerAction is the write-back a Result asks for.
type PointerAction struct {
	Set       bool
	MessageID int
}

// Keep leaves the stored pointer as it is.
var Keep = PointerAction{}

// Decide maps a delivery result to the pointer write-back. Only a freshly
// sent message moves the pointer; everything else keeps it.
func Decide(r Result) PointerAction {
	if r.Outcome == SentNew && r.MessageID != 0 {
		return PointerAction{Set: true, MessageID: r.MessageID}
	}
	return Keep
}
