package target

import (
	"fmt"
	"time"
)

// Event is one lifecycle notification for an operation on a target. Exactly
// four variants exist, distinguished by the Complete/Cancel flags:
//
//   - start:   Complete=false, Cancel=false
//   - success: Complete=true, Cancel=false, Result set
//   - error:   Complete=true, Cancel=false, Err set
//   - cancel:  Complete=true, Cancel=true, Err is the *Cancellation and
//     CancelledBy is the start event of the superseding operation (nil for a
//     user-initiated cancel)
//
// Events are published on the owning target's emitter and mirrored onto the
// service-wide emitter.
type Event struct {
	Target    *Target
	Operation string
	At        time.Time

	Complete bool
	Cancel   bool

	Result      any
	Err         error
	CancelledBy *Event
}

// Cancellation is the error delivered to an in-flight observer when its
// operation is cancelled. SupersededBy is the start event of the operation
// that replaced it, nil when the cancel was user-initiated.
type Cancellation struct {
	SupersededBy *Event
}

func (c *Cancellation) Error() string {
	if c.SupersededBy != nil {
		return fmt.Sprintf("cancelled by %q operation", c.SupersededBy.Operation)
	}
	return "cancelled"
}

// NewStartEvent builds a start event.
func NewStartEvent(t *Target, operation string) *Event {
	return &Event{Target: t, Operation: operation, At: time.Now()}
}

// NewSuccessEvent builds a success event carrying the decoded result.
func NewSuccessEvent(t *Target, operation string, result any) *Event {
	return &Event{Target: t, Operation: operation, At: time.Now(), Complete: true, Result: result}
}

// NewErrorEvent builds an error event.
func NewErrorEvent(t *Target, operation string, err error) *Event {
	return &Event{Target: t, Operation: operation, At: time.Now(), Complete: true, Err: err}
}

// NewCancelEvent builds a cancel event from its cause.
func NewCancelEvent(t *Target, operation string, cause *Cancellation) *Event {
	return &Event{
		Target:      t,
		Operation:   operation,
		At:          time.Now(),
		Complete:    true,
		Cancel:      true,
		Err:         cause,
		CancelledBy: cause.SupersededBy,
	}
}

// Kind names the variant for logging and persistence.
func (e *Event) Kind() string {
	switch {
	case !e.Complete:
		return "start"
	case e.Cancel:
		return "cancel"
	case e.Err != nil:
		return "error"
	default:
		return "success"
	}
}
