package domain

type Status string

const (
	StatusPending        Status = "pending"
	StatusAssigned       Status = "assigned"
	StatusStarted        Status = "started"
	StatusPaused         Status = "paused"
	StatusCompleted      Status = "completed"
	StatusReturnedForFix Status = "returned_for_fix"
	StatusApproved       Status = "approved"
	StatusCancelled      Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusCancelled
}

// Completion is also accepted straight from Assigned, Paused and
// ReturnedForFix: a technician working offline may sync a completion without
// the start or resume that preceded it.
var transitions = map[Status][]Status{
	StatusPending:        {StatusAssigned, StatusCancelled},
	StatusAssigned:       {StatusAssigned, StatusStarted, StatusCompleted, StatusCancelled},
	StatusStarted:        {StatusStarted, StatusPaused, StatusCompleted, StatusCancelled},
	StatusPaused:         {StatusStarted, StatusCompleted, StatusCancelled},
	StatusCompleted:      {StatusApproved, StatusReturnedForFix, StatusCancelled},
	StatusReturnedForFix: {StatusStarted, StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to and returns ErrInvalidTransition when the
// move is not allowed.
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return ErrInvalidTransition
	}
	return nil
}
