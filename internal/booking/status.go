package booking

// Status is the booking lifecycle state.
type Status string

const (
	StatusRequested         Status = "requested"
	StatusTimeoutReassigned Status = "timeout_reassigned"
	StatusConfirmed         Status = "confirmed"
	StatusDeclined          Status = "declined"
)

var transitions = map[Status][]Status{
	StatusRequested:         {StatusConfirmed, StatusDeclined, StatusTimeoutReassigned},
	StatusTimeoutReassigned: {StatusConfirmed, StatusDeclined},
}

// PendingStatuses are the statuses a therapist may still respond to.
var PendingStatuses = []Status{StatusRequested, StatusTimeoutReassigned}

// IsTerminal reports whether no transition may leave s.
func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusDeclined
}

// IsPending reports whether s still accepts therapist responses.
func (s Status) IsPending() bool {
	return s == StatusRequested || s == StatusTimeoutReassigned
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusRequested, StatusTimeoutReassigned, StatusConfirmed, StatusDeclined:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the status graph.
// A requested -> requested reassignment is allowed; it changes the assignee
// only.
func CanTransition(from, to Status) bool {
	if from == StatusRequested && to == StatusRequested {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func statusStrings(in []Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
