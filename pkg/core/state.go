package core

// transitions lists every allowed status change. Anything not listed,
// including any move out of a terminal status, is rejected.
var transitions = map[Status][]Status{
	StatusScheduled: {StatusSent, StatusCancelled, StatusFailed},
}

// CanTransition reports whether an item may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidStatus reports whether s is a known status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusScheduled, StatusSent, StatusCancelled, StatusFailed:
		return true
	}
	return false
}
