package model

// Record status constants shared by backup and restore records.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// transitions lists, per target status, the statuses a record may move from.
var transitions = map[string][]string{
	StatusInProgress: {StatusPending},
	StatusCompleted:  {StatusInProgress},
	StatusFailed:     {StatusPending, StatusInProgress},
	StatusCancelled:  {StatusPending},
}

// AllowedPredecessors returns the statuses from which a record may move to
// status. Terminal and unknown targets have none besides those listed.
func AllowedPredecessors(status string) []string {
	return transitions[status]
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible from status.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func ValidStatus(status string) bool {
	switch status {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}
