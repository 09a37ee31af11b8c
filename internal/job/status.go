package job

import "fmt"

type Status string

const (
	StatusPending     Status = "pending"
	StatusRunning     Status = "running"
	StatusStageFailed Status = "stage_failed"
	StatusBlocked     Status = "blocked"
	StatusCompleted   Status = "completed"
)

var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning: true,
	},
	StatusRunning: {
		StatusRunning:     true,
		StatusStageFailed: true,
		StatusBlocked:     true,
		StatusCompleted:   true,
	},
	StatusStageFailed: {
		StatusRunning: true,
		StatusBlocked: true,
		StatusPending: true, // requeued after an interrupted run
	},
	StatusBlocked: {
		StatusPending: true, // manual resume through the queue
		StatusRunning: true, // manual resume in-process
	},
	StatusCompleted: {},
}

func IsKnownStatus(s Status) bool {
	_, ok := allowedTransitions[s]
	return ok
}

func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// IsTerminal reports completed and blocked. Blocked needs a manual resume.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusBlocked
}

// Transition moves j to status to, rejecting moves the table does not allow.
func (j *Job) Transition(to Status) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("invalid job status transition: %q -> %q (job_id=%s)", j.Status, to, j.ID)
	}
	j.Status = to
	return nil
}
