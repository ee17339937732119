package model

import "time"

// ActionKind is a power action submitted against a guest
type ActionKind string

const (
	ActionStart    ActionKind = "start"
	ActionShutdown ActionKind = "shutdown" // guest-cooperative shutdown
	ActionReboot   ActionKind = "reboot"
	ActionStop     ActionKind = "stop" // hard power-off
)

// Valid reports whether the action kind is one the cluster accepts
func (a ActionKind) Valid() bool {
	switch a {
	case ActionStart, ActionShutdown, ActionReboot, ActionStop:
		return true
	}
	return false
}

// JobStatus is the polled state of one asynchronous cluster task
type JobStatus struct {
	Status     string `json:"status"`               // "running" until terminal, then "stopped"
	ExitStatus string `json:"exitstatus,omitempty"` // set once terminal; "OK" on success
}

// Terminal reports whether the task has finished, successfully or not
func (j JobStatus) Terminal() bool {
	return j.Status == "stopped"
}

// ActionJob tracks one in-flight power action for the duration of a single
// orchestrator call. Not persisted.
type ActionJob struct {
	Key      GuestKey
	Kind     ActionKind
	UPID     string // opaque task ticket from the cluster
	Started  time.Time
	Deadline time.Time
}
