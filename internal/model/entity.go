package model

import (
	"fmt"
	"strings"
	"time"
)

// GuestKind identifies the virtualization type of a guest
type GuestKind string

const (
	KindQemu GuestKind = "qemu" // fully virtualized machine
	KindLXC  GuestKind = "lxc"  // container
)

// Status represents a guest lifecycle status
type Status string

// Possible guest lifecycle statuses. Anything the cluster reports outside
// this vocabulary parses to StatusUnknown.
const (
	StatusRunning   Status = "running"
	StatusStopped   Status = "stopped"
	StatusPaused    Status = "paused"
	StatusSuspended Status = "suspended"
	StatusUnknown   Status = "unknown"
)

// ParseStatus maps a raw status string from the cluster to the known
// vocabulary. Qualified forms such as "stopped (locked)" keep their raw
// value through IsStopped but normalize to the base status here.
func ParseStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "running":
		return StatusRunning
	case "stopped":
		return StatusStopped
	case "paused":
		return StatusPaused
	case "suspended":
		return StatusSuspended
	default:
		return StatusUnknown
	}
}

// IsStopped reports whether a raw status string describes a stopped guest,
// tolerating qualifiers like "stopped (locked)".
func IsStopped(raw string) bool {
	return strings.Contains(strings.ToLower(raw), "stopped")
}

// GuestKey identifies a guest within the cluster. Identity is the pair
// (node, vmid); a guest that migrates to another node is a different key.
type GuestKey struct {
	Node string `json:"node"`
	VMID int    `json:"vmid"`
}

func (k GuestKey) String() string {
	return fmt.Sprintf("%s/%d", k.Node, k.VMID)
}

// Guest is one monitored virtual machine or container. Guests are ephemeral
// snapshots: each poll produces fresh values, nothing is mutated in place.
type Guest struct {
	Key       GuestKey  `json:"key"`
	Name      string    `json:"name"`
	Kind      GuestKind `json:"kind"`
	Status    Status    `json:"status"`
	RawStatus string    `json:"raw_status"` // as reported by the cluster, qualifiers included
	CPUs      int       `json:"cpus"`
	CPU       float64   `json:"cpu"` // fraction of allocated cores in use
	MemUsed   int64     `json:"mem_used"`
	MemTotal  int64     `json:"mem_total"`
	Uptime    int64     `json:"uptime"` // seconds
	Tags      string    `json:"tags,omitempty"`
}

// NodeStatus is the aggregate load of one cluster node
type NodeStatus struct {
	Node      string  `json:"node"`
	CPU       float64 `json:"cpu"` // fraction
	MemUsed   int64   `json:"mem_used"`
	MemTotal  int64   `json:"mem_total"`
	SwapUsed  int64   `json:"swap_used"`
	SwapTotal int64   `json:"swap_total"`
	IOWait    float64 `json:"iowait"` // percent
	Uptime    int64   `json:"uptime"`
}

// PollSnapshot is one consistent view of the cluster produced by a single
// poll cycle
type PollSnapshot struct {
	Taken  time.Time    `json:"taken"`
	Guests []Guest      `json:"guests"`
	Nodes  []NodeStatus `json:"nodes,omitempty"`
}

// Guest returns the guest with the given key, if present in the snapshot
func (s *PollSnapshot) Guest(key GuestKey) (Guest, bool) {
	for _, g := range s.Guests {
		if g.Key == key {
			return g, true
		}
	}
	return Guest{}, false
}

// Sample is a single point of a guest's metric time series, either from the
// historical backfill endpoint or from a live current-status fetch
type Sample struct {
	Time     time.Time `json:"time"`
	CPU      float64   `json:"cpu"`
	MemUsed  int64     `json:"mem_used"`
	MemTotal int64     `json:"mem_total"`
}

// CurrentStatus is the lightweight per-guest status payload sampled at the
// fast cadence by the detail poller
type CurrentStatus struct {
	Status    Status  `json:"status"`
	RawStatus string  `json:"raw_status"`
	CPU       float64 `json:"cpu"`
	MemUsed   int64   `json:"mem_used"`
	MemTotal  int64   `json:"mem_total"`
	Uptime    int64   `json:"uptime"`
}

// GuestDetail is the fuller configuration payload fetched at the slow cadence
type GuestDetail struct {
	Key       GuestKey  `json:"key"`
	Name      string    `json:"name"`
	Kind      GuestKind `json:"kind"`
	Status    Status    `json:"status"`
	RawStatus string    `json:"raw_status"`
	CPUs      int       `json:"cpus"`
	CPU       float64   `json:"cpu"`
	MemUsed   int64     `json:"mem_used"`
	MemTotal  int64     `json:"mem_total"`
	DiskUsed  int64     `json:"disk_used"`
	DiskTotal int64     `json:"disk_total"`
	NetIn     int64     `json:"net_in"`
	NetOut    int64     `json:"net_out"`
	Uptime    int64     `json:"uptime"`
	Tags      string    `json:"tags,omitempty"`
}
