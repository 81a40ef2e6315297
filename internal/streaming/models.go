package streaming

import (
	"fmt"
	"strings"
	"time"
)

// Sharing decides whether clients of a mount share one running pipeline
// instance or each get their own.
type Sharing string

const (
	// SharingShared attaches every client of a mount to the same instance.
	SharingShared Sharing = "shared"
	// SharingPerClient gives every client session a dedicated instance.
	SharingPerClient Sharing = "per-client"
)

// ParseSharing accepts "shared", "per-client" (or "perclient", "per_client").
func ParseSharing(s string) (Sharing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "shared":
		return SharingShared, nil
	case "per-client", "perclient", "per_client":
		return SharingPerClient, nil
	}
	return "", fmt.Errorf("unknown sharing policy %q", s)
}

// Template binds a pipeline description to a mount path.
type Template struct {
	MountPath   string  `json:"mount_path" yaml:"mount_path"`
	Description string  `json:"description" yaml:"description"`
	Sharing     Sharing `json:"sharing" yaml:"sharing"`
}

// NormalizeMountPath returns p with a single leading slash and no trailing
// slash. The root path and the empty path are not valid mounts.
func NormalizeMountPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	p = "/" + strings.Trim(p, "/")
	if p == "/" {
		return "", fmt.Errorf("empty mount path")
	}
	if strings.Contains(p, "//") {
		return "", fmt.Errorf("mount path %q contains an empty segment", p)
	}
	return p, nil
}

// InstanceState is the lifecycle state of a pipeline instance.
type InstanceState int

const (
	InstanceCreated InstanceState = iota
	InstanceRunning
	InstanceStopping
	InstanceStopped
)

func (s InstanceState) String() string {
	switch s {
	case InstanceCreated:
		return "created"
	case InstanceRunning:
		return "running"
	case InstanceStopping:
		return "stopping"
	case InstanceStopped:
		return "stopped"
	}
	return fmt.Sprintf("InstanceState(%d)", int(s))
}

// Instance is a realised pipeline for a template.
type Instance struct {
	ID        string
	Template  *Template
	State     InstanceState
	RefCount  int
	Engine    EngineHandle
	CreatedAt time.Time
}

// Session is one client's binding to an instance. It never changes instance.
type Session struct {
	ID        string
	MountPath string
	Instance  *Instance
	OpenedAt  time.Time
}

// RunState is the lifecycle state of the Controller.
type RunState int

const (
	RunStateIdle RunState = iota
	RunStateRunning
	RunStateStopping
)

func (s RunState) String() string {
	switch s {
	case RunStateIdle:
		return "idle"
	case RunStateRunning:
		return "running"
	case RunStateStopping:
		return "stopping"
	}
	return fmt.Sprintf("RunState(%d)", int(s))
}

// MountInfo is a snapshot of a registered mount.
type MountInfo struct {
	Template
	Sessions       int    `json:"sessions"`
	SharedInstance string `json:"shared_instance,omitempty"`
}

// SessionInfo is a snapshot of a client session. Engine is the handle of the
// bound instance so the protocol layer can reach the realised stream.
type SessionInfo struct {
	ID         string       `json:"id"`
	MountPath  string       `json:"mount_path"`
	InstanceID string       `json:"instance_id"`
	OpenedAt   time.Time    `json:"opened_at"`
	Engine     EngineHandle `json:"-"`
}

// InstanceInfo is a snapshot of a pipeline instance.
type InstanceInfo struct {
	ID        string    `json:"id"`
	MountPath string    `json:"mount_path"`
	Sharing   Sharing   `json:"sharing"`
	State     string    `json:"state"`
	RefCount  int       `json:"ref_count"`
	CreatedAt time.Time `json:"created_at"`
}

// Status summarises the controller.
type Status struct {
	State     string `json:"state"`
	Port      uint16 `json:"port"`
	Endpoint  string `json:"endpoint,omitempty"`
	Mounts    int    `json:"mounts"`
	Sessions  int    `json:"sessions"`
	Instances int    `json:"instances"`
}

func (s *Session) info() SessionInfo {
	return SessionInfo{
		ID:         s.ID,
		MountPath:  s.MountPath,
		InstanceID: s.Instance.ID,
		OpenedAt:   s.OpenedAt,
		Engine:     s.Instance.Engine,
	}
}

func (i *Instance) info() InstanceInfo {
	return InstanceInfo{
		ID:        i.ID,
		MountPath: i.Template.MountPath,
		Sharing:   i.Template.Sharing,
		State:     i.State.String(),
		RefCount:  i.RefCount,
		CreatedAt: i.CreatedAt,
	}
}
