package models

import "time"

type ComponentKind string

const (
	KindCPU    ComponentKind = "CPU"
	KindMemory ComponentKind = "Memory"
	KindDisk   ComponentKind = "Disk"
	KindPing   ComponentKind = "Ping"
)

func (k ComponentKind) Valid() bool {
	switch k {
	case KindCPU, KindMemory, KindDisk, KindPing:
		return true
	default:
		return false
	}
}

type Machine struct {
	ID       int64
	RoomID   int64
	Hostname string
	IP       string
	Brand    string
	OS       string
	Status   Level
}

type Capture struct {
	ID          int64
	ComponentID int64
	Value       float64
	CapturedAt  time.Time
}

// CaptureRef is a committed capture as handed from the capture writer to the evaluator.
type CaptureRef struct {
	ID    int64
	Value float64
}

// Parameter is a failure band: a capture whose value lies inside [Min, Max] fires an alert.
type Parameter struct {
	ID          int64
	ComponentID int64
	Level       Level
	Min         float64
	Max         float64
}

func (p Parameter) Contains(v float64) bool {
	return p.Min <= v && v <= p.Max
}

// ComponentFormat is the display metadata of a component.
type ComponentFormat struct {
	Kind       ComponentKind
	Formatting string
}

type PendingAlert struct {
	ParameterID int64
	CaptureID   int64
	ComponentID int64
	Level       Level
	Message     string
}

type SentState int

const (
	SentPending SentState = iota
	SentDone
	SentFailedPermanently
)

func (s SentState) String() string {
	switch s {
	case SentPending:
		return "pending"
	case SentDone:
		return "sent"
	case SentFailedPermanently:
		return "failed-permanently"
	default:
		return "unknown"
	}
}

type Alert struct {
	ID          int64
	ParameterID int64
	CaptureID   int64
	Message     string
	Sent        SentState
	Attempts    int
	CreatedAt   time.Time
}

// Band is a threshold band as shown in a notification. Nil bounds mean no band is configured.
type Band struct {
	Min *float64
	Max *float64
}

// OutboxAlert is a claimed alert joined with everything needed to render its notification.
type OutboxAlert struct {
	Alert
	MachineID    int64
	MachineIP    string
	MachineBrand string
	MachineOS    string
	Room         string
	Component    ComponentKind
	Formatting   string
	Capacity     *float64
	Value        float64
	Level        Level
	Attention    Band
	Critical     Band
}
