package notification

import "time"

// Priority indicates how urgently a notification should be surfaced to the
// recipient. It is carried through queuing and retry unchanged.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// String returns the lowercase name used on the wire.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "normal"
	}
}

// Payload is the immutable notification value produced by business event
// sources (attendance, leave, HR workflows). The delivery core never mutates
// a payload; it only wraps it in an Envelope before a transport send.
type Payload struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Type      string         `json:"type"`
	Priority  Priority       `json:"priority"`
	CreatedAt time.Time      `json:"createdAt"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Envelope is the event body sent over the transport: the payload plus
// delivery metadata. The embedded payload fields flatten into the same JSON
// object, so recipients see {id, title, ..., deliveredAt, targetType, targetId}.
type Envelope struct {
	Payload
	DeliveredAt time.Time `json:"deliveredAt"`
	TargetType  string    `json:"targetType"`
	TargetID    string    `json:"targetId"`
}

// Wrap builds the transport envelope for a payload without touching the
// payload itself.
func Wrap(p Payload, target Target, deliveredAt time.Time) Envelope {
	return Envelope{
		Payload:     p,
		DeliveredAt: deliveredAt,
		TargetType:  target.Kind.String(),
		TargetID:    target.ID(),
	}
}

// Connection is one active client session as seen by the registry. The
// registry is the sole writer; every other component only reads connections.
type Connection struct {
	ID             string    `json:"id"`
	UserID         int       `json:"userId"`
	EmployeeID     int       `json:"employeeId"`
	BranchID       int       `json:"branchId"`
	OrganizationID int       `json:"organizationId"`
	Roles          []string  `json:"roles,omitempty"`
	ConnectedAt    time.Time `json:"connectedAt"`
	UserAgent      string    `json:"userAgent,omitempty"`
	RemoteAddr     string    `json:"remoteAddr,omitempty"`
}

// HasRole reports whether the connection carries the given role name.
func (c Connection) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Event names used on the transport.
const (
	EventNotification = "notification"
	EventHeartbeat    = "heartbeat"
	EventPresence     = "presence"
)

// HeartbeatEvent is the lightweight liveness probe broadcast to all
// connections by the health loop.
type HeartbeatEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	ServerTime string    `json:"serverTime"`
}

// PresenceEvent announces the current online population after connect and
// disconnect churn.
type PresenceEvent struct {
	OnlineCount   int       `json:"onlineCount"`
	OnlineUserIDs []int     `json:"onlineUserIds"`
	Timestamp     time.Time `json:"timestamp"`
}
