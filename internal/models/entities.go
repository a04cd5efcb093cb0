package models

import "time"

// Participant is one worker attempting one assignment.
type Participant struct {
	UniqueID     string     `json:"unique_id"`
	AssignmentID string     `json:"assignment_id"`
	WorkerID     string     `json:"worker_id"`
	HITID        string     `json:"hit_id"`
	Status       Status     `json:"status"`
	BeginHIT     time.Time  `json:"beginhit"`
	EndHIT       *time.Time `json:"endhit"`
}

// ShortID is the participant id prefix used in log lines.
func (p Participant) ShortID() string { return ShortID(p.UniqueID) }

// ShortID truncates an id to its first five characters.
func ShortID(id string) string {
	if len(id) <= 5 {
		return id
	}
	return id[:5]
}

// Properties holds the five generic property slots shared by graph entities.
type Properties struct {
	Property1 *string `json:"property1"`
	Property2 *string `json:"property2"`
	Property3 *string `json:"property3"`
	Property4 *string `json:"property4"`
	Property5 *string `json:"property5"`
}

// Network groups nodes that may connect to each other.
type Network struct {
	ID           int64     `json:"id"`
	Type         string    `json:"type"`
	MaxSize      int       `json:"max_size"`
	Full         bool      `json:"full"`
	Role         string    `json:"role"`
	CreationTime time.Time `json:"creation_time"`
}

// Node is a vertex in a network, optionally owned by a participant.
type Node struct {
	ID            int64      `json:"id"`
	Type          string     `json:"type"`
	NetworkID     int64      `json:"network_id"`
	ParticipantID *string    `json:"participant_id"`
	CreationTime  time.Time  `json:"creation_time"`
	TimeOfDeath   *time.Time `json:"time_of_death"`
	Failed        bool       `json:"failed"`
	Properties
}

// Vector is a directed edge from Origin to Destination.
type Vector struct {
	ID            int64      `json:"id"`
	OriginID      int64      `json:"origin_id"`
	DestinationID int64      `json:"destination_id"`
	NetworkID     int64      `json:"network_id"`
	CreationTime  time.Time  `json:"creation_time"`
	TimeOfDeath   *time.Time `json:"time_of_death"`
	Failed        bool       `json:"failed"`
	Properties
}

// Info is opaque content created at a node.
type Info struct {
	ID           int64     `json:"id"`
	Type         string    `json:"type"`
	OriginID     int64     `json:"origin_id"`
	NetworkID    int64     `json:"network_id"`
	CreationTime time.Time `json:"creation_time"`
	Contents     string    `json:"contents"`
	Properties
}

// TransmissionStatus is pending until the destination polls for it.
type TransmissionStatus string

const (
	TransmissionPending  TransmissionStatus = "pending"
	TransmissionReceived TransmissionStatus = "received"
)

// Transmission is one info travelling along one vector.
type Transmission struct {
	ID            int64              `json:"id"`
	VectorID      int64              `json:"vector_id"`
	OriginID      int64              `json:"origin_id"`
	DestinationID int64              `json:"destination_id"`
	InfoID        int64              `json:"info_id"`
	NetworkID     int64              `json:"network_id"`
	CreationTime  time.Time          `json:"creation_time"`
	ReceiveTime   *time.Time         `json:"receive_time"`
	Status        TransmissionStatus `json:"status"`
	Properties
}

// Transformation records that InfoIn produced InfoOut at Node.
type Transformation struct {
	ID           int64     `json:"id"`
	Type         string    `json:"type"`
	NodeID       int64     `json:"node_id"`
	InfoInID     int64     `json:"info_in_id"`
	InfoOutID    int64     `json:"info_out_id"`
	NetworkID    int64     `json:"network_id"`
	CreationTime time.Time `json:"creation_time"`
	Properties
}

// Notification is an immutable record of a received platform event.
type Notification struct {
	ID           int64     `json:"id"`
	JobID        string    `json:"job_id"`
	AssignmentID string    `json:"assignment_id"`
	EventType    EventType `json:"event_type"`
	CreationTime time.Time `json:"creation_time"`
}

// Kind names a graph entity family handled by the dispatcher.
type Kind string

const (
	KindNode           Kind = "node"
	KindVector         Kind = "vector"
	KindInfo           Kind = "info"
	KindTransmission   Kind = "transmission"
	KindTransformation Kind = "transformation"
)

// Kinds lists every graph entity kind.
var Kinds = []Kind{KindNode, KindVector, KindInfo, KindTransmission, KindTransformation}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Direction filters edges relative to a node.
type Direction string

const (
	DirectionTo       Direction = "to"
	DirectionFrom     Direction = "from"
	DirectionAll      Direction = "all"
	DirectionBoth     Direction = "both"
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// FailedFilter selects entities by their failed flag.
type FailedFilter string

const (
	FailedExclude FailedFilter = "false"
	FailedOnly    FailedFilter = "true"
	FailedAll     FailedFilter = "all"
)
