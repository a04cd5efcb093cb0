// Package experiment defines the contract between the coordination core and
// the experiment author's logic, and provides Base, a default implementation
// covering the common network topologies.
//
// Every handler receives the request-scoped *store.Tx. Handlers must route
// all reads and writes through it; the store runs on a single connection.
package experiment

import (
	"context"

	"github.com/wallace-lab/wallace/internal/models"
	"github.com/wallace-lab/wallace/internal/store"
)

// NodeGetArgs selects the nodes connected to NodeID.
type NodeGetArgs struct {
	Participant models.Participant
	NodeID      int64
	// Types holds the requested type and its registered descendants.
	// Empty means any type.
	Types      []string
	Failed     models.FailedFilter
	Connection models.Direction
}

// NodePostArgs asks for a new node for Participant.
type NodePostArgs struct {
	Participant models.Participant
}

// VectorGetArgs lists vectors at NodeID.
type VectorGetArgs struct {
	Participant models.Participant
	NodeID      int64
	Direction   models.Direction
	Failed      models.FailedFilter
}

// VectorConnectedArgs asks whether NodeID and OtherNodeID are joined.
type VectorConnectedArgs struct {
	Participant  models.Participant
	NodeID       int64
	OtherNodeID  int64
	Direction    models.Direction
	VectorFailed models.FailedFilter
}

// VectorPostArgs connects NodeID and OtherNodeID.
type VectorPostArgs struct {
	Participant models.Participant
	NodeID      int64
	OtherNodeID int64
	Direction   models.Direction
}

// InfoGetArgs lists infos at NodeID, or fetches one when InfoID is set.
type InfoGetArgs struct {
	Participant models.Participant
	NodeID      int64
	InfoID      *int64
	Types       []string
}

// InfoPostArgs creates an info at NodeID.
type InfoPostArgs struct {
	Participant models.Participant
	NodeID      int64
	Type        string
	Contents    string
}

// TransmissionGetArgs lists transmissions at NodeID.
type TransmissionGetArgs struct {
	Participant models.Participant
	NodeID      int64
	Direction   models.Direction
	Status      string
}

// TransmissionPostArgs sends an info from NodeID. Nil fields are chosen by
// the handler.
type TransmissionPostArgs struct {
	Participant   models.Participant
	NodeID        int64
	InfoID        *int64
	DestinationID *int64
}

// TransformationGetArgs lists transformations at NodeID.
type TransformationGetArgs struct {
	Participant models.Participant
	NodeID      int64
	Types       []string
}

// TransformationPostArgs records a transformation at NodeID.
type TransformationPostArgs struct {
	Participant models.Participant
	NodeID      int64
	InfoInID    int64
	InfoOutID   int64
	Type        string
}

// Handlers serve the graph entity requests. A nil entity from a Post handler
// means the experiment declined to create anything.
type Handlers interface {
	NodeGet(ctx context.Context, tx *store.Tx, a NodeGetArgs) ([]models.Node, error)
	NodePost(ctx context.Context, tx *store.Tx, a NodePostArgs) (*models.Node, error)

	VectorGet(ctx context.Context, tx *store.Tx, a VectorGetArgs) ([]models.Vector, error)
	VectorConnected(ctx context.Context, tx *store.Tx, a VectorConnectedArgs) (bool, error)
	VectorPost(ctx context.Context, tx *store.Tx, a VectorPostArgs) ([]models.Vector, error)

	InfoGet(ctx context.Context, tx *store.Tx, a InfoGetArgs) ([]models.Info, error)
	InfoPost(ctx context.Context, tx *store.Tx, a InfoPostArgs) (*models.Info, error)

	TransmissionGet(ctx context.Context, tx *store.Tx, a TransmissionGetArgs) ([]models.Transmission, error)
	TransmissionPost(ctx context.Context, tx *store.Tx, a TransmissionPostArgs) (*models.Transmission, error)

	TransformationGet(ctx context.Context, tx *store.Tx, a TransformationGetArgs) ([]models.Transformation, error)
	TransformationPost(ctx context.Context, tx *store.Tx, a TransformationPostArgs) (*models.Transformation, error)
}

// Hooks react to participant lifecycle events. The engine guarantees each
// hook runs at most once per participant, so implementations need not be
// idempotent themselves.
type Hooks interface {
	Accepted(ctx context.Context, tx *store.Tx, p models.Participant) error
	Abandoned(ctx context.Context, tx *store.Tx, p models.Participant) error
	Returned(ctx context.Context, tx *store.Tx, p models.Participant) error
	Submitted(ctx context.Context, tx *store.Tx, p models.Participant) error
	SubmissionTrigger(ctx context.Context, tx *store.Tx, p models.Participant, assignmentID string) error
}

// Experiment is the full collaborator.
type Experiment interface {
	Handlers
	Hooks
}
