package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wallace-lab/wallace/internal/models"
	"github.com/wallace-lab/wallace/internal/store"
)

// Base is the default experiment: participants fill networks in creation
// order and are wired according to each network's topology.
type Base struct {
	Settings Settings
}

var _ Experiment = (*Base)(nil)

// NewBase creates a Base with the given settings.
func NewBase(s Settings) *Base {
	return &Base{Settings: s}
}

// Setup creates the declared networks unless networks already exist.
// Returns the networks present afterwards.
func (b *Base) Setup(ctx context.Context, s *store.Store) ([]models.Network, error) {
	var out []models.Network
	err := s.WithTx(ctx, func(tx *store.Tx) error {
		existing, err := tx.Networks(ctx, store.NetworkFilter{})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			out = existing
			return nil
		}
		for _, spec := range b.Settings.Networks {
			count := spec.Count
			if count == 0 {
				count = 1
			}
			for i := 0; i < count; i++ {
				n, err := tx.CreateNetwork(ctx, models.Network{
					Type:    string(spec.Topology),
					MaxSize: spec.MaxSize,
					Role:    spec.Role,
				})
				if err != nil {
					return err
				}
				out = append(out, n)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("setup networks: %w", err)
	}
	return out, nil
}

// NodeGet returns the node's neighbours.
func (b *Base) NodeGet(ctx context.Context, tx *store.Tx, a NodeGetArgs) ([]models.Node, error) {
	return tx.Neighbours(ctx, a.NodeID, a.Connection, a.Types, a.Failed)
}

// NodePost adds a node for the participant to the first network with room.
// Returns nil when every network is full.
func (b *Base) NodePost(ctx context.Context, tx *store.Tx, a NodePostArgs) (*models.Node, error) {
	notFull := false
	networks, err := tx.Networks(ctx, store.NetworkFilter{Full: &notFull})
	if err != nil {
		return nil, err
	}
	if len(networks) == 0 {
		slog.Info("no network has room", "participant", a.Participant.ShortID())
		return nil, nil
	}
	net := networks[0]

	members, err := tx.Nodes(ctx, store.NodeFilter{NetworkID: net.ID})
	if err != nil {
		return nil, err
	}

	pid := a.Participant.UniqueID
	node, err := tx.CreateNode(ctx, store.NewNode{
		Type:          b.Settings.NodeType,
		NetworkID:     net.ID,
		ParticipantID: &pid,
	})
	if err != nil {
		return nil, err
	}

	if err := b.wire(ctx, tx, Topology(net.Type), node, members); err != nil {
		return nil, fmt.Errorf("wire node %d: %w", node.ID, err)
	}

	if len(members)+1 >= net.MaxSize {
		if err := tx.SetNetworkFull(ctx, net.ID, true); err != nil {
			return nil, err
		}
	}

	slog.Debug("node created",
		"participant", a.Participant.ShortID(),
		"node", node.ID,
		"network", net.ID,
	)
	return &node, nil
}

// wire connects node to the existing live members of its network.
func (b *Base) wire(ctx context.Context, tx *store.Tx, topology Topology, node models.Node, members []models.Node) error {
	switch topology {
	case TopologyEmpty:
		return nil
	case TopologyChain:
		if len(members) == 0 {
			return nil
		}
		_, err := tx.CreateVector(ctx, members[len(members)-1].ID, node.ID)
		return err
	case TopologyFullyConnected:
		for _, m := range members {
			if _, err := tx.CreateVector(ctx, m.ID, node.ID); err != nil {
				return err
			}
			if _, err := tx.CreateVector(ctx, node.ID, m.ID); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown topology %q", topology)
	}
}

// VectorGet lists the node's vectors.
func (b *Base) VectorGet(ctx context.Context, tx *store.Tx, a VectorGetArgs) ([]models.Vector, error) {
	return tx.Vectors(ctx, a.NodeID, a.Direction, a.Failed)
}

// VectorConnected reports whether the two nodes are connected.
func (b *Base) VectorConnected(ctx context.Context, tx *store.Tx, a VectorConnectedArgs) (bool, error) {
	return tx.Connected(ctx, a.NodeID, a.OtherNodeID, a.Direction, a.VectorFailed)
}

// VectorPost connects the node to (DirectionTo), from (DirectionFrom) or
// with (DirectionBoth) the other node.
func (b *Base) VectorPost(ctx context.Context, tx *store.Tx, a VectorPostArgs) ([]models.Vector, error) {
	var pairs [][2]int64
	switch a.Direction {
	case models.DirectionTo:
		pairs = [][2]int64{{a.NodeID, a.OtherNodeID}}
	case models.DirectionFrom:
		pairs = [][2]int64{{a.OtherNodeID, a.NodeID}}
	case models.DirectionBoth:
		pairs = [][2]int64{{a.NodeID, a.OtherNodeID}, {a.OtherNodeID, a.NodeID}}
	default:
		return nil, fmt.Errorf("unknown direction %q", a.Direction)
	}

	out := make([]models.Vector, 0, len(pairs))
	for _, p := range pairs {
		v, err := tx.CreateVector(ctx, p[0], p[1])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// InfoGet returns one info when InfoID is set, otherwise the node's infos.
func (b *Base) InfoGet(ctx context.Context, tx *store.Tx, a InfoGetArgs) ([]models.Info, error) {
	if a.InfoID != nil {
		info, err := tx.Info(ctx, *a.InfoID)
		if err != nil {
			return nil, err
		}
		return []models.Info{info}, nil
	}
	return tx.Infos(ctx, a.NodeID, a.Types)
}

// InfoPost creates an info at the node.
func (b *Base) InfoPost(ctx context.Context, tx *store.Tx, a InfoPostArgs) (*models.Info, error) {
	typ := a.Type
	if typ == "" {
		typ = b.Settings.InfoType
	}
	info, err := tx.CreateInfo(ctx, store.NewInfo{Type: typ, OriginID: a.NodeID, Contents: a.Contents})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// TransmissionGet lists the node's transmissions. Incoming transmissions
// that were pending are received by the poll and returned as received.
func (b *Base) TransmissionGet(ctx context.Context, tx *store.Tx, a TransmissionGetArgs) ([]models.Transmission, error) {
	list, err := tx.Transmissions(ctx, a.NodeID, a.Direction, a.Status)
	if err != nil {
		return nil, err
	}
	for i, t := range list {
		if t.DestinationID != a.NodeID || t.Status != models.TransmissionPending {
			continue
		}
		if _, err := tx.ReceiveTransmission(ctx, t.ID); err != nil {
			return nil, err
		}
		if list[i], err = tx.Transmission(ctx, t.ID); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// TransmissionPost sends an info along one of the node's outgoing vectors.
// The info defaults to the node's latest; the destination defaults to the
// node's only outgoing vector.
func (b *Base) TransmissionPost(ctx context.Context, tx *store.Tx, a TransmissionPostArgs) (*models.Transmission, error) {
	infoID, err := b.pickInfo(ctx, tx, a)
	if err != nil {
		return nil, err
	}
	vectorID, err := b.pickVector(ctx, tx, a)
	if err != nil {
		return nil, err
	}
	t, err := tx.CreateTransmission(ctx, vectorID, infoID)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (b *Base) pickInfo(ctx context.Context, tx *store.Tx, a TransmissionPostArgs) (int64, error) {
	if a.InfoID != nil {
		return *a.InfoID, nil
	}
	infos, err := tx.Infos(ctx, a.NodeID, nil)
	if err != nil {
		return 0, err
	}
	if len(infos) == 0 {
		return 0, fmt.Errorf("node %d has no info to transmit", a.NodeID)
	}
	return infos[len(infos)-1].ID, nil
}

func (b *Base) pickVector(ctx context.Context, tx *store.Tx, a TransmissionPostArgs) (int64, error) {
	outgoing, err := tx.Vectors(ctx, a.NodeID, models.DirectionFrom, models.FailedExclude)
	if err != nil {
		return 0, err
	}
	if a.DestinationID == nil {
		if len(outgoing) != 1 {
			return 0, fmt.Errorf("node %d has %d outgoing vectors; destination_id is required", a.NodeID, len(outgoing))
		}
		return outgoing[0].ID, nil
	}
	for _, v := range outgoing {
		if v.DestinationID == *a.DestinationID {
			return v.ID, nil
		}
	}
	return 0, fmt.Errorf("node %d is not connected to node %d", a.NodeID, *a.DestinationID)
}

// TransformationGet lists the node's transformations.
func (b *Base) TransformationGet(ctx context.Context, tx *store.Tx, a TransformationGetArgs) ([]models.Transformation, error) {
	return tx.Transformations(ctx, a.NodeID, a.Types)
}

// TransformationPost records a transformation at the node.
func (b *Base) TransformationPost(ctx context.Context, tx *store.Tx, a TransformationPostArgs) (*models.Transformation, error) {
	typ := a.Type
	if typ == "" {
		typ = b.Settings.TransformationType
	}
	t, err := tx.CreateTransformation(ctx, store.NewTransformation{
		Type:      typ,
		NodeID:    a.NodeID,
		InfoInID:  a.InfoInID,
		InfoOutID: a.InfoOutID,
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Accepted logs the acceptance.
func (b *Base) Accepted(ctx context.Context, tx *store.Tx, p models.Participant) error {
	slog.Info("assignment accepted", "participant", p.ShortID(), "assignment", p.AssignmentID)
	return nil
}

// Abandoned fails the participant's nodes.
func (b *Base) Abandoned(ctx context.Context, tx *store.Tx, p models.Participant) error {
	slog.Info("assignment abandoned", "participant", p.ShortID())
	return b.failParticipant(ctx, tx, p)
}

// Returned fails the participant's nodes.
func (b *Base) Returned(ctx context.Context, tx *store.Tx, p models.Participant) error {
	slog.Info("assignment returned", "participant", p.ShortID())
	return b.failParticipant(ctx, tx, p)
}

// Submitted logs the submission.
func (b *Base) Submitted(ctx context.Context, tx *store.Tx, p models.Participant) error {
	slog.Info("assignment submitted", "participant", p.ShortID())
	return nil
}

// SubmissionTrigger logs the trigger. Recruitment is left to the platform
// integration.
func (b *Base) SubmissionTrigger(ctx context.Context, tx *store.Tx, p models.Participant, assignmentID string) error {
	slog.Info("submission trigger", "participant", p.ShortID(), "assignment", assignmentID)
	return nil
}

// failParticipant fails every live node owned by p and reopens their
// networks.
func (b *Base) failParticipant(ctx context.Context, tx *store.Tx, p models.Participant) error {
	if p.UniqueID == "" {
		return errors.New("participant has no id")
	}
	nodes, err := tx.Nodes(ctx, store.NodeFilter{ParticipantID: p.UniqueID})
	if err != nil {
		return err
	}
	for _, n := range nodes {
		if err := tx.FailNode(ctx, n.ID); err != nil {
			return err
		}
		if err := tx.SetNetworkFull(ctx, n.NetworkID, false); err != nil {
			return err
		}
	}
	return nil
}
