package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wallace-lab/wallace/internal/models"
)

// ErrCrossNetwork is returned when a vector would join nodes in different
// networks.
var ErrCrossNetwork = errors.New("nodes belong to different networks")

// ---- networks ----

const networkColumns = "id, type, max_size, is_full, role, creation_time"

// CreateNetwork inserts a network and returns it with its id assigned.
func (h handle) CreateNetwork(ctx context.Context, n models.Network) (models.Network, error) {
	if n.Role == "" {
		n.Role = "default"
	}
	res, err := h.q.ExecContext(ctx, `
		INSERT INTO networks (type, max_size, is_full, role, creation_time)
		VALUES (?, ?, ?, ?, ?)
	`, n.Type, n.MaxSize, boolInt(n.Full), n.Role, formatTime(h.now()))
	if err != nil {
		return models.Network{}, fmt.Errorf("create network: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Network{}, fmt.Errorf("create network: %w", err)
	}
	return h.Network(ctx, id)
}

// Network returns one network by id.
func (h handle) Network(ctx context.Context, id int64) (models.Network, error) {
	row := h.q.QueryRowContext(ctx, `SELECT `+networkColumns+` FROM networks WHERE id = ?`, id)
	n, err := scanNetwork(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Network{}, fmt.Errorf("network %d: %w", id, ErrNotFound)
	}
	return n, err
}

// NetworkFilter narrows Networks. Zero values match everything.
type NetworkFilter struct {
	Full *bool
	Role string
}

// Networks lists networks in creation order.
func (h handle) Networks(ctx context.Context, f NetworkFilter) ([]models.Network, error) {
	var preds []string
	var args []any
	if f.Full != nil {
		preds = append(preds, "is_full = ?")
		args = append(args, boolInt(*f.Full))
	}
	if f.Role != "" {
		preds = append(preds, "role = ?")
		args = append(args, f.Role)
	}

	rows, err := h.q.QueryContext(ctx, `SELECT `+networkColumns+` FROM networks`+where(preds)+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query networks: %w", err)
	}
	defer rows.Close()

	out := []models.Network{}
	for rows.Next() {
		n, err := scanNetwork(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate networks: %w", err)
	}
	return out, nil
}

// SetNetworkFull updates a network's full flag.
func (h handle) SetNetworkFull(ctx context.Context, id int64, full bool) error {
	if _, err := h.q.ExecContext(ctx, `UPDATE networks SET is_full = ? WHERE id = ?`, boolInt(full), id); err != nil {
		return fmt.Errorf("set network full: %w", err)
	}
	return nil
}

func scanNetwork(s scanner) (models.Network, error) {
	var n models.Network
	var full int
	var created string
	if err := s.Scan(&n.ID, &n.Type, &n.MaxSize, &full, &n.Role, &created); err != nil {
		return models.Network{}, fmt.Errorf("scan network: %w", err)
	}
	n.Full = full != 0
	t, err := parseTime(created)
	if err != nil {
		return models.Network{}, err
	}
	n.CreationTime = t
	return n, nil
}

// ---- nodes ----

const nodeColumns = "id, type, network_id, participant_id, creation_time, time_of_death, failed, " + propertyColumns

// NewNode holds the caller-supplied fields of a node.
type NewNode struct {
	Type          string
	NetworkID     int64
	ParticipantID *string
	Properties    models.Properties
}

// CreateNode inserts a node in an existing network.
func (h handle) CreateNode(ctx context.Context, n NewNode) (models.Node, error) {
	if _, err := h.Network(ctx, n.NetworkID); err != nil {
		return models.Node{}, fmt.Errorf("create node: %w", err)
	}
	args := append([]any{n.Type, n.NetworkID, stringArg(n.ParticipantID), formatTime(h.now())}, propertyArgs(n.Properties)...)
	res, err := h.q.ExecContext(ctx, `
		INSERT INTO nodes (type, network_id, participant_id, creation_time, `+propertyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if err != nil {
		return models.Node{}, fmt.Errorf("create node: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Node{}, fmt.Errorf("create node: %w", err)
	}
	return h.Node(ctx, id)
}

// Node returns one node by id.
func (h handle) Node(ctx context.Context, id int64) (models.Node, error) {
	row := h.q.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Node{}, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	return n, err
}

// NodeFilter narrows Nodes. Zero values match everything except that
// failed nodes are excluded unless Failed says otherwise.
type NodeFilter struct {
	NetworkID     int64
	ParticipantID string
	Types         []string
	Failed        models.FailedFilter
}

// Nodes lists nodes in creation order.
func (h handle) Nodes(ctx context.Context, f NodeFilter) ([]models.Node, error) {
	var preds []string
	var args []any
	if f.NetworkID != 0 {
		preds = append(preds, "network_id = ?")
		args = append(args, f.NetworkID)
	}
	if f.ParticipantID != "" {
		preds = append(preds, "participant_id = ?")
		args = append(args, f.ParticipantID)
	}
	if len(f.Types) > 0 {
		clause, typeArgs := inClause("type", f.Types)
		preds = append(preds, clause)
		args = append(args, typeArgs...)
	}
	failed, err := failedClause("failed", f.Failed)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	preds = append(preds, failed)

	return h.queryNodes(ctx, `SELECT `+nodeColumns+` FROM nodes`+where(preds)+` ORDER BY id ASC`, args...)
}

// Neighbours returns nodes joined to nodeID by a live vector. DirectionTo
// follows vectors leaving nodeID, DirectionFrom follows vectors arriving at
// it and DirectionBoth requires both.
func (h handle) Neighbours(ctx context.Context, nodeID int64, dir models.Direction, types []string, failed models.FailedFilter) ([]models.Node, error) {
	var link string
	switch dir {
	case models.DirectionTo, "":
		link = `id IN (SELECT destination_id FROM vectors WHERE origin_id = ? AND failed = 0)`
	case models.DirectionFrom:
		link = `id IN (SELECT origin_id FROM vectors WHERE destination_id = ? AND failed = 0)`
	case models.DirectionBoth:
		link = `id IN (SELECT destination_id FROM vectors WHERE origin_id = ? AND failed = 0
			INTERSECT SELECT origin_id FROM vectors WHERE destination_id = ? AND failed = 0)`
	case models.DirectionAll:
		link = `id IN (SELECT destination_id FROM vectors WHERE origin_id = ? AND failed = 0
			UNION SELECT origin_id FROM vectors WHERE destination_id = ? AND failed = 0)`
	default:
		return nil, fmt.Errorf("neighbours: unknown direction %q", dir)
	}
	args := []any{nodeID}
	if dir == models.DirectionBoth || dir == models.DirectionAll {
		args = append(args, nodeID)
	}

	preds := []string{link}
	if len(types) > 0 {
		clause, typeArgs := inClause("type", types)
		preds = append(preds, clause)
		args = append(args, typeArgs...)
	}
	fc, err := failedClause("failed", failed)
	if err != nil {
		return nil, fmt.Errorf("neighbours: %w", err)
	}
	preds = append(preds, fc)

	return h.queryNodes(ctx, `SELECT `+nodeColumns+` FROM nodes`+where(preds)+` ORDER BY id ASC`, args...)
}

// FailNode marks a node failed and stamps its time of death. Vectors
// touching the node fail with it.
func (h handle) FailNode(ctx context.Context, id int64) error {
	now := formatTime(h.now())
	if _, err := h.q.ExecContext(ctx, `
		UPDATE nodes SET failed = 1, time_of_death = ? WHERE id = ? AND failed = 0
	`, now, id); err != nil {
		return fmt.Errorf("fail node: %w", err)
	}
	if _, err := h.q.ExecContext(ctx, `
		UPDATE vectors SET failed = 1, time_of_death = ?
		WHERE (origin_id = ? OR destination_id = ?) AND failed = 0
	`, now, id, id); err != nil {
		return fmt.Errorf("fail node vectors: %w", err)
	}
	return nil
}

func (h handle) queryNodes(ctx context.Context, query string, args ...any) ([]models.Node, error) {
	rows, err := h.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	out := []models.Node{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return out, nil
}

func scanNode(s scanner) (models.Node, error) {
	var n models.Node
	var participant, death sql.NullString
	var created string
	var failed int
	var props nullProperties
	dest := append([]any{&n.ID, &n.Type, &n.NetworkID, &participant, &created, &death, &failed}, props.dest()...)
	if err := s.Scan(dest...); err != nil {
		return models.Node{}, fmt.Errorf("scan node: %w", err)
	}
	n.ParticipantID = nullString(participant)
	n.Failed = failed != 0
	n.Properties = props.properties()

	var err error
	if n.CreationTime, err = parseTime(created); err != nil {
		return models.Node{}, err
	}
	if n.TimeOfDeath, err = parseNullTime(death); err != nil {
		return models.Node{}, err
	}
	return n, nil
}

// ---- vectors ----

const vectorColumns = "id, origin_id, destination_id, network_id, creation_time, time_of_death, failed, " + propertyColumns

// CreateVector connects origin to destination. Both nodes must exist and
// share a network.
func (h handle) CreateVector(ctx context.Context, originID, destinationID int64) (models.Vector, error) {
	origin, err := h.Node(ctx, originID)
	if err != nil {
		return models.Vector{}, fmt.Errorf("create vector: origin: %w", err)
	}
	destination, err := h.Node(ctx, destinationID)
	if err != nil {
		return models.Vector{}, fmt.Errorf("create vector: destination: %w", err)
	}
	if origin.NetworkID != destination.NetworkID {
		return models.Vector{}, fmt.Errorf("create vector %d -> %d: %w", originID, destinationID, ErrCrossNetwork)
	}

	res, err := h.q.ExecContext(ctx, `
		INSERT INTO vectors (origin_id, destination_id, network_id, creation_time)
		VALUES (?, ?, ?, ?)
	`, originID, destinationID, origin.NetworkID, formatTime(h.now()))
	if err != nil {
		return models.Vector{}, fmt.Errorf("create vector: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Vector{}, fmt.Errorf("create vector: %w", err)
	}
	return h.Vector(ctx, id)
}

// Vector returns one vector by id.
func (h handle) Vector(ctx context.Context, id int64) (models.Vector, error) {
	row := h.q.QueryRowContext(ctx, `SELECT `+vectorColumns+` FROM vectors WHERE id = ?`, id)
	v, err := scanVector(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Vector{}, fmt.Errorf("vector %d: %w", id, ErrNotFound)
	}
	return v, err
}

// Vectors lists vectors touching nodeID. DirectionTo selects vectors whose
// destination is nodeID, DirectionFrom those whose origin is nodeID, and
// DirectionAll either.
func (h handle) Vectors(ctx context.Context, nodeID int64, dir models.Direction, failed models.FailedFilter) ([]models.Vector, error) {
	var preds []string
	var args []any
	switch dir {
	case models.DirectionTo:
		preds = append(preds, "destination_id = ?")
		args = append(args, nodeID)
	case models.DirectionFrom:
		preds = append(preds, "origin_id = ?")
		args = append(args, nodeID)
	case models.DirectionAll, "":
		preds = append(preds, "(origin_id = ? OR destination_id = ?)")
		args = append(args, nodeID, nodeID)
	default:
		return nil, fmt.Errorf("query vectors: unknown direction %q", dir)
	}
	fc, err := failedClause("failed", failed)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	preds = append(preds, fc)

	rows, err := h.q.QueryContext(ctx, `SELECT `+vectorColumns+` FROM vectors`+where(preds)+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	out := []models.Vector{}
	for rows.Next() {
		v, err := scanVector(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vectors: %w", err)
	}
	return out, nil
}

// Connected reports whether nodeID and otherID are joined. DirectionTo asks
// for a vector nodeID -> otherID, DirectionFrom for otherID -> nodeID,
// DirectionAll for either and DirectionBoth for both.
func (h handle) Connected(ctx context.Context, nodeID, otherID int64, dir models.Direction, failed models.FailedFilter) (bool, error) {
	fc, err := failedClause("failed", failed)
	if err != nil {
		return false, fmt.Errorf("connected: %w", err)
	}
	edge := func(from, to int64) (bool, error) {
		var n int
		err := h.q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM vectors`+where([]string{"origin_id = ?", "destination_id = ?", fc}),
			from, to,
		).Scan(&n)
		if err != nil {
			return false, fmt.Errorf("connected: %w", err)
		}
		return n > 0, nil
	}

	switch dir {
	case models.DirectionTo, "":
		return edge(nodeID, otherID)
	case models.DirectionFrom:
		return edge(otherID, nodeID)
	case models.DirectionAll, models.DirectionBoth:
		out, err := edge(nodeID, otherID)
		if err != nil {
			return false, err
		}
		in, err := edge(otherID, nodeID)
		if err != nil {
			return false, err
		}
		if dir == models.DirectionBoth {
			return out && in, nil
		}
		return out || in, nil
	default:
		return false, fmt.Errorf("connected: unknown direction %q", dir)
	}
}

// FailVector marks a vector failed.
func (h handle) FailVector(ctx context.Context, id int64) error {
	if _, err := h.q.ExecContext(ctx, `
		UPDATE vectors SET failed = 1, time_of_death = ? WHERE id = ? AND failed = 0
	`, formatTime(h.now()), id); err != nil {
		return fmt.Errorf("fail vector: %w", err)
	}
	return nil
}

func scanVector(s scanner) (models.Vector, error) {
	var v models.Vector
	var death sql.NullString
	var created string
	var failed int
	var props nullProperties
	dest := append([]any{&v.ID, &v.OriginID, &v.DestinationID, &v.NetworkID, &created, &death, &failed}, props.dest()...)
	if err := s.Scan(dest...); err != nil {
		return models.Vector{}, fmt.Errorf("scan vector: %w", err)
	}
	v.Failed = failed != 0
	v.Properties = props.properties()

	var err error
	if v.CreationTime, err = parseTime(created); err != nil {
		return models.Vector{}, err
	}
	if v.TimeOfDeath, err = parseNullTime(death); err != nil {
		return models.Vector{}, err
	}
	return v, nil
}
