package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wallace-lab/wallace/internal/models"
)

// ---- infos ----

const infoColumns = "id, type, origin_id, network_id, creation_time, contents, " + propertyColumns

// NewInfo holds the caller-supplied fields of an info.
type NewInfo struct {
	Type       string
	OriginID   int64
	Contents   string
	Properties models.Properties
}

// CreateInfo inserts an info at its origin node's network.
func (h handle) CreateInfo(ctx context.Context, in NewInfo) (models.Info, error) {
	origin, err := h.Node(ctx, in.OriginID)
	if err != nil {
		return models.Info{}, fmt.Errorf("create info: %w", err)
	}
	args := append([]any{in.Type, in.OriginID, origin.NetworkID, formatTime(h.now()), in.Contents}, propertyArgs(in.Properties)...)
	res, err := h.q.ExecContext(ctx, `
		INSERT INTO infos (type, origin_id, network_id, creation_time, contents, `+propertyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if err != nil {
		return models.Info{}, fmt.Errorf("create info: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Info{}, fmt.Errorf("create info: %w", err)
	}
	return h.Info(ctx, id)
}

// Info returns one info by id.
func (h handle) Info(ctx context.Context, id int64) (models.Info, error) {
	row := h.q.QueryRowContext(ctx, `SELECT `+infoColumns+` FROM infos WHERE id = ?`, id)
	i, err := scanInfo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Info{}, fmt.Errorf("info %d: %w", id, ErrNotFound)
	}
	return i, err
}

// Infos lists infos created at nodeID, oldest first, optionally restricted
// to a set of types.
func (h handle) Infos(ctx context.Context, nodeID int64, types []string) ([]models.Info, error) {
	preds := []string{"origin_id = ?"}
	args := []any{nodeID}
	if len(types) > 0 {
		clause, typeArgs := inClause("type", types)
		preds = append(preds, clause)
		args = append(args, typeArgs...)
	}

	rows, err := h.q.QueryContext(ctx, `SELECT `+infoColumns+` FROM infos`+where(preds)+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query infos: %w", err)
	}
	defer rows.Close()

	out := []models.Info{}
	for rows.Next() {
		i, err := scanInfo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate infos: %w", err)
	}
	return out, nil
}

func scanInfo(s scanner) (models.Info, error) {
	var i models.Info
	var created string
	var props nullProperties
	dest := append([]any{&i.ID, &i.Type, &i.OriginID, &i.NetworkID, &created, &i.Contents}, props.dest()...)
	if err := s.Scan(dest...); err != nil {
		return models.Info{}, fmt.Errorf("scan info: %w", err)
	}
	i.Properties = props.properties()
	t, err := parseTime(created)
	if err != nil {
		return models.Info{}, err
	}
	i.CreationTime = t
	return i, nil
}

// ---- transmissions ----

const transmissionColumns = "id, vector_id, origin_id, destination_id, info_id, network_id, creation_time, receive_time, status, " + propertyColumns

// CreateTransmission sends infoID along vectorID. The vector and the info
// must both exist and the vector must not have failed.
func (h handle) CreateTransmission(ctx context.Context, vectorID, infoID int64) (models.Transmission, error) {
	v, err := h.Vector(ctx, vectorID)
	if err != nil {
		return models.Transmission{}, fmt.Errorf("create transmission: %w", err)
	}
	if v.Failed {
		return models.Transmission{}, fmt.Errorf("create transmission: vector %d has failed", vectorID)
	}
	if _, err := h.Info(ctx, infoID); err != nil {
		return models.Transmission{}, fmt.Errorf("create transmission: %w", err)
	}

	res, err := h.q.ExecContext(ctx, `
		INSERT INTO transmissions (vector_id, origin_id, destination_id, info_id, network_id, creation_time, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.OriginID, v.DestinationID, infoID, v.NetworkID, formatTime(h.now()), string(models.TransmissionPending))
	if err != nil {
		return models.Transmission{}, fmt.Errorf("create transmission: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Transmission{}, fmt.Errorf("create transmission: %w", err)
	}
	return h.Transmission(ctx, id)
}

// Transmission returns one transmission by id.
func (h handle) Transmission(ctx context.Context, id int64) (models.Transmission, error) {
	row := h.q.QueryRowContext(ctx, `SELECT `+transmissionColumns+` FROM transmissions WHERE id = ?`, id)
	t, err := scanTransmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transmission{}, fmt.Errorf("transmission %d: %w", id, ErrNotFound)
	}
	return t, err
}

// Transmissions lists transmissions leaving (DirectionOutgoing), arriving at
// (DirectionIncoming) or touching (DirectionAll) nodeID. status is "pending",
// "received" or "all".
func (h handle) Transmissions(ctx context.Context, nodeID int64, dir models.Direction, status string) ([]models.Transmission, error) {
	var preds []string
	var args []any
	switch dir {
	case models.DirectionOutgoing, "":
		preds = append(preds, "origin_id = ?")
		args = append(args, nodeID)
	case models.DirectionIncoming:
		preds = append(preds, "destination_id = ?")
		args = append(args, nodeID)
	case models.DirectionAll:
		preds = append(preds, "(origin_id = ? OR destination_id = ?)")
		args = append(args, nodeID, nodeID)
	default:
		return nil, fmt.Errorf("query transmissions: unknown direction %q", dir)
	}
	switch status {
	case "all", "":
	case string(models.TransmissionPending), string(models.TransmissionReceived):
		preds = append(preds, "status = ?")
		args = append(args, status)
	default:
		return nil, fmt.Errorf("query transmissions: unknown status %q", status)
	}

	rows, err := h.q.QueryContext(ctx, `SELECT `+transmissionColumns+` FROM transmissions`+where(preds)+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query transmissions: %w", err)
	}
	defer rows.Close()

	out := []models.Transmission{}
	for rows.Next() {
		t, err := scanTransmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transmissions: %w", err)
	}
	return out, nil
}

// ReceiveTransmission stamps the receive time and marks the transmission
// received. The receive time is set at most once; reports whether this call
// set it.
func (h handle) ReceiveTransmission(ctx context.Context, id int64) (bool, error) {
	res, err := h.q.ExecContext(ctx, `
		UPDATE transmissions SET receive_time = ?, status = ?
		WHERE id = ? AND receive_time IS NULL
	`, formatTime(h.now()), string(models.TransmissionReceived), id)
	if err != nil {
		return false, fmt.Errorf("receive transmission: %w", err)
	}
	return affected(res, "receive transmission")
}

func scanTransmission(s scanner) (models.Transmission, error) {
	var t models.Transmission
	var created, status string
	var received sql.NullString
	var props nullProperties
	dest := append([]any{&t.ID, &t.VectorID, &t.OriginID, &t.DestinationID, &t.InfoID, &t.NetworkID, &created, &received, &status}, props.dest()...)
	if err := s.Scan(dest...); err != nil {
		return models.Transmission{}, fmt.Errorf("scan transmission: %w", err)
	}
	t.Status = models.TransmissionStatus(status)
	t.Properties = props.properties()

	var err error
	if t.CreationTime, err = parseTime(created); err != nil {
		return models.Transmission{}, err
	}
	if t.ReceiveTime, err = parseNullTime(received); err != nil {
		return models.Transmission{}, err
	}
	return t, nil
}

// ---- transformations ----

const transformationColumns = "id, type, node_id, info_in_id, info_out_id, network_id, creation_time, " + propertyColumns

// NewTransformation holds the caller-supplied fields of a transformation.
type NewTransformation struct {
	Type       string
	NodeID     int64
	InfoInID   int64
	InfoOutID  int64
	Properties models.Properties
}

// CreateTransformation records that InfoInID produced InfoOutID at NodeID.
// The node and both infos must exist.
func (h handle) CreateTransformation(ctx context.Context, in NewTransformation) (models.Transformation, error) {
	node, err := h.Node(ctx, in.NodeID)
	if err != nil {
		return models.Transformation{}, fmt.Errorf("create transformation: %w", err)
	}
	if _, err := h.Info(ctx, in.InfoInID); err != nil {
		return models.Transformation{}, fmt.Errorf("create transformation: info in: %w", err)
	}
	if _, err := h.Info(ctx, in.InfoOutID); err != nil {
		return models.Transformation{}, fmt.Errorf("create transformation: info out: %w", err)
	}

	args := append([]any{in.Type, in.NodeID, in.InfoInID, in.InfoOutID, node.NetworkID, formatTime(h.now())}, propertyArgs(in.Properties)...)
	res, err := h.q.ExecContext(ctx, `
		INSERT INTO transformations (type, node_id, info_in_id, info_out_id, network_id, creation_time, `+propertyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if err != nil {
		return models.Transformation{}, fmt.Errorf("create transformation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Transformation{}, fmt.Errorf("create transformation: %w", err)
	}
	return h.Transformation(ctx, id)
}

// Transformation returns one transformation by id.
func (h handle) Transformation(ctx context.Context, id int64) (models.Transformation, error) {
	row := h.q.QueryRowContext(ctx, `SELECT `+transformationColumns+` FROM transformations WHERE id = ?`, id)
	t, err := scanTransformation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transformation{}, fmt.Errorf("transformation %d: %w", id, ErrNotFound)
	}
	return t, err
}

// Transformations lists transformations at nodeID, optionally restricted to
// a set of types.
func (h handle) Transformations(ctx context.Context, nodeID int64, types []string) ([]models.Transformation, error) {
	preds := []string{"node_id = ?"}
	args := []any{nodeID}
	if len(types) > 0 {
		clause, typeArgs := inClause("type", types)
		preds = append(preds, clause)
		args = append(args, typeArgs...)
	}

	rows, err := h.q.QueryContext(ctx, `SELECT `+transformationColumns+` FROM transformations`+where(preds)+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query transformations: %w", err)
	}
	defer rows.Close()

	out := []models.Transformation{}
	for rows.Next() {
		t, err := scanTransformation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transformations: %w", err)
	}
	return out, nil
}

func scanTransformation(s scanner) (models.Transformation, error) {
	var t models.Transformation
	var created string
	var props nullProperties
	dest := append([]any{&t.ID, &t.Type, &t.NodeID, &t.InfoInID, &t.InfoOutID, &t.NetworkID, &created}, props.dest()...)
	if err := s.Scan(dest...); err != nil {
		return models.Transformation{}, fmt.Errorf("scan transformation: %w", err)
	}
	t.Properties = props.properties()
	ct, err := parseTime(created)
	if err != nil {
		return models.Transformation{}, err
	}
	t.CreationTime = ct
	return t, nil
}
