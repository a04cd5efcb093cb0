package dispatch

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/wallace-lab/wallace/internal/experiment"
	"github.com/wallace-lab/wallace/internal/models"
	"github.com/wallace-lab/wallace/internal/store"
)

func (d *Dispatcher) node(ctx context.Context, log *slog.Logger, method string, p params, pt models.Participant) (Envelope, error) {
	if method == http.MethodPost {
		if d.detector != nil {
			if n, err := d.detector.DetectDuplicates(ctx, pt); err != nil {
				log.Error("duplicate assignment check failed", "error", err)
			} else if n > 0 {
				log.Warn("duplicate assignment participants queued for abandonment", "count", n)
			}
		}
		if err := requireActive(pt); err != nil {
			return Envelope{}, err
		}
		return d.runScoped(ctx, log, "node post", func(tx *store.Tx) (Envelope, error) {
			n, err := d.exp.NodePost(ctx, tx, experiment.NodePostArgs{Participant: pt})
			if err != nil {
				return Envelope{}, err
			}
			if n == nil {
				return Envelope{}, ErrEmptyResult
			}
			return Envelope{Key: "node", Value: n}, nil
		})
	}

	nodeID, err := p.id(ParamNodeID)
	if err != nil {
		return Envelope{}, err
	}
	types, err := p.typeFilter(models.KindNode, ParamNodeType)
	if err != nil {
		return Envelope{}, err
	}
	failed, err := p.failed(ParamFailed)
	if err != nil {
		return Envelope{}, err
	}
	connection, err := p.direction(ParamConnection, models.DirectionTo,
		models.DirectionTo, models.DirectionFrom, models.DirectionBoth, models.DirectionAll)
	if err != nil {
		return Envelope{}, err
	}

	return d.runScoped(ctx, log, "node get", func(tx *store.Tx) (Envelope, error) {
		nodes, err := d.exp.NodeGet(ctx, tx, experiment.NodeGetArgs{
			Participant: pt,
			NodeID:      nodeID,
			Types:       types,
			Failed:      failed,
			Connection:  connection,
		})
		if err != nil {
			return Envelope{}, err
		}
		if nodes == nil {
			nodes = []models.Node{}
		}
		return Envelope{Key: "nodes", Value: nodes}, nil
	})
}

func (d *Dispatcher) vector(ctx context.Context, log *slog.Logger, method string, p params, pt models.Participant) (Envelope, error) {
	nodeID, err := p.id(ParamNodeID)
	if err != nil {
		return Envelope{}, err
	}

	if method == http.MethodPost {
		otherID, err := p.id(ParamOtherNodeID)
		if err != nil {
			return Envelope{}, err
		}
		dir, err := p.direction(ParamDirection, models.DirectionTo,
			models.DirectionTo, models.DirectionFrom, models.DirectionBoth)
		if err != nil {
			return Envelope{}, err
		}
		if err := requireActive(pt); err != nil {
			return Envelope{}, err
		}
		return d.runScoped(ctx, log, "vector post", func(tx *store.Tx) (Envelope, error) {
			vs, err := d.exp.VectorPost(ctx, tx, experiment.VectorPostArgs{
				Participant: pt,
				NodeID:      nodeID,
				OtherNodeID: otherID,
				Direction:   dir,
			})
			if err != nil {
				return Envelope{}, err
			}
			if len(vs) == 0 {
				return Envelope{}, ErrEmptyResult
			}
			return Envelope{Key: "vectors", Value: vs}, nil
		})
	}

	otherID, err := p.optionalID(ParamOtherNodeID)
	if err != nil {
		return Envelope{}, err
	}

	if otherID != nil {
		dir, err := p.direction(ParamDirection, models.DirectionTo,
			models.DirectionTo, models.DirectionFrom, models.DirectionAll, models.DirectionBoth)
		if err != nil {
			return Envelope{}, err
		}
		vectorFailed, err := p.failed(ParamVectorFailed)
		if err != nil {
			return Envelope{}, err
		}
		return d.runScoped(ctx, log, "vector connected", func(tx *store.Tx) (Envelope, error) {
			ok, err := d.exp.VectorConnected(ctx, tx, experiment.VectorConnectedArgs{
				Participant:  pt,
				NodeID:       nodeID,
				OtherNodeID:  *otherID,
				Direction:    dir,
				VectorFailed: vectorFailed,
			})
			if err != nil {
				return Envelope{}, err
			}
			return Envelope{Key: "is_connected", Value: ok}, nil
		})
	}

	dir, err := p.direction(ParamDirection, models.DirectionAll,
		models.DirectionTo, models.DirectionFrom, models.DirectionAll)
	if err != nil {
		return Envelope{}, err
	}
	failed, err := p.failed(ParamFailed)
	if err != nil {
		return Envelope{}, err
	}
	return d.runScoped(ctx, log, "vector get", func(tx *store.Tx) (Envelope, error) {
		vs, err := d.exp.VectorGet(ctx, tx, experiment.VectorGetArgs{
			Participant: pt,
			NodeID:      nodeID,
			Direction:   dir,
			Failed:      failed,
		})
		if err != nil {
			return Envelope{}, err
		}
		if vs == nil {
			vs = []models.Vector{}
		}
		return Envelope{Key: "vectors", Value: vs}, nil
	})
}

func (d *Dispatcher) info(ctx context.Context, log *slog.Logger, method string, p params, pt models.Participant) (Envelope, error) {
	nodeID, err := p.id(ParamNodeID)
	if err != nil {
		return Envelope{}, err
	}

	if method == http.MethodPost {
		typ, err := p.typeName(models.KindInfo, ParamInfoType)
		if err != nil {
			return Envelope{}, err
		}
		contents, err := p.required(ParamContents)
		if err != nil {
			return Envelope{}, err
		}
		if err := requireActive(pt); err != nil {
			return Envelope{}, err
		}
		return d.runScoped(ctx, log, "info post", func(tx *store.Tx) (Envelope, error) {
			info, err := d.exp.InfoPost(ctx, tx, experiment.InfoPostArgs{
				Participant: pt,
				NodeID:      nodeID,
				Type:        typ,
				Contents:    contents,
			})
			if err != nil {
				return Envelope{}, err
			}
			if info == nil {
				return Envelope{}, ErrEmptyResult
			}
			return Envelope{Key: "info", Value: info}, nil
		})
	}

	infoID, err := p.optionalID(ParamInfoID)
	if err != nil {
		return Envelope{}, err
	}
	types, err := p.typeFilter(models.KindInfo, ParamInfoType)
	if err != nil {
		return Envelope{}, err
	}
	return d.runScoped(ctx, log, "info get", func(tx *store.Tx) (Envelope, error) {
		infos, err := d.exp.InfoGet(ctx, tx, experiment.InfoGetArgs{
			Participant: pt,
			NodeID:      nodeID,
			InfoID:      infoID,
			Types:       types,
		})
		if err != nil {
			return Envelope{}, err
		}
		if infos == nil {
			infos = []models.Info{}
		}
		return Envelope{Key: "infos", Value: infos}, nil
	})
}

func (d *Dispatcher) transmission(ctx context.Context, log *slog.Logger, method string, p params, pt models.Participant) (Envelope, error) {
	nodeID, err := p.id(ParamNodeID)
	if err != nil {
		return Envelope{}, err
	}

	if method == http.MethodPost {
		infoID, err := p.optionalID(ParamInfoID)
		if err != nil {
			return Envelope{}, err
		}
		destinationID, err := p.optionalID(ParamDestinationID)
		if err != nil {
			return Envelope{}, err
		}
		if err := requireActive(pt); err != nil {
			return Envelope{}, err
		}
		return d.runScoped(ctx, log, "transmission post", func(tx *store.Tx) (Envelope, error) {
			t, err := d.exp.TransmissionPost(ctx, tx, experiment.TransmissionPostArgs{
				Participant:   pt,
				NodeID:        nodeID,
				InfoID:        infoID,
				DestinationID: destinationID,
			})
			if err != nil {
				return Envelope{}, err
			}
			if t == nil {
				return Envelope{}, ErrEmptyResult
			}
			return Envelope{Key: "transmission", Value: t}, nil
		})
	}

	dir, err := p.direction(ParamDirection, models.DirectionOutgoing,
		models.DirectionOutgoing, models.DirectionIncoming, models.DirectionAll)
	if err != nil {
		return Envelope{}, err
	}
	status, err := p.transmissionStatus()
	if err != nil {
		return Envelope{}, err
	}
	return d.runScoped(ctx, log, "transmission get", func(tx *store.Tx) (Envelope, error) {
		ts, err := d.exp.TransmissionGet(ctx, tx, experiment.TransmissionGetArgs{
			Participant: pt,
			NodeID:      nodeID,
			Direction:   dir,
			Status:      status,
		})
		if err != nil {
			return Envelope{}, err
		}
		if ts == nil {
			ts = []models.Transmission{}
		}
		return Envelope{Key: "transmissions", Value: ts}, nil
	})
}

func (d *Dispatcher) transformation(ctx context.Context, log *slog.Logger, method string, p params, pt models.Participant) (Envelope, error) {
	nodeID, err := p.id(ParamNodeID)
	if err != nil {
		return Envelope{}, err
	}

	if method == http.MethodPost {
		infoInID, err := p.id(ParamInfoInID)
		if err != nil {
			return Envelope{}, err
		}
		infoOutID, err := p.id(ParamInfoOutID)
		if err != nil {
			return Envelope{}, err
		}
		typ, err := p.typeName(models.KindTransformation, ParamTransformationType)
		if err != nil {
			return Envelope{}, err
		}
		if err := requireActive(pt); err != nil {
			return Envelope{}, err
		}
		return d.runScoped(ctx, log, "transformation post", func(tx *store.Tx) (Envelope, error) {
			t, err := d.exp.TransformationPost(ctx, tx, experiment.TransformationPostArgs{
				Participant: pt,
				NodeID:      nodeID,
				InfoInID:    infoInID,
				InfoOutID:   infoOutID,
				Type:        typ,
			})
			if err != nil {
				return Envelope{}, err
			}
			if t == nil {
				return Envelope{}, ErrEmptyResult
			}
			return Envelope{Key: "transformation", Value: t}, nil
		})
	}

	types, err := p.typeFilter(models.KindTransformation, ParamTransformationType)
	if err != nil {
		return Envelope{}, err
	}
	return d.runScoped(ctx, log, "transformation get", func(tx *store.Tx) (Envelope, error) {
		ts, err := d.exp.TransformationGet(ctx, tx, experiment.TransformationGetArgs{
			Participant: pt,
			NodeID:      nodeID,
			Types:       types,
		})
		if err != nil {
			return Envelope{}, err
		}
		if ts == nil {
			ts = []models.Transformation{}
		}
		return Envelope{Key: "transformations", Value: ts}, nil
	})
}
