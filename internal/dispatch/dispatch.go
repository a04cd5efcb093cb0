// Package dispatch validates graph entity requests, hands them to the
// experiment's handlers inside a request-scoped transaction and shapes the
// result for the transport.
//
// Validation runs in a fixed order and stops at the first failure:
// participant, numeric ids, type names, remaining filters, then (for
// creation) the participant's status. Nothing is written before validation
// passes.
//
// The transaction around a handler is committed whether or not the handler
// succeeds. Whatever the handler wrote before failing is kept for diagnosis;
// the caller only learns that the operation failed.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"

	"github.com/wallace-lab/wallace/internal/experiment"
	"github.com/wallace-lab/wallace/internal/models"
	"github.com/wallace-lab/wallace/internal/registry"
	"github.com/wallace-lab/wallace/internal/store"
)

// Request is one entity request in transport-neutral form.
type Request struct {
	Kind   models.Kind
	Method string
	Values url.Values
}

// Envelope is a successful result: Value is reported under Key.
type Envelope struct {
	Key   string
	Value any
}

// DuplicateDetector is consulted before a participant creates a node.
type DuplicateDetector interface {
	DetectDuplicates(ctx context.Context, p models.Participant) (int, error)
}

// Dispatcher routes entity requests to an experiment.
type Dispatcher struct {
	store    *store.Store
	reg      *registry.Registry
	exp      experiment.Handlers
	detector DuplicateDetector
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDuplicateDetector runs d before every node creation.
func WithDuplicateDetector(d DuplicateDetector) Option {
	return func(disp *Dispatcher) { disp.detector = d }
}

// New creates a dispatcher.
func New(s *store.Store, reg *registry.Registry, exp experiment.Handlers, opts ...Option) *Dispatcher {
	d := &Dispatcher{store: s, reg: reg, exp: exp}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle validates and executes req.
//
// Returns *RequestError for rejected requests and failed handlers, and
// ErrEmptyResult when a create handler produced nothing.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (Envelope, error) {
	if req.Values == nil {
		req.Values = url.Values{}
	}
	if !req.Kind.Valid() {
		return Envelope{}, fmt.Errorf("unknown entity kind %q", req.Kind)
	}
	if req.Method != http.MethodGet && req.Method != http.MethodPost {
		return Envelope{}, fmt.Errorf("unsupported method %q", req.Method)
	}

	p := params{values: req.Values, reg: d.reg}
	participant, err := d.resolveParticipant(ctx, p, req.Kind)
	if err != nil {
		return Envelope{}, err
	}

	log := slog.With("participant", participant.ShortID(), "kind", string(req.Kind), "method", req.Method)
	log.Debug("request received")

	var env Envelope
	switch req.Kind {
	case models.KindNode:
		env, err = d.node(ctx, log, req.Method, p, participant)
	case models.KindVector:
		env, err = d.vector(ctx, log, req.Method, p, participant)
	case models.KindInfo:
		env, err = d.info(ctx, log, req.Method, p, participant)
	case models.KindTransmission:
		env, err = d.transmission(ctx, log, req.Method, p, participant)
	case models.KindTransformation:
		env, err = d.transformation(ctx, log, req.Method, p, participant)
	}
	if err != nil {
		log.Info("request rejected", "error", err)
		return Envelope{}, err
	}
	return env, nil
}

func (d *Dispatcher) resolveParticipant(ctx context.Context, p params, kind models.Kind) (models.Participant, error) {
	id, ok := p.lookup(ParamParticipantID)
	if !ok {
		slog.Info("request rejected", "kind", string(kind), "error", "participant_id not specified")
		return models.Participant{}, &RequestError{
			Class:   ClassParticipantMissing,
			Field:   ParamParticipantID,
			Message: "participant_id not specified",
		}
	}

	matches, err := d.store.ParticipantsByID(ctx, id)
	if err != nil {
		slog.Error("participant lookup failed", "participant", models.ShortID(id), "error", err)
		return models.Participant{}, operationFailed("participant lookup")
	}
	switch len(matches) {
	case 0:
		return models.Participant{}, &RequestError{
			Class:   ClassParticipantNotFound,
			Field:   ParamParticipantID,
			Message: "participant id does not match anyone in our records",
		}
	case 1:
		return matches[0], nil
	default:
		return models.Participant{}, &RequestError{
			Class:   ClassParticipantDuplicate,
			Field:   ParamParticipantID,
			Message: fmt.Sprintf("participant id matches %d participants", len(matches)),
		}
	}
}

// requireActive rejects creation by a participant who is no longer working.
func requireActive(p models.Participant) error {
	if p.Status.Active() {
		return nil
	}
	return statusError(p.Status)
}

// runScoped runs fn in a transaction that is committed on every exit path,
// including a handler error or panic. Handler failures are logged and
// reported as ClassOperationFailed; ErrEmptyResult passes through.
func (d *Dispatcher) runScoped(ctx context.Context, log *slog.Logger, op string, fn func(tx *store.Tx) (Envelope, error)) (Envelope, error) {
	tx, err := d.store.Begin(ctx)
	if err != nil {
		log.Error("begin transaction failed", "op", op, "error", err)
		return Envelope{}, operationFailed(op)
	}
	defer tx.Rollback()

	env, runErr := callHandler(tx, fn)

	if err := tx.Commit(); err != nil {
		log.Error("commit failed", "op", op, "error", err)
		return Envelope{}, operationFailed(op)
	}

	switch {
	case runErr == nil:
		return env, nil
	case errors.Is(runErr, ErrEmptyResult):
		log.Info("handler created nothing", "op", op)
		return Envelope{}, ErrEmptyResult
	default:
		log.Error("handler failed", "op", op, "error", runErr)
		return Envelope{}, operationFailed(op)
	}
}

func callHandler(tx *store.Tx, fn func(tx *store.Tx) (Envelope, error)) (env Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(tx)
}
