package dispatch

import (
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/wallace-lab/wallace/internal/models"
	"github.com/wallace-lab/wallace/internal/registry"
)

// Parameter names of the HTTP contract.
const (
	ParamParticipantID      = "participant_id"
	ParamNodeID             = "node_id"
	ParamOtherNodeID        = "other_node_id"
	ParamInfoID             = "info_id"
	ParamDestinationID      = "destination_id"
	ParamInfoInID           = "info_in_id"
	ParamInfoOutID          = "info_out_id"
	ParamContents           = "contents"
	ParamNodeType           = "node_type"
	ParamInfoType           = "info_type"
	ParamTransformationType = "transformation_type"
	ParamFailed             = "failed"
	ParamVectorFailed       = "vector_failed"
	ParamConnection         = "connection"
	ParamDirection          = "direction"
	ParamStatus             = "status"
)

// params reads typed values out of a request's flat key/value form.
type params struct {
	values url.Values
	reg    *registry.Registry
}

func (p params) lookup(field string) (string, bool) {
	vs, ok := p.values[field]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// isDigits reports whether s is a non-empty run of ASCII digits.
func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (p params) id(field string) (int64, error) {
	raw, ok := p.lookup(field)
	if !ok {
		return 0, missingField(field)
	}
	return parseID(field, raw)
}

func (p params) optionalID(field string) (*int64, error) {
	raw, ok := p.lookup(field)
	if !ok {
		return nil, nil
	}
	id, err := parseID(field, raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func parseID(field, raw string) (int64, error) {
	if !isDigits(raw) {
		return 0, malformedField(field, raw, "numeric")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, malformedField(field, raw, "a valid id")
	}
	return id, nil
}

func (p params) required(field string) (string, error) {
	raw, ok := p.lookup(field)
	if !ok {
		return "", missingField(field)
	}
	return raw, nil
}

// typeFilter resolves an optional type name to the names it matches,
// including registered descendants. Nil means no filter.
func (p params) typeFilter(kind models.Kind, field string) ([]string, error) {
	raw, ok := p.lookup(field)
	if !ok {
		return nil, nil
	}
	names, err := p.reg.Matching(kind, raw)
	if err != nil {
		return nil, untrusted(field, raw, err)
	}
	return names, nil
}

// typeName resolves an optional type name for creation. "" means default.
func (p params) typeName(kind models.Kind, field string) (string, error) {
	raw, ok := p.lookup(field)
	if !ok {
		return "", nil
	}
	v, err := p.reg.Resolve(kind, raw)
	if err != nil {
		return "", untrusted(field, raw, err)
	}
	return v.Name, nil
}

func untrusted(field, raw string, err error) error {
	if errors.Is(err, registry.ErrUntrustedType) {
		return &RequestError{Class: ClassUntrustedType, Field: field, Message: "untrusted type " + strconv.Quote(raw)}
	}
	return err
}

func (p params) failed(field string) (models.FailedFilter, error) {
	raw, ok := p.lookup(field)
	if !ok {
		return models.FailedExclude, nil
	}
	switch strings.ToLower(raw) {
	case "false":
		return models.FailedExclude, nil
	case "true":
		return models.FailedOnly, nil
	case "all":
		return models.FailedAll, nil
	default:
		return "", malformedField(field, raw, "true, false or all")
	}
}

func (p params) direction(field string, def models.Direction, allowed ...models.Direction) (models.Direction, error) {
	raw, ok := p.lookup(field)
	if !ok {
		return def, nil
	}
	for _, d := range allowed {
		if raw == string(d) {
			return d, nil
		}
	}
	names := make([]string, len(allowed))
	for i, d := range allowed {
		names[i] = string(d)
	}
	return "", malformedField(field, raw, "one of "+strings.Join(names, ", "))
}

func (p params) transmissionStatus() (string, error) {
	raw, ok := p.lookup(ParamStatus)
	if !ok {
		return "all", nil
	}
	switch raw {
	case "all", string(models.TransmissionPending), string(models.TransmissionReceived):
		return raw, nil
	default:
		return "", malformedField(ParamStatus, raw, "one of all, pending, received")
	}
}
