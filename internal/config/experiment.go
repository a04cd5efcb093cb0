// Package config loads the experiment definition and the server settings.
//
// An experiment definition is YAML or CUE. Both are checked against the
// embedded CUE schema (schema.cue), which also supplies defaults, before
// being decoded.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/wallace-lab/wallace/internal/experiment"
	"github.com/wallace-lab/wallace/internal/models"
	"github.com/wallace-lab/wallace/internal/registry"
)

//go:embed schema.cue
var schemaCUE string

// Error codes for ConfigError.
const (
	ErrCodeRead     = "E_CONFIG_READ"
	ErrCodeParse    = "E_CONFIG_PARSE"
	ErrCodeSchema   = "E_CONFIG_SCHEMA"
	ErrCodeSemantic = "E_CONFIG_INVALID"
)

// ConfigError is a rejected experiment definition.
type ConfigError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *ConfigError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// TypeDecl declares a trusted entity type.
type TypeDecl struct {
	Name   string      `json:"name" yaml:"name"`
	Kind   models.Kind `json:"kind" yaml:"kind"`
	Parent string      `json:"parent,omitempty" yaml:"parent,omitempty"`
}

// Experiment is a decoded, schema-checked experiment definition.
type Experiment struct {
	NodeType           string                   `json:"node_type" yaml:"node_type"`
	InfoType           string                   `json:"info_type" yaml:"info_type"`
	TransformationType string                   `json:"transformation_type" yaml:"transformation_type"`
	Networks           []experiment.NetworkSpec `json:"networks,omitempty" yaml:"networks,omitempty"`
	Types              []TypeDecl               `json:"types,omitempty" yaml:"types,omitempty"`
}

// LoadExperiment reads an experiment definition. Files ending in .cue are
// compiled as CUE; anything else is parsed as YAML.
func LoadExperiment(path string) (*Experiment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Code: ErrCodeRead, Message: err.Error()}
	}
	if strings.EqualFold(filepath.Ext(path), ".cue") {
		return ParseExperimentCUE(path, data)
	}
	return ParseExperimentYAML(data)
}

// ParseExperimentYAML parses a YAML experiment definition.
func ParseExperimentYAML(data []byte) (*Experiment, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Code: ErrCodeParse, Message: fmt.Sprintf("parsing YAML: %v", err)}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	ctx := cuecontext.New()
	return decode(ctx, ctx.Encode(raw))
}

// ParseExperimentCUE parses a CUE experiment definition. filename is used
// in error positions only.
func ParseExperimentCUE(filename string, data []byte) (*Experiment, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, cueError(ErrCodeParse, err)
	}
	return decode(ctx, v)
}

// decode checks v against #Experiment, fills defaults and decodes it.
func decode(ctx *cue.Context, v cue.Value) (*Experiment, error) {
	if err := v.Err(); err != nil {
		return nil, cueError(ErrCodeParse, err)
	}
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, cueError(ErrCodeSchema, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Experiment")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, cueError(ErrCodeSchema, err)
	}

	data, err := unified.MarshalJSON()
	if err != nil {
		return nil, cueError(ErrCodeSchema, err)
	}
	var exp Experiment
	if err := json.Unmarshal(data, &exp); err != nil {
		return nil, &ConfigError{Code: ErrCodeParse, Message: err.Error()}
	}
	if err := exp.validate(); err != nil {
		return nil, err
	}
	return &exp, nil
}

// validate checks what the schema cannot: that every named type resolves.
func (e *Experiment) validate() error {
	reg, err := e.Registry()
	if err != nil {
		return err
	}
	checks := []struct {
		field string
		kind  models.Kind
		name  string
	}{
		{"node_type", models.KindNode, e.NodeType},
		{"info_type", models.KindInfo, e.InfoType},
		{"transformation_type", models.KindTransformation, e.TransformationType},
	}
	for _, c := range checks {
		if _, err := reg.Resolve(c.kind, c.name); err != nil {
			return &ConfigError{Code: ErrCodeSemantic, Message: fmt.Sprintf("%s: %v", c.field, err)}
		}
	}
	if err := e.Settings().Validate(); err != nil {
		return &ConfigError{Code: ErrCodeSemantic, Message: err.Error()}
	}
	return nil
}

// Settings returns the Base settings this definition describes. Without
// declared networks, the defaults apply.
func (e *Experiment) Settings() experiment.Settings {
	s := experiment.Settings{
		NodeType:           e.NodeType,
		InfoType:           e.InfoType,
		TransformationType: e.TransformationType,
		Networks:           e.Networks,
	}
	if len(s.Networks) == 0 {
		s.Networks = experiment.DefaultSettings().Networks
	}
	return s
}

// Registry returns the built-in types plus the declared ones. A declared
// type without a parent descends from its kind's base type.
func (e *Experiment) Registry() (*registry.Registry, error) {
	reg := registry.New()
	for i, t := range e.Types {
		v := registry.Variant{Name: t.Name, Kind: t.Kind, Parent: t.Parent}
		if v.Parent == "" && v.Name != string(v.Kind) {
			v.Parent = string(v.Kind)
		}
		if err := reg.Register(v); err != nil {
			return nil, &ConfigError{Code: ErrCodeSemantic, Message: fmt.Sprintf("types[%d]: %v", i, err)}
		}
	}
	return reg, nil
}

// Default returns the definition used when no file is given.
func Default() *Experiment {
	s := experiment.DefaultSettings()
	return &Experiment{
		NodeType:           s.NodeType,
		InfoType:           s.InfoType,
		TransformationType: s.TransformationType,
		Networks:           s.Networks,
	}
}

func cueError(code string, err error) *ConfigError {
	ce := &ConfigError{Code: code, Message: strings.TrimSpace(cueerrors.Details(err, nil))}
	if errs := cueerrors.Errors(err); len(errs) > 0 {
		ce.Pos = errs[0].Position()
	}
	return ce
}
