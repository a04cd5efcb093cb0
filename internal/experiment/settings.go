package experiment

import (
	"fmt"

	"github.com/wallace-lab/wallace/internal/models"
)

// Topology names how Base wires a new node into its network.
type Topology string

const (
	TopologyEmpty          Topology = "empty"
	TopologyChain          Topology = "chain"
	TopologyFullyConnected Topology = "fully_connected"
)

// Valid reports whether t is a known topology.
func (t Topology) Valid() bool {
	switch t {
	case TopologyEmpty, TopologyChain, TopologyFullyConnected:
		return true
	}
	return false
}

// NetworkSpec declares networks to create at setup.
type NetworkSpec struct {
	Topology Topology `json:"topology" yaml:"topology"`
	MaxSize  int      `json:"max_size" yaml:"max_size"`
	Role     string   `json:"role,omitempty" yaml:"role,omitempty"`
	Count    int      `json:"count,omitempty" yaml:"count,omitempty"`
}

// Settings configures Base.
type Settings struct {
	NodeType           string        `json:"node_type" yaml:"node_type"`
	InfoType           string        `json:"info_type" yaml:"info_type"`
	TransformationType string        `json:"transformation_type" yaml:"transformation_type"`
	Networks           []NetworkSpec `json:"networks" yaml:"networks"`
}

// DefaultSettings is one chain network of two agents.
func DefaultSettings() Settings {
	return Settings{
		NodeType:           "agent",
		InfoType:           string(models.KindInfo),
		TransformationType: string(models.KindTransformation),
		Networks: []NetworkSpec{
			{Topology: TopologyChain, MaxSize: 2, Role: "experiment", Count: 1},
		},
	}
}

// Validate checks the settings for internal consistency.
func (s Settings) Validate() error {
	if s.NodeType == "" {
		return fmt.Errorf("node_type is empty")
	}
	for i, n := range s.Networks {
		if !n.Topology.Valid() {
			return fmt.Errorf("networks[%d]: unknown topology %q", i, n.Topology)
		}
		if n.MaxSize < 1 {
			return fmt.Errorf("networks[%d]: max_size must be positive", i)
		}
		if n.Count < 0 {
			return fmt.Errorf("networks[%d]: count is negative", i)
		}
	}
	return nil
}
