package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallace-lab/wallace/internal/models"
)

func TestResolveBuiltin(t *testing.T) {
	r := New()

	v, err := r.Resolve(models.KindNode, "agent")
	require.NoError(t, err)
	assert.Equal(t, "node", v.Parent)
}

func TestResolveUntrusted(t *testing.T) {
	r := New()

	_, err := r.Resolve(models.KindNode, "os.system")
	require.ErrorIs(t, err, ErrUntrustedType)
}

func TestResolveWrongKindIsUntrusted(t *testing.T) {
	r := New()

	// "agent" exists but only as a node type.
	_, err := r.Resolve(models.KindInfo, "agent")
	assert.ErrorIs(t, err, ErrUntrustedType)
}

func TestRegisterCustom(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Variant{Name: "rogers_agent", Kind: models.KindNode, Parent: "agent"}))

	v, err := r.Resolve(models.KindNode, "rogers_agent")
	require.NoError(t, err)
	assert.Equal(t, "agent", v.Parent)
}

func TestRegisterRejects(t *testing.T) {
	r := New()

	assert.Error(t, r.Register(Variant{Name: "", Kind: models.KindNode}))
	assert.Error(t, r.Register(Variant{Name: "x", Kind: "network"}))
	assert.Error(t, r.Register(Variant{Name: "x", Kind: models.KindNode, Parent: "missing"}))
	assert.Error(t, r.Register(Variant{Name: "agent", Kind: models.KindNode, Parent: "source"}))

	// Re-registering the identical variant is a no-op.
	assert.NoError(t, r.Register(Variant{Name: "agent", Kind: models.KindNode, Parent: "node"}))
}

func TestMatchingIncludesDescendants(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Variant{Name: "rogers_agent", Kind: models.KindNode, Parent: "agent"}))

	names, err := r.Matching(models.KindNode, "agent")
	require.NoError(t, err)
	assert.Equal(t, []string{"agent", "rogers_agent"}, names)

	names, err = r.Matching(models.KindNode, "source")
	require.NoError(t, err)
	assert.Equal(t, []string{"random_binary_string_source", "source"}, names)

	all, err := r.Matching(models.KindNode, "node")
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestMatchingUntrusted(t *testing.T) {
	r := New()

	_, err := r.Matching(models.KindTransformation, "__import__")
	assert.ErrorIs(t, err, ErrUntrustedType)
}

func TestNames(t *testing.T) {
	r := New()
	assert.Equal(t, []string{"info"}, r.Names(models.KindInfo))
}
