package dispatch

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallace-lab/wallace/internal/clock"
	"github.com/wallace-lab/wallace/internal/experiment"
	"github.com/wallace-lab/wallace/internal/models"
	"github.com/wallace-lab/wallace/internal/registry"
	"github.com/wallace-lab/wallace/internal/store"
)

// spyExperiment wraps Base so individual handlers can be replaced and
// observed.
type spyExperiment struct {
	*experiment.Base
	nodeGetCalls int
	lastNodeGet  experiment.NodeGetArgs
	nodePost     func(ctx context.Context, tx *store.Tx, a experiment.NodePostArgs) (*models.Node, error)
}

func (s *spyExperiment) NodeGet(ctx context.Context, tx *store.Tx, a experiment.NodeGetArgs) ([]models.Node, error) {
	s.nodeGetCalls++
	s.lastNodeGet = a
	return s.Base.NodeGet(ctx, tx, a)
}

func (s *spyExperiment) NodePost(ctx context.Context, tx *store.Tx, a experiment.NodePostArgs) (*models.Node, error) {
	if s.nodePost != nil {
		return s.nodePost(ctx, tx, a)
	}
	return s.Base.NodePost(ctx, tx, a)
}

type countingDetector struct {
	seen []string
}

func (c *countingDetector) DetectDuplicates(ctx context.Context, p models.Participant) (int, error) {
	c.seen = append(c.seen, p.UniqueID)
	return 0, nil
}

type fixture struct {
	store    *store.Store
	exp      *spyExperiment
	detector *countingDetector
	disp     *Dispatcher
}

func setup(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewStepping(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), time.Second)
	s, err := store.Open(filepath.Join(t.TempDir(), "dispatch.db"), store.WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	settings := experiment.DefaultSettings()
	settings.Networks = []experiment.NetworkSpec{{Topology: experiment.TopologyChain, MaxSize: 2}}
	base := experiment.NewBase(settings)
	_, err = base.Setup(context.Background(), s)
	require.NoError(t, err)

	exp := &spyExperiment{Base: base}
	det := &countingDetector{}
	return &fixture{
		store:    s,
		exp:      exp,
		detector: det,
		disp:     New(s, registry.New(), exp, WithDuplicateDetector(det)),
	}
}

func (f *fixture) participant(t *testing.T, id string, status models.Status) {
	t.Helper()
	_, err := f.store.CreateParticipant(context.Background(), models.Participant{
		UniqueID:     id,
		AssignmentID: "A-" + id,
		Status:       status,
	})
	require.NoError(t, err)
}

func (f *fixture) do(kind models.Kind, method string, kv ...string) (Envelope, error) {
	values := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		values.Set(kv[i], kv[i+1])
	}
	return f.disp.Handle(context.Background(), Request{Kind: kind, Method: method, Values: values})
}

func (f *fixture) postNode(t *testing.T, participantID string) *models.Node {
	t.Helper()
	env, err := f.do(models.KindNode, http.MethodPost, ParamParticipantID, participantID)
	require.NoError(t, err)
	require.Equal(t, "node", env.Key)
	n, ok := env.Value.(*models.Node)
	require.True(t, ok)
	return n
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func TestParticipantResolution(t *testing.T) {
	f := setup(t)
	f.participant(t, "dup", models.StatusStarted)
	f.participant(t, "dup", models.StatusStarted)

	_, err := f.do(models.KindNode, http.MethodPost)
	assert.True(t, IsClass(err, ClassParticipantMissing), "got %v", err)

	_, err = f.do(models.KindNode, http.MethodPost, ParamParticipantID, "ghost")
	assert.True(t, IsClass(err, ClassParticipantNotFound), "got %v", err)

	_, err = f.do(models.KindNode, http.MethodPost, ParamParticipantID, "dup")
	assert.True(t, IsClass(err, ClassParticipantDuplicate), "got %v", err)
}

func TestNodePost_ActiveParticipantGetsNode(t *testing.T) {
	f := setup(t)
	f.participant(t, "p1", models.StatusStarted)

	n := f.postNode(t, "p1")
	assert.Positive(t, n.ID)
	require.NotNil(t, n.ParticipantID)
	assert.Equal(t, "p1", *n.ParticipantID)
	assert.Equal(t, []string{"p1"}, f.detector.seen)
}

func TestNodePost_StatusClasses(t *testing.T) {
	tests := []struct {
		status models.Status
		class  Class
	}{
		{models.StatusNotAccepted, ClassInvalidStatus},
		{models.StatusCompleted, ClassAlreadySubmitted},
		{models.StatusSubmitted, ClassAlreadySubmitted},
		{models.StatusComplete, ClassAlreadySubmitted},
		{models.StatusBonused, ClassAlreadySubmitted},
		{models.StatusReturned, ClassReturned},
		{models.StatusAbandoned, ClassExpired},
		{models.StatusReassigned, ClassReassigned},
	}
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			f := setup(t)
			f.participant(t, "p", tt.status)

			_, err := f.do(models.KindNode, http.MethodPost, ParamParticipantID, "p")
			require.Error(t, err)
			assert.Equal(t, tt.class, ClassOf(err))

			// The duplicate check still ran before the status check.
			assert.Equal(t, []string{"p"}, f.detector.seen)

			nodes, err := f.store.Nodes(context.Background(), store.NodeFilter{Failed: models.FailedAll})
			require.NoError(t, err)
			assert.Empty(t, nodes)
		})
	}
}

func TestNodePost_EmptyResultWhenNetworksFull(t *testing.T) {
	f := setup(t)
	for _, id := range []string{"a", "b", "c"} {
		f.participant(t, id, models.StatusStarted)
	}
	f.postNode(t, "a")
	f.postNode(t, "b")

	_, err := f.do(models.KindNode, http.MethodPost, ParamParticipantID, "c")
	assert.ErrorIs(t, err, ErrEmptyResult)
}

func TestNodePost_HandlerFailureStillCommits(t *testing.T) {
	f := setup(t)
	f.participant(t, "p1", models.StatusStarted)
	f.exp.nodePost = func(ctx context.Context, tx *store.Tx, a experiment.NodePostArgs) (*models.Node, error) {
		if _, err := tx.CreateNetwork(ctx, models.Network{Type: "empty", MaxSize: 1, Role: "diagnostic"}); err != nil {
			return nil, err
		}
		return nil, errors.New("experiment exploded")
	}

	_, err := f.do(models.KindNode, http.MethodPost, ParamParticipantID, "p1")
	require.Error(t, err)
	assert.Equal(t, ClassOperationFailed, ClassOf(err))
	assert.NotContains(t, err.Error(), "exploded")

	nets, err := f.store.Networks(context.Background(), store.NetworkFilter{Role: "diagnostic"})
	require.NoError(t, err)
	assert.Len(t, nets, 1, "partial state written before the failure is committed")
}

func TestNodePost_HandlerPanicIsContained(t *testing.T) {
	f := setup(t)
	f.participant(t, "p1", models.StatusStarted)
	f.exp.nodePost = func(ctx context.Context, tx *store.Tx, a experiment.NodePostArgs) (*models.Node, error) {
		if _, err := tx.CreateNetwork(ctx, models.Network{Type: "empty", MaxSize: 1, Role: "diagnostic"}); err != nil {
			return nil, err
		}
		panic("nil map")
	}

	_, err := f.do(models.KindNode, http.MethodPost, ParamParticipantID, "p1")
	assert.Equal(t, ClassOperationFailed, ClassOf(err))

	nets, err := f.store.Networks(context.Background(), store.NetworkFilter{Role: "diagnostic"})
	require.NoError(t, err)
	assert.Len(t, nets, 1)
}

func TestNodeGet_Validation(t *testing.T) {
	f := setup(t)
	f.participant(t, "p1", models.StatusStarted)

	_, err := f.do(models.KindNode, http.MethodGet, ParamParticipantID, "p1")
	assert.True(t, IsClass(err, ClassMissingField))

	_, err = f.do(models.KindNode, http.MethodGet, ParamParticipantID, "p1", ParamNodeID, "12a")
	assert.True(t, IsClass(err, ClassMalformedField))

	_, err = f.do(models.KindNode, http.MethodGet, ParamParticipantID, "p1", ParamNodeID, "-1")
	assert.True(t, IsClass(err, ClassMalformedField))

	// Numeric ids are checked before type names.
	_, err = f.do(models.KindNode, http.MethodGet, ParamParticipantID, "p1", ParamNodeID, "x", ParamNodeType, "os.system")
	assert.True(t, IsClass(err, ClassMalformedField))

	_, err = f.do(models.KindNode, http.MethodGet, ParamParticipantID, "p1", ParamNodeID, "1", ParamNodeType, "os.system")
	var re *RequestError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ClassUntrustedType, re.Class)
	assert.Equal(t, ParamNodeType, re.Field)

	_, err = f.do(models.KindNode, http.MethodGet, ParamParticipantID, "p1", ParamNodeID, "1", ParamConnection, "sideways")
	assert.True(t, IsClass(err, ClassMalformedField))

	_, err = f.do(models.KindNode, http.MethodGet, ParamParticipantID, "p1", ParamNodeID, "1", ParamFailed, "maybe")
	assert.True(t, IsClass(err, ClassMalformedField))

	assert.Zero(t, f.exp.nodeGetCalls, "invalid requests never reach the experiment")
}

func TestNodeGet_DefaultsAndPolymorphicType(t *testing.T) {
	f := setup(t)
	f.participant(t, "a", models.StatusStarted)
	f.participant(t, "b", models.StatusStarted)
	first := f.postNode(t, "a")
	second := f.postNode(t, "b")

	env, err := f.do(models.KindNode, http.MethodGet, ParamParticipantID, "a", ParamNodeID, itoa(first.ID), ParamNodeType, "node")
	require.NoError(t, err)
	assert.Equal(t, "nodes", env.Key)
	nodes := env.Value.([]models.Node)
	require.Len(t, nodes, 1)
	assert.Equal(t, second.ID, nodes[0].ID)

	assert.Equal(t, models.DirectionTo, f.exp.lastNodeGet.Connection)
	assert.Equal(t, models.FailedExclude, f.exp.lastNodeGet.Failed)
	assert.Contains(t, f.exp.lastNodeGet.Types, "agent")
}

func TestVector_GetPostAndConnected(t *testing.T) {
	f := setup(t)
	f.participant(t, "a", models.StatusStarted)
	f.participant(t, "b", models.StatusStarted)
	a := f.postNode(t, "a")
	b := f.postNode(t, "b")

	// Chain wiring created a -> b. Post the reverse with the default
	// direction from b's side.
	env, err := f.do(models.KindVector, http.MethodPost,
		ParamParticipantID, "b", ParamNodeID, itoa(b.ID), ParamOtherNodeID, itoa(a.ID))
	require.NoError(t, err)
	vs := env.Value.([]models.Vector)
	require.Len(t, vs, 1)
	assert.Equal(t, b.ID, vs[0].OriginID)
	assert.Equal(t, a.ID, vs[0].DestinationID)

	env, err = f.do(models.KindVector, http.MethodGet, ParamParticipantID, "a", ParamNodeID, itoa(a.ID))
	require.NoError(t, err)
	assert.Equal(t, "vectors", env.Key)
	assert.Len(t, env.Value.([]models.Vector), 2, "default direction is all")

	env, err = f.do(models.KindVector, http.MethodGet,
		ParamParticipantID, "a", ParamNodeID, itoa(a.ID), ParamDirection, "to")
	require.NoError(t, err)
	to := env.Value.([]models.Vector)
	require.Len(t, to, 1)
	assert.Equal(t, a.ID, to[0].DestinationID)

	env, err = f.do(models.KindVector, http.MethodGet,
		ParamParticipantID, "a", ParamNodeID, itoa(a.ID), ParamOtherNodeID, itoa(b.ID))
	require.NoError(t, err)
	assert.Equal(t, "is_connected", env.Key)
	assert.Equal(t, true, env.Value)

	_, err = f.do(models.KindVector, http.MethodPost, ParamParticipantID, "a", ParamNodeID, itoa(a.ID))
	assert.True(t, IsClass(err, ClassMissingField))
}

func TestInfoAndTransmission(t *testing.T) {
	f := setup(t)
	f.participant(t, "a", models.StatusStarted)
	f.participant(t, "b", models.StatusStarted)
	a := f.postNode(t, "a")
	b := f.postNode(t, "b")

	_, err := f.do(models.KindInfo, http.MethodPost, ParamParticipantID, "a", ParamNodeID, itoa(a.ID))
	assert.True(t, IsClass(err, ClassMissingField))

	_, err = f.do(models.KindInfo, http.MethodPost,
		ParamParticipantID, "a", ParamNodeID, itoa(a.ID), ParamContents, "x", ParamInfoType, "agent")
	assert.True(t, IsClass(err, ClassUntrustedType), "agent is a node type, not an info type")

	env, err := f.do(models.KindInfo, http.MethodPost,
		ParamParticipantID, "a", ParamNodeID, itoa(a.ID), ParamContents, "hello")
	require.NoError(t, err)
	info := env.Value.(*models.Info)
	assert.Equal(t, "hello", info.Contents)

	env, err = f.do(models.KindTransmission, http.MethodPost, ParamParticipantID, "a", ParamNodeID, itoa(a.ID))
	require.NoError(t, err)
	tr := env.Value.(*models.Transmission)
	assert.Equal(t, b.ID, tr.DestinationID)
	assert.Equal(t, info.ID, tr.InfoID)

	env, err = f.do(models.KindTransmission, http.MethodGet, ParamParticipantID, "a", ParamNodeID, itoa(a.ID))
	require.NoError(t, err)
	assert.Len(t, env.Value.([]models.Transmission), 1, "default direction is outgoing")

	env, err = f.do(models.KindTransmission, http.MethodGet, ParamParticipantID, "b", ParamNodeID, itoa(b.ID))
	require.NoError(t, err)
	assert.Empty(t, env.Value.([]models.Transmission))

	env, err = f.do(models.KindTransmission, http.MethodGet,
		ParamParticipantID, "b", ParamNodeID, itoa(b.ID), ParamDirection, "incoming", ParamStatus, "pending")
	require.NoError(t, err)
	got := env.Value.([]models.Transmission)
	require.Len(t, got, 1)
	assert.Equal(t, models.TransmissionReceived, got[0].Status)

	_, err = f.do(models.KindTransmission, http.MethodGet,
		ParamParticipantID, "b", ParamNodeID, itoa(b.ID), ParamStatus, "lost")
	assert.True(t, IsClass(err, ClassMalformedField))

	env, err = f.do(models.KindInfo, http.MethodGet, ParamParticipantID, "a", ParamNodeID, itoa(a.ID), ParamInfoType, "info")
	require.NoError(t, err)
	assert.Len(t, env.Value.([]models.Info), 1)
}

func TestTransformation(t *testing.T) {
	f := setup(t)
	f.participant(t, "a", models.StatusStarted)
	a := f.postNode(t, "a")

	post := func(contents string) *models.Info {
		env, err := f.do(models.KindInfo, http.MethodPost,
			ParamParticipantID, "a", ParamNodeID, itoa(a.ID), ParamContents, contents)
		require.NoError(t, err)
		return env.Value.(*models.Info)
	}
	in, out := post("abc"), post("abd")

	_, err := f.do(models.KindTransformation, http.MethodPost,
		ParamParticipantID, "a", ParamNodeID, itoa(a.ID), ParamInfoInID, itoa(in.ID))
	assert.True(t, IsClass(err, ClassMissingField))

	env, err := f.do(models.KindTransformation, http.MethodPost,
		ParamParticipantID, "a", ParamNodeID, itoa(a.ID),
		ParamInfoInID, itoa(in.ID), ParamInfoOutID, itoa(out.ID),
		ParamTransformationType, "mutation")
	require.NoError(t, err)
	assert.Equal(t, "mutation", env.Value.(*models.Transformation).Type)

	env, err = f.do(models.KindTransformation, http.MethodGet,
		ParamParticipantID, "a", ParamNodeID, itoa(a.ID), ParamTransformationType, "transformation")
	require.NoError(t, err)
	assert.Len(t, env.Value.([]models.Transformation), 1)

	_, err = f.do(models.KindTransformation, http.MethodGet,
		ParamParticipantID, "a", ParamNodeID, itoa(a.ID), ParamTransformationType, "__import__")
	assert.True(t, IsClass(err, ClassUntrustedType))
}

func TestPostRequiresActiveForEveryKind(t *testing.T) {
	f := setup(t)
	f.participant(t, "gone", models.StatusReturned)

	_, err := f.do(models.KindInfo, http.MethodPost, ParamParticipantID, "gone", ParamNodeID, "1", ParamContents, "x")
	assert.True(t, IsClass(err, ClassReturned))

	_, err = f.do(models.KindVector, http.MethodPost, ParamParticipantID, "gone", ParamNodeID, "1", ParamOtherNodeID, "2")
	assert.True(t, IsClass(err, ClassReturned))
}

func TestHandle_RejectsUnknownKindAndMethod(t *testing.T) {
	f := setup(t)

	_, err := f.disp.Handle(context.Background(), Request{Kind: "network", Method: http.MethodGet})
	assert.Error(t, err)

	_, err = f.disp.Handle(context.Background(), Request{Kind: models.KindNode, Method: http.MethodDelete})
	assert.Error(t, err)
}
