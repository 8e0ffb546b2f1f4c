package operator_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylinesignage/fleetd/internal/model"
	"github.com/skylinesignage/fleetd/internal/operator"
	"github.com/skylinesignage/fleetd/internal/repository/memory"
	"github.com/skylinesignage/fleetd/internal/session"
	"github.com/skylinesignage/fleetd/internal/testutil"
	"github.com/skylinesignage/fleetd/internal/token"
)

func drain(t *testing.T, sess *session.Session) map[string]interface{} {
	t.Helper()
	select {
	case payload := <-sess.Outbound():
		var out map[string]interface{}
		require.NoError(t, json.Unmarshal(payload, &out))
		return out
	case <-time.After(time.Second):
		t.Fatal("expected a reply")
		return nil
	}
}

func newHandlers(t *testing.T) (*operator.Handlers, *memory.Repository, *session.Registry) {
	t.Helper()
	repo := memory.New()
	registry := session.NewRegistry()
	return operator.New(repo.Operators(), repo.Clients(), repo.Layouts(), registry), repo, registry
}

func TestAppHeartbeat_NotApprovedClosesSession(t *testing.T) {
	h, repo, _ := newHandlers(t)
	repo.SeedOperator(&model.OperatorRegistration{
		ID: "op-1", Status: model.OperatorPending, TokenFingerprint: token.Fingerprint("raw"),
	})

	sess, _ := testutil.NewSessionPair(t)
	raw := []byte(`{"Type":"AppHeartbeat","AppId":"op-1","Token":"raw"}`)
	err := h.AppHeartbeat(context.Background(), sess, raw)

	assert.Error(t, err)
	assert.True(t, sess.Closed())
}

func TestAppHeartbeat_TokenMismatchClosesSession(t *testing.T) {
	h, repo, _ := newHandlers(t)
	repo.SeedOperator(&model.OperatorRegistration{
		ID: "op-2", Status: model.OperatorApproved, TokenFingerprint: token.Fingerprint("correct"),
	})

	sess, _ := testutil.NewSessionPair(t)
	raw := []byte(`{"Type":"AppHeartbeat","AppId":"op-2","Token":"wrong"}`)
	err := h.AppHeartbeat(context.Background(), sess, raw)

	assert.Error(t, err)
	assert.True(t, sess.Closed())
}

func TestAppHeartbeat_ApprovedBindsSessionWithPermissions(t *testing.T) {
	h, repo, registry := newHandlers(t)
	repo.SeedOperator(&model.OperatorRegistration{
		ID: "op-3", Status: model.OperatorApproved, TokenFingerprint: token.Fingerprint("good"),
		Permissions: map[model.Permission]bool{model.PermissionView: true, model.PermissionControl: true},
	})

	sess, _ := testutil.NewSessionPair(t)
	raw := []byte(`{"Type":"AppHeartbeat","AppId":"op-3","Token":"good"}`)
	require.NoError(t, h.AppHeartbeat(context.Background(), sess, raw))

	assert.False(t, sess.Closed())
	assert.True(t, sess.HasPermission("Control"))
	bound, ok := registry.LookupOperator("op-3")
	assert.True(t, ok)
	assert.Same(t, sess, bound)
}

func TestRequestClientList_FiltersByStatus(t *testing.T) {
	h, repo, _ := newHandlers(t)
	require.NoError(t, repo.Clients().Upsert(context.Background(), &model.Client{ID: "c1", Status: model.ClientOnline}))
	require.NoError(t, repo.Clients().Upsert(context.Background(), &model.Client{ID: "c2", Status: model.ClientOffline}))

	sess, _ := testutil.NewSessionPair(t)
	require.NoError(t, h.RequestClientList(context.Background(), sess, []byte(`{"Type":"RequestClientList","Filter":"online"}`)))

	reply := drain(t, sess)
	clients, _ := reply["Clients"].([]interface{})
	require.Len(t, clients, 1)
	first := clients[0].(map[string]interface{})
	assert.Equal(t, "c1", first["Id"])
}

func TestRequestClientList_AllReturnsEveryClient(t *testing.T) {
	h, repo, _ := newHandlers(t)
	require.NoError(t, repo.Clients().Upsert(context.Background(), &model.Client{ID: "c1", Status: model.ClientOnline}))
	require.NoError(t, repo.Clients().Upsert(context.Background(), &model.Client{ID: "c2", Status: model.ClientOffline}))

	sess, _ := testutil.NewSessionPair(t)
	require.NoError(t, h.RequestClientList(context.Background(), sess, []byte(`{"Type":"RequestClientList","Filter":"all"}`)))

	reply := drain(t, sess)
	clients, _ := reply["Clients"].([]interface{})
	assert.Len(t, clients, 2)
}

func TestRequestLayoutList_ReturnsSeededLayouts(t *testing.T) {
	h, repo, _ := newHandlers(t)
	repo.SeedLayout(&model.Layout{ID: "layout-1", Name: "Lobby"})

	sess, _ := testutil.NewSessionPair(t)
	require.NoError(t, h.RequestLayoutList(context.Background(), sess, nil))

	reply := drain(t, sess)
	layouts, _ := reply["Layouts"].([]interface{})
	require.Len(t, layouts, 1)
}

func TestBroadcastStatusChange_ReachesAllBoundOperators(t *testing.T) {
	h, _, registry := newHandlers(t)

	op1, _ := testutil.NewSessionPair(t)
	registry.Bind(op1, session.KindOperator, "op-a", nil)
	op2, _ := testutil.NewSessionPair(t)
	registry.Bind(op2, session.KindOperator, "op-b", nil)

	h.BroadcastStatusChange(&model.Client{ID: "c1", Status: model.ClientOffline})

	drain(t, op1)
	drain(t, op2)
}
