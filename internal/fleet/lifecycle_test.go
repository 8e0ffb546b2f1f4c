package fleet_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylinesignage/fleetd/internal/fleet"
	"github.com/skylinesignage/fleetd/internal/model"
	"github.com/skylinesignage/fleetd/internal/repository/memory"
	"github.com/skylinesignage/fleetd/internal/session"
	"github.com/skylinesignage/fleetd/internal/testutil"
	"github.com/skylinesignage/fleetd/internal/token"
)

func newLifecycle(t *testing.T, heartbeatTimeout time.Duration) (*fleet.Lifecycle, *memory.Repository, *session.Registry, *[]*model.Client) {
	t.Helper()
	repo := memory.New()
	registry := session.NewRegistry()
	validator := token.NewValidator(repo.Tokens())

	var broadcasted []*model.Client
	resolve := func(ctx context.Context, clientID, group string) (string, map[string]interface{}, bool) {
		return "", nil, false
	}
	broadcast := func(c *model.Client) {
		broadcasted = append(broadcasted, c)
	}

	lc := fleet.New(repo.Clients(), validator, registry, heartbeatTimeout, resolve, broadcast)
	return lc, repo, registry, &broadcasted
}

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

func TestRegister_CreatesFreshClient(t *testing.T) {
	lc, repo, registry, _ := newLifecycle(t, time.Minute)
	sess, _ := testutil.NewSessionPair(t)

	raw := []byte(`{"Type":"Register","MacAddress":"AA:BB:CC:DD:EE:01","IpAddress":"10.0.0.5"}`)
	require.NoError(t, lc.Register(context.Background(), sess, raw))

	reply := drain(t, sess)
	assert.Equal(t, "Accepted", reply["Status"])
	clientID, _ := reply["ClientId"].(string)
	assert.NotEmpty(t, clientID)

	registered, ok := registry.LookupClient(clientID)
	assert.True(t, ok)
	assert.Same(t, sess, registered)

	c, err := repo.Clients().Get(context.Background(), clientID)
	require.NoError(t, err)
	assert.Equal(t, model.ClientOnline, c.Status)
}

func TestRegister_DuplicateMacConverges(t *testing.T) {
	lc, repo, _, _ := newLifecycle(t, time.Minute)

	sess1, _ := testutil.NewSessionPair(t)
	raw := []byte(`{"Type":"Register","MacAddress":"AA:BB:CC:DD:EE:02","IpAddress":"10.0.0.6"}`)
	require.NoError(t, lc.Register(context.Background(), sess1, raw))
	first := drain(t, sess1)
	firstID := first["ClientId"].(string)

	sess2, _ := testutil.NewSessionPair(t)
	require.NoError(t, lc.Register(context.Background(), sess2, raw))
	second := drain(t, sess2)
	secondID := second["ClientId"].(string)

	assert.Equal(t, firstID, secondID, "re-registering the same MAC address must converge on the same client id")

	clients, err := repo.Clients().List(context.Background())
	require.NoError(t, err)
	assert.Len(t, clients, 1)
}

func TestRegister_RejectedTokenDoesNotCreateClient(t *testing.T) {
	lc, repo, _, _ := newLifecycle(t, time.Minute)
	sess, _ := testutil.NewSessionPair(t)

	raw := []byte(`{"Type":"Register","MacAddress":"AA:BB:CC:DD:EE:03","IpAddress":"10.0.0.7","RegistrationToken":"nope"}`)
	require.NoError(t, lc.Register(context.Background(), sess, raw))

	reply := drain(t, sess)
	assert.Equal(t, "Rejected", reply["Status"])
	assert.Equal(t, "not_found", reply["Message"])

	clients, err := repo.Clients().List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, clients, "a rejected registration must not mutate any Client fields")
}

func TestHeartbeat_TouchesLastSeenAndClampsStatus(t *testing.T) {
	lc, repo, registry, _ := newLifecycle(t, time.Minute)
	sess, _ := testutil.NewSessionPair(t)

	repo.SeedLayout(&model.Layout{ID: "unused"})
	client := &model.Client{ID: "client-1", Status: model.ClientOffline}
	require.NoError(t, repo.Clients().Upsert(context.Background(), client))
	registry.Bind(sess, session.KindClient, "client-1", nil)

	raw := []byte(`{"Type":"Heartbeat","Status":"Online"}`)
	require.NoError(t, lc.Heartbeat(context.Background(), sess, raw))

	updated, err := repo.Clients().Get(context.Background(), "client-1")
	require.NoError(t, err)
	assert.Equal(t, model.ClientOnline, updated.Status)
	assert.WithinDuration(t, time.Now(), updated.LastSeenAt, time.Second)

	raw = []byte(`{"Type":"Heartbeat","Status":"Rebooting"}`)
	require.NoError(t, lc.Heartbeat(context.Background(), sess, raw))
	updated, err = repo.Clients().Get(context.Background(), "client-1")
	require.NoError(t, err)
	assert.Equal(t, model.ClientUnknown, updated.Status, "an unrecognized status is clamped to Unknown")
}

func TestHeartbeat_UnboundSessionRejected(t *testing.T) {
	lc, _, _, _ := newLifecycle(t, time.Minute)
	sess, _ := testutil.NewSessionPair(t)

	err := lc.Heartbeat(context.Background(), sess, []byte(`{"Type":"Heartbeat"}`))
	assert.Error(t, err)
}

func TestMonitorLiveness_TransitionsStaleClientOffline(t *testing.T) {
	lc, repo, registry, broadcasted := newLifecycle(t, 50*time.Millisecond)
	sess, _ := testutil.NewSessionPair(t)

	client := &model.Client{ID: "client-2", Status: model.ClientOnline, LastSeenAt: time.Now().Add(-time.Hour)}
	require.NoError(t, repo.Clients().Upsert(context.Background(), client))
	registry.Bind(sess, session.KindClient, "client-2", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	lc.MonitorLiveness(ctx, 30*time.Millisecond)

	updated, err := repo.Clients().Get(context.Background(), "client-2")
	require.NoError(t, err)
	assert.Equal(t, model.ClientOffline, updated.Status)
	assert.True(t, sess.Closed())
	assert.NotEmpty(t, *broadcasted)
}
