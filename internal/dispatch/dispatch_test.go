package dispatch_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylinesignage/fleetd/internal/dispatch"
	"github.com/skylinesignage/fleetd/internal/session"
	"github.com/skylinesignage/fleetd/internal/testutil"
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

func TestSendCommand_NotConnectedClient(t *testing.T) {
	registry := session.NewRegistry()
	d := dispatch.New(registry)
	opSess, _ := testutil.NewSessionPair(t)

	raw := []byte(`{"Type":"SendCommand","TargetDeviceId":"ghost","Command":"Reboot"}`)
	require.NoError(t, d.SendCommand(context.Background(), opSess, raw))

	reply := drain(t, opSess)
	assert.Equal(t, "CommandResult", reply["Type"])
	assert.Equal(t, false, reply["Success"])
	assert.Equal(t, "not_connected", reply["Message"])
}

func TestSendCommand_ConnectedClient_ForwardsAndAcks(t *testing.T) {
	registry := session.NewRegistry()
	d := dispatch.New(registry)

	clientSess, _ := testutil.NewSessionPair(t)
	registry.Bind(clientSess, session.KindClient, "client-1", nil)

	opSess, _ := testutil.NewSessionPair(t)
	raw := []byte(`{"Type":"SendCommand","TargetDeviceId":"client-1","Command":"Reboot"}`)
	require.NoError(t, d.SendCommand(context.Background(), opSess, raw))

	forwarded := drain(t, clientSess)
	assert.Equal(t, "Command", forwarded["Type"])
	assert.Equal(t, "Reboot", forwarded["Command"])

	ack := drain(t, opSess)
	assert.Equal(t, "CommandResult", ack["Type"])
	assert.Equal(t, true, ack["Success"])
}

func TestRequestScreenshot_CorrelatesReply(t *testing.T) {
	registry := session.NewRegistry()
	d := dispatch.New(registry)

	clientSess, _ := testutil.NewSessionPair(t)
	registry.Bind(clientSess, session.KindClient, "client-2", nil)
	opSess, _ := testutil.NewSessionPair(t)

	raw := []byte(`{"Type":"RequestScreenshot","DeviceId":"client-2"}`)
	require.NoError(t, d.RequestScreenshot(context.Background(), opSess, raw))

	forwarded := drain(t, clientSess)
	assert.Equal(t, "Command", forwarded["Type"])
	assert.Equal(t, "Screenshot", forwarded["Command"])

	reply := []byte(`{"Type":"Screenshot","ClientId":"client-2","ImageData":"base64data"}`)
	require.NoError(t, d.Screenshot(context.Background(), clientSess, reply))

	result := drain(t, opSess)
	assert.Equal(t, "ScreenshotResult", result["Type"])
	assert.Equal(t, "base64data", result["ImageData"])
	assert.Empty(t, result["Error"])
}

func TestScreenshot_NoPendingRequestDiscardedSilently(t *testing.T) {
	registry := session.NewRegistry()
	d := dispatch.New(registry)

	clientSess, _ := testutil.NewSessionPair(t)
	registry.Bind(clientSess, session.KindClient, "client-3", nil)

	reply := []byte(`{"Type":"Screenshot","ClientId":"client-3","ImageData":"unexpected"}`)
	require.NoError(t, d.Screenshot(context.Background(), clientSess, reply))

	select {
	case <-clientSess.Outbound():
		t.Fatal("no push should happen for an unmatched screenshot reply")
	default:
	}
}

func TestScreenshot_OperatorAlreadyClosedDiscardsSilently(t *testing.T) {
	registry := session.NewRegistry()
	d := dispatch.New(registry)

	clientSess, _ := testutil.NewSessionPair(t)
	registry.Bind(clientSess, session.KindClient, "client-4", nil)
	opSess, _ := testutil.NewSessionPair(t)

	raw := []byte(`{"Type":"RequestScreenshot","DeviceId":"client-4"}`)
	require.NoError(t, d.RequestScreenshot(context.Background(), opSess, raw))
	drain(t, clientSess) // consume the forwarded Command

	opSess.Close(session.CloseShutdown)

	reply := []byte(`{"Type":"Screenshot","ClientId":"client-4","ImageData":"late"}`)
	require.NoError(t, d.Screenshot(context.Background(), clientSess, reply))
}

func TestRequestScreenshot_SecondRequestSupersedesFirst(t *testing.T) {
	registry := session.NewRegistry()
	d := dispatch.New(registry)

	clientSess, _ := testutil.NewSessionPair(t)
	registry.Bind(clientSess, session.KindClient, "client-5", nil)

	firstOp, _ := testutil.NewSessionPair(t)
	secondOp, _ := testutil.NewSessionPair(t)

	raw := []byte(`{"Type":"RequestScreenshot","DeviceId":"client-5"}`)
	require.NoError(t, d.RequestScreenshot(context.Background(), firstOp, raw))
	drain(t, clientSess)
	require.NoError(t, d.RequestScreenshot(context.Background(), secondOp, raw))
	drain(t, clientSess)

	reply := []byte(`{"Type":"Screenshot","ClientId":"client-5","ImageData":"data"}`)
	require.NoError(t, d.Screenshot(context.Background(), clientSess, reply))

	result := drain(t, secondOp)
	assert.Equal(t, "data", result["ImageData"])

	select {
	case <-firstOp.Outbound():
		t.Fatal("superseded request must not also receive the reply")
	default:
	}
}
