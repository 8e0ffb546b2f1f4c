package router_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylinesignage/fleetd/internal/errors"
	"github.com/skylinesignage/fleetd/internal/router"
	"github.com/skylinesignage/fleetd/internal/session"
	"github.com/skylinesignage/fleetd/internal/testutil"
	"github.com/skylinesignage/fleetd/internal/wire"
)

func drainReply(t *testing.T, sess *session.Session) map[string]interface{} {
	t.Helper()
	select {
	case payload := <-sess.Outbound():
		var out map[string]interface{}
		require.NoError(t, json.Unmarshal(payload, &out))
		return out
	case <-time.After(time.Second):
		t.Fatal("expected a reply, got none")
		return nil
	}
}

func TestDispatch_UnknownMessageType(t *testing.T) {
	r := router.New()
	sess, _ := testutil.NewSessionPair(t)

	r.Dispatch(context.Background(), sess, []byte(`{"Type":"Nonsense"}`))

	reply := drainReply(t, sess)
	assert.Equal(t, "Error", reply["Type"])
	assert.Equal(t, "unknown_message", reply["Code"])
}

func TestDispatch_MalformedEnvelope(t *testing.T) {
	r := router.New()
	sess, _ := testutil.NewSessionPair(t)

	r.Dispatch(context.Background(), sess, []byte(`not json`))

	reply := drainReply(t, sess)
	assert.Equal(t, "bad_envelope", reply["Code"])
}

func TestDispatch_RequiresKind(t *testing.T) {
	r := router.New()
	called := false
	r.Register("Heartbeat", router.Requirement{RequireKind: session.KindClient}, func(ctx context.Context, sess *session.Session, raw json.RawMessage) error {
		called = true
		return nil
	})

	sess, _ := testutil.NewSessionPair(t)
	r.Dispatch(context.Background(), sess, []byte(`{"Type":"Heartbeat"}`))

	assert.False(t, called, "handler must not run on an unbound session")
	reply := drainReply(t, sess)
	assert.Equal(t, "unauthenticated", reply["Code"])
}

func TestDispatch_RequiresPermission(t *testing.T) {
	r := router.New()
	r.Register("SendCommand", router.Requirement{RequireKind: session.KindOperator, RequirePermission: "Control"}, func(ctx context.Context, sess *session.Session, raw json.RawMessage) error {
		return nil
	})

	sess, _ := testutil.NewSessionPair(t)
	sess.Bind(session.KindOperator, "op-1", map[session.Permission]bool{"View": true})

	r.Dispatch(context.Background(), sess, []byte(`{"Type":"SendCommand"}`))

	reply := drainReply(t, sess)
	assert.Equal(t, "forbidden", reply["Code"])
}

func TestDispatch_HandlerSuccess_NoReply(t *testing.T) {
	r := router.New()
	called := false
	r.Register("Heartbeat", router.Requirement{RequireKind: session.KindClient}, func(ctx context.Context, sess *session.Session, raw json.RawMessage) error {
		called = true
		return nil
	})

	sess, _ := testutil.NewSessionPair(t)
	sess.Bind(session.KindClient, "client-1", nil)
	r.Dispatch(context.Background(), sess, []byte(`{"Type":"Heartbeat"}`))

	assert.True(t, called)
	select {
	case <-sess.Outbound():
		t.Fatal("handler emitted no reply; router must not synthesize one")
	default:
	}
}

func TestDispatch_ProtocolErrorRateClosesSession(t *testing.T) {
	r := router.New()
	sess, _ := testutil.NewSessionPair(t)

	for i := 0; i < 6; i++ {
		r.Dispatch(context.Background(), sess, []byte(`not json`))
		select {
		case <-sess.Outbound():
		case <-time.After(time.Second):
			t.Fatal("expected an error reply")
		}
	}

	assert.True(t, sess.Closed(), "session should close once the protocol error rate exceeds the threshold")
}

func TestDispatch_TokenInvalidClosesSessionImmediately(t *testing.T) {
	r := router.New()
	r.Register("Register", router.Requirement{}, func(ctx context.Context, sess *session.Session, raw json.RawMessage) error {
		return errors.WithKind(errors.New("bad token"), errors.KindTokenInvalid)
	})

	sess, _ := testutil.NewSessionPair(t)
	r.Dispatch(context.Background(), sess, []byte(`{"Type":"Register"}`))

	reply := drainReply(t, sess)
	assert.Equal(t, "token_invalid", reply["Code"])
	assert.True(t, sess.Closed())
}

func TestPush_EncodesAndEnqueues(t *testing.T) {
	sess, _ := testutil.NewSessionPair(t)
	err := router.Push(sess, wire.DisplayUpdate{Type: "DisplayUpdate", LayoutID: "layout-1"})
	require.NoError(t, err)

	reply := drainReply(t, sess)
	assert.Equal(t, "DisplayUpdate", reply["Type"])
	assert.Equal(t, "layout-1", reply["LayoutId"])
}
