package wire_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylinesignage/fleetd/internal/wire"
)

func TestDecode_ExtractsTypeAndPreservesRaw(t *testing.T) {
	data := []byte(`{"Type":"Heartbeat","Status":"Online"}`)
	env, err := wire.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "Heartbeat", env.Type)

	var hb wire.Heartbeat
	require.NoError(t, json.Unmarshal(env.Raw, &hb))
	assert.Equal(t, "Online", hb.Status)
}

func TestDecode_MalformedJSON(t *testing.T) {
	_, err := wire.Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestEncode_RoundTripsDisplayUpdate(t *testing.T) {
	payload := wire.DisplayUpdate{Type: "DisplayUpdate", LayoutID: "layout-9", Elements: map[string]interface{}{"x": 1.0}}
	data, err := wire.Encode(payload)
	require.NoError(t, err)

	env, err := wire.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "DisplayUpdate", env.Type)

	var out wire.DisplayUpdate
	require.NoError(t, json.Unmarshal(env.Raw, &out))
	assert.Equal(t, "layout-9", out.LayoutID)
	assert.Equal(t, 1.0, out.Elements["x"])
}

func TestEncode_CommandResult(t *testing.T) {
	payload := wire.CommandResult{Type: "CommandResult", DeviceID: "c1", Command: "Reboot", Success: true}
	data, err := wire.Encode(payload)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Success":true`)
}
